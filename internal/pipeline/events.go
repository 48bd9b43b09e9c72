package pipeline

import (
	"sync"

	"resumerag-go/internal/model"
	"resumerag-go/pkg/log"
)

// Broker fans StageEvents out to subscribers. Publishing never blocks the pipeline: a subscriber
// whose buffer is full misses the event and can poll the document record instead.
type Broker struct {
	mu     sync.RWMutex
	subs   map[int]chan model.StageEvent
	nextID int
	closed bool
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[int]chan model.StageEvent)}
}

// Subscribe returns a channel of events and a function that unsubscribes and closes it.
func (b *Broker) Subscribe(buffer int) (<-chan model.StageEvent, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan model.StageEvent, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

func (b *Broker) Publish(ev model.StageEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			log.Warnf("[Broker] 订阅者缓冲已满, 丢弃事件, DocumentID: %s, Stage: %s", ev.DocumentID, ev.Stage)
		}
	}
}

// Close closes every subscriber channel.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
