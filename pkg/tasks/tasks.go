// Package tasks defines the ingestion task and the dispatchers that carry it to a processor.
package tasks

import (
	"context"
	"errors"
	"sync"

	"resumerag-go/pkg/log"
)

// ErrDispatcherClosed is returned by Dispatch after Close.
var ErrDispatcherClosed = errors.New("dispatcher closed")

// IngestTask asks a worker to drive one document through the ingestion lifecycle.
type IngestTask struct {
	DocumentID string `json:"document_id"`
	FileName   string `json:"file_name"`
	OwnerID    uint   `json:"owner_id"`
}

// Processor handles one task. A returned error means the task may be retried.
type Processor interface {
	Process(ctx context.Context, task IngestTask) error
}

// Dispatcher hands tasks to background processing and returns immediately.
type Dispatcher interface {
	Dispatch(ctx context.Context, task IngestTask) error
	Close() error
}

// LocalDispatcher runs tasks on a fixed pool of goroutines fed by a bounded queue.
type LocalDispatcher struct {
	proc  Processor
	queue chan IngestTask

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewLocalDispatcher starts workers goroutines. Dispatch blocks while the queue is full.
func NewLocalDispatcher(proc Processor, workers, queueSize int) *LocalDispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &LocalDispatcher{
		proc:   proc,
		queue:  make(chan IngestTask, queueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.work()
	}
	return d
}

func (d *LocalDispatcher) Dispatch(ctx context.Context, task IngestTask) error {
	if d.ctx.Err() != nil {
		return ErrDispatcherClosed
	}
	select {
	case d.queue <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-d.ctx.Done():
		return ErrDispatcherClosed
	}
}

func (d *LocalDispatcher) work() {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case task := <-d.queue:
			if err := d.proc.Process(d.ctx, task); err != nil {
				log.Warnf("[LocalDispatcher] 任务处理失败, DocumentID: %s, Error: %v", task.DocumentID, err)
			}
		}
	}
}

// Close cancels in-flight tasks and waits for the workers to exit. Queued tasks are dropped;
// their documents stay at the stage they last reached.
func (d *LocalDispatcher) Close() error {
	d.once.Do(func() {
		d.cancel()
		d.wg.Wait()
		if n := len(d.queue); n > 0 {
			log.Warnf("[LocalDispatcher] 关闭时丢弃 %d 个排队任务", n)
		}
	})
	return nil
}
