package redact

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"
)

// NERDetector asks an external named-entity service for person, location and contact entities.
//
// Protocol: POST {url} with {"text": "..."}; the service answers
// {"entities":[{"start":0,"end":8,"label":"PERSON"}]} where offsets count characters.
type NERDetector struct {
	url        string
	httpClient *http.Client
}

// NewNERDetector creates a detector for the entity service at url.
func NewNERDetector(url string) *NERDetector {
	return &NERDetector{url: strings.TrimRight(url, "/"), httpClient: &http.Client{}}
}

func (d *NERDetector) Name() string {
	return "ner:" + d.url
}

type nerRequest struct {
	Text string `json:"text"`
}

type nerEntity struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Label string `json:"label"`
}

type nerResponse struct {
	Entities []nerEntity `json:"entities"`
}

var nerLabels = map[string]Category{
	"PERSON":  CategoryName,
	"PER":     CategoryName,
	"EMAIL":   CategoryEmail,
	"PHONE":   CategoryPhone,
	"ADDRESS": CategoryAddress,
	"FAC":     CategoryAddress,
}

func (d *NERDetector) Detect(ctx context.Context, text string) ([]Span, error) {
	body, err := json.Marshal(nerRequest{Text: text})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDetectorUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDetectorUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: status %d: %s", ErrDetectorUnavailable, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out nerResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrDetectorUnavailable, err)
	}

	offsets := runeOffsets(text)
	spans := make([]Span, 0, len(out.Entities))
	for _, e := range out.Entities {
		cat, ok := nerLabels[strings.ToUpper(e.Label)]
		if !ok {
			continue
		}
		if e.Start < 0 || e.End > len(offsets)-1 || e.Start >= e.End {
			return nil, fmt.Errorf("%w: entity offsets [%d,%d) out of range", ErrDetectorUnavailable, e.Start, e.End)
		}
		spans = append(spans, Span{Start: offsets[e.Start], End: offsets[e.End], Category: cat})
	}
	return spans, nil
}

// runeOffsets maps character index i to its byte offset; the final element is len(text).
func runeOffsets(text string) []int {
	offsets := make([]int, 0, utf8.RuneCountInString(text)+1)
	for i := range text {
		offsets = append(offsets, i)
	}
	return append(offsets, len(text))
}
