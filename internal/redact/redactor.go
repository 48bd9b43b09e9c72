// Package redact replaces personal data in resume text with category placeholders.
package redact

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"

	"resumerag-go/internal/config"
	"resumerag-go/pkg/log"
)

var (
	// ErrRedactionDegraded means a detector could not run. The text must not be treated as redacted.
	ErrRedactionDegraded = errors.New("redaction degraded")

	// ErrDetectorUnavailable is returned by detectors backed by an external service.
	ErrDetectorUnavailable = errors.New("detector unavailable")
)

// Redactor is the capability the ingestion pipeline depends on.
type Redactor interface {
	// Redact returns text with every detected span replaced by its placeholder.
	Redact(ctx context.Context, text string) (string, error)
	// Policy identifies the detector configuration. Documents redacted under another policy are
	// eligible for re-processing.
	Policy() string
}

// Detector produces candidate spans. Spans may overlap; the Service resolves them.
type Detector interface {
	Name() string
	Detect(ctx context.Context, text string) ([]Span, error)
}

// Service runs all detectors and applies the merged, resolved spans.
type Service struct {
	detectors []Detector
	policy    string
}

var _ Redactor = (*Service)(nil)

// New creates a redaction service over the given detectors, run in order.
func New(detectors ...Detector) *Service {
	names := make([]string, len(detectors))
	for i, d := range detectors {
		names[i] = d.Name()
	}
	sum := blake2b.Sum256([]byte(strings.Join(names, "\x00")))
	return &Service{
		detectors: detectors,
		policy:    "redact-v1-" + hex.EncodeToString(sum[:8]),
	}
}

// NewFromConfig builds the pattern detector and, when configured, the NER detector.
func NewFromConfig(cfg config.RedactionConfig) *Service {
	detectors := []Detector{&PatternDetector{HeaderName: cfg.HeaderName}}
	if cfg.NERURL != "" {
		detectors = append(detectors, NewNERDetector(cfg.NERURL))
	}
	return New(detectors...)
}

func (s *Service) Policy() string {
	return s.policy
}

// maxPasses bounds the fixpoint loop in Redact. Every changing pass removes non-placeholder
// bytes, so real inputs settle in two or three passes.
const maxPasses = 8

// Redact repeats detection on its own output until nothing changes. A match rejected for its
// neighbouring letters can become valid once that neighbour turns into a placeholder, so a
// single pass is not idempotent.
func (s *Service) Redact(ctx context.Context, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	out := text
	for pass := 0; pass < maxPasses; pass++ {
		next, err := s.redactOnce(ctx, out)
		if err != nil {
			return "", err
		}
		if next == out {
			return out, nil
		}
		out = next
	}
	log.Warnf("[Redactor] %d 轮后仍未收敛", maxPasses)
	return out, nil
}

func (s *Service) redactOnce(ctx context.Context, text string) (string, error) {
	var candidates []Span
	for _, d := range s.detectors {
		spans, err := d.Detect(ctx, text)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			log.Warnf("[Redactor] 检测器不可用, detector: %s, error: %v", d.Name(), err)
			return "", fmt.Errorf("%w: %s: %v", ErrRedactionDegraded, d.Name(), err)
		}
		candidates = append(candidates, spans...)
	}

	protected := placeholderRanges(text)
	filtered := candidates[:0]
	for _, c := range candidates {
		if c.Start < 0 || c.End > len(text) || c.Start >= c.End {
			continue
		}
		keep := true
		for _, p := range protected {
			if c.overlaps(p) {
				keep = false
				break
			}
		}
		if keep {
			filtered = append(filtered, c)
		}
	}

	return Apply(text, Resolve(filtered)), nil
}
