package model

import (
	"errors"
	"fmt"
)

// Stage is a step of the document lifecycle:
// Uploaded -> Extracted -> Redacted -> Embedded -> Indexed, or Failed from any non-terminal stage.
type Stage string

const (
	StageUploaded  Stage = "uploaded"
	StageExtracted Stage = "extracted"
	StageRedacted  Stage = "redacted"
	StageEmbedded  Stage = "embedded"
	StageIndexed   Stage = "indexed"
	StageFailed    Stage = "failed"
)

// ErrInvalidTransition is returned for a lifecycle move the state machine does not allow.
var ErrInvalidTransition = errors.New("invalid lifecycle transition")

var stageOrder = map[Stage]int{
	StageUploaded:  0,
	StageExtracted: 1,
	StageRedacted:  2,
	StageEmbedded:  3,
	StageIndexed:   4,
}

// Terminal reports whether no further forward transition exists.
func (s Stage) Terminal() bool {
	return s == StageIndexed || s == StageFailed
}

// Next returns the stage following s, or "" when s is terminal.
func (s Stage) Next() Stage {
	switch s {
	case StageUploaded:
		return StageExtracted
	case StageExtracted:
		return StageRedacted
	case StageRedacted:
		return StageEmbedded
	case StageEmbedded:
		return StageIndexed
	}
	return ""
}

// Before reports whether s comes strictly earlier than other in the forward order.
func (s Stage) Before(other Stage) bool {
	a, okA := stageOrder[s]
	b, okB := stageOrder[other]
	return okA && okB && a < b
}

// Advance moves the document one step forward.
func (d *Document) Advance(to Stage) error {
	if d.Stage.Next() != to {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, d.Stage, to)
	}
	d.Stage = to
	d.Held = false
	d.FailureReason = ""
	return nil
}

// Fail moves the document to Failed, recording the stage that could not be reached.
func (d *Document) Fail(at Stage, reason string) error {
	if d.Stage.Terminal() {
		return fmt.Errorf("%w: %s -> failed(%s)", ErrInvalidTransition, d.Stage, at)
	}
	d.Stage = StageFailed
	d.FailedStage = at
	d.FailureReason = reason
	return nil
}

// Hold flags the document without moving it, used when redaction is degraded.
func (d *Document) Hold(reason string) {
	d.Held = true
	d.FailureReason = reason
}

// Rewind re-enters the lifecycle at an earlier stage for explicit re-processing.
// Raw text is never discarded, so the earliest stage one can rewind to is Extracted.
func (d *Document) Rewind(to Stage) error {
	if to != StageExtracted && to != StageRedacted {
		return fmt.Errorf("%w: cannot rewind to %s", ErrInvalidTransition, to)
	}
	current := d.Stage
	if current == StageFailed {
		// FailedStage is the stage that was never reached, so only strictly earlier stages are valid.
		if !to.Before(d.FailedStage) {
			return fmt.Errorf("%w: failed(%s) -> %s", ErrInvalidTransition, d.FailedStage, to)
		}
	} else if !to.Before(current) && to != current {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, to)
	}
	d.Stage = to
	d.FailedStage = ""
	d.FailureReason = ""
	d.Held = false
	return nil
}
