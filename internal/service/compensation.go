package service

import (
	"context"
	"errors"
	"time"

	"github.com/quintans/faults"

	"github.com/punchamoorthee/bankops/internal/domain"
)

type compensation struct {
	step string
	undo func(ctx context.Context) error
}

// Compensations is the undo stack of one saga execution. Every forward step
// that mutates collaborator state pushes exactly one entry before the next step runs.
type Compensations struct {
	stack []compensation
}

// Push records the undo action for a step that succeeded or may have taken effect.
func (c *Compensations) Push(step string, undo func(ctx context.Context) error) {
	c.stack = append(c.stack, compensation{step: step, undo: undo})
}

func (c *Compensations) Len() int {
	return len(c.stack)
}

// Unwind runs the pushed compensations in reverse order. A failing
// compensation does not stop the remaining ones. NotFound means the effect
// is already gone and counts as success. Each undo gets its own timeout when
// timeout is positive.
func (c *Compensations) Unwind(ctx context.Context, timeout time.Duration) []domain.CompensationOutcome {
	outcomes := make([]domain.CompensationOutcome, 0, len(c.stack))
	for i := len(c.stack) - 1; i >= 0; i-- {
		comp := c.stack[i]
		err := runCompensation(ctx, timeout, comp.undo)
		if errors.Is(err, domain.NotFound) {
			err = nil
		}
		outcomes = append(outcomes, domain.CompensationOutcome{Step: comp.step, Err: err})
	}
	c.stack = nil
	return outcomes
}

func runCompensation(ctx context.Context, timeout time.Duration, undo func(context.Context) error) (err error) {
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = faults.Errorf("compensation panicked: %v", r)
		}
	}()
	return undo(ctx)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// sagaFailure turns a forward step error into the failure reported to the caller.
func sagaFailure(step string, err error) *domain.Error {
	switch domain.KindOf(err) {
	case domain.DuplicateEntity:
		return domain.NewError(domain.DuplicateEntity, step+": entity already exists", err)
	case domain.ValidationFailed:
		return domain.NewError(domain.ValidationFailed, step+": rejected by directory", err)
	default:
		return domain.NewError(domain.UpstreamUnavailable, step+": call did not complete", err)
	}
}

// directoryFailure classifies an Account Directory read during a transfer.
func directoryFailure(what string, err error) *domain.Error {
	if domain.KindOf(err) == domain.NotFound {
		return domain.NewError(domain.NotFound, what+" not found", err)
	}
	return domain.NewError(domain.UpstreamUnavailable, "reading "+what, err)
}
