package health

import (
	"context"
	"io"
	"log/slog"
	"time"

	"alertrelay/internal/clock"
	"alertrelay/internal/domain"
)

// Re-check outcomes reported to the observer.
const (
	OutcomeConfirmed     = "confirmed"
	OutcomeRecovered     = "recovered"
	OutcomeInspectFailed = "inspect_failed"
)

const inspectTimeout = 10 * time.Second

// Inspector answers point-in-time health queries out of band from the event stream.
type Inspector interface {
	Status(ctx context.Context, entity string) (domain.State, error)
}

// Emitter receives confirmed unhealthy entities.
// Params: context, entity name, and time of the transition that scheduled the check.
type Emitter func(ctx context.Context, entity string, since time.Time)

// Debouncer schedules one delayed re-check per unhealthy transition.
// Timers are never cancelled on recovery; each fires, re-inspects, and
// emits only when the entity is still unhealthy.
type Debouncer struct {
	clock     clock.Clock
	delay     time.Duration
	inspector Inspector
	emit      Emitter
	logger    *slog.Logger
	observe   func(outcome string)
}

// NewDebouncer creates debouncer.
// Params: clock, re-check delay, inspector, emitter, logger, and optional outcome observer.
// Returns: debouncer.
func NewDebouncer(
	clk clock.Clock,
	delay time.Duration,
	inspector Inspector,
	emit Emitter,
	logger *slog.Logger,
	observe func(outcome string),
) *Debouncer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Debouncer{
		clock:     clk,
		delay:     delay,
		inspector: inspector,
		emit:      emit,
		logger:    logger,
		observe:   observe,
	}
}

// Run consumes transitions until the channel closes or ctx ends.
// Params: lifecycle context and transition stream.
// Returns: nil on channel close, ctx error on cancellation.
func (d *Debouncer) Run(ctx context.Context, transitions <-chan domain.Transition) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case transition, ok := <-transitions:
			if !ok {
				return nil
			}
			d.Observe(ctx, transition)
		}
	}
}

// Observe handles one transition without blocking; only unhealthy transitions schedule work.
// Params: context bounding the eventual re-check and the transition.
func (d *Debouncer) Observe(ctx context.Context, transition domain.Transition) {
	if transition.State != domain.StateUnhealthy {
		d.logger.Debug("health transition ignored", "entity", transition.Entity, "state", transition.State)
		return
	}
	since := transition.At
	if since.IsZero() {
		since = d.clock.Now()
	}
	d.logger.Info("health re-check scheduled", "entity", transition.Entity, "delay", d.delay)
	d.clock.AfterFunc(d.delay, func() {
		d.recheck(ctx, transition.Entity, since)
	})
}

// recheck inspects entity state at fire time; inspection failure suppresses the alert.
func (d *Debouncer) recheck(ctx context.Context, entity string, since time.Time) {
	if ctx.Err() != nil {
		return
	}

	inspectCtx, cancel := context.WithTimeout(ctx, inspectTimeout)
	state, err := d.inspector.Status(inspectCtx, entity)
	cancel()

	switch {
	case err != nil:
		d.logger.Warn("health re-check failed, not escalating", "entity", entity, "error", err)
		d.report(OutcomeInspectFailed)
	case state != domain.StateUnhealthy:
		d.logger.Info("entity recovered before re-check", "entity", entity, "state", state)
		d.report(OutcomeRecovered)
	default:
		d.logger.Warn("entity still unhealthy after delay", "entity", entity, "since", since)
		d.report(OutcomeConfirmed)
		d.emit(ctx, entity, since)
	}
}

func (d *Debouncer) report(outcome string) {
	if d.observe != nil {
		d.observe(outcome)
	}
}
