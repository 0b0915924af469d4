// Package audit publishes title disagreements and run summaries for human
// review. Publication never changes what the rebuild writes.
package audit

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/NaturalHistoryMuseum/synth-transform/internal/models"
)

// Publisher delivers events to a sink. Publish either delivers every event or
// returns an error.
type Publisher interface {
	Publish(ctx context.Context, events []Event) error
	Close() error
}

// Emitter turns pipeline results into events and hands them to a Publisher.
type Emitter struct {
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

type Option func(*Emitter)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Emitter) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock sets the clock used for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Emitter) {
		if now != nil {
			e.now = now
		}
	}
}

func NewEmitter(publisher Publisher, opts ...Option) *Emitter {
	e := &Emitter{
		publisher: publisher,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:       time.Now,
		newID:     func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EmitFlags publishes one event per title flag. An empty slice publishes
// nothing.
func (e *Emitter) EmitFlags(ctx context.Context, runID string, flags []models.TitleFlag) error {
	if len(flags) == 0 {
		return nil
	}
	ts := e.now().UTC()
	events := make([]Event, len(flags))
	for i, f := range flags {
		events[i] = Event{
			ID:        e.newID(),
			Kind:      KindTitleDisagreement,
			RunID:     runID,
			Timestamp: ts,
			Flag:      flagRecord(f),
		}
	}
	if err := e.publisher.Publish(ctx, events); err != nil {
		return fmt.Errorf("publish %d title flags: %w", len(events), err)
	}
	e.logger.InfoContext(ctx, "title flags published", "run_id", runID, "count", len(events))
	return nil
}

// EmitRun publishes the run summary.
func (e *Emitter) EmitRun(ctx context.Context, run RunRecord) error {
	event := Event{
		ID:        e.newID(),
		Kind:      KindRunCompleted,
		RunID:     run.RunID,
		Timestamp: e.now().UTC(),
		Run:       &run,
	}
	if err := e.publisher.Publish(ctx, []Event{event}); err != nil {
		return fmt.Errorf("publish run summary: %w", err)
	}
	return nil
}

func (e *Emitter) Close() error {
	return e.publisher.Close()
}
