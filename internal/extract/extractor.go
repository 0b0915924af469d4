package extract

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/NaturalHistoryMuseum/synth-transform/internal/models"
)

// IntegrityError reports source data that cannot be consolidated safely.
type IntegrityError struct {
	Key    models.Key
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity violation at %s: %s", e.Key, e.Reason)
}

// Extractor reads all configured rounds in chronological order.
type Extractor struct {
	reader Reader
	rounds []int
	logger *slog.Logger
}

type Option func(*Extractor)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Extractor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func New(reader Reader, rounds []int, opts ...Option) *Extractor {
	sorted := slices.Clone(rounds)
	slices.Sort(sorted)
	e := &Extractor{
		reader: reader,
		rounds: slices.Compact(sorted),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExtractAll returns every output of every round, ordered by round then as
// the reader returned them. A duplicate key or a record claiming a round
// that is not configured yields an *IntegrityError.
func (e *Extractor) ExtractAll(ctx context.Context) ([]models.RawOutput, error) {
	known := make(map[int]struct{}, len(e.rounds))
	for _, r := range e.rounds {
		known[r] = struct{}{}
	}
	seen := make(map[models.Key]struct{})
	var all []models.RawOutput
	for _, round := range e.rounds {
		start := time.Now()
		outputs, err := e.reader.Read(ctx, round)
		if err != nil {
			return nil, fmt.Errorf("extract round %d: %w", round, err)
		}
		for _, o := range outputs {
			if _, ok := known[o.Key.Round]; !ok {
				return nil, &IntegrityError{Key: o.Key, Reason: fmt.Sprintf("unknown round %d", o.Key.Round)}
			}
			if _, dup := seen[o.Key]; dup {
				return nil, &IntegrityError{Key: o.Key, Reason: "duplicate key"}
			}
			seen[o.Key] = struct{}{}
		}
		all = append(all, outputs...)
		e.logger.InfoContext(ctx, "round extracted",
			"round", round,
			"outputs", len(outputs),
			"duration", time.Since(start),
		)
	}
	return all, nil
}
