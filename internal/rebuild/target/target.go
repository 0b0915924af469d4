// Package target writes consolidated outputs to the analytical schema. Every
// write happens inside Apply so a failed rebuild leaves the previous data in
// place.
package target

import (
	"context"

	"github.com/NaturalHistoryMuseum/synth-transform/internal/models"
)

// Writer runs fn inside one transaction, committing only when fn succeeds.
type Writer interface {
	Apply(ctx context.Context, fn func(Tx) error) error
}

// Tx is the set of writes available inside Apply. Outputs must be written
// before the mappings that reference them.
type Tx interface {
	Reset(ctx context.Context) error
	WriteOutputs(ctx context.Context, outputs []models.CanonicalOutput) (int64, error)
	WriteMappings(ctx context.Context, mappings []models.IDMapping) (int64, error)
}
