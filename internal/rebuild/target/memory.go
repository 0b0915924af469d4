package target

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/NaturalHistoryMuseum/synth-transform/internal/models"
)

// Memory is an in-process Writer. Writes are staged and become visible only
// when Apply's fn succeeds.
type Memory struct {
	mu       sync.RWMutex
	outputs  []models.CanonicalOutput
	mappings []models.IDMapping
	commits  int
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Apply(ctx context.Context, fn func(Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	staged := &memoryTx{
		outputs:  slices.Clone(m.outputs),
		mappings: slices.Clone(m.mappings),
	}
	if err := fn(staged); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit target tx: %w", err)
	}
	m.outputs, m.mappings = staged.outputs, staged.mappings
	m.commits++
	return nil
}

// Outputs returns the committed canonical outputs.
func (m *Memory) Outputs() []models.CanonicalOutput {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.outputs)
}

// Mappings returns the committed id mappings.
func (m *Memory) Mappings() []models.IDMapping {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.mappings)
}

// Commits counts successful Apply calls.
func (m *Memory) Commits() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.commits
}

type memoryTx struct {
	outputs  []models.CanonicalOutput
	mappings []models.IDMapping
}

func (t *memoryTx) Reset(context.Context) error {
	t.outputs, t.mappings = nil, nil
	return nil
}

func (t *memoryTx) WriteOutputs(_ context.Context, outputs []models.CanonicalOutput) (int64, error) {
	written := make(map[int64]struct{}, len(t.outputs)+len(outputs))
	for _, o := range t.outputs {
		written[o.ID] = struct{}{}
	}
	for _, o := range outputs {
		if _, dup := written[o.ID]; dup {
			return 0, fmt.Errorf("canonical output %d already written", o.ID)
		}
		written[o.ID] = struct{}{}
	}
	t.outputs = append(t.outputs, outputs...)
	return int64(len(outputs)), nil
}

func (t *memoryTx) WriteMappings(_ context.Context, mappings []models.IDMapping) (int64, error) {
	known := make(map[int64]struct{}, len(t.outputs))
	for _, o := range t.outputs {
		known[o.ID] = struct{}{}
	}
	for _, mp := range mappings {
		if _, ok := known[mp.CanonicalID]; !ok {
			return 0, fmt.Errorf("mapping %s references unknown canonical output %d", mp.Key, mp.CanonicalID)
		}
	}
	t.mappings = append(t.mappings, mappings...)
	return int64(len(mappings)), nil
}
