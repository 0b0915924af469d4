// Package extract reads output records from every round's source schema and
// checks them for integrity before anything downstream runs.
package extract

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/NaturalHistoryMuseum/synth-transform/internal/models"
)

// Reader returns every output of one round.
type Reader interface {
	Read(ctx context.Context, round int) ([]models.RawOutput, error)
}

// MemoryReader serves fixed records per round. Records keep the keys they
// were given, so tests can feed inconsistent data through it.
type MemoryReader struct {
	mu     sync.RWMutex
	rounds map[int][]models.RawOutput
}

func NewMemoryReader() *MemoryReader {
	return &MemoryReader{rounds: make(map[int][]models.RawOutput)}
}

// Add appends outputs to the given round.
func (m *MemoryReader) Add(round int, outputs ...models.RawOutput) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rounds[round] = append(m.rounds[round], outputs...)
}

func (m *MemoryReader) Read(_ context.Context, round int) ([]models.RawOutput, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	outputs, ok := m.rounds[round]
	if !ok {
		return nil, fmt.Errorf("round %d: no such source", round)
	}
	return slices.Clone(outputs), nil
}

// splitAuthors breaks a free-text author list into names. Commas are left
// alone because they separate surnames from initials as often as they
// separate people.
func splitAuthors(s string) []string {
	s = strings.NewReplacer("&", ";", " and ", ";", "\n", ";").Replace(s)
	var out []string
	for _, part := range strings.Split(s, ";") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
