package search

import (
	"context"
	"fmt"
	"time"
)

// Query carries the hints a bibliographic search can use. Title is required.
type Query struct {
	Title   string
	Authors []string
	Year    int
}

// Candidate is one hit from a remote search, in provider rank order.
type Candidate struct {
	Identifier string
	Title      string
}

// Metadata is the raw bibliographic record a provider holds for an identifier.
type Metadata struct {
	Identifier string
	Title      string
	Source     string
	Payload    []byte
	FetchedAt  time.Time
}

// Provider is a remote bibliographic search service.
type Provider interface {
	// ID returns a unique identifier for this provider; it doubles as the
	// resolution method name.
	ID() string

	// Search returns up to the provider's configured number of candidates.
	// An empty slice with a nil error is a genuine no-match.
	Search(ctx context.Context, q Query) ([]Candidate, error)
}

// MetadataFetcher retrieves the full record for a known identifier.
type MetadataFetcher interface {
	ID() string
	Fetch(ctx context.Context, identifier string) (*Metadata, error)
}

// Registry keeps search providers in registration order, which is the order
// the resolver consults them.
type Registry struct {
	order     []Provider
	providers map[string]Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register appends a provider. IDs must be unique.
func (r *Registry) Register(p Provider) error {
	id := p.ID()
	if _, exists := r.providers[id]; exists {
		return fmt.Errorf("provider %s already registered", id)
	}
	r.providers[id] = p
	r.order = append(r.order, p)
	return nil
}

// Get retrieves a provider by ID.
func (r *Registry) Get(id string) (Provider, bool) {
	p, ok := r.providers[id]
	return p, ok
}

// All returns the providers in registration order.
func (r *Registry) All() []Provider {
	out := make([]Provider, len(r.order))
	copy(out, r.order)
	return out
}
