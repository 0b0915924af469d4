package resolve

import (
	"context"

	"github.com/NaturalHistoryMuseum/synth-transform/internal/models"
	"github.com/NaturalHistoryMuseum/synth-transform/internal/resolve/doi"
	"github.com/NaturalHistoryMuseum/synth-transform/internal/resolve/search"
	"github.com/NaturalHistoryMuseum/synth-transform/pkg/platform/strings"
)

// Outcome tags a strategy result.
type Outcome int

const (
	NoMatch Outcome = iota
	Matched
	TransientError
)

func (o Outcome) String() string {
	switch o {
	case Matched:
		return "matched"
	case TransientError:
		return "error"
	default:
		return "no_match"
	}
}

// Result is what a single strategy produced for a record.
type Result struct {
	Outcome    Outcome
	Identifier string
	Err        error
}

func matched(identifier string) Result { return Result{Outcome: Matched, Identifier: identifier} }
func noMatch() Result                  { return Result{Outcome: NoMatch} }
func failed(err error) Result          { return Result{Outcome: TransientError, Err: err} }

// Strategy is one step of the resolution cascade.
type Strategy interface {
	Method() models.Method
	Attempt(ctx context.Context, raw models.RawOutput) Result
}

// PatternStrategy finds a DOI written directly into the reference text or the
// title.
type PatternStrategy struct{}

func (PatternStrategy) Method() models.Method { return models.MethodPattern }

func (PatternStrategy) Attempt(_ context.Context, raw models.RawOutput) Result {
	for _, text := range []string{raw.ReferenceText, raw.Title} {
		if id, ok := doi.Extract(text); ok {
			return matched(id)
		}
	}
	return noMatch()
}

// URLStrategy derives a DOI from a known publisher URL.
type URLStrategy struct{}

func (URLStrategy) Method() models.Method { return models.MethodURL }

func (URLStrategy) Attempt(_ context.Context, raw models.RawOutput) Result {
	if id, _, ok := doi.FromURL(raw.URL); ok {
		return matched(id)
	}
	return noMatch()
}

// SearchStrategy asks a remote provider for candidates using the normalized
// title and accepts the first whose normalized title equals the record's.
type SearchStrategy struct {
	provider search.Provider
}

func NewSearchStrategy(p search.Provider) SearchStrategy {
	return SearchStrategy{provider: p}
}

func (s SearchStrategy) Method() models.Method { return models.Method(s.provider.ID()) }

func (s SearchStrategy) Attempt(ctx context.Context, raw models.RawOutput) Result {
	title := strings.NormalizeTitle(raw.Title)
	if title == "" {
		return noMatch()
	}
	candidates, err := s.provider.Search(ctx, search.Query{
		Title:   title,
		Authors: strings.DedupeAndTrim(raw.Authors),
		Year:    raw.Year,
	})
	if err != nil {
		return failed(err)
	}
	for _, c := range candidates {
		if !strings.TitlesMatch(raw.Title, c.Title) {
			continue
		}
		if id, ok := doi.Canonical(c.Identifier); ok {
			return matched(id)
		}
	}
	return noMatch()
}

// DefaultStrategies returns the cascade in order: pattern, URL, then each
// search provider in the order given.
func DefaultStrategies(providers ...search.Provider) []Strategy {
	out := []Strategy{PatternStrategy{}, URLStrategy{}}
	for _, p := range providers {
		out = append(out, NewSearchStrategy(p))
	}
	return out
}
