package audit

import (
	"time"

	"github.com/NaturalHistoryMuseum/synth-transform/internal/models"
)

// Kind classifies audit events so consumers can route them.
type Kind string

const (
	// KindTitleDisagreement marks a canonical output whose sources share an
	// identifier but not a normalized title.
	KindTitleDisagreement Kind = "title_disagreement"
	// KindRunCompleted carries the summary of a finished rebuild.
	KindRunCompleted Kind = "run_completed"
)

// Event is the wire form of everything the pipeline publishes. Exactly one of
// Flag and Run is set, matching Kind.
type Event struct {
	ID        string      `json:"id"`
	Kind      Kind        `json:"kind"`
	RunID     string      `json:"run_id"`
	Timestamp time.Time   `json:"timestamp"`
	Flag      *FlagRecord `json:"flag,omitempty"`
	Run       *RunRecord  `json:"run,omitempty"`
}

// FlagRecord is a title disagreement ready for review.
type FlagRecord struct {
	CanonicalID      int64    `json:"canonical_id"`
	Identifier       string   `json:"identifier"`
	Titles           []string `json:"titles"`
	NormalizedTitles []string `json:"normalized_titles"`
	// Provenance lists contributing keys as "<round>:<local_id>".
	Provenance []string `json:"provenance"`
}

// RunRecord summarises a rebuild.
type RunRecord struct {
	RunID              string         `json:"run_id"`
	Resolved           int            `json:"resolved"`
	NoMatch            int            `json:"no_match"`
	Errors             int            `json:"errors"`
	Groups             int            `json:"groups"`
	MergedGroups       int            `json:"merged_groups"`
	TitleDisagreements int            `json:"title_disagreements"`
	ByMethod           map[string]int `json:"by_method"`
	DurationMS         int64          `json:"duration_ms"`
}

func flagRecord(f models.TitleFlag) *FlagRecord {
	provenance := make([]string, len(f.Provenance))
	for i, k := range f.Provenance {
		provenance[i] = k.String()
	}
	return &FlagRecord{
		CanonicalID:      f.CanonicalID,
		Identifier:       f.Identifier,
		Titles:           f.Titles,
		NormalizedTitles: f.NormalizedTitles,
		Provenance:       provenance,
	}
}
