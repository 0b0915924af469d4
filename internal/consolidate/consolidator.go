package consolidate

import (
	"slices"
	"strings"

	"github.com/NaturalHistoryMuseum/synth-transform/internal/models"
)

// Result is the consolidated view of one rebuild.
type Result struct {
	Outputs  []models.CanonicalOutput
	Mappings []models.IDMapping
	// Flags lists the groups whose members disagree on title.
	Flags []models.TitleFlag
}

// MergedGroups counts outputs built from more than one source occurrence.
func (r Result) MergedGroups() int {
	n := 0
	for _, o := range r.Outputs {
		if len(o.Provenance) > 1 {
			n++
		}
	}
	return n
}

// Consolidate assigns canonical ids 1..n to groups in ascending order of
// their earliest member key and emits one mapping per member. The same input
// always yields the same ids.
func Consolidate(groups []models.DuplicateGroup) Result {
	ordered := slices.Clone(groups)
	slices.SortStableFunc(ordered, func(a, b models.DuplicateGroup) int {
		return compareKeys(a.Earliest(), b.Earliest())
	})

	res := Result{Outputs: make([]models.CanonicalOutput, 0, len(ordered))}
	for i, g := range ordered {
		id := int64(i + 1)
		provenance := make([]models.Key, 0, len(g.Members))
		for _, m := range g.Members {
			provenance = append(provenance, m.Key)
			res.Mappings = append(res.Mappings, models.IDMapping{Key: m.Key, CanonicalID: id})
		}
		res.Outputs = append(res.Outputs, models.CanonicalOutput{
			ID:                id,
			Title:             CanonicalTitle(g.Members),
			Identifier:        g.Identifier,
			Provenance:        provenance,
			Rounds:            g.Rounds,
			TitleDisagreement: g.TitleDisagreement,
		})
		if g.TitleDisagreement {
			res.Flags = append(res.Flags, models.TitleFlag{
				CanonicalID:      id,
				Identifier:       g.Identifier,
				Titles:           rawTitles(g.Members),
				NormalizedTitles: g.NormalizedTitles,
				Provenance:       provenance,
			})
		}
	}
	return res
}

// CanonicalTitle picks the title of the most recent member: latest round
// first and, within a round, the highest local id. Members with blank titles
// are skipped.
func CanonicalTitle(members []models.RawOutput) string {
	sorted := slices.Clone(members)
	slices.SortFunc(sorted, func(a, b models.RawOutput) int { return compareKeys(b.Key, a.Key) })
	for _, m := range sorted {
		if t := strings.TrimSpace(m.Title); t != "" {
			return t
		}
	}
	return ""
}

func rawTitles(members []models.RawOutput) []string {
	var out []string
	for _, m := range members {
		t := strings.TrimSpace(m.Title)
		if t != "" && !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}
