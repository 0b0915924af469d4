// Package consolidate merges resolved outputs from every round into canonical
// outputs. Everything here is pure: no I/O, no clocks.
package consolidate

import (
	"slices"

	"github.com/NaturalHistoryMuseum/synth-transform/internal/models"
	"github.com/NaturalHistoryMuseum/synth-transform/pkg/platform/strings"
)

// Group partitions outputs by resolved identifier. An output without an
// identifier becomes a singleton keyed by its "<round>:<local_id>". Groups
// are returned ordered by their earliest member key, members sorted by key.
func Group(outputs []models.ResolvedOutput) []models.DuplicateGroup {
	byKey := make(map[string]*models.DuplicateGroup, len(outputs))
	var order []string
	for _, o := range outputs {
		key := o.Identifier
		if key == "" {
			key = o.Output.Key.String()
		}
		g, ok := byKey[key]
		if !ok {
			g = &models.DuplicateGroup{GroupKey: key, Identifier: o.Identifier}
			byKey[key] = g
			order = append(order, key)
		}
		g.Members = append(g.Members, o.Output)
	}

	groups := make([]models.DuplicateGroup, 0, len(order))
	for _, key := range order {
		g := byKey[key]
		slices.SortFunc(g.Members, func(a, b models.RawOutput) int { return compareKeys(a.Key, b.Key) })
		g.Rounds = rounds(g.Members)
		g.NormalizedTitles = normalizedTitles(g.Members)
		g.TitleDisagreement = len(g.NormalizedTitles) > 1
		groups = append(groups, *g)
	}
	slices.SortFunc(groups, func(a, b models.DuplicateGroup) int {
		return compareKeys(a.Earliest(), b.Earliest())
	})
	return groups
}

func rounds(members []models.RawOutput) []int {
	out := make([]int, 0, len(members))
	for _, m := range members {
		out = append(out, m.Key.Round)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// normalizedTitles returns the distinct non-empty normalized titles in member
// order.
func normalizedTitles(members []models.RawOutput) []string {
	titles := make([]string, 0, len(members))
	for _, m := range members {
		titles = append(titles, m.Title)
	}
	return strings.DedupeNormalized(titles)
}

func compareKeys(a, b models.Key) int {
	switch {
	case a.Less(b):
		return -1
	case b.Less(a):
		return 1
	default:
		return 0
	}
}
