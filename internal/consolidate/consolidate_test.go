package consolidate

import (
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NaturalHistoryMuseum/synth-transform/internal/models"
)

func out(round int, local int64, title, identifier string) models.ResolvedOutput {
	return models.ResolvedOutput{
		Output:     models.RawOutput{Key: models.Key{Round: round, LocalID: local}, Title: title},
		Identifier: identifier,
	}
}

func fixture() []models.ResolvedOutput {
	return []models.ResolvedOutput{
		out(3, 1, "Bees of Kent", "10.1234/abc"),
		out(1, 7, "Moths", ""),
		out(2, 5, "Bees of Kent.", "10.1234/abc"),
		out(2, 2, "Wasps", "10.5555/wasp"),
		out(3, 4, "Wasps of Essex", "10.5555/wasp"),
		out(1, 8, "", ""),
	}
}

func TestGroup(t *testing.T) {
	groups := Group(fixture())
	require.Len(t, groups, 4)

	assert.Equal(t, "1:7", groups[0].GroupKey)
	assert.Empty(t, groups[0].Identifier)
	assert.Equal(t, "1:8", groups[1].GroupKey)
	assert.Empty(t, groups[1].NormalizedTitles)

	wasps := groups[2]
	assert.Equal(t, "10.5555/wasp", wasps.GroupKey)
	assert.Equal(t, []int{2, 3}, wasps.Rounds)
	assert.Equal(t, []string{"wasps", "wasps of essex"}, wasps.NormalizedTitles)
	assert.True(t, wasps.TitleDisagreement)

	bees := groups[3]
	assert.Equal(t, "10.1234/abc", bees.Identifier)
	assert.Equal(t, models.Key{Round: 2, LocalID: 5}, bees.Earliest())
	assert.Equal(t, []string{"bees of kent"}, bees.NormalizedTitles)
	assert.False(t, bees.TitleDisagreement)
}

func TestGroup_IdentifierHomogeneity(t *testing.T) {
	input := fixture()
	identifiers := make(map[models.Key]string, len(input))
	for _, o := range input {
		identifiers[o.Output.Key] = o.Identifier
	}
	for _, g := range Group(input) {
		for _, m := range g.Members {
			assert.Equal(t, g.Identifier, identifiers[m.Key], "member %s", m.Key)
		}
		if g.Identifier == "" {
			assert.Len(t, g.Members, 1, "unresolved outputs are never merged")
		}
	}
}

func TestConsolidate(t *testing.T) {
	res := Consolidate(Group(fixture()))
	require.Len(t, res.Outputs, 4)

	for i, o := range res.Outputs {
		assert.Equal(t, int64(i+1), o.ID)
	}
	assert.Equal(t, "Moths", res.Outputs[0].Title)
	assert.Empty(t, res.Outputs[1].Title)
	assert.Equal(t, "Wasps of Essex", res.Outputs[2].Title)
	assert.Equal(t, "Bees of Kent", res.Outputs[3].Title)
	assert.Equal(t, []models.Key{{Round: 2, LocalID: 5}, {Round: 3, LocalID: 1}}, res.Outputs[3].Provenance)
	assert.Equal(t, 2, res.MergedGroups())

	require.Len(t, res.Flags, 1)
	assert.Equal(t, int64(3), res.Flags[0].CanonicalID)
	assert.Equal(t, []string{"Wasps", "Wasps of Essex"}, res.Flags[0].Titles)
}

func TestConsolidate_MappingCoverageAndUniqueness(t *testing.T) {
	input := fixture()
	res := Consolidate(Group(input))

	require.Len(t, res.Mappings, len(input))
	seen := make(map[models.Key]int64)
	for _, m := range res.Mappings {
		_, dup := seen[m.Key]
		assert.False(t, dup, "key %s mapped twice", m.Key)
		seen[m.Key] = m.CanonicalID
	}
	for _, o := range input {
		assert.Contains(t, seen, o.Output.Key)
	}
}

func TestConsolidate_StableAcrossInputOrder(t *testing.T) {
	want := Consolidate(Group(fixture()))

	rng := rand.New(rand.NewPCG(1, 2))
	for range 20 {
		shuffled := slices.Clone(fixture())
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		got := Consolidate(Group(shuffled))
		assert.Equal(t, want.Outputs, got.Outputs)
		assert.ElementsMatch(t, want.Mappings, got.Mappings)
	}
}

func TestConsolidate_RoundTripsIdentifiers(t *testing.T) {
	input := fixture()
	res := Consolidate(Group(input))

	byID := make(map[int64]models.CanonicalOutput, len(res.Outputs))
	for _, o := range res.Outputs {
		byID[o.ID] = o
	}
	for _, o := range input {
		var id int64
		for _, m := range res.Mappings {
			if m.Key == o.Output.Key {
				id = m.CanonicalID
			}
		}
		require.NotZero(t, id)
		assert.Equal(t, o.Identifier, byID[id].Identifier)
	}
}

func TestCanonicalTitle(t *testing.T) {
	member := func(round int, local int64, title string) models.RawOutput {
		return models.RawOutput{Key: models.Key{Round: round, LocalID: local}, Title: title}
	}
	tests := []struct {
		name    string
		members []models.RawOutput
		want    string
	}{
		{"latest round wins", []models.RawOutput{member(1, 1, "Old"), member(3, 1, "New")}, "New"},
		{"blank latest falls back", []models.RawOutput{member(1, 1, "Old"), member(2, 1, "Mid"), member(3, 1, "  ")}, "Mid"},
		{"higher local id within a round", []models.RawOutput{member(2, 9, "Later"), member(2, 3, "Earlier")}, "Later"},
		{"all blank", []models.RawOutput{member(1, 1, "")}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanonicalTitle(tt.members))
		})
	}
}

func TestConsolidate_Empty(t *testing.T) {
	res := Consolidate(Group(nil))
	assert.Empty(t, res.Outputs)
	assert.Empty(t, res.Mappings)
	assert.Empty(t, res.Flags)
}
