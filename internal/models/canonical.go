package models

// DuplicateGroup is a set of raw outputs sharing one resolved identifier, or a
// singleton for an output without one.
type DuplicateGroup struct {
	GroupKey          string
	Identifier        string
	Members           []RawOutput
	Rounds            []int
	NormalizedTitles  []string
	TitleDisagreement bool
}

// Earliest returns the smallest member key. Members are kept sorted, so this is
// the first member.
func (g DuplicateGroup) Earliest() Key {
	if len(g.Members) == 0 {
		return Key{}
	}
	return g.Members[0].Key
}

// CanonicalOutput is the consolidated row written to the analytical schema.
type CanonicalOutput struct {
	ID                int64
	Title             string
	Identifier        string
	Provenance        []Key
	Rounds            []int
	TitleDisagreement bool
}

// IDMapping traces a source occurrence to its canonical output.
type IDMapping struct {
	Key         Key
	CanonicalID int64
}

// TitleFlag marks a group whose members agree on identifier but not on title.
type TitleFlag struct {
	CanonicalID      int64
	Identifier       string
	Titles           []string
	NormalizedTitles []string
	Provenance       []Key
}
