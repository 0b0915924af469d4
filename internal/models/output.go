package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Key identifies a RawOutput across every round. It is immutable once extracted.
type Key struct {
	Round   int
	LocalID int64
}

// String renders the key as "<round>:<local_id>".
func (k Key) String() string {
	return strconv.Itoa(k.Round) + ":" + strconv.FormatInt(k.LocalID, 10)
}

// Less orders keys by round then local id.
func (k Key) Less(other Key) bool {
	if k.Round != other.Round {
		return k.Round < other.Round
	}
	return k.LocalID < other.LocalID
}

// ParseKey is the inverse of Key.String.
func ParseKey(s string) (Key, error) {
	round, local, ok := strings.Cut(s, ":")
	if !ok {
		return Key{}, fmt.Errorf("parse key %q: missing separator", s)
	}
	r, err := strconv.Atoi(round)
	if err != nil {
		return Key{}, fmt.Errorf("parse key %q: round: %w", s, err)
	}
	l, err := strconv.ParseInt(local, 10, 64)
	if err != nil {
		return Key{}, fmt.Errorf("parse key %q: local id: %w", s, err)
	}
	return Key{Round: r, LocalID: l}, nil
}

// RawOutput is one output record as it appears in a single round's source schema.
// Empty strings stand in for NULL columns.
type RawOutput struct {
	Key           Key
	Title         string
	ReferenceText string
	URL           string
	Authors       []string
	Year          int
}

// Status is the terminal state of a resolution attempt.
type Status string

const (
	StatusResolved  Status = "resolved"
	StatusNoMatch   Status = "unresolved_no_match"
	StatusTransient Status = "unresolved_error"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusResolved, StatusNoMatch, StatusTransient:
		return true
	}
	return false
}

func (s Status) String() string {
	if !s.Valid() {
		return "unknown"
	}
	return string(s)
}

// Method names the cascade strategy that produced a resolution.
type Method string

const (
	MethodNone    Method = ""
	MethodPattern Method = "pattern"
	MethodURL     Method = "url"
)

// Resolution is the cached outcome for a single key.
type Resolution struct {
	Key        Key
	Status     Status
	Identifier string
	Method     Method
	Attempts   int
	ResolvedAt time.Time
	LastError  string
}

// IsResolved reports whether an identifier is attached.
func (r Resolution) IsResolved() bool {
	return r.Status == StatusResolved && r.Identifier != ""
}

// Retryable reports whether a cached entry should be re-resolved on a normal run.
func (r Resolution) Retryable() bool {
	return r.Status == StatusTransient
}

// RemoteMetadata is an immutable snapshot of the bibliographic record for an identifier.
type RemoteMetadata struct {
	Identifier string
	Title      string
	Source     string
	Payload    []byte
	FetchedAt  time.Time
}

// ResolvedOutput pairs a raw record with its resolution, the grouper's input.
type ResolvedOutput struct {
	Output     RawOutput
	Identifier string
	Method     Method
}
