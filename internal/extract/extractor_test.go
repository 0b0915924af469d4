package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NaturalHistoryMuseum/synth-transform/internal/models"
)

func output(round int, local int64, title string) models.RawOutput {
	return models.RawOutput{Key: models.Key{Round: round, LocalID: local}, Title: title}
}

func TestExtractAll_ReadsRoundsInOrder(t *testing.T) {
	reader := NewMemoryReader()
	reader.Add(3, output(3, 1, "Bees of Kent"))
	reader.Add(1, output(1, 2, "Moths"), output(1, 1, "Wasps"))
	reader.Add(2, output(2, 5, "Bees of Kent"))

	got, err := New(reader, []int{3, 1, 2}).ExtractAll(context.Background())
	require.NoError(t, err)

	keys := make([]models.Key, len(got))
	for i, o := range got {
		keys[i] = o.Key
	}
	assert.Equal(t, []models.Key{
		{Round: 1, LocalID: 2}, {Round: 1, LocalID: 1},
		{Round: 2, LocalID: 5},
		{Round: 3, LocalID: 1},
	}, keys)
}

func TestExtractAll_DuplicateKey(t *testing.T) {
	reader := NewMemoryReader()
	reader.Add(1, output(1, 7, "A"), output(1, 7, "B"))

	_, err := New(reader, []int{1}).ExtractAll(context.Background())

	var integrity *IntegrityError
	require.ErrorAs(t, err, &integrity)
	assert.Equal(t, models.Key{Round: 1, LocalID: 7}, integrity.Key)
	assert.Contains(t, err.Error(), "1:7")
}

func TestExtractAll_UnknownRound(t *testing.T) {
	reader := NewMemoryReader()
	reader.Add(1, output(9, 1, "Stray"))

	_, err := New(reader, []int{1}).ExtractAll(context.Background())

	var integrity *IntegrityError
	require.ErrorAs(t, err, &integrity)
	assert.Contains(t, integrity.Reason, "unknown round 9")
}

func TestExtractAll_ReaderFailure(t *testing.T) {
	_, err := New(NewMemoryReader(), []int{1}).ExtractAll(context.Background())
	require.Error(t, err)

	var integrity *IntegrityError
	assert.False(t, errors.As(err, &integrity))
}

func TestSplitAuthors(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"Smith, J.", []string{"Smith, J."}},
		{"Smith, J.; Jones, K.", []string{"Smith, J.", "Jones, K."}},
		{"Smith J & Jones K and  Brown L", []string{"Smith J", "Jones K", "Brown L"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, splitAuthors(tt.in), tt.in)
	}
}
