package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NaturalHistoryMuseum/synth-transform/internal/audit"
	"github.com/NaturalHistoryMuseum/synth-transform/internal/models"
	"github.com/NaturalHistoryMuseum/synth-transform/internal/platform/config"
	"github.com/NaturalHistoryMuseum/synth-transform/internal/platform/logger"
	"github.com/NaturalHistoryMuseum/synth-transform/internal/rebuild"
	"github.com/NaturalHistoryMuseum/synth-transform/internal/resolve/search"
	"github.com/NaturalHistoryMuseum/synth-transform/pkg/platform/circuit"
)

func TestBuildProviders(t *testing.T) {
	cfg := config.Default().Search

	providers, fetcher, breakers, err := buildProviders(cfg, logger.Discard(), nil)
	require.NoError(t, err)
	require.Len(t, providers, 2)
	assert.Equal(t, search.CrossrefID, providers[0].ID())
	assert.Equal(t, search.RefinditID, providers[1].ID())
	require.NotNil(t, fetcher)
	assert.Equal(t, search.CrossrefID, fetcher.ID())
	assert.Len(t, breakers, 2)

	cfg.Crossref.Enabled = false
	providers, fetcher, _, err = buildProviders(cfg, logger.Discard(), nil)
	require.NoError(t, err)
	require.Len(t, providers, 1)
	assert.Equal(t, search.RefinditID, providers[0].ID())
	assert.Nil(t, fetcher)
}

func TestBuildPublisher_DefaultsToLog(t *testing.T) {
	pub, err := buildPublisher(context.Background(), config.Audit{}, logger.Discard())
	require.NoError(t, err)
	assert.IsType(t, &audit.LogPublisher{}, pub)
}

func TestBreakerHealth(t *testing.T) {
	b := circuit.New("crossref", circuit.WithFailureThreshold(1), circuit.WithCooldown(time.Hour))
	check := breakerHealth(b)
	assert.NoError(t, check(context.Background()))

	b.RecordFailure()
	assert.Error(t, check(context.Background()))
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	printSummary(&buf, rebuild.RunSummary{
		RunID:              "run-1",
		Extracted:          5,
		Resolved:           4,
		NoMatch:            1,
		ByMethod:           map[models.Method]int{"url": 1, "pattern": 2, "crossref": 1},
		Groups:             3,
		MergedGroups:       2,
		TitleDisagreements: 1,
		Duration:           1500 * time.Millisecond,
	})

	out := buf.String()
	assert.Contains(t, out, "run run-1 finished in 1.5s")
	assert.Contains(t, out, "resolved:   4 (cached 0)")
	assert.Contains(t, out, "outputs:    3 (2 merged, 1 title disagreements)")
	assert.NotContains(t, out, "metadata")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("crossref")), bytes.Index(buf.Bytes(), []byte("pattern")))
}
