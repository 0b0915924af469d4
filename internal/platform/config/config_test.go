package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
sources:
  - name: synth1
    dsn: postgres://localhost/synth1
  - name: synth2
    dsn: postgres://localhost/synth2
target:
  dsn: postgres://localhost/synth
cache:
  backend: redis
  redis:
    url: redis://localhost:6379/0
search:
  mailto: data@nhm.ac.uk
  throttle:
    max_in_flight: 4
    window: 2s
  refindit:
    enabled: false
resolve:
  workers: 8
audit:
  kafka:
    brokers: [k1:9092]
    create_topic: true
    partitions: 3
`

const sampleTOML = `
[[sources]]
round = 3
dsn = "postgres://localhost/synth3"

[[sources]]
round = 4
dsn = "postgres://localhost/synth4"

[target]
dsn = "postgres://localhost/synth"

[search.retry]
max_retries = 5
initial_interval = "250ms"
`

func TestParse_YAML(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML), ".yml")
	require.NoError(t, err)

	require.Len(t, cfg.Sources, 2)
	assert.Equal(t, []int{1, 2}, cfg.Rounds())
	assert.Equal(t, "synth2", cfg.Sources[1].Name)
	assert.Equal(t, CacheRedis, cfg.Cache.Backend)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Cache.Redis.URL)
	assert.Equal(t, int64(4), cfg.Search.Throttle.MaxInFlight)
	assert.Equal(t, 2*time.Second, cfg.Search.Throttle.Window.Std())
	assert.Equal(t, 40, cfg.Search.Throttle.Requests, "unset fields keep defaults")
	assert.True(t, cfg.Search.Crossref.Enabled)
	assert.False(t, cfg.Search.Refindit.Enabled)
	assert.Equal(t, 8, cfg.Resolve.Workers)
	assert.Equal(t, "data@nhm.ac.uk", cfg.Search.Mailto)
	assert.True(t, cfg.Audit.Kafka.CreateTopic)
	assert.Equal(t, int32(3), cfg.Audit.Kafka.Partitions)
	assert.Zero(t, cfg.Audit.Kafka.ReplicationFactor)
	assert.Equal(t, "synth.audit", cfg.Audit.Kafka.Topic)
}

func TestParse_TOML(t *testing.T) {
	cfg, err := Parse([]byte(sampleTOML), ".toml")
	require.NoError(t, err)

	assert.Equal(t, []int{3, 4}, cfg.Rounds())
	assert.Equal(t, "round3", cfg.Sources[0].Name)
	assert.Equal(t, 5, cfg.Search.Retry.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Search.Retry.InitialInterval.Std())
	assert.Equal(t, CachePostgres, cfg.Cache.Backend)
	assert.Equal(t, "postgres://localhost/synth", cfg.Cache.DSN, "postgres cache defaults to the target database")
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv("SYNTH_TARGET_DSN", "postgres://override/synth")
	t.Setenv("SYNTH_CACHE_BACKEND", "memory")
	t.Setenv("SYNTH_WORKERS", "3")
	t.Setenv("SYNTH_KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("SYNTH_LOG_LEVEL", "debug")

	cfg, err := Parse([]byte(sampleYAML), ".yaml")
	require.NoError(t, err)

	assert.Equal(t, "postgres://override/synth", cfg.Target.DSN)
	assert.Equal(t, CacheMemory, cfg.Cache.Backend)
	assert.Equal(t, 3, cfg.Resolve.Workers)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Audit.Kafka.Brokers)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestParse_InvalidWorkersEnv(t *testing.T) {
	t.Setenv("SYNTH_WORKERS", "many")
	_, err := Parse([]byte(sampleYAML), ".yml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SYNTH_WORKERS")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "no sources",
			yaml:    "target: {dsn: x}",
			wantErr: "at least one source",
		},
		{
			name: "rounds out of order",
			yaml: `
sources:
  - {round: 2, dsn: a}
  - {round: 1, dsn: b}
target: {dsn: x}`,
			wantErr: "oldest first",
		},
		{
			name: "missing target",
			yaml: `
sources:
  - {dsn: a}`,
			wantErr: "target dsn",
		},
		{
			name: "unknown backend",
			yaml: `
sources:
  - {dsn: a}
target: {dsn: x}
cache: {backend: sqlite}`,
			wantErr: "unknown cache backend",
		},
		{
			name: "redis without url",
			yaml: `
sources:
  - {dsn: a}
target: {dsn: x}
cache: {backend: redis}`,
			wantErr: "redis url",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml), ".yml")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParse_UnsupportedFormat(t *testing.T) {
	_, err := Parse([]byte("{}"), ".json")
	require.Error(t, err)
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "synth.toml")
	require.NoError(t, os.WriteFile(path, []byte(sampleTOML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Sources, 2)

	_, err = Load(filepath.Join(dir, "missing.yml"))
	require.Error(t, err)
}

func TestDuration_Text(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Std())

	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(text))

	assert.Error(t, d.UnmarshalText([]byte("soon")))
}
