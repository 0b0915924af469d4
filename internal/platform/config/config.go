package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPath = "config.yml"

	CacheMemory   = "memory"
	CachePostgres = "postgres"
	CacheRedis    = "redis"
)

// Duration decodes "30s"-style strings from YAML and TOML.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", string(text), err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Source is one round's database. Sources are listed oldest first.
type Source struct {
	Round int    `yaml:"round" toml:"round"`
	Name  string `yaml:"name" toml:"name"`
	DSN   string `yaml:"dsn" toml:"dsn"`
	// Query overrides the default extraction query. It must return
	// id, title, authors, url, reference, year in that order.
	Query string `yaml:"query" toml:"query"`
}

type Target struct {
	DSN string `yaml:"dsn" toml:"dsn"`
}

type Redis struct {
	URL          string   `yaml:"url" toml:"url"`
	PoolSize     int      `yaml:"pool_size" toml:"pool_size"`
	MinIdleConns int      `yaml:"min_idle_conns" toml:"min_idle_conns"`
	DialTimeout  Duration `yaml:"dial_timeout" toml:"dial_timeout"`
	ReadTimeout  Duration `yaml:"read_timeout" toml:"read_timeout"`
	WriteTimeout Duration `yaml:"write_timeout" toml:"write_timeout"`
}

type Cache struct {
	Backend string `yaml:"backend" toml:"backend"`
	DSN     string `yaml:"dsn" toml:"dsn"`
	Redis   Redis  `yaml:"redis" toml:"redis"`
}

type Provider struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	BaseURL string `yaml:"base_url" toml:"base_url"`
	Rows    int    `yaml:"rows" toml:"rows"`
}

type Throttle struct {
	MaxInFlight int64    `yaml:"max_in_flight" toml:"max_in_flight"`
	Requests    int      `yaml:"requests" toml:"requests"`
	Window      Duration `yaml:"window" toml:"window"`
}

type Retry struct {
	MaxRetries      int      `yaml:"max_retries" toml:"max_retries"`
	InitialInterval Duration `yaml:"initial_interval" toml:"initial_interval"`
	MaxInterval     Duration `yaml:"max_interval" toml:"max_interval"`
}

type Breaker struct {
	FailureThreshold int      `yaml:"failure_threshold" toml:"failure_threshold"`
	SuccessThreshold int      `yaml:"success_threshold" toml:"success_threshold"`
	Cooldown         Duration `yaml:"cooldown" toml:"cooldown"`
}

type Search struct {
	AppName  string   `yaml:"app_name" toml:"app_name"`
	Mailto   string   `yaml:"mailto" toml:"mailto"`
	Timeout  Duration `yaml:"timeout" toml:"timeout"`
	Crossref Provider `yaml:"crossref" toml:"crossref"`
	Refindit Provider `yaml:"refindit" toml:"refindit"`
	Throttle Throttle `yaml:"throttle" toml:"throttle"`
	Retry    Retry    `yaml:"retry" toml:"retry"`
	Breaker  Breaker  `yaml:"breaker" toml:"breaker"`
}

type Resolve struct {
	Workers       int  `yaml:"workers" toml:"workers"`
	FetchMetadata bool `yaml:"fetch_metadata" toml:"fetch_metadata"`
}

type Kafka struct {
	Brokers  []string `yaml:"brokers" toml:"brokers"`
	Topic    string   `yaml:"topic" toml:"topic"`
	ClientID string   `yaml:"client_id" toml:"client_id"`
	// CreateTopic creates Topic at startup when it is missing. Zero
	// partitions or replication mean the broker default.
	CreateTopic       bool  `yaml:"create_topic" toml:"create_topic"`
	Partitions        int32 `yaml:"partitions" toml:"partitions"`
	ReplicationFactor int16 `yaml:"replication_factor" toml:"replication_factor"`
}

type Audit struct {
	Kafka Kafka `yaml:"kafka" toml:"kafka"`
}

type Metrics struct {
	Addr string `yaml:"addr" toml:"addr"`
}

type Log struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Config is the full pipeline configuration.
type Config struct {
	Sources []Source `yaml:"sources" toml:"sources"`
	Target  Target   `yaml:"target" toml:"target"`
	Cache   Cache    `yaml:"cache" toml:"cache"`
	Search  Search   `yaml:"search" toml:"search"`
	Resolve Resolve  `yaml:"resolve" toml:"resolve"`
	Audit   Audit    `yaml:"audit" toml:"audit"`
	Metrics Metrics  `yaml:"metrics" toml:"metrics"`
	Log     Log      `yaml:"log" toml:"log"`
}

// Default returns a Config with every optional field filled in.
func Default() Config {
	return Config{
		Cache: Cache{
			Backend: CachePostgres,
			Redis: Redis{
				PoolSize:     10,
				MinIdleConns: 2,
				DialTimeout:  Duration(5 * time.Second),
				ReadTimeout:  Duration(3 * time.Second),
				WriteTimeout: Duration(3 * time.Second),
			},
		},
		Search: Search{
			AppName:  "synth-transform",
			Timeout:  Duration(30 * time.Second),
			Crossref: Provider{Enabled: true, Rows: 3},
			Refindit: Provider{Enabled: true, Rows: 5},
			Throttle: Throttle{MaxInFlight: 10, Requests: 40, Window: Duration(time.Second)},
			Retry: Retry{
				MaxRetries:      3,
				InitialInterval: Duration(500 * time.Millisecond),
				MaxInterval:     Duration(10 * time.Second),
			},
			Breaker: Breaker{FailureThreshold: 5, SuccessThreshold: 3, Cooldown: Duration(30 * time.Second)},
		},
		Resolve: Resolve{Workers: 20, FetchMetadata: true},
		Audit:   Audit{Kafka: Kafka{Topic: "synth.audit", ClientID: "synth-transform"}},
		Log:     Log{Level: "info", Format: "json"},
	}
}

// Load reads a .env file if present, decodes the config file at path (YAML,
// or TOML by extension) over the defaults, applies SYNTH_* environment
// overrides and validates the result. An empty path means $SYNTH_CONFIG, then
// DefaultPath.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if path == "" {
		path = os.Getenv("SYNTH_CONFIG")
	}
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %q: %w", path, err)
	}
	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("config %q: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data in the format named by ext over the defaults, then applies
// environment overrides and validates.
func Parse(data []byte, ext string) (*Config, error) {
	cfg := Default()
	switch strings.ToLower(ext) {
	case ".toml":
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse TOML: %w", err)
		}
	case ".yml", ".yaml", "":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse YAML: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.fillSources()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	str("SYNTH_TARGET_DSN", &c.Target.DSN)
	str("SYNTH_CACHE_BACKEND", &c.Cache.Backend)
	str("SYNTH_CACHE_DSN", &c.Cache.DSN)
	str("SYNTH_REDIS_URL", &c.Cache.Redis.URL)
	str("SYNTH_METRICS_ADDR", &c.Metrics.Addr)
	str("SYNTH_LOG_LEVEL", &c.Log.Level)
	str("SYNTH_LOG_FORMAT", &c.Log.Format)
	str("SYNTH_CROSSREF_MAILTO", &c.Search.Mailto)
	str("SYNTH_KAFKA_TOPIC", &c.Audit.Kafka.Topic)

	if v, ok := lookup("SYNTH_KAFKA_BROKERS"); ok && v != "" {
		c.Audit.Kafka.Brokers = splitList(v)
	}
	if v, ok := lookup("SYNTH_WORKERS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SYNTH_WORKERS: %w", err)
		}
		c.Resolve.Workers = n
	}
	return nil
}

// fillSources numbers unnumbered sources by position and defaults names.
func (c *Config) fillSources() {
	for i := range c.Sources {
		if c.Sources[i].Round == 0 {
			c.Sources[i].Round = i + 1
		}
		if c.Sources[i].Name == "" {
			c.Sources[i].Name = "round" + strconv.Itoa(c.Sources[i].Round)
		}
	}
	if c.Cache.Backend == CachePostgres && c.Cache.DSN == "" {
		c.Cache.DSN = c.Target.DSN
	}
}

// Validate checks the invariants the pipeline relies on.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Sources) == 0 {
		errs = append(errs, errors.New("at least one source is required"))
	}
	for i, s := range c.Sources {
		if s.DSN == "" {
			errs = append(errs, fmt.Errorf("source %s: dsn is required", s.Name))
		}
		if i > 0 && s.Round <= c.Sources[i-1].Round {
			errs = append(errs, fmt.Errorf("source %s: rounds must be listed oldest first", s.Name))
		}
	}
	if c.Target.DSN == "" {
		errs = append(errs, errors.New("target dsn is required"))
	}
	switch c.Cache.Backend {
	case CacheMemory:
	case CachePostgres:
		if c.Cache.DSN == "" {
			errs = append(errs, errors.New("cache dsn is required for the postgres backend"))
		}
	case CacheRedis:
		if c.Cache.Redis.URL == "" {
			errs = append(errs, errors.New("cache redis url is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cache backend %q", c.Cache.Backend))
	}
	if c.Resolve.Workers < 1 {
		errs = append(errs, errors.New("resolve workers must be at least 1"))
	}
	if c.Search.Throttle.MaxInFlight < 1 {
		errs = append(errs, errors.New("search throttle max_in_flight must be at least 1"))
	}
	if c.Search.Retry.MaxRetries < 0 {
		errs = append(errs, errors.New("search retry max_retries cannot be negative"))
	}
	if len(c.Audit.Kafka.Brokers) > 0 && c.Audit.Kafka.Topic == "" {
		errs = append(errs, errors.New("audit kafka topic is required when brokers are set"))
	}
	return errors.Join(errs...)
}

// Rounds returns the configured rounds, oldest first.
func (c *Config) Rounds() []int {
	out := make([]int, len(c.Sources))
	for i, s := range c.Sources {
		out[i] = s.Round
	}
	return out
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
