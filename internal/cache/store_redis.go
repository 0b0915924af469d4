package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/NaturalHistoryMuseum/synth-transform/internal/models"
)

const (
	resolutionKeyPrefix = "synth:resolution:"
	metadataKeyPrefix   = "synth:metadata:"
	maxWatchRetries     = 5
	scanBatch           = 500
)

// resolutionRecord is the JSON form of a Resolution in Redis.
type resolutionRecord struct {
	Round      int       `json:"round"`
	LocalID    int64     `json:"local_id"`
	Status     string    `json:"status"`
	Identifier string    `json:"identifier,omitempty"`
	Method     string    `json:"method,omitempty"`
	Attempts   int       `json:"attempts"`
	ResolvedAt time.Time `json:"resolved_at"`
	LastError  string    `json:"last_error,omitempty"`
}

func toRecord(res models.Resolution) resolutionRecord {
	return resolutionRecord{
		Round:      res.Key.Round,
		LocalID:    res.Key.LocalID,
		Status:     string(res.Status),
		Identifier: res.Identifier,
		Method:     string(res.Method),
		Attempts:   res.Attempts,
		ResolvedAt: res.ResolvedAt.UTC(),
		LastError:  res.LastError,
	}
}

func fromRecord(raw []byte) (models.Resolution, bool) {
	var rec resolutionRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return models.Resolution{}, false
	}
	res := models.Resolution{
		Key:        models.Key{Round: rec.Round, LocalID: rec.LocalID},
		Status:     models.Status(rec.Status),
		Identifier: rec.Identifier,
		Method:     models.Method(rec.Method),
		Attempts:   rec.Attempts,
		ResolvedAt: rec.ResolvedAt,
		LastError:  rec.LastError,
	}
	return res, decodable(res)
}

func resolutionKey(k models.Key) string {
	return resolutionKeyPrefix + k.String()
}

// RedisResolutions stores resolution outcomes as JSON strings in Redis.
type RedisResolutions struct {
	client *redis.Client
	opts   options
}

func NewRedisResolutions(client *redis.Client, opts ...Option) *RedisResolutions {
	return &RedisResolutions{client: client, opts: newOptions(opts)}
}

func (s *RedisResolutions) Get(ctx context.Context, key models.Key) (models.Resolution, error) {
	start := time.Now()
	raw, err := s.client.Get(ctx, resolutionKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		s.opts.recordMiss(namespaceResolution, start)
		return models.Resolution{}, ErrNotFound
	}
	if err != nil {
		return models.Resolution{}, fmt.Errorf("get resolution %s: %w", key, err)
	}
	res, ok := fromRecord(raw)
	if !ok || res.Key != key {
		s.opts.recordCorrupt(namespaceResolution, start)
		return models.Resolution{}, fmt.Errorf("resolution %s: %w", key, ErrCorrupt)
	}
	s.opts.recordHit(namespaceResolution, start)
	return res, nil
}

func (s *RedisResolutions) GetMany(ctx context.Context, keys []models.Key) (map[models.Key]models.Resolution, error) {
	out := make(map[models.Key]models.Resolution, len(keys))
	for chunk := range slices.Chunk(keys, scanBatch) {
		names := make([]string, len(chunk))
		for i, k := range chunk {
			names[i] = resolutionKey(k)
		}
		vals, err := s.client.MGet(ctx, names...).Result()
		if err != nil {
			return nil, fmt.Errorf("get resolutions: %w", err)
		}
		for i, v := range vals {
			str, ok := v.(string)
			if !ok {
				continue
			}
			if res, ok := fromRecord([]byte(str)); ok && res.Key == chunk[i] {
				out[chunk[i]] = res
			}
		}
	}
	return out, nil
}

// Set writes res with an optimistic WATCH so a concurrent writer cannot slip a
// different resolved identifier in between the check and the write.
func (s *RedisResolutions) Set(ctx context.Context, res models.Resolution) error {
	if err := validate(res); err != nil {
		return err
	}
	payload, err := json.Marshal(toRecord(res))
	if err != nil {
		return fmt.Errorf("encode resolution %s: %w", res.Key, err)
	}
	name := resolutionKey(res.Key)

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, name).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil {
			if prev, ok := fromRecord(raw); ok && conflicts(prev, res) {
				return ErrAlreadyResolved
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, name, payload, 0)
			return nil
		})
		return err
	}

	for range maxWatchRetries {
		err = s.client.Watch(ctx, txf, name)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if errors.Is(err, ErrAlreadyResolved) {
		return err
	}
	if err != nil {
		return fmt.Errorf("set resolution %s: %w", res.Key, err)
	}
	return nil
}

func (s *RedisResolutions) Replace(ctx context.Context, res models.Resolution) error {
	if err := validate(res); err != nil {
		return err
	}
	payload, err := json.Marshal(toRecord(res))
	if err != nil {
		return fmt.Errorf("encode resolution %s: %w", res.Key, err)
	}
	if err := s.client.Set(ctx, resolutionKey(res.Key), payload, 0).Err(); err != nil {
		return fmt.Errorf("replace resolution %s: %w", res.Key, err)
	}
	return nil
}

func (s *RedisResolutions) Contains(ctx context.Context, key models.Key) (bool, error) {
	n, err := s.client.Exists(ctx, resolutionKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("contains resolution %s: %w", key, err)
	}
	return n > 0, nil
}

// Keys scans the resolution namespace. Keys whose names do not parse are skipped.
func (s *RedisResolutions) Keys(ctx context.Context) ([]models.Key, error) {
	var keys []models.Key
	iter := s.client.Scan(ctx, 0, resolutionKeyPrefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		k, err := models.ParseKey(strings.TrimPrefix(iter.Val(), resolutionKeyPrefix))
		if err != nil {
			continue
		}
		keys = append(keys, k)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list resolution keys: %w", err)
	}
	slices.SortFunc(keys, compareKeys)
	return keys, nil
}

// metadataRecord is the JSON form of RemoteMetadata in Redis.
type metadataRecord struct {
	Identifier string          `json:"identifier"`
	Title      string          `json:"title,omitempty"`
	Source     string          `json:"source"`
	Payload    json.RawMessage `json:"payload"`
	FetchedAt  time.Time       `json:"fetched_at"`
}

// RedisMetadata stores metadata snapshots as JSON strings in Redis.
type RedisMetadata struct {
	client *redis.Client
	opts   options
}

func NewRedisMetadata(client *redis.Client, opts ...Option) *RedisMetadata {
	return &RedisMetadata{client: client, opts: newOptions(opts)}
}

func (s *RedisMetadata) Get(ctx context.Context, identifier string) (models.RemoteMetadata, error) {
	start := time.Now()
	raw, err := s.client.Get(ctx, metadataKeyPrefix+identifier).Bytes()
	if errors.Is(err, redis.Nil) {
		s.opts.recordMiss(namespaceMetadata, start)
		return models.RemoteMetadata{}, ErrNotFound
	}
	if err != nil {
		return models.RemoteMetadata{}, fmt.Errorf("get metadata %s: %w", identifier, err)
	}
	var rec metadataRecord
	if err := json.Unmarshal(raw, &rec); err != nil || rec.Identifier != identifier {
		s.opts.recordCorrupt(namespaceMetadata, start)
		return models.RemoteMetadata{}, fmt.Errorf("metadata %s: %w", identifier, ErrCorrupt)
	}
	s.opts.recordHit(namespaceMetadata, start)
	return models.RemoteMetadata{
		Identifier: rec.Identifier,
		Title:      rec.Title,
		Source:     rec.Source,
		Payload:    []byte(rec.Payload),
		FetchedAt:  rec.FetchedAt,
	}, nil
}

// Set uses SETNX so an existing snapshot is never replaced.
func (s *RedisMetadata) Set(ctx context.Context, md models.RemoteMetadata) error {
	payload, err := encodeMetadata(md)
	if err != nil {
		return err
	}
	if err := s.client.SetNX(ctx, metadataKeyPrefix+md.Identifier, payload, 0).Err(); err != nil {
		return fmt.Errorf("set metadata %s: %w", md.Identifier, err)
	}
	return nil
}

func (s *RedisMetadata) Replace(ctx context.Context, md models.RemoteMetadata) error {
	payload, err := encodeMetadata(md)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, metadataKeyPrefix+md.Identifier, payload, 0).Err(); err != nil {
		return fmt.Errorf("replace metadata %s: %w", md.Identifier, err)
	}
	return nil
}

func (s *RedisMetadata) Contains(ctx context.Context, identifier string) (bool, error) {
	n, err := s.client.Exists(ctx, metadataKeyPrefix+identifier).Result()
	if err != nil {
		return false, fmt.Errorf("contains metadata %s: %w", identifier, err)
	}
	return n > 0, nil
}

func encodeMetadata(md models.RemoteMetadata) ([]byte, error) {
	raw := json.RawMessage(md.Payload)
	if len(raw) == 0 || !json.Valid(raw) {
		raw = json.RawMessage("{}")
	}
	payload, err := json.Marshal(metadataRecord{
		Identifier: md.Identifier,
		Title:      md.Title,
		Source:     md.Source,
		Payload:    raw,
		FetchedAt:  md.FetchedAt.UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode metadata %s: %w", md.Identifier, err)
	}
	return payload, nil
}
