package cache

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/NaturalHistoryMuseum/synth-transform/internal/models"
)

//go:embed schema.sql
var schemaSQL string

// EnsureSchema creates the cache tables if they do not exist.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure cache schema: %w", err)
	}
	return nil
}

// PostgresResolutions persists resolution outcomes in PostgreSQL.
type PostgresResolutions struct {
	db   *sql.DB
	opts options
}

func NewPostgresResolutions(db *sql.DB, opts ...Option) *PostgresResolutions {
	return &PostgresResolutions{db: db, opts: newOptions(opts)}
}

const resolutionColumns = `round, local_id, status, identifier, method, attempts, resolved_at, last_error`

func scanResolution(row interface{ Scan(...any) error }) (models.Resolution, error) {
	var (
		res    models.Resolution
		status string
		method string
	)
	err := row.Scan(&res.Key.Round, &res.Key.LocalID, &status, &res.Identifier, &method,
		&res.Attempts, &res.ResolvedAt, &res.LastError)
	if err != nil {
		return models.Resolution{}, err
	}
	res.Status = models.Status(status)
	res.Method = models.Method(method)
	return res, nil
}

func (s *PostgresResolutions) Get(ctx context.Context, key models.Key) (models.Resolution, error) {
	start := time.Now()
	row := s.db.QueryRowContext(ctx,
		`SELECT `+resolutionColumns+` FROM output_resolutions WHERE round = $1 AND local_id = $2`,
		key.Round, key.LocalID)
	res, err := scanResolution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.opts.recordMiss(namespaceResolution, start)
			return models.Resolution{}, ErrNotFound
		}
		return models.Resolution{}, fmt.Errorf("get resolution %s: %w", key, err)
	}
	if !decodable(res) {
		s.opts.recordCorrupt(namespaceResolution, start)
		return models.Resolution{}, fmt.Errorf("resolution %s: %w", key, ErrCorrupt)
	}
	s.opts.recordHit(namespaceResolution, start)
	return res, nil
}

// GetMany loads entries for keys in one round trip using parallel arrays.
func (s *PostgresResolutions) GetMany(ctx context.Context, keys []models.Key) (map[models.Key]models.Resolution, error) {
	out := make(map[models.Key]models.Resolution, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	rounds := make([]int64, len(keys))
	locals := make([]int64, len(keys))
	for i, k := range keys {
		rounds[i] = int64(k.Round)
		locals[i] = k.LocalID
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.round, r.local_id, r.status, r.identifier, r.method, r.attempts, r.resolved_at, r.last_error
		FROM unnest($1::int[], $2::bigint[]) AS k(round, local_id)
		JOIN output_resolutions r ON r.round = k.round AND r.local_id = k.local_id
	`, pq.Array(rounds), pq.Array(locals))
	if err != nil {
		return nil, fmt.Errorf("get resolutions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		res, err := scanResolution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan resolution: %w", err)
		}
		if decodable(res) {
			out[res.Key] = res
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate resolutions: %w", err)
	}
	return out, nil
}

// Set upserts res unless the row holds a different resolved identifier. A
// resolved row without an identifier is corrupt and may be overwritten. The
// guard lives in the upsert's WHERE clause so concurrent writers cannot race
// past it.
func (s *PostgresResolutions) Set(ctx context.Context, res models.Resolution) error {
	if err := validate(res); err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO output_resolutions (`+resolutionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (round, local_id) DO UPDATE SET
			status = EXCLUDED.status,
			identifier = EXCLUDED.identifier,
			method = EXCLUDED.method,
			attempts = EXCLUDED.attempts,
			resolved_at = EXCLUDED.resolved_at,
			last_error = EXCLUDED.last_error
		WHERE output_resolutions.status <> 'resolved'
			OR output_resolutions.identifier = ''
			OR output_resolutions.identifier = EXCLUDED.identifier
	`, resolutionArgs(res)...)
	if err != nil {
		return fmt.Errorf("set resolution %s: %w", res.Key, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set resolution %s: %w", res.Key, err)
	}
	if n == 0 {
		return ErrAlreadyResolved
	}
	return nil
}

func (s *PostgresResolutions) Replace(ctx context.Context, res models.Resolution) error {
	if err := validate(res); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO output_resolutions (`+resolutionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (round, local_id) DO UPDATE SET
			status = EXCLUDED.status,
			identifier = EXCLUDED.identifier,
			method = EXCLUDED.method,
			attempts = EXCLUDED.attempts,
			resolved_at = EXCLUDED.resolved_at,
			last_error = EXCLUDED.last_error
	`, resolutionArgs(res)...)
	if err != nil {
		return fmt.Errorf("replace resolution %s: %w", res.Key, err)
	}
	return nil
}

func (s *PostgresResolutions) Contains(ctx context.Context, key models.Key) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM output_resolutions WHERE round = $1 AND local_id = $2)`,
		key.Round, key.LocalID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("contains resolution %s: %w", key, err)
	}
	return exists, nil
}

func (s *PostgresResolutions) Keys(ctx context.Context) ([]models.Key, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT round, local_id FROM output_resolutions ORDER BY round, local_id`)
	if err != nil {
		return nil, fmt.Errorf("list resolution keys: %w", err)
	}
	defer rows.Close()

	var keys []models.Key
	for rows.Next() {
		var k models.Key
		if err := rows.Scan(&k.Round, &k.LocalID); err != nil {
			return nil, fmt.Errorf("scan resolution key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate resolution keys: %w", err)
	}
	return keys, nil
}

func resolutionArgs(res models.Resolution) []any {
	resolvedAt := res.ResolvedAt
	if resolvedAt.IsZero() {
		resolvedAt = time.Now()
	}
	return []any{
		res.Key.Round, res.Key.LocalID, string(res.Status), res.Identifier, string(res.Method),
		res.Attempts, resolvedAt.UTC(), res.LastError,
	}
}

// PostgresMetadata persists metadata snapshots in PostgreSQL.
type PostgresMetadata struct {
	db   *sql.DB
	opts options
}

func NewPostgresMetadata(db *sql.DB, opts ...Option) *PostgresMetadata {
	return &PostgresMetadata{db: db, opts: newOptions(opts)}
}

func (s *PostgresMetadata) Get(ctx context.Context, identifier string) (models.RemoteMetadata, error) {
	start := time.Now()
	var md models.RemoteMetadata
	err := s.db.QueryRowContext(ctx, `
		SELECT identifier, title, source, payload, fetched_at
		FROM identifier_metadata WHERE identifier = $1
	`, identifier).Scan(&md.Identifier, &md.Title, &md.Source, &md.Payload, &md.FetchedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.opts.recordMiss(namespaceMetadata, start)
			return models.RemoteMetadata{}, ErrNotFound
		}
		return models.RemoteMetadata{}, fmt.Errorf("get metadata %s: %w", identifier, err)
	}
	s.opts.recordHit(namespaceMetadata, start)
	return md, nil
}

func (s *PostgresMetadata) Set(ctx context.Context, md models.RemoteMetadata) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO identifier_metadata (identifier, title, source, payload, fetched_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (identifier) DO NOTHING
	`, metadataArgs(md)...)
	if err != nil {
		return fmt.Errorf("set metadata %s: %w", md.Identifier, err)
	}
	return nil
}

func (s *PostgresMetadata) Replace(ctx context.Context, md models.RemoteMetadata) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO identifier_metadata (identifier, title, source, payload, fetched_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (identifier) DO UPDATE SET
			title = EXCLUDED.title,
			source = EXCLUDED.source,
			payload = EXCLUDED.payload,
			fetched_at = EXCLUDED.fetched_at
	`, metadataArgs(md)...)
	if err != nil {
		return fmt.Errorf("replace metadata %s: %w", md.Identifier, err)
	}
	return nil
}

func (s *PostgresMetadata) Contains(ctx context.Context, identifier string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM identifier_metadata WHERE identifier = $1)`, identifier).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("contains metadata %s: %w", identifier, err)
	}
	return exists, nil
}

func metadataArgs(md models.RemoteMetadata) []any {
	payload := md.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	fetchedAt := md.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = time.Now()
	}
	return []any{md.Identifier, md.Title, md.Source, string(payload), fetchedAt.UTC()}
}
