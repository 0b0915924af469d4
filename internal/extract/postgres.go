package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/NaturalHistoryMuseum/synth-transform/internal/models"
	"github.com/NaturalHistoryMuseum/synth-transform/internal/platform/config"
)

// DefaultQuery reads the outputs table of a round schema. Custom queries must
// return the same six columns in the same order.
const DefaultQuery = `
SELECT "Output_ID",
       "Title",
       "Authors",
       "URL",
       NULLIF(CONCAT_WS(' ', "Volume", "Pages"), ''),
       "Year"
FROM "NHM_Outputs"
ORDER BY "Output_ID"`

const defaultMaxConns = 4

type source struct {
	name  string
	query string
	pool  *pgxpool.Pool
}

// PostgresReader reads rounds from one pool per source database.
type PostgresReader struct {
	sources map[int]source
}

// NewPostgresReader connects to every configured source. Pools opened before
// a failure are closed.
func NewPostgresReader(ctx context.Context, sources []config.Source) (*PostgresReader, error) {
	r := &PostgresReader{sources: make(map[int]source, len(sources))}
	for _, s := range sources {
		cfg, err := pgxpool.ParseConfig(s.DSN)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("parse dsn for %s: %w", s.Name, err)
		}
		cfg.MaxConns = defaultMaxConns
		pool, err := pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("connect to %s: %w", s.Name, err)
		}
		query := s.Query
		if strings.TrimSpace(query) == "" {
			query = DefaultQuery
		}
		r.sources[s.Round] = source{name: s.Name, query: query, pool: pool}
	}
	return r, nil
}

// NewPostgresReaderFromPool wraps an existing pool as the only source.
func NewPostgresReaderFromPool(round int, name, query string, pool *pgxpool.Pool) *PostgresReader {
	if strings.TrimSpace(query) == "" {
		query = DefaultQuery
	}
	return &PostgresReader{sources: map[int]source{round: {name: name, query: query, pool: pool}}}
}

func (r *PostgresReader) Read(ctx context.Context, round int) ([]models.RawOutput, error) {
	src, ok := r.sources[round]
	if !ok {
		return nil, fmt.Errorf("round %d: no such source", round)
	}
	rows, err := src.pool.Query(ctx, src.query)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", src.name, err)
	}
	outputs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.RawOutput, error) {
		var (
			id                          int64
			title, authors, url, refTxt pgtype.Text
			year                        pgtype.Int4
		)
		if err := row.Scan(&id, &title, &authors, &url, &refTxt, &year); err != nil {
			return models.RawOutput{}, err
		}
		out := models.RawOutput{
			Key:           models.Key{Round: round, LocalID: id},
			Title:         strings.TrimSpace(title.String),
			ReferenceText: strings.TrimSpace(refTxt.String),
			URL:           strings.TrimSpace(url.String),
			Authors:       splitAuthors(authors.String),
		}
		if year.Valid {
			out.Year = int(year.Int32)
		}
		return out, nil
	})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", src.name, err)
	}
	return outputs, nil
}

// Ping checks every source connection.
func (r *PostgresReader) Ping(ctx context.Context) error {
	var errs []error
	for _, s := range r.sources {
		if err := s.pool.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}

func (r *PostgresReader) Close() {
	for _, s := range r.sources {
		s.pool.Close()
	}
}
