package target

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/NaturalHistoryMuseum/synth-transform/internal/models"
)

//go:embed schema.sql
var schema string

var (
	outputColumns  = []string{"id", "title", "identifier", "rounds", "title_disagreement"}
	mappingColumns = []string{"round", "local_id", "canonical_id"}
)

// Postgres writes to the analytical schema through a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// EnsureSchema creates the core tables if they do not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure target schema: %w", err)
	}
	return nil
}

func (p *Postgres) Apply(ctx context.Context, fn func(Tx) error) (err error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin target tx: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
		}
	}()

	if err = fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit target tx: %w", err)
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Reset(ctx context.Context) error {
	if _, err := t.tx.Exec(ctx, `TRUNCATE output_id_mappings, canonical_outputs`); err != nil {
		return fmt.Errorf("reset target: %w", err)
	}
	return nil
}

func (t *pgTx) WriteOutputs(ctx context.Context, outputs []models.CanonicalOutput) (int64, error) {
	n, err := t.tx.CopyFrom(ctx, pgx.Identifier{"canonical_outputs"}, outputColumns,
		pgx.CopyFromSlice(len(outputs), func(i int) ([]any, error) {
			o := outputs[i]
			rounds := make([]int32, len(o.Rounds))
			for j, r := range o.Rounds {
				rounds[j] = int32(r)
			}
			var identifier *string
			if o.Identifier != "" {
				identifier = &o.Identifier
			}
			return []any{o.ID, o.Title, identifier, rounds, o.TitleDisagreement}, nil
		}))
	if err != nil {
		return n, fmt.Errorf("copy canonical outputs: %w", err)
	}
	return n, nil
}

func (t *pgTx) WriteMappings(ctx context.Context, mappings []models.IDMapping) (int64, error) {
	n, err := t.tx.CopyFrom(ctx, pgx.Identifier{"output_id_mappings"}, mappingColumns,
		pgx.CopyFromSlice(len(mappings), func(i int) ([]any, error) {
			m := mappings[i]
			return []any{int32(m.Key.Round), m.Key.LocalID, m.CanonicalID}, nil
		}))
	if err != nil {
		return n, fmt.Errorf("copy id mappings: %w", err)
	}
	return n, nil
}
