package labelindex

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/tphakala/entityindex/internal/errors"
)

var tableName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// PgvectorBackend stores label vectors in PostgreSQL with the pgvector
// extension and ranks them with the cosine distance operator.
type PgvectorBackend struct {
	pool  *pgxpool.Pool
	table string
}

// NewPgvectorBackend connects to dsn and creates the table when needed.
func NewPgvectorBackend(ctx context.Context, dsn, table string, dimensions int) (*PgvectorBackend, error) {
	if !tableName.MatchString(table) {
		return nil, errors.Newf("invalid label index table name %q", table).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if dimensions <= 0 {
		return nil, errors.Newf("label index dimensions must be positive").
			Category(errors.CategoryConfiguration).
			Build()
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, pgError(err, "connect")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, pgError(err, "ping")
	}

	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			label      TEXT PRIMARY KEY,
			embedding  vector(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, table, dimensions),
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, pgError(err, "migrate")
		}
	}

	return &PgvectorBackend{pool: pool, table: table}, nil
}

// Missing implements Backend.
func (p *PgvectorBackend) Missing(ctx context.Context, labels []string) ([]string, error) {
	rows, err := p.pool.Query(ctx,
		fmt.Sprintf(`SELECT l FROM unnest($1::text[]) AS l WHERE NOT EXISTS (SELECT 1 FROM %s WHERE label = l) ORDER BY l`, p.table),
		labels)
	if err != nil {
		return nil, pgError(err, "missing")
	}
	missing, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, pgError(err, "missing")
	}
	return missing, nil
}

// Put implements Backend in one batch.
func (p *PgvectorBackend) Put(ctx context.Context, vectors map[string][]float32) error {
	batch := &pgx.Batch{}
	stmt := fmt.Sprintf(`INSERT INTO %s (label, embedding) VALUES ($1, $2)
		ON CONFLICT (label) DO UPDATE SET embedding = EXCLUDED.embedding`, p.table)
	for label, v := range vectors {
		batch.Queue(stmt, label, pgvector.NewVector(v))
	}
	if err := p.pool.SendBatch(ctx, batch).Close(); err != nil {
		return pgError(err, "put")
	}
	return nil
}

// Nearest implements Backend.
func (p *PgvectorBackend) Nearest(ctx context.Context, query []float32, minSimilarity float64) ([]Similar, error) {
	rows, err := p.pool.Query(ctx,
		fmt.Sprintf(`SELECT label, 1 - (embedding <=> $1) AS score FROM %s
			WHERE 1 - (embedding <=> $1) >= $2
			ORDER BY embedding <=> $1, label`, p.table),
		pgvector.NewVector(query), minSimilarity)
	if err != nil {
		return nil, pgError(err, "nearest")
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Similar, error) {
		var s Similar
		err := row.Scan(&s.Label, &s.Score)
		return s, err
	})
	if err != nil {
		return nil, pgError(err, "nearest")
	}
	return out, nil
}

// Close implements Backend.
func (p *PgvectorBackend) Close() error {
	p.pool.Close()
	return nil
}

func pgError(err error, op string) error {
	return errors.New(err).
		Category(errors.CategoryDatabase).
		Context("backend", "pgvector").
		Context("operation", op).
		Build()
}
