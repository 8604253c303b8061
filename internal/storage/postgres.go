package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"rootcause/internal/knowledge"
)

const pgUndefinedTable = "42P01"

// PostgresIndex stores vectors in a pgvector table. A rebuild fills a staging
// table and swaps it in with the manifest inside one transaction.
type PostgresIndex struct {
	pool   *pgxpool.Pool
	table  string
	logger *slog.Logger
}

func NewPostgresIndex(ctx context.Context, dsn, table string, logger *slog.Logger) (*PostgresIndex, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres dsn is empty")
	}
	if strings.TrimSpace(table) == "" {
		table = "rca_chunks"
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	return &PostgresIndex{pool: pool, table: table, logger: logger}, nil
}

func (p *PostgresIndex) Location() string { return "pgvector table " + p.table }

func (p *PostgresIndex) Close() error {
	p.pool.Close()
	return nil
}

func (p *PostgresIndex) ident(suffix string) string {
	return pgx.Identifier{p.table + suffix}.Sanitize()
}

func (p *PostgresIndex) ensureManifestTable(ctx context.Context) error {
	stmts := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id INT PRIMARY KEY CHECK (id = 1),
			build_id TEXT NOT NULL,
			metric TEXT NOT NULL,
			embedding_model TEXT NOT NULL DEFAULT '',
			dimension INT NOT NULL,
			chunk_count INT NOT NULL,
			revision TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		)`, p.ident("_manifest")),
	}
	for _, stmt := range stmts {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("execute schema statement: %w", err)
		}
	}
	return nil
}

func (p *PostgresIndex) Publish(ctx context.Context, snap Snapshot) (err error) {
	if err := snap.validate(); err != nil {
		return err
	}
	if err := p.ensureManifestTable(ctx); err != nil {
		return err
	}

	suffix := snap.Manifest.BuildID
	if suffix == "" {
		suffix = uuid.NewString()
	}
	short := strings.ReplaceAll(suffix, "-", "")
	if len(short) > 12 {
		short = short[:12]
	}
	staging := p.ident("_staging_" + short)
	defer func() {
		if err != nil {
			_, _ = p.pool.Exec(context.WithoutCancel(ctx), "DROP TABLE IF EXISTS "+staging)
		}
	}()

	if _, err := p.pool.Exec(ctx, fmt.Sprintf(`CREATE TABLE %s (
		position INT PRIMARY KEY,
		source_path TEXT NOT NULL,
		chunk_index INT NOT NULL,
		chunk_offset INT NOT NULL,
		content TEXT NOT NULL,
		embedding VECTOR(%d) NOT NULL
	)`, staging, snap.Manifest.Dimension)); err != nil {
		return fmt.Errorf("create staging table: %w", err)
	}

	batch := &pgx.Batch{}
	insert := fmt.Sprintf(`INSERT INTO %s (position, source_path, chunk_index, chunk_offset, content, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)`, staging)
	for _, item := range snap.Items {
		c := item.Chunk
		batch.Queue(insert, item.Position, c.SourcePath, c.Index, c.Offset, c.Content, pgvector.NewVector(item.Embedding))
	}
	if err := p.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert chunks: %w", err)
	}

	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	m := snap.Manifest
	stmts := []struct {
		sql  string
		args []any
	}{
		{sql: "DROP TABLE IF EXISTS " + p.ident("")},
		{sql: fmt.Sprintf("ALTER TABLE %s RENAME TO %s", staging, p.ident(""))},
		{
			sql: fmt.Sprintf(`INSERT INTO %s (id, build_id, metric, embedding_model, dimension, chunk_count, revision, created_at)
				VALUES (1, $1, $2, $3, $4, $5, $6, $7)
				ON CONFLICT (id) DO UPDATE SET
					build_id=excluded.build_id,
					metric=excluded.metric,
					embedding_model=excluded.embedding_model,
					dimension=excluded.dimension,
					chunk_count=excluded.chunk_count,
					revision=excluded.revision,
					created_at=excluded.created_at`, p.ident("_manifest")),
			args: []any{m.BuildID, string(m.Metric), m.EmbeddingModel, m.Dimension, m.ChunkCount, m.Revision, m.CreatedAt},
		},
	}
	for _, st := range stmts {
		if _, err := tx.Exec(ctx, st.sql, st.args...); err != nil {
			return fmt.Errorf("swap index: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	p.logger.Info("index published", "table", p.table, "chunks", m.ChunkCount, "build_id", m.BuildID)
	return nil
}

func (p *PostgresIndex) notFound(err error) error {
	var pgErr *pgconn.PgError
	if errors.Is(err, pgx.ErrNoRows) || (errors.As(err, &pgErr) && pgErr.Code == pgUndefinedTable) {
		return &IndexNotFoundError{Location: p.Location(), Err: err}
	}
	return err
}

func (p *PostgresIndex) Manifest(ctx context.Context) (Manifest, error) {
	return p.readManifest(ctx, p.pool)
}

type pgQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (p *PostgresIndex) readManifest(ctx context.Context, q pgQuerier) (Manifest, error) {
	var m Manifest
	var metric string
	err := q.QueryRow(ctx, fmt.Sprintf(
		"SELECT build_id, metric, embedding_model, dimension, chunk_count, revision, created_at FROM %s WHERE id = 1",
		p.ident("_manifest"),
	)).Scan(&m.BuildID, &metric, &m.EmbeddingModel, &m.Dimension, &m.ChunkCount, &m.Revision, &m.CreatedAt)
	if err != nil {
		return Manifest{}, p.notFound(fmt.Errorf("read manifest: %w", err))
	}
	m.Metric = knowledge.Metric(metric)
	return m, nil
}

// readSnapshot runs fn in a read-only REPEATABLE READ transaction that holds a
// share lock on the chunk table. The lock is taken before the snapshot, so a
// concurrent swap either completes first or waits, and the manifest passed to
// fn always describes the rows fn reads.
func (p *PostgresIndex) readSnapshot(ctx context.Context, fn func(tx pgx.Tx, m Manifest) error) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return fmt.Errorf("begin read: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, fmt.Sprintf("LOCK TABLE %s IN ACCESS SHARE MODE", p.ident(""))); err != nil {
		return p.notFound(fmt.Errorf("lock chunks: %w", err))
	}
	m, err := p.readManifest(ctx, tx)
	if err != nil {
		return err
	}
	if err := fn(tx, m); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const pgChunkColumns = "position, source_path, chunk_index, chunk_offset, content, embedding"

func (p *PostgresIndex) Load(ctx context.Context) (*Snapshot, error) {
	var snap *Snapshot
	err := p.readSnapshot(ctx, func(tx pgx.Tx, m Manifest) error {
		rows, err := tx.Query(ctx, fmt.Sprintf("SELECT %s FROM %s ORDER BY position", pgChunkColumns, p.ident("")))
		if err != nil {
			return p.notFound(fmt.Errorf("query chunks: %w", err))
		}
		defer rows.Close()

		items := make([]knowledge.VectorItem, 0, m.ChunkCount)
		for rows.Next() {
			var item knowledge.VectorItem
			var vec pgvector.Vector
			c := &item.Chunk
			if err := rows.Scan(&item.Position, &c.SourcePath, &c.Index, &c.Offset, &c.Content, &vec); err != nil {
				return fmt.Errorf("scan chunk: %w", err)
			}
			item.Embedding = vec.Slice()
			items = append(items, item)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		if len(items) != m.ChunkCount {
			return fmt.Errorf("index in %s is inconsistent: manifest lists %d chunks, found %d", p.Location(), m.ChunkCount, len(items))
		}
		snap = &Snapshot{Manifest: m, Items: items}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Search ranks in SQL with the pgvector operator matching expect.Metric. It
// returns ErrIndexChanged when the published build is no longer expect.
func (p *PostgresIndex) Search(ctx context.Context, query []float32, expect Manifest, topK int) ([]ScoredItem, error) {
	if len(query) == 0 {
		return nil, fmt.Errorf("embedding is empty")
	}
	if topK <= 0 {
		return nil, fmt.Errorf("top_k must be positive, got %d", topK)
	}

	metric := expect.Metric
	op := "<=>"
	if metric == knowledge.MetricInnerProduct {
		op = "<#>"
	}

	var out []ScoredItem
	err := p.readSnapshot(ctx, func(tx pgx.Tx, m Manifest) error {
		if m.BuildID != expect.BuildID {
			return ErrIndexChanged
		}
		rows, err := tx.Query(ctx, fmt.Sprintf(`
			SELECT %s, (embedding %s $1::vector) AS distance
			FROM %s
			ORDER BY distance, position
			LIMIT $2
		`, pgChunkColumns, op, p.ident("")), pgvector.NewVector(query), topK)
		if err != nil {
			return p.notFound(fmt.Errorf("query similar chunks: %w", err))
		}
		defer rows.Close()

		for rows.Next() {
			var si ScoredItem
			var vec pgvector.Vector
			var distance float64
			c := &si.Item.Chunk
			if err := rows.Scan(&si.Item.Position, &c.SourcePath, &c.Index, &c.Offset, &c.Content, &vec, &distance); err != nil {
				return fmt.Errorf("scan similar chunk: %w", err)
			}
			si.Item.Embedding = vec.Slice()
			// <=> is cosine distance, <#> is the negated inner product.
			if metric == knowledge.MetricInnerProduct {
				si.Score = float32(-distance)
			} else {
				si.Score = float32(1 - distance)
			}
			out = append(out, si)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

var _ Searcher = (*PostgresIndex)(nil)
var _ Index = (*PostgresIndex)(nil)
var _ Index = (*SQLiteIndex)(nil)
