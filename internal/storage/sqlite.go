package storage

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"rootcause/internal/knowledge"
)

// SQLiteIndex keeps the whole index in a single SQLite file. Publishing writes
// a sibling temp file and renames it over the target.
type SQLiteIndex struct {
	path   string
	logger *slog.Logger
}

func NewSQLiteIndex(path string, logger *slog.Logger) *SQLiteIndex {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &SQLiteIndex{path: path, logger: logger}
}

func (s *SQLiteIndex) Location() string { return s.path }

func (s *SQLiteIndex) Close() error { return nil }

var sqliteSchema = []string{
	`CREATE TABLE manifest (
		build_id TEXT NOT NULL,
		metric TEXT NOT NULL,
		embedding_model TEXT,
		dimension INTEGER NOT NULL,
		chunk_count INTEGER NOT NULL,
		revision TEXT,
		created_at TEXT NOT NULL
	);`,
	`CREATE TABLE chunks (
		position INTEGER PRIMARY KEY,
		source_path TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		chunk_offset INTEGER NOT NULL,
		content TEXT NOT NULL,
		embedding BLOB NOT NULL
	);`,
	`CREATE INDEX idx_chunks_source ON chunks(source_path);`,
}

func (s *SQLiteIndex) Publish(ctx context.Context, snap Snapshot) (err error) {
	if err := snap.validate(); err != nil {
		return err
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create index directory: %w", err)
		}
	}

	suffix := snap.Manifest.BuildID
	if suffix == "" {
		suffix = uuid.NewString()
	}
	tmp := s.path + ".tmp-" + suffix
	defer func() {
		if err != nil {
			removeSQLiteFiles(tmp)
		}
	}()

	if err := writeSQLite(ctx, tmp, snap); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("publish index: %w", err)
	}
	s.logger.Info("index published", "path", s.path, "chunks", snap.Manifest.ChunkCount, "build_id", snap.Manifest.BuildID)
	return nil
}

func writeSQLite(ctx context.Context, path string, snap Snapshot) error {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return err
	}
	defer db.Close()

	for _, q := range sqliteSchema {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("failed to init schema: %w", err)
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	m := snap.Manifest
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO manifest (build_id, metric, embedding_model, dimension, chunk_count, revision, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, m.BuildID, string(m.Metric), m.EmbeddingModel, m.Dimension, m.ChunkCount, m.Revision, m.CreatedAt.UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (position, source_path, chunk_index, chunk_offset, content, embedding)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, item := range snap.Items {
		blob, err := encodeEmbedding(item.Embedding)
		if err != nil {
			return err
		}
		c := item.Chunk
		if _, err := stmt.ExecContext(ctx, item.Position, c.SourcePath, c.Index, c.Offset, c.Content, blob); err != nil {
			return fmt.Errorf("write chunk %d: %w", item.Position, err)
		}
	}

	return tx.Commit()
}

func removeSQLiteFiles(path string) {
	for _, p := range []string{path, path + "-journal", path + "-wal", path + "-shm"} {
		_ = os.Remove(p)
	}
}

// openReadOnly opens the published file without ever creating it.
func (s *SQLiteIndex) openReadOnly() (*sql.DB, error) {
	if _, err := os.Stat(s.path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &IndexNotFoundError{Location: s.path, Err: err}
		}
		return nil, err
	}
	abs, err := filepath.Abs(s.path)
	if err != nil {
		return nil, err
	}
	dsn := (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs), RawQuery: "mode=ro"}).String()
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (s *SQLiteIndex) Manifest(ctx context.Context) (Manifest, error) {
	db, err := s.openReadOnly()
	if err != nil {
		return Manifest{}, err
	}
	defer db.Close()
	return s.readManifest(ctx, db)
}

func (s *SQLiteIndex) readManifest(ctx context.Context, db *sql.DB) (Manifest, error) {
	var m Manifest
	var metric, createdAt string
	var model, revision sql.NullString
	row := db.QueryRowContext(ctx, "SELECT build_id, metric, embedding_model, dimension, chunk_count, revision, created_at FROM manifest LIMIT 1")
	if err := row.Scan(&m.BuildID, &metric, &model, &m.Dimension, &m.ChunkCount, &revision, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Manifest{}, &IndexNotFoundError{Location: s.path, Err: err}
		}
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	m.Metric = knowledge.Metric(metric)
	m.EmbeddingModel = model.String
	m.Revision = revision.String
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		m.CreatedAt = t
	}
	return m, nil
}

func (s *SQLiteIndex) Load(ctx context.Context) (*Snapshot, error) {
	db, err := s.openReadOnly()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	m, err := s.readManifest(ctx, db)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, "SELECT position, source_path, chunk_index, chunk_offset, content, embedding FROM chunks ORDER BY position")
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	items := make([]knowledge.VectorItem, 0, m.ChunkCount)
	for rows.Next() {
		var item knowledge.VectorItem
		var blob []byte
		c := &item.Chunk
		if err := rows.Scan(&item.Position, &c.SourcePath, &c.Index, &c.Offset, &c.Content, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		if item.Embedding, err = decodeEmbedding(blob); err != nil {
			return nil, fmt.Errorf("decode embedding at position %d: %w", item.Position, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(items) != m.ChunkCount {
		return nil, fmt.Errorf("index at %s is inconsistent: manifest lists %d chunks, found %d", s.path, m.ChunkCount, len(items))
	}
	return &Snapshot{Manifest: m, Items: items}, nil
}

func encodeEmbedding(v []float32) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeEmbedding(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("blob length %d is not a multiple of 4", len(blob))
	}
	embedding := make([]float32, len(blob)/4)
	if err := binary.Read(bytes.NewReader(blob), binary.LittleEndian, &embedding); err != nil {
		return nil, err
	}
	return embedding, nil
}
