// Package sqlite implements chunkindex.Store using pure-Go SQLite
// with in-process brute-force vector search. Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/nevindra/chunkindex"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store.
// When set, the store emits debug logs for every operation including
// timing and row counts. If not set, no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements chunkindex.Store backed by a local SQLite file.
// All collections share one table keyed by (collection, id). Embeddings are
// stored as JSON text and vector search is done in-process.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ chunkindex.Store = (*Store)(nil)
var _ chunkindex.Collection = (*Collection)(nil)

// New creates a Store using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so that
// all goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors caused by concurrent writers opening independent connections.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: chunkindex.NopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates the records table and its indexes. It is safe to call more
// than once.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS records (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			content TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			embedding TEXT,
			metadata TEXT,
			UNIQUE(collection, id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_records_source ON records(collection, source)`,
	}
	for _, q := range ddl {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	s.logger.Info("sqlite: init completed", "duration", time.Since(start))
	return nil
}

// Collection returns a handle to the named collection. Collections need no
// creation step beyond Init.
func (s *Store) Collection(name string) chunkindex.Collection {
	return &Collection{store: s, name: name}
}

// DB returns the underlying *sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	s.logger.Debug("sqlite: closing store")
	err := s.db.Close()
	if err != nil {
		s.logger.Error("sqlite: close failed", "error", err)
	}
	return err
}

// Collection is one named record set inside a Store.
type Collection struct {
	store *Store
	name  string
}

func (c *Collection) Name() string { return c.name }

// Upsert inserts records or updates them in place. An updated record keeps
// its original insertion position.
func (c *Collection) Upsert(ctx context.Context, records []chunkindex.Record) error {
	if len(records) == 0 {
		return nil
	}
	start := time.Now()
	log := c.store.logger
	log.Debug("sqlite: upsert", "collection", c.name, "count", len(records))

	tx, err := c.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO records (collection, id, content, source, embedding, metadata)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(collection, id) DO UPDATE SET
			content = excluded.content,
			source = excluded.source,
			embedding = excluded.embedding,
			metadata = excluded.metadata`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		var embJSON *string
		if len(r.Embedding) > 0 {
			v, err := serializeEmbedding(r.Embedding)
			if err != nil {
				log.Error("sqlite: upsert failed", "collection", c.name, "id", r.ID, "error", err)
				return fmt.Errorf("encode embedding of %s: %w", r.ID, err)
			}
			embJSON = &v
		}
		metaJSON, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, c.name, r.ID, r.Text, r.Metadata[chunkindex.MetaSource], embJSON, string(metaJSON)); err != nil {
			log.Error("sqlite: upsert failed", "collection", c.name, "id", r.ID, "error", err)
			return fmt.Errorf("upsert %s: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		log.Error("sqlite: upsert commit failed", "collection", c.name, "error", err)
		return fmt.Errorf("commit tx: %w", err)
	}
	log.Debug("sqlite: upsert ok", "collection", c.name, "count", len(records), "duration", time.Since(start))
	return nil
}

// Get fetches records by id, in the order of ids. Missing ids are skipped.
func (c *Collection) Get(ctx context.Context, ids []string) ([]chunkindex.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	start := time.Now()

	placeholders := make([]string, len(ids))
	args := make([]any, 0, len(ids)+1)
	args = append(args, c.name)
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}
	query := fmt.Sprintf(`SELECT id, content, embedding, metadata FROM records
		WHERE collection = ? AND id IN (%s)`, strings.Join(placeholders, ","))

	rows, err := c.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get records: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]chunkindex.Record, len(ids))
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		byID[r.ID] = r
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}

	out := make([]chunkindex.Record, 0, len(byID))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			out = append(out, r)
		}
	}
	c.store.logger.Debug("sqlite: get ok", "collection", c.name, "requested", len(ids), "returned", len(out), "duration", time.Since(start))
	return out, nil
}

// Query performs brute-force cosine similarity search. Ties keep insertion
// order.
func (c *Collection) Query(ctx context.Context, embedding []float32, topK int, filters ...chunkindex.Filter) ([]chunkindex.ScoredRecord, error) {
	if topK <= 0 {
		return nil, nil
	}
	start := time.Now()
	c.store.logger.Debug("sqlite: query", "collection", c.name, "top_k", topK, "embedding_dim", len(embedding), "filters", len(filters))

	where, args, err := buildFilters(filters)
	if err != nil {
		return nil, err
	}
	query := `SELECT id, content, embedding, metadata FROM records
		WHERE collection = ? AND embedding IS NOT NULL` + where + ` ORDER BY seq`

	rows, err := c.store.db.QueryContext(ctx, query, append([]any{c.name}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var results []chunkindex.ScoredRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, chunkindex.ScoredRecord{
			Record: r,
			Score:  chunkindex.CosineSimilarity(embedding, r.Embedding),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	scanned := len(results)

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > topK {
		results = results[:topK]
	}
	c.store.logger.Debug("sqlite: query ok", "collection", c.name, "scanned", scanned, "returned", len(results), "duration", time.Since(start))
	return results, nil
}

// Count returns the number of records in the collection.
func (c *Collection) Count(ctx context.Context) (int, error) {
	var n int
	err := c.store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE collection = ?`, c.name).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// DeleteWhere removes every record matching all filters.
func (c *Collection) DeleteWhere(ctx context.Context, filters ...chunkindex.Filter) error {
	if len(filters) == 0 {
		return fmt.Errorf("delete: at least one filter is required")
	}
	where, args, err := buildFilters(filters)
	if err != nil {
		return err
	}
	res, err := c.store.db.ExecContext(ctx, `DELETE FROM records WHERE collection = ?`+where, append([]any{c.name}, args...)...)
	if err != nil {
		c.store.logger.Error("sqlite: delete failed", "collection", c.name, "error", err)
		return fmt.Errorf("delete records: %w", err)
	}
	n, _ := res.RowsAffected()
	c.store.logger.Debug("sqlite: delete ok", "collection", c.name, "deleted", n)
	return nil
}

// Distinct returns the sorted distinct non-empty values of a metadata key.
func (c *Collection) Distinct(ctx context.Context, key string) ([]string, error) {
	var expr string
	switch {
	case key == chunkindex.MetaSource:
		expr = "source"
	case safeMetaKey(key):
		expr = "json_extract(metadata, '$." + key + "')"
	default:
		return nil, fmt.Errorf("invalid metadata key %q", key)
	}
	query := `SELECT DISTINCT ` + expr + ` FROM records
		WHERE collection = ? AND ` + expr + ` IS NOT NULL AND ` + expr + ` != '' ORDER BY 1`
	rows, err := c.store.db.QueryContext(ctx, query, c.name)
	if err != nil {
		return nil, fmt.Errorf("distinct %s: %w", key, err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan distinct: %w", err)
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// Drop deletes every record of the collection.
func (c *Collection) Drop(ctx context.Context) error {
	res, err := c.store.db.ExecContext(ctx, `DELETE FROM records WHERE collection = ?`, c.name)
	if err != nil {
		return fmt.Errorf("drop %s: %w", c.name, err)
	}
	n, _ := res.RowsAffected()
	c.store.logger.Info("sqlite: collection dropped", "collection", c.name, "deleted", n)
	return nil
}

// safeMetaKey returns true if the key contains only alphanumeric chars and underscores.
// This prevents SQL injection when the key is interpolated into JSON path expressions.
func safeMetaKey(key string) bool {
	for _, c := range key {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_') {
			return false
		}
	}
	return len(key) > 0
}

// buildFilters translates equality filters into SQL. The returned clause
// starts with " AND " for each filter.
func buildFilters(filters []chunkindex.Filter) (string, []any, error) {
	var b strings.Builder
	args := make([]any, 0, len(filters))
	for _, f := range filters {
		switch {
		case f.Key == chunkindex.MetaSource:
			b.WriteString(" AND source = ?")
		case safeMetaKey(f.Key):
			b.WriteString(" AND json_extract(metadata, '$." + f.Key + "') = ?")
		default:
			return "", nil, fmt.Errorf("invalid filter key %q", f.Key)
		}
		args = append(args, f.Value)
	}
	return b.String(), args, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (chunkindex.Record, error) {
	var r chunkindex.Record
	var embJSON, metaJSON sql.NullString
	if err := row.Scan(&r.ID, &r.Text, &embJSON, &metaJSON); err != nil {
		return r, fmt.Errorf("scan record: %w", err)
	}
	if embJSON.Valid {
		emb, err := deserializeEmbedding(embJSON.String)
		if err != nil {
			return r, fmt.Errorf("decode embedding of %s: %w", r.ID, err)
		}
		r.Embedding = emb
	}
	if metaJSON.Valid && metaJSON.String != "null" {
		if err := json.Unmarshal([]byte(metaJSON.String), &r.Metadata); err != nil {
			return r, fmt.Errorf("decode metadata of %s: %w", r.ID, err)
		}
	}
	return r, nil
}

// serializeEmbedding converts []float32 to a JSON array string.
// NaN and Inf components are rejected.
func serializeEmbedding(embedding []float32) (string, error) {
	data, err := json.Marshal(embedding)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// deserializeEmbedding parses a JSON array string back to []float32.
func deserializeEmbedding(s string) ([]float32, error) {
	var v []float32
	err := json.Unmarshal([]byte(s), &v)
	return v, err
}
