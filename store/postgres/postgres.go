// Package postgres implements chunkindex.Store using PostgreSQL with
// pgvector for native vector similarity search.
//
// New accepts an externally-owned *pgxpool.Pool; the caller creates and
// closes it. Open creates a pool from a DSN that Close releases.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nevindra/chunkindex"
)

// Store implements chunkindex.Store backed by PostgreSQL with pgvector.
// Vector search uses an HNSW index with cosine distance.
type Store struct {
	pool    *pgxpool.Pool
	ownPool bool
	cfg     pgConfig
}

// pgConfig holds store configuration set via Option functions.
type pgConfig struct {
	table              string
	embeddingDimension int // 0 = untyped vector
	hnswM              int // 0 = pgvector default (16)
	hnswEFConstruction int // 0 = pgvector default (64)
	hnswEFSearch       int // 0 = pgvector default (40)
	logger             *slog.Logger
}

// Option configures a PostgreSQL Store.
type Option func(*pgConfig)

// WithTable sets the table holding all collections (default "chunk_records").
func WithTable(name string) Option {
	return func(c *pgConfig) { c.table = name }
}

// WithEmbeddingDimension sets the vector column dimension (e.g. 1536, 768).
// When set, CREATE TABLE uses vector(N) instead of untyped vector, enabling
// the HNSW index and catching dimension mismatches at insert time.
// Only affects new table creation (no ALTER on existing tables).
func WithEmbeddingDimension(dim int) Option {
	return func(c *pgConfig) { c.embeddingDimension = dim }
}

// WithHNSWM sets the HNSW m parameter (max connections per node).
// Only affects index creation (CREATE INDEX IF NOT EXISTS).
func WithHNSWM(m int) Option {
	return func(c *pgConfig) { c.hnswM = m }
}

// WithEFConstruction sets the HNSW ef_construction parameter.
// Only affects index creation (CREATE INDEX IF NOT EXISTS).
func WithEFConstruction(ef int) Option {
	return func(c *pgConfig) { c.hnswEFConstruction = ef }
}

// WithEFSearch sets the HNSW ef_search parameter, applied during Init.
func WithEFSearch(ef int) Option {
	return func(c *pgConfig) { c.hnswEFSearch = ef }
}

// WithLogger sets a structured logger for the store.
func WithLogger(l *slog.Logger) Option {
	return func(c *pgConfig) { c.logger = l }
}

var _ chunkindex.Store = (*Store)(nil)
var _ chunkindex.Collection = (*Collection)(nil)

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	cfg := pgConfig{table: "chunk_records", logger: chunkindex.NopLogger}
	for _, o := range opts {
		o(&cfg)
	}
	return &Store{pool: pool, cfg: cfg}
}

// Open connects to dsn and returns a Store that owns its pool.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	s := New(pool, opts...)
	s.ownPool = true
	return s, nil
}

// vectorType returns "vector" or "vector(N)" depending on config.
func (s *Store) vectorType() string {
	if s.cfg.embeddingDimension > 0 {
		return fmt.Sprintf("vector(%d)", s.cfg.embeddingDimension)
	}
	return "vector"
}

// hnswWithClause returns the WITH (...) clause for HNSW index creation,
// or an empty string if no tuning params are set.
func (s *Store) hnswWithClause() string {
	var parts []string
	if s.cfg.hnswM > 0 {
		parts = append(parts, fmt.Sprintf("m = %d", s.cfg.hnswM))
	}
	if s.cfg.hnswEFConstruction > 0 {
		parts = append(parts, fmt.Sprintf("ef_construction = %d", s.cfg.hnswEFConstruction))
	}
	if len(parts) == 0 {
		return ""
	}
	return " WITH (" + strings.Join(parts, ", ") + ")"
}

// Init creates the pgvector extension, the records table and its indexes.
// Safe to call multiple times (all statements are idempotent).
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	t := pgx.Identifier{s.cfg.table}.Sanitize()

	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			seq BIGSERIAL,
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			content TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			embedding %s,
			metadata JSONB NOT NULL DEFAULT '{}',
			PRIMARY KEY (collection, id)
		)`, t, s.vectorType()),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s(collection, source)`,
			pgx.Identifier{s.cfg.table + "_source_idx"}.Sanitize(), t),
	}
	// HNSW needs a fixed dimension.
	if s.cfg.embeddingDimension > 0 {
		stmts = append(stmts, fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding vector_cosine_ops)%s`,
			pgx.Identifier{s.cfg.table + "_embedding_idx"}.Sanitize(), t, s.hnswWithClause()))
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init: %w", err)
		}
	}

	if s.cfg.hnswEFSearch > 0 {
		if _, err := s.pool.Exec(ctx, fmt.Sprintf("SET hnsw.ef_search = %d", s.cfg.hnswEFSearch)); err != nil {
			return fmt.Errorf("postgres: set ef_search: %w", err)
		}
	}
	s.cfg.logger.Info("postgres: init completed", "table", s.cfg.table, "duration", time.Since(start))
	return nil
}

// Collection returns a handle to the named collection.
func (s *Store) Collection(name string) chunkindex.Collection {
	return &Collection{store: s, name: name, table: pgx.Identifier{s.cfg.table}.Sanitize()}
}

// Close releases the pool when the Store opened it. Pools passed to New
// stay open.
func (s *Store) Close() error {
	if s.ownPool {
		s.pool.Close()
	}
	return nil
}

// Collection is one named record set inside a Store.
type Collection struct {
	store *Store
	name  string
	table string
}

func (c *Collection) Name() string { return c.name }

// Upsert inserts records or updates them in place. Updated rows keep their
// sequence number, so ties in Query keep first-insertion order.
func (c *Collection) Upsert(ctx context.Context, records []chunkindex.Record) error {
	if len(records) == 0 {
		return nil
	}
	start := time.Now()
	q := fmt.Sprintf(`INSERT INTO %s (collection, id, content, source, embedding, metadata)
		VALUES ($1, $2, $3, $4, $5::vector, $6::jsonb)
		ON CONFLICT (collection, id) DO UPDATE SET
		  content = EXCLUDED.content,
		  source = EXCLUDED.source,
		  embedding = EXCLUDED.embedding,
		  metadata = EXCLUDED.metadata`, c.table)

	batch := &pgx.Batch{}
	for _, r := range records {
		var embStr *string
		if len(r.Embedding) > 0 {
			v := serializeEmbedding(r.Embedding)
			embStr = &v
		}
		meta := r.Metadata
		if meta == nil {
			meta = map[string]string{}
		}
		metaJSON, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("postgres: marshal metadata: %w", err)
		}
		batch.Queue(q, c.name, r.ID, r.Text, r.Metadata[chunkindex.MetaSource], embStr, string(metaJSON))
	}

	tx, err := c.store.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		c.store.cfg.logger.Error("postgres: upsert failed", "collection", c.name, "error", err)
		return fmt.Errorf("postgres: upsert: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit tx: %w", err)
	}
	c.store.cfg.logger.Debug("postgres: upsert ok", "collection", c.name, "count", len(records), "duration", time.Since(start))
	return nil
}

// Get returns the records matching ids, in the order of ids.
func (c *Collection) Get(ctx context.Context, ids []string) ([]chunkindex.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := c.store.pool.Query(ctx,
		fmt.Sprintf(`SELECT id, content, embedding::text, metadata FROM %s
		 WHERE collection = $1 AND id = ANY($2)`, c.table), c.name, ids)
	if err != nil {
		return nil, fmt.Errorf("postgres: get: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]chunkindex.Record, len(ids))
	for rows.Next() {
		r, _, err := scanRecord(rows, false)
		if err != nil {
			return nil, err
		}
		byID[r.ID] = r
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: get: %w", err)
	}
	out := make([]chunkindex.Record, 0, len(byID))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// Query performs vector similarity search using pgvector's cosine distance
// operator. Equal distances are ordered by insertion.
func (c *Collection) Query(ctx context.Context, embedding []float32, topK int, filters ...chunkindex.Filter) ([]chunkindex.ScoredRecord, error) {
	if topK <= 0 {
		return nil, nil
	}
	start := time.Now()
	where, filterArgs := buildFiltersPg(filters, 4) // $1=collection, $2=embedding, $3=topK
	q := fmt.Sprintf(`SELECT id, content, embedding::text, metadata,
		        1 - (embedding <=> $2::vector) AS score
		 FROM %s
		 WHERE collection = $1 AND embedding IS NOT NULL%s
		 ORDER BY embedding <=> $2::vector, seq
		 LIMIT $3`, c.table, where)

	args := append([]any{c.name, serializeEmbedding(embedding), topK}, filterArgs...)
	rows, err := c.store.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query: %w", err)
	}
	defer rows.Close()

	var results []chunkindex.ScoredRecord
	for rows.Next() {
		r, score, err := scanRecord(rows, true)
		if err != nil {
			return nil, err
		}
		results = append(results, chunkindex.ScoredRecord{Record: r, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: query: %w", err)
	}
	c.store.cfg.logger.Debug("postgres: query ok", "collection", c.name, "returned", len(results), "duration", time.Since(start))
	return results, nil
}

// Count returns the number of records in the collection.
func (c *Collection) Count(ctx context.Context) (int, error) {
	var n int
	err := c.store.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE collection = $1`, c.table), c.name).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count: %w", err)
	}
	return n, nil
}

// DeleteWhere removes every record matching all filters.
func (c *Collection) DeleteWhere(ctx context.Context, filters ...chunkindex.Filter) error {
	if len(filters) == 0 {
		return fmt.Errorf("postgres: delete: at least one filter is required")
	}
	where, args := buildFiltersPg(filters, 2)
	tag, err := c.store.pool.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE collection = $1%s`, c.table, where),
		append([]any{c.name}, args...)...)
	if err != nil {
		return fmt.Errorf("postgres: delete: %w", err)
	}
	c.store.cfg.logger.Debug("postgres: delete ok", "collection", c.name, "deleted", tag.RowsAffected())
	return nil
}

// Distinct returns the sorted distinct non-empty values of a metadata key.
func (c *Collection) Distinct(ctx context.Context, key string) ([]string, error) {
	var q string
	args := []any{c.name}
	if key == chunkindex.MetaSource {
		q = fmt.Sprintf(`SELECT DISTINCT source FROM %s WHERE collection = $1 AND source <> '' ORDER BY 1`, c.table)
	} else {
		q = fmt.Sprintf(`SELECT DISTINCT metadata->>($2::text) FROM %s
			WHERE collection = $1 AND metadata->>($2::text) <> '' ORDER BY 1`, c.table)
		args = append(args, key)
	}
	rows, err := c.store.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: distinct: %w", err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("postgres: scan distinct: %w", err)
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// Drop deletes every record of the collection.
func (c *Collection) Drop(ctx context.Context) error {
	tag, err := c.store.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE collection = $1`, c.table), c.name)
	if err != nil {
		return fmt.Errorf("postgres: drop %s: %w", c.name, err)
	}
	c.store.cfg.logger.Info("postgres: collection dropped", "collection", c.name, "deleted", tag.RowsAffected())
	return nil
}

// buildFiltersPg translates equality filters into SQL with numbered
// parameters starting at startParam. Keys are bound as parameters too.
func buildFiltersPg(filters []chunkindex.Filter, startParam int) (string, []any) {
	var b strings.Builder
	var args []any
	p := startParam
	for _, f := range filters {
		if f.Key == chunkindex.MetaSource {
			fmt.Fprintf(&b, " AND source = $%d", p)
			p++
			args = append(args, f.Value)
			continue
		}
		fmt.Fprintf(&b, " AND metadata->>($%d::text) = $%d", p, p+1)
		p += 2
		args = append(args, f.Key, f.Value)
	}
	return b.String(), args
}

func scanRecord(rows pgx.Rows, withScore bool) (chunkindex.Record, float32, error) {
	var r chunkindex.Record
	var embStr *string
	var metaJSON []byte
	var score float32
	dest := []any{&r.ID, &r.Text, &embStr, &metaJSON}
	if withScore {
		dest = append(dest, &score)
	}
	if err := rows.Scan(dest...); err != nil {
		return r, 0, fmt.Errorf("postgres: scan record: %w", err)
	}
	if embStr != nil {
		emb, err := parseEmbedding(*embStr)
		if err != nil {
			return r, 0, fmt.Errorf("postgres: decode embedding of %s: %w", r.ID, err)
		}
		r.Embedding = emb
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &r.Metadata); err != nil {
			return r, 0, fmt.Errorf("postgres: decode metadata of %s: %w", r.ID, err)
		}
	}
	return r, score, nil
}

// serializeEmbedding converts []float32 to a string like "[0.1,0.2,0.3]"
// suitable for pgvector's text input format.
func serializeEmbedding(embedding []float32) string {
	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = strconv.FormatFloat(float64(v), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// parseEmbedding is the inverse of serializeEmbedding.
func parseEmbedding(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return nil, fmt.Errorf("malformed vector %q", s)
	}
	s = s[1 : len(s)-1]
	if s == "" {
		return []float32{}, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float32, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("malformed vector component %q: %w", p, err)
		}
		out[i] = float32(v)
	}
	return out, nil
}
