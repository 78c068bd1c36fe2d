// Package qdrant implements chunkindex.Store on a Qdrant server over gRPC.
//
// Every chunkindex collection maps to one Qdrant collection, created on the
// first write with cosine distance. Record ids are hashed to numeric point
// ids; the original id, text, metadata and insertion sequence live in the
// payload.
package qdrant

import (
	"context"
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"github.com/nevindra/chunkindex"
)

// Payload keys.
const (
	keyID         = "id"
	keyText       = "text"
	keySeq        = "seq"
	keyMetadata   = "metadata"
	keyVectorless = "vectorless"
)

// scrollPage is the page size used by Distinct.
const scrollPage = 256

// Config holds the connection settings.
type Config struct {
	Host   string // default "localhost"
	Port   int    // gRPC port, default 6334
	APIKey string
	UseTLS bool
	// Prefix is prepended to every collection name.
	Prefix string
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets a structured logger for the store.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store implements chunkindex.Store backed by Qdrant.
type Store struct {
	client *qdrant.Client
	prefix string
	logger *slog.Logger
	seq    atomic.Int64

	mu          sync.Mutex
	collections map[string]*Collection
}

var _ chunkindex.Store = (*Store)(nil)
var _ chunkindex.Collection = (*Collection)(nil)

// New creates a client for the server described by cfg. No request is made
// until Init or the first collection call.
func New(cfg Config, opts ...Option) (*Store, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	grpcOpts := []grpc.DialOption{
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                10 * time.Second,
			Timeout:             3 * time.Second,
			PermitWithoutStream: true,
		}),
	}
	if !cfg.UseTLS {
		grpcOpts = append(grpcOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:        cfg.Host,
		Port:        cfg.Port,
		APIKey:      cfg.APIKey,
		UseTLS:      cfg.UseTLS,
		GrpcOptions: grpcOpts,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: create client: %w", err)
	}
	s := &Store{
		client:      client,
		prefix:      cfg.Prefix,
		logger:      chunkindex.NopLogger,
		collections: make(map[string]*Collection),
	}
	s.seq.Store(time.Now().UnixNano())
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Init checks that the server is reachable. Collections are created lazily.
func (s *Store) Init(ctx context.Context) error {
	reply, err := s.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("qdrant: health check: %w", err)
	}
	s.logger.Info("qdrant: connected", "version", reply.GetVersion())
	return nil
}

// Collection returns the handle for name. Handles are cached so that
// creation state is shared.
func (s *Store) Collection(name string) chunkindex.Collection {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.collections[name]; ok {
		return c
	}
	c := &Collection{store: s, name: name, remote: s.prefix + name}
	s.collections[name] = c
	return c
}

// Close closes the gRPC connection.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) nextSeq() int64 {
	return s.seq.Add(1)
}

// Collection is one Qdrant collection.
type Collection struct {
	store  *Store
	name   string
	remote string

	mu   sync.Mutex
	dims uint64 // 0 until the remote collection is known to exist
}

func (c *Collection) Name() string { return c.name }

// ensure makes sure the remote collection exists and returns its vector size.
// want is used only when the collection has to be created.
func (c *Collection) ensure(ctx context.Context, want uint64) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dims > 0 {
		return c.dims, nil
	}

	exists, err := c.store.client.CollectionExists(ctx, c.remote)
	if err != nil {
		return 0, fmt.Errorf("qdrant: check collection %s: %w", c.remote, err)
	}
	if exists {
		info, err := c.store.client.GetCollectionInfo(ctx, c.remote)
		if err != nil {
			return 0, fmt.Errorf("qdrant: describe collection %s: %w", c.remote, err)
		}
		size := info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
		if size == 0 {
			return 0, fmt.Errorf("qdrant: collection %s has no single vector config", c.remote)
		}
		c.dims = size
		return size, nil
	}
	if want == 0 {
		return 0, nil
	}

	err = c.store.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: c.remote,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     want,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant: create collection %s: %w", c.remote, err)
	}
	c.store.logger.Info("qdrant: collection created", "collection", c.remote, "dims", want)
	c.dims = want
	return want, nil
}

// Upsert writes records. Records without an embedding get a placeholder
// vector and are excluded from Query. Existing points keep their sequence
// number so ties keep first-insertion order.
func (c *Collection) Upsert(ctx context.Context, records []chunkindex.Record) error {
	if len(records) == 0 {
		return nil
	}
	start := time.Now()
	want := uint64(1)
	for _, r := range records {
		if len(r.Embedding) > 0 {
			want = uint64(len(r.Embedding))
			break
		}
	}
	dims, err := c.ensure(ctx, want)
	if err != nil {
		return err
	}

	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	existing, err := c.sequences(ctx, ids)
	if err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, len(records))
	for i, r := range records {
		vector := r.Embedding
		vectorless := len(vector) == 0
		if vectorless {
			vector = placeholder(dims)
		} else if uint64(len(vector)) != dims {
			return fmt.Errorf("qdrant: record %s has %d dimensions, collection %s has %d", r.ID, len(vector), c.remote, dims)
		}
		seq, ok := existing[r.ID]
		if !ok {
			seq = c.store.nextSeq()
		}
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDNum(pointID(r.ID)),
			Vectors: qdrant.NewVectors(vector...),
			Payload: map[string]*qdrant.Value{
				keyID:         qdrant.NewValueString(r.ID),
				keyText:       qdrant.NewValueString(r.Text),
				keySeq:        qdrant.NewValueInt(seq),
				keyVectorless: qdrant.NewValueBool(vectorless),
				keyMetadata:   qdrant.NewValueStruct(metadataStruct(r.Metadata)),
			},
		}
	}

	_, err = c.store.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: c.remote,
		Points:         points,
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		c.store.logger.Error("qdrant: upsert failed", "collection", c.remote, "error", err)
		return fmt.Errorf("qdrant: upsert: %w", err)
	}
	c.store.logger.Debug("qdrant: upsert ok", "collection", c.remote, "count", len(records), "duration", time.Since(start))
	return nil
}

// sequences returns the stored sequence numbers of the ids that already exist.
func (c *Collection) sequences(ctx context.Context, ids []string) (map[string]int64, error) {
	points, err := c.store.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: c.remote,
		Ids:            pointIDs(ids),
		WithPayload:    qdrant.NewWithPayloadInclude(keyID, keySeq),
		WithVectors:    qdrant.NewWithVectors(false),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: get: %w", err)
	}
	out := make(map[string]int64, len(points))
	for _, p := range points {
		out[p.Payload[keyID].GetStringValue()] = p.Payload[keySeq].GetIntegerValue()
	}
	return out, nil
}

// Get returns the records matching ids, in the order of ids.
func (c *Collection) Get(ctx context.Context, ids []string) ([]chunkindex.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	dims, err := c.ensure(ctx, 0)
	if err != nil || dims == 0 {
		return nil, err
	}
	points, err := c.store.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: c.remote,
		Ids:            pointIDs(ids),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: get: %w", err)
	}

	byID := make(map[string]chunkindex.Record, len(points))
	for _, p := range points {
		r, _ := recordFromPayload(p.Payload, p.Vectors.GetVector().GetData())
		byID[r.ID] = r
	}
	out := make([]chunkindex.Record, 0, len(byID))
	for _, id := range ids {
		// The payload id guards against hash collisions.
		if r, ok := byID[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// Query returns the topK nearest records. Equal scores are ordered by
// insertion sequence.
func (c *Collection) Query(ctx context.Context, embedding []float32, topK int, filters ...chunkindex.Filter) ([]chunkindex.ScoredRecord, error) {
	if topK <= 0 {
		return nil, nil
	}
	dims, err := c.ensure(ctx, 0)
	if err != nil || dims == 0 {
		return nil, err
	}
	start := time.Now()

	filter := buildFilter(filters)
	filter.MustNot = append(filter.MustNot, matchBool(keyVectorless, true))

	points, err := c.store.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: c.remote,
		Query:          qdrant.NewQuery(embedding...),
		Filter:         filter,
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: query: %w", err)
	}

	type hit struct {
		rec chunkindex.ScoredRecord
		seq int64
	}
	hits := make([]hit, len(points))
	for i, p := range points {
		r, seq := recordFromPayload(p.Payload, p.Vectors.GetVector().GetData())
		hits[i] = hit{rec: chunkindex.ScoredRecord{Record: r, Score: p.Score}, seq: seq}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].rec.Score != hits[j].rec.Score {
			return hits[i].rec.Score > hits[j].rec.Score
		}
		return hits[i].seq < hits[j].seq
	})
	results := make([]chunkindex.ScoredRecord, len(hits))
	for i, h := range hits {
		results[i] = h.rec
	}
	c.store.logger.Debug("qdrant: query ok", "collection", c.remote, "returned", len(results), "duration", time.Since(start))
	return results, nil
}

// Count returns the exact number of points.
func (c *Collection) Count(ctx context.Context) (int, error) {
	dims, err := c.ensure(ctx, 0)
	if err != nil || dims == 0 {
		return 0, err
	}
	n, err := c.store.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: c.remote,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant: count: %w", err)
	}
	return int(n), nil
}

// DeleteWhere removes every point matching all filters.
func (c *Collection) DeleteWhere(ctx context.Context, filters ...chunkindex.Filter) error {
	if len(filters) == 0 {
		return fmt.Errorf("qdrant: delete: at least one filter is required")
	}
	dims, err := c.ensure(ctx, 0)
	if err != nil || dims == 0 {
		return err
	}
	_, err = c.store.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: c.remote,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: buildFilter(filters)},
		},
		Wait: qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("qdrant: delete: %w", err)
	}
	return nil
}

// Distinct scrolls the whole collection and collects the values of key.
func (c *Collection) Distinct(ctx context.Context, key string) ([]string, error) {
	dims, err := c.ensure(ctx, 0)
	if err != nil || dims == 0 {
		return nil, err
	}
	seen := map[string]bool{}
	var offset *qdrant.PointId
	for {
		points, err := c.store.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: c.remote,
			Offset:         offset,
			Limit:          qdrant.PtrOf(uint32(scrollPage + 1)),
			WithPayload:    qdrant.NewWithPayloadInclude(keyMetadata),
			WithVectors:    qdrant.NewWithVectors(false),
		})
		if err != nil {
			return nil, fmt.Errorf("qdrant: scroll: %w", err)
		}
		page := points
		if len(points) > scrollPage {
			page = points[:scrollPage]
		}
		for _, p := range page {
			v := p.Payload[keyMetadata].GetStructValue().GetFields()[key].GetStringValue()
			if v != "" {
				seen[v] = true
			}
		}
		if len(points) <= scrollPage {
			break
		}
		// The extra point starts the next page.
		offset = points[scrollPage].Id
	}

	values := make([]string, 0, len(seen))
	for v := range seen {
		values = append(values, v)
	}
	sort.Strings(values)
	return values, nil
}

// Drop deletes the remote collection. It is recreated on the next write.
func (c *Collection) Drop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	exists, err := c.store.client.CollectionExists(ctx, c.remote)
	if err != nil {
		return fmt.Errorf("qdrant: check collection %s: %w", c.remote, err)
	}
	if exists {
		if err := c.store.client.DeleteCollection(ctx, c.remote); err != nil {
			return fmt.Errorf("qdrant: drop %s: %w", c.remote, err)
		}
	}
	c.dims = 0
	c.store.logger.Info("qdrant: collection dropped", "collection", c.remote)
	return nil
}

// pointID converts a record id to a numeric point id using the first 8
// bytes of its MD5 hash.
func pointID(id string) uint64 {
	sum := md5.Sum([]byte(id))
	return binary.BigEndian.Uint64(sum[:8])
}

func pointIDs(ids []string) []*qdrant.PointId {
	out := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		out[i] = qdrant.NewIDNum(pointID(id))
	}
	return out
}

// placeholder is the unit vector stored for records without an embedding.
func placeholder(dims uint64) []float32 {
	v := make([]float32, dims)
	v[0] = 1
	return v
}

func metadataStruct(meta map[string]string) *qdrant.Struct {
	fields := make(map[string]*qdrant.Value, len(meta))
	for k, v := range meta {
		fields[k] = qdrant.NewValueString(v)
	}
	return &qdrant.Struct{Fields: fields}
}

func recordFromPayload(payload map[string]*qdrant.Value, vector []float32) (chunkindex.Record, int64) {
	r := chunkindex.Record{
		ID:   payload[keyID].GetStringValue(),
		Text: payload[keyText].GetStringValue(),
	}
	if fields := payload[keyMetadata].GetStructValue().GetFields(); len(fields) > 0 {
		r.Metadata = make(map[string]string, len(fields))
		for k, v := range fields {
			r.Metadata[k] = v.GetStringValue()
		}
	}
	if !payload[keyVectorless].GetBoolValue() && len(vector) > 0 {
		r.Embedding = vector
	}
	return r, payload[keySeq].GetIntegerValue()
}

func buildFilter(filters []chunkindex.Filter) *qdrant.Filter {
	f := &qdrant.Filter{}
	for _, flt := range filters {
		f.Must = append(f.Must, matchKeyword(keyMetadata+"."+flt.Key, flt.Value))
	}
	return f
}

func matchKeyword(key, value string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key:   key,
				Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: value}},
			},
		},
	}
}

func matchBool(key string, value bool) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key:   key,
				Match: &qdrant.Match{MatchValue: &qdrant.Match_Boolean{Boolean: value}},
			},
		},
	}
}
