// Package chromem implements store.Client on chromem-go, an embedded
// vector database persisted to a local directory.
//
// chromem-go has no query language, so filters and sorting are applied
// client-side on the candidates returned by a similarity query over the
// whole collection.
package chromem

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/becomeliminal/vectorwave-go/store"
	"github.com/becomeliminal/vectorwave-go/store/embedder"
)

// Config configures the store.
type Config struct {
	// DataDir is the persistence directory. Empty keeps everything in
	// memory.
	DataDir  string
	Compress bool
	Embedder embedder.Embedder
	Timeout  time.Duration
	Logger   *zap.Logger
}

// Client wraps a chromem-go database.
type Client struct {
	db       *chromem.DB
	embedder embedder.Embedder
	batch    *store.Buffer
	logger   *zap.Logger

	mu          sync.RWMutex
	collections map[string]*chromem.Collection
}

// Open opens (or creates) the database.
func Open(cfg Config) (*Client, error) {
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("chromem store requires an embedder")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("store.chromem")

	var db *chromem.DB
	if cfg.DataDir == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(cfg.DataDir, cfg.Compress)
		if err != nil {
			return nil, &store.ConnectionError{Err: fmt.Errorf("open %s: %w", cfg.DataDir, err)}
		}
	}

	c := &Client{
		db:          db,
		embedder:    cfg.Embedder,
		logger:      logger,
		collections: make(map[string]*chromem.Collection),
	}
	opts := []store.BufferOption{store.WithBufferLogger(logger)}
	if cfg.Timeout > 0 {
		opts = append(opts, store.WithBackgroundTimeout(cfg.Timeout))
	}
	c.batch = store.NewBuffer(c.sendBatch, opts...)

	logger.Info("Chromem store opened",
		zap.String("data_dir", cfg.DataDir),
		zap.Int("collections", len(db.ListCollections())),
	)
	return c, nil
}

// IsReady is true once the database is open.
func (c *Client) IsReady(ctx context.Context) bool {
	return c.db != nil
}

// Batch returns the client-side write buffer.
func (c *Client) Batch() store.Batch {
	return c.batch
}

// Close stops background sends. Documents are persisted as they are
// added, so there is nothing else to release.
func (c *Client) Close() error {
	c.batch.Close()
	return nil
}

func (c *Client) embed(ctx context.Context, text string) ([]float32, error) {
	return c.embedder.Embed(ctx, text)
}

// collection returns the named collection, optionally creating it.
func (c *Client) collection(name string, create bool, metadata map[string]string) (*chromem.Collection, error) {
	c.mu.RLock()
	col, ok := c.collections[name]
	c.mu.RUnlock()
	if ok {
		return col, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check after acquiring write lock
	if col, ok := c.collections[name]; ok {
		return col, nil
	}
	col = c.db.GetCollection(name, c.embed)
	if col == nil {
		if !create {
			return nil, nil
		}
		var err error
		col, err = c.db.GetOrCreateCollection(name, metadata, c.embed)
		if err != nil {
			return nil, fmt.Errorf("create collection: %w", err)
		}
	}
	c.collections[name] = col
	return col, nil
}

// CollectionExists reports whether the collection exists.
func (c *Client) CollectionExists(ctx context.Context, name string) (bool, error) {
	col, err := c.collection(name, false, nil)
	if err != nil {
		return false, err
	}
	return col != nil, nil
}

// CreateCollection creates the collection. The property list is recorded
// as collection metadata; documents are schemaless.
func (c *Client) CreateCollection(ctx context.Context, spec store.CollectionSpec) error {
	names := make([]string, 0, len(spec.Properties))
	for _, p := range spec.Properties {
		names = append(names, p.Name+":"+string(p.DataType))
	}
	metadata := map[string]string{
		"description": spec.Description,
		"properties":  strings.Join(names, ","),
	}
	if _, err := c.collection(spec.Name, true, metadata); err != nil {
		return err
	}
	c.logger.Info("Collection created",
		zap.String("collection", spec.Name),
		zap.Int("properties", len(spec.Properties)),
	)
	return nil
}

// sendBatch stores objects grouped by collection. Objects without an ID
// get one assigned in place, so a retained batch keeps its IDs on retry.
func (c *Client) sendBatch(ctx context.Context, objects []store.Object) ([]store.Result, error) {
	results := make([]store.Result, len(objects))
	docs := make(map[string][]chromem.Document)
	var order []string

	for i := range objects {
		obj := &objects[i]
		if obj.ID == "" {
			obj.ID = uuid.NewString()
		}
		results[i] = store.Result{Collection: obj.Collection, ID: obj.ID}

		doc, err := c.document(ctx, *obj)
		if err != nil {
			results[i].Errors = []string{err.Error()}
			continue
		}
		if _, seen := docs[obj.Collection]; !seen {
			order = append(order, obj.Collection)
		}
		docs[obj.Collection] = append(docs[obj.Collection], doc)
	}

	for _, name := range order {
		col, err := c.collection(name, true, nil)
		if err != nil {
			return nil, err
		}
		if err := col.AddDocuments(ctx, docs[name], runtime.NumCPU()); err != nil {
			return nil, fmt.Errorf("add documents to %s: %w", name, err)
		}
	}

	c.logger.Debug("Batch stored", zap.Int("count", len(objects)))
	return results, nil
}

// document converts an object to a chromem document with its embedding.
func (c *Client) document(ctx context.Context, obj store.Object) (chromem.Document, error) {
	content, err := sonic.MarshalString(obj.Properties)
	if err != nil {
		return chromem.Document{}, fmt.Errorf("marshal properties: %w", err)
	}
	embedding, err := c.embed(ctx, searchableText(obj.Properties))
	if err != nil {
		return chromem.Document{}, fmt.Errorf("embed object: %w", err)
	}
	return chromem.Document{
		ID:        obj.ID,
		Content:   content,
		Embedding: embedding,
		Metadata:  stringify(obj.Properties),
	}, nil
}

// searchableText concatenates the text properties in key order, the way a
// text vectorizer sees an object.
func searchableText(props map[string]any) string {
	keys := make([]string, 0, len(props))
	for k, v := range props {
		if s, ok := v.(string); ok && s != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = props[k].(string)
	}
	return strings.Join(parts, "\n")
}

// stringify converts properties to chromem metadata.
func stringify(props map[string]any) map[string]string {
	metadata := make(map[string]string, len(props))
	for k, v := range props {
		switch val := v.(type) {
		case string:
			metadata[k] = val
		case nil:
		default:
			if s, err := sonic.MarshalString(val); err == nil {
				metadata[k] = s
			}
		}
	}
	return metadata
}

// Get fetches one object by ID.
func (c *Client) Get(ctx context.Context, collection, id string) (*store.Hit, error) {
	col, err := c.collection(collection, false, nil)
	if err != nil {
		return nil, err
	}
	if col == nil || id == "" {
		return nil, store.ErrNotFound
	}
	doc, err := col.GetByID(ctx, id)
	if err != nil {
		return nil, store.ErrNotFound
	}
	props, err := decode(doc.Content)
	if err != nil {
		return nil, err
	}
	return &store.Hit{ID: doc.ID, Properties: props}, nil
}

// Query ranks the whole collection by similarity to NearText (or to the
// empty text for plain fetches), then filters, sorts and limits.
func (c *Client) Query(ctx context.Context, q store.Query) ([]store.Hit, error) {
	col, err := c.collection(q.Collection, false, nil)
	if err != nil {
		return nil, err
	}
	if col == nil {
		return nil, fmt.Errorf("collection %q does not exist", q.Collection)
	}
	n := col.Count()
	if n == 0 {
		return nil, nil
	}

	queryEmbedding, err := c.embed(ctx, q.NearText)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	results, err := col.QueryEmbedding(ctx, queryEmbedding, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	hits := make([]store.Hit, 0, len(results))
	for _, res := range results {
		props, err := decode(res.Content)
		if err != nil {
			c.logger.Warn("Skipping undecodable document", zap.String("id", res.ID), zap.Error(err))
			continue
		}
		if !matchesAll(props, q.Filters) {
			continue
		}
		hit := store.Hit{ID: res.ID, Properties: props}
		if q.NearText != "" {
			dist := float64(1 - res.Similarity)
			hit.Distance = &dist
		}
		hits = append(hits, hit)
	}

	if q.SortBy != "" {
		sort.SliceStable(hits, func(i, j int) bool {
			cmp, ok := compare(hits[i].Properties[q.SortBy], hits[j].Properties[q.SortBy])
			if !ok {
				return false
			}
			if q.Ascending {
				return cmp < 0
			}
			return cmp > 0
		})
	}
	if q.Limit > 0 && len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}
	for i := range hits {
		hits[i].Properties = project(hits[i].Properties, q.Properties)
	}
	return hits, nil
}

func decode(content string) (map[string]any, error) {
	props := make(map[string]any)
	if err := sonic.UnmarshalString(content, &props); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return props, nil
}

func project(props map[string]any, names []string) map[string]any {
	if len(names) == 0 {
		return props
	}
	out := make(map[string]any, len(names))
	for _, n := range names {
		if v, ok := props[n]; ok {
			out[n] = v
		}
	}
	return out
}
