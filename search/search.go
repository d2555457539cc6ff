// Package search is the read side of VectorWave: semantic search over
// function descriptors and filtered queries over execution records.
package search

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"

	"github.com/becomeliminal/vectorwave-go/config"
	"github.com/becomeliminal/vectorwave-go/core"
	"github.com/becomeliminal/vectorwave-go/store"
)

const (
	defaultLimit  = 10
	maxTraceSpans = 1000
)

type options struct {
	logger    *zap.Logger
	now       func() time.Time
	cacheSize int64
}

// Option configures a Searcher.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock sets the clock used by FindRecentErrors.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithCacheSize bounds the number of cached function descriptors.
func WithCacheSize(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.cacheSize = n
		}
	}
}

// FunctionResult is one function search hit.
type FunctionResult struct {
	Function core.FunctionDescriptor
	// Distance is the semantic distance to the query; lower is closer.
	Distance *float64
}

// ExecutionQuery selects execution records.
type ExecutionQuery struct {
	// Filters are equality conditions on record properties.
	Filters map[string]any
	// Conditions are additional comparisons, ANDed with Filters.
	Conditions []store.Filter
	// SortBy defaults to timestamp_utc.
	SortBy    string
	Ascending bool
	// Limit defaults to 10.
	Limit int
}

// Searcher queries the function and execution collections.
type Searcher struct {
	client   store.Client
	settings *config.Settings
	logger   *zap.Logger
	now      func() time.Time
	cache    *ristretto.Cache
}

// New creates a Searcher over client. A nil settings uses the process-wide
// settings.
func New(client store.Client, settings *config.Settings, opts ...Option) (*Searcher, error) {
	o := &options{
		logger:    zap.NewNop(),
		now:       time.Now,
		cacheSize: 1024,
	}
	for _, opt := range opts {
		opt(o)
	}
	if settings == nil {
		settings = config.Get()
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: o.cacheSize * 10,
		MaxCost:     o.cacheSize,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create descriptor cache: %w", err)
	}

	return &Searcher{
		client:   client,
		settings: settings,
		logger:   o.logger.Named("search"),
		now:      o.now,
		cache:    cache,
	}, nil
}

// Close releases the descriptor cache. The store client is not closed.
func (s *Searcher) Close() {
	s.cache.Close()
}

// SearchFunctions ranks function descriptors by semantic similarity to
// query.
func (s *Searcher) SearchFunctions(ctx context.Context, query string, limit int, filters map[string]any) ([]FunctionResult, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	hits, err := s.client.Query(ctx, store.Query{
		Collection: s.settings.CollectionName,
		NearText:   query,
		Filters:    store.EqualFilters(filters),
		Limit:      limit,
	})
	if err != nil {
		return nil, fmt.Errorf("search functions: %w", err)
	}

	results := make([]FunctionResult, 0, len(hits))
	for _, hit := range hits {
		desc := core.FunctionDescriptorFromProperties(hit.ID, hit.Properties)
		s.remember(desc)
		results = append(results, FunctionResult{Function: desc, Distance: hit.Distance})
	}
	s.logger.Debug("Function search",
		zap.String("query", query), zap.Int("count", len(results)))
	return results, nil
}

// SearchExecutions returns execution records matching q.
func (s *Searcher) SearchExecutions(ctx context.Context, q ExecutionQuery) ([]core.ExecutionRecord, error) {
	if q.Limit <= 0 {
		q.Limit = defaultLimit
	}
	if q.SortBy == "" {
		q.SortBy = core.PropTimestampUTC
	}
	filters := append(store.EqualFilters(q.Filters), q.Conditions...)

	hits, err := s.client.Query(ctx, store.Query{
		Collection: s.settings.ExecutionCollectionName,
		Filters:    filters,
		SortBy:     q.SortBy,
		Ascending:  q.Ascending,
		Limit:      q.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("search executions: %w", err)
	}

	records := make([]core.ExecutionRecord, 0, len(hits))
	for _, hit := range hits {
		records = append(records, core.ExecutionRecordFromProperties(hit.Properties))
	}
	s.enrich(ctx, records)
	return records, nil
}

// FindExecutions is SearchExecutions.
func (s *Searcher) FindExecutions(ctx context.Context, q ExecutionQuery) ([]core.ExecutionRecord, error) {
	return s.SearchExecutions(ctx, q)
}

// FindRecentErrors returns failed executions newer than since, newest
// first. When error codes are given only records with one of those codes
// are returned.
func (s *Searcher) FindRecentErrors(ctx context.Context, since time.Duration, limit int, filters map[string]any, errorCodes ...string) ([]core.ExecutionRecord, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	conditions := []store.Filter{
		{Property: core.PropStatus, Operator: store.OpEqual, Value: core.StatusError},
		{Property: core.PropTimestampUTC, Operator: store.OpGreaterThanEqual, Value: s.now().Add(-since)},
	}
	if len(errorCodes) == 0 {
		return s.SearchExecutions(ctx, ExecutionQuery{
			Filters:    filters,
			Conditions: conditions,
			Limit:      limit,
		})
	}

	// One query per code; the backends only AND their filters.
	var merged []core.ExecutionRecord
	for _, code := range errorCodes {
		recs, err := s.SearchExecutions(ctx, ExecutionQuery{
			Filters: filters,
			Conditions: append(conditions[:len(conditions):len(conditions)],
				store.Filter{Property: core.PropErrorCode, Operator: store.OpEqual, Value: code}),
			Limit: limit,
		})
		if err != nil {
			return nil, err
		}
		merged = append(merged, recs...)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp.After(merged[j].Timestamp)
	})
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

// FindSlowestExecutions returns the longest executions, slowest first.
// Executions shorter than minDurationMs are skipped.
func (s *Searcher) FindSlowestExecutions(ctx context.Context, limit int, minDurationMs float64) ([]core.ExecutionRecord, error) {
	q := ExecutionQuery{SortBy: core.PropDurationMs, Limit: limit}
	if minDurationMs > 0 {
		q.Conditions = []store.Filter{
			{Property: core.PropDurationMs, Operator: store.OpGreaterThanEqual, Value: minDurationMs},
		}
	}
	return s.SearchExecutions(ctx, q)
}

// FindByTraceID returns every span of a trace in start order.
func (s *Searcher) FindByTraceID(ctx context.Context, traceID string) ([]core.ExecutionRecord, error) {
	if traceID == "" {
		return nil, fmt.Errorf("trace ID is required")
	}
	records, err := s.SearchExecutions(ctx, ExecutionQuery{
		Filters:   map[string]any{core.PropTraceID: traceID},
		Ascending: true,
		Limit:     maxTraceSpans,
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return a.SpanID < b.SpanID
	})
	return records, nil
}

// Function returns the descriptor with the given ID, or an error wrapping
// store.ErrNotFound.
func (s *Searcher) Function(ctx context.Context, id string) (core.FunctionDescriptor, error) {
	if v, ok := s.cache.Get(id); ok {
		return v.(core.FunctionDescriptor), nil
	}
	hit, err := s.client.Get(ctx, s.settings.CollectionName, id)
	if err != nil {
		return core.FunctionDescriptor{}, fmt.Errorf("get function %s: %w", id, err)
	}
	desc := core.FunctionDescriptorFromProperties(hit.ID, hit.Properties)
	s.remember(desc)
	return desc, nil
}

func (s *Searcher) remember(desc core.FunctionDescriptor) {
	if desc.ID == "" {
		return
	}
	s.cache.Set(desc.ID, desc, 1)
	s.cache.Wait()
}

// enrich fills in function names for records that only carry the
// function ID.
func (s *Searcher) enrich(ctx context.Context, records []core.ExecutionRecord) {
	for i := range records {
		rec := &records[i]
		if rec.FunctionName != "" || rec.FunctionID == "" {
			continue
		}
		desc, err := s.Function(ctx, rec.FunctionID)
		if err != nil {
			s.logger.Debug("Could not resolve function name",
				zap.String("function_uuid", rec.FunctionID), zap.Error(err))
			continue
		}
		rec.FunctionName = desc.Name
	}
}

// Format renders execution records as a numbered listing.
func Format(records []core.ExecutionRecord) string {
	if len(records) == 0 {
		return "No executions found."
	}

	var parts []string
	parts = append(parts, fmt.Sprintf("=== EXECUTIONS (%d) ===\n", len(records)))

	maxLength := 2000 / len(records)
	if maxLength < 100 {
		maxLength = 100
	}
	for i, rec := range records {
		parts = append(parts, fmt.Sprintf("%d. %s\n", i+1, rec.Format(maxLength)))
	}
	return strings.Join(parts, "\n")
}

// FormatFunctions renders function search results as a numbered listing.
func FormatFunctions(results []FunctionResult) string {
	if len(results) == 0 {
		return "No functions found."
	}

	var parts []string
	parts = append(parts, fmt.Sprintf("=== FUNCTIONS (%d) ===\n", len(results)))
	for i, res := range results {
		fn := res.Function
		line := fmt.Sprintf("%d. %s.%s", i+1, fn.Module, fn.Name)
		if res.Distance != nil {
			line += fmt.Sprintf("  (distance %.4f)", *res.Distance)
		}
		line += "\n   ID: " + fn.ID
		if fn.SearchDescription != "" {
			line += "\n   " + fn.SearchDescription
		}
		parts = append(parts, line+"\n")
	}
	return strings.Join(parts, "\n")
}
