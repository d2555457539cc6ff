// Package store defines the capability VectorWave needs from an external
// vector database and the client-side write buffer shared by backends.
//
// Backends:
//   - store/weaviate: Weaviate over its REST and GraphQL API
//   - store/chromem: chromem-go, an embedded persistent vector database
//
// The batch manager only sees Client and Batch, so backends can be swapped
// without touching the instrumentation.
package store

import (
	"context"
	"time"
)

// Object is one pending write.
type Object struct {
	Collection string
	// ID is optional. Objects written with the same ID overwrite each other.
	ID         string
	Properties map[string]any
}

// Result reports the outcome of one object in a flushed batch.
type Result struct {
	Collection string
	ID         string
	Errors     []string
}

// Failed reports whether the store rejected the object.
func (r Result) Failed() bool {
	return len(r.Errors) > 0
}

// BatchConfig configures a Batch.
type BatchConfig struct {
	// Size triggers a background send once that many objects are pending.
	// Zero disables size-triggered sends.
	Size int
	// Dynamic lets the batch adapt Size to observed send latency.
	Dynamic bool
	// TimeoutRetries is the number of times a send is retried after a
	// transport failure.
	TimeoutRetries int
	// FlushInterval triggers periodic background sends. Zero disables it.
	FlushInterval time.Duration
	// OnResults receives the per-object results of every background send.
	// When nil, rejected objects are logged by the batch itself.
	OnResults func([]Result)
}

// Batch is the buffered write primitive of a Client.
type Batch interface {
	// Configure applies cfg. It may be called before any object is added.
	Configure(cfg BatchConfig) error
	// AddObject appends an object to the pending queue without blocking on
	// the network.
	AddObject(collection string, properties map[string]any, id string) error
	// Flush transmits everything pending and returns per-object results.
	Flush(ctx context.Context) ([]Result, error)
	// Len returns the number of objects not yet acknowledged by the store.
	Len() int
}

// DataType is a property data type, named as Weaviate names them.
type DataType string

const (
	DataTypeText    DataType = "text"
	DataTypeInt     DataType = "int"
	DataTypeNumber  DataType = "number"
	DataTypeBoolean DataType = "boolean"
	DataTypeDate    DataType = "date"
	DataTypeUUID    DataType = "uuid"
)

// Property describes one collection property.
type Property struct {
	Name        string
	DataType    DataType
	Description string
}

// CollectionSpec describes a collection to create.
type CollectionSpec struct {
	Name        string
	Description string
	Properties  []Property
	// Vectorize enables server-side vectorization of text properties.
	Vectorize bool
	// VectorizeCollectionName includes the collection name in vectors.
	VectorizeCollectionName bool
}

// Operator compares a property against a filter value.
type Operator string

const (
	OpEqual            Operator = "Equal"
	OpNotEqual         Operator = "NotEqual"
	OpGreaterThan      Operator = "GreaterThan"
	OpGreaterThanEqual Operator = "GreaterThanEqual"
	OpLessThan         Operator = "LessThan"
	OpLessThanEqual    Operator = "LessThanEqual"
)

// Filter restricts query results. Filters in a Query are combined with AND.
type Filter struct {
	Property string
	Operator Operator
	Value    any
}

// Query reads objects from one collection.
type Query struct {
	Collection string
	// NearText ranks results by semantic similarity. Empty means a plain
	// fetch ordered by SortBy.
	NearText string
	Filters  []Filter
	SortBy   string
	// Ascending sorts SortBy ascending; descending otherwise.
	Ascending bool
	Limit     int
	// Properties lists the properties to return. Backends that cannot
	// project return all properties.
	Properties []string
}

// Hit is one query result.
type Hit struct {
	ID         string
	Properties map[string]any
	// Distance is set for NearText queries.
	Distance *float64
}

// Client is a connection to the external store.
type Client interface {
	IsReady(ctx context.Context) bool
	Batch() Batch
	CollectionExists(ctx context.Context, name string) (bool, error)
	CreateCollection(ctx context.Context, spec CollectionSpec) error
	// Get returns one object by ID, or ErrNotFound.
	Get(ctx context.Context, collection, id string) (*Hit, error)
	Query(ctx context.Context, q Query) ([]Hit, error)
	Close() error
}

// EqualFilters turns a property → value map into equality filters.
func EqualFilters(values map[string]any) []Filter {
	filters := make([]Filter, 0, len(values))
	for k, v := range values {
		filters = append(filters, Filter{Property: k, Operator: OpEqual, Value: v})
	}
	return filters
}
