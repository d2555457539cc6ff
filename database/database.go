// Package database creates store clients from settings and defines the
// VectorWave collections.
package database

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/becomeliminal/vectorwave-go/config"
	"github.com/becomeliminal/vectorwave-go/store"
	"github.com/becomeliminal/vectorwave-go/store/chromem"
	"github.com/becomeliminal/vectorwave-go/store/embedder"
	"github.com/becomeliminal/vectorwave-go/store/weaviate"
)

type options struct {
	logger   *zap.Logger
	embedder embedder.Embedder
	apiKey   string
}

// Option configures Connect.
type Option func(*options)

// WithLogger sets the logger handed to the backend.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithEmbedder overrides the embedder selected by settings for backends
// that embed client-side.
func WithEmbedder(e embedder.Embedder) Option {
	return func(o *options) {
		o.embedder = e
	}
}

// WithAPIKey sets a bearer token for the Weaviate backend.
func WithAPIKey(key string) Option {
	return func(o *options) {
		o.apiKey = key
	}
}

// Connect creates a client for the configured backend. It makes a single
// attempt: an unreachable store yields *store.ConnectionError, a store
// that answers but is not ready yields *store.NotReadyError.
func Connect(ctx context.Context, s *config.Settings, opts ...Option) (store.Client, error) {
	o := &options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}

	var (
		client   store.Client
		endpoint string
	)
	switch s.Backend {
	case config.BackendWeaviate, "":
		apiKey := o.apiKey
		if apiKey == "" {
			apiKey = s.WeaviateAPIKey
		}
		var headers map[string]string
		if s.OpenAIAPIKey != "" {
			headers = map[string]string{"X-OpenAI-Api-Key": s.OpenAIAPIKey}
		}
		wc, err := weaviate.Dial(ctx, weaviate.Config{
			Host:       s.WeaviateHost,
			Port:       s.WeaviatePort,
			GRPCPort:   s.WeaviateGRPCPort,
			Timeout:    s.Timeout,
			APIKey:     apiKey,
			Headers:    headers,
			Vectorizer: s.Vectorizer,
			Logger:     o.logger,
		})
		if err != nil {
			return nil, err
		}
		client, endpoint = wc, wc.Endpoint()

	case config.BackendChromem:
		emb := o.embedder
		if emb == nil {
			var err error
			emb, err = newEmbedder(s, o.logger)
			if err != nil {
				return nil, &store.ConnectionError{Err: err}
			}
		}
		cc, err := chromem.Open(chromem.Config{
			DataDir:  s.DataDir,
			Embedder: emb,
			Timeout:  s.Timeout,
			Logger:   o.logger,
		})
		if err != nil {
			return nil, err
		}
		client, endpoint = cc, s.DataDir

	default:
		return nil, fmt.Errorf("unknown backend %q", s.Backend)
	}

	if !client.IsReady(ctx) {
		client.Close()
		return nil, &store.NotReadyError{Endpoint: endpoint}
	}
	return client, nil
}

// Initialize makes sure the function and execution collections exist.
// Existing collections are left untouched.
func Initialize(ctx context.Context, client store.Client, s *config.Settings, opts ...Option) error {
	o := &options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}
	logger := o.logger.Named("database")

	for _, spec := range []store.CollectionSpec{
		FunctionCollection(s, logger),
		ExecutionCollection(s, logger),
	} {
		exists, err := client.CollectionExists(ctx, spec.Name)
		if err != nil {
			return &store.SchemaCreationError{Collection: spec.Name, Err: err}
		}
		if exists {
			logger.Debug("Collection already exists", zap.String("collection", spec.Name))
			continue
		}
		if err := client.CreateCollection(ctx, spec); err != nil {
			return &store.SchemaCreationError{Collection: spec.Name, Err: err}
		}
	}
	return nil
}

// Open connects and initializes the collections. The client is closed when
// initialization fails.
func Open(ctx context.Context, s *config.Settings, opts ...Option) (store.Client, error) {
	client, err := Connect(ctx, s, opts...)
	if err != nil {
		return nil, err
	}
	if err := Initialize(ctx, client, s, opts...); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}
