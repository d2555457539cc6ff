package database

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/becomeliminal/vectorwave-go/config"
	"github.com/becomeliminal/vectorwave-go/store/embedder"
	"github.com/becomeliminal/vectorwave-go/store/embedder/mock"
)

// EmbedderFactory builds an embedder from settings.
type EmbedderFactory func(s *config.Settings, logger *zap.Logger) (embedder.Embedder, error)

var (
	embeddersMu sync.RWMutex
	embedders   = map[string]EmbedderFactory{
		"mock": func(*config.Settings, *zap.Logger) (embedder.Embedder, error) {
			return mock.New(embedder.DefaultDimensions), nil
		},
	}
)

// RegisterEmbedder makes an embedder selectable by VECTORWAVE_EMBEDDER.
func RegisterEmbedder(name string, factory EmbedderFactory) {
	embeddersMu.Lock()
	defer embeddersMu.Unlock()
	embedders[name] = factory
}

func newEmbedder(s *config.Settings, logger *zap.Logger) (embedder.Embedder, error) {
	embeddersMu.RLock()
	factory, ok := embedders[s.Embedder]
	names := make([]string, 0, len(embedders))
	for name := range embedders {
		names = append(names, name)
	}
	embeddersMu.RUnlock()

	if !ok {
		sort.Strings(names)
		return nil, fmt.Errorf("embedder %q is not available (have: %s)", s.Embedder, strings.Join(names, ", "))
	}
	return factory(s, logger)
}
