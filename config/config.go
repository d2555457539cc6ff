// Package config resolves VectorWave settings from the environment, an
// optional .env file and an optional custom properties JSON file.
//
// Resolution never fails: configuration problems are logged and the
// affected part falls back to its default.
package config

import (
	"errors"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"
)

// Backends understood by database.Connect.
const (
	BackendWeaviate = "weaviate"
	BackendChromem  = "chromem"
)

// CustomProperty describes one user-defined property from the properties
// file. Its name doubles as an allowed tag key.
type CustomProperty struct {
	DataType    string `json:"data_type"`
	Description string `json:"description"`
}

// Settings holds all VectorWave configuration.
type Settings struct {
	WeaviateHost     string `envconfig:"WEAVIATE_HOST" default:"localhost"`
	WeaviatePort     int    `envconfig:"WEAVIATE_PORT" default:"8080"`
	WeaviateGRPCPort int    `envconfig:"WEAVIATE_GRPC_PORT" default:"50051"`
	WeaviateAPIKey   string `envconfig:"WEAVIATE_API_KEY"`
	OpenAIAPIKey     string `envconfig:"OPENAI_API_KEY"`

	CollectionName          string `envconfig:"COLLECTION_NAME" default:"VectorWaveFunctions"`
	ExecutionCollectionName string `envconfig:"EXECUTION_COLLECTION_NAME" default:"VectorWaveExecutions"`
	VectorizeCollectionName bool   `envconfig:"IS_VECTORIZE_COLLECTION_NAME" default:"true"`
	CustomPropertiesPath    string `envconfig:"CUSTOM_PROPERTIES_FILE_PATH" default:".weaviate_properties"`

	Backend    string `envconfig:"VECTORWAVE_BACKEND" default:"weaviate"`
	DataDir    string `envconfig:"VECTORWAVE_DATA_DIR" default:".vectorwave"`
	Vectorizer string `envconfig:"VECTORWAVE_VECTORIZER" default:"text2vec-openai"`

	Embedder      string `envconfig:"VECTORWAVE_EMBEDDER" default:"mock"`
	OnnxModel     string `envconfig:"VECTORWAVE_ONNX_MODEL"`
	OnnxTokenizer string `envconfig:"VECTORWAVE_ONNX_TOKENIZER"`
	OnnxLibrary   string `envconfig:"VECTORWAVE_ONNX_LIBRARY"`

	BatchSize     int           `envconfig:"VECTORWAVE_BATCH_SIZE" default:"20"`
	BatchDynamic  bool          `envconfig:"VECTORWAVE_BATCH_DYNAMIC" default:"true"`
	BatchRetries  int           `envconfig:"VECTORWAVE_BATCH_RETRIES" default:"3"`
	FlushInterval time.Duration `envconfig:"VECTORWAVE_FLUSH_INTERVAL" default:"0s"`
	Timeout       time.Duration `envconfig:"VECTORWAVE_TIMEOUT" default:"10s"`

	LogLevel       string `envconfig:"VECTORWAVE_LOG_LEVEL" default:"info"`
	LogDevelopment bool   `envconfig:"VECTORWAVE_LOG_DEV" default:"false"`

	// CustomProperties is nil when no properties file was loaded.
	CustomProperties map[string]CustomProperty `ignored:"true"`

	// GlobalCustomValues are merged into every execution record. They are
	// read from environment variables named after the upper-cased custom
	// properties (RUN_ID for run_id).
	GlobalCustomValues map[string]string `ignored:"true"`
}

// Default returns settings populated with the documented defaults only.
func Default() *Settings {
	return &Settings{
		WeaviateHost:            "localhost",
		WeaviatePort:            8080,
		WeaviateGRPCPort:        50051,
		CollectionName:          "VectorWaveFunctions",
		ExecutionCollectionName: "VectorWaveExecutions",
		VectorizeCollectionName: true,
		CustomPropertiesPath:    ".weaviate_properties",
		Backend:                 BackendWeaviate,
		DataDir:                 ".vectorwave",
		Vectorizer:              "text2vec-openai",
		Embedder:                "mock",
		BatchSize:               20,
		BatchDynamic:            true,
		BatchRetries:            3,
		Timeout:                 10 * time.Second,
		LogLevel:                "info",
		GlobalCustomValues:      map[string]string{},
	}
}

// HasCustomProperty reports whether name is an allowed custom property.
func (s *Settings) HasCustomProperty(name string) bool {
	if s == nil || s.CustomProperties == nil {
		return false
	}
	_, ok := s.CustomProperties[name]
	return ok
}

// CustomPropertyNames returns the custom property names in sorted order.
func (s *Settings) CustomPropertyNames() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.CustomProperties))
	for name := range s.CustomProperties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger used while resolving.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger.Named("config")
		}
	}
}

// WithEnvFile sets the dotenv file loaded before the environment is read.
// An empty path disables dotenv loading.
func WithEnvFile(path string) Option {
	return func(r *Resolver) {
		r.envFile = path
	}
}

// Resolver loads settings once and returns the same object afterwards.
type Resolver struct {
	once     sync.Once
	settings *Settings
	logger   *zap.Logger
	envFile  string
}

// NewResolver creates a resolver. Nothing is read until Get is called.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		logger:  zap.NewNop(),
		envFile: ".env",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the resolved settings. The first call performs all I/O.
func (r *Resolver) Get() *Settings {
	r.once.Do(func() {
		r.settings = r.load()
	})
	return r.settings
}

func (r *Resolver) load() *Settings {
	if r.envFile != "" {
		if err := godotenv.Load(r.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			r.logger.Warn("Could not load env file", zap.String("path", r.envFile), zap.Error(err))
		}
	}

	settings := Default()
	if err := envconfig.Process("", settings); err != nil {
		r.logger.Warn("Invalid environment settings, using defaults", zap.Error(err))
		settings = Default()
	}

	settings.CustomProperties = loadCustomProperties(settings.CustomPropertiesPath, r.logger)
	settings.GlobalCustomValues = globalCustomValues(settings.CustomProperties)

	r.logger.Debug("Settings resolved",
		zap.String("backend", settings.Backend),
		zap.String("host", settings.WeaviateHost),
		zap.Int("port", settings.WeaviatePort),
		zap.Int("custom_properties", len(settings.CustomProperties)),
	)
	return settings
}

var shared = NewResolver()

// SetLogger replaces the logger of the process-wide resolver. It has no
// effect once Get has run.
func SetLogger(logger *zap.Logger) {
	WithLogger(logger)(shared)
}

// Get returns the process-wide settings, resolved on first use.
func Get() *Settings {
	return shared.Get()
}

func loadCustomProperties(path string, logger *zap.Logger) map[string]CustomProperty {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Info("Custom properties file not found, continuing without custom properties",
				zap.String("path", path))
		} else {
			logger.Warn("Could not read custom properties file", zap.String("path", path), zap.Error(err))
		}
		return nil
	}

	var props map[string]CustomProperty
	if err := sonic.Unmarshal(data, &props); err != nil {
		logger.Warn("Could not parse JSON in custom properties file", zap.String("path", path), zap.Error(err))
		return nil
	}
	if props == nil {
		props = map[string]CustomProperty{}
	}
	logger.Info("Loaded custom properties", zap.String("path", path), zap.Int("count", len(props)))
	return props
}

func globalCustomValues(props map[string]CustomProperty) map[string]string {
	values := make(map[string]string)
	for name := range props {
		if v, ok := os.LookupEnv(strings.ToUpper(name)); ok && v != "" {
			values[name] = v
		}
	}
	return values
}
