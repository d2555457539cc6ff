//go:build onnx

package database

import (
	"go.uber.org/zap"

	"github.com/becomeliminal/vectorwave-go/config"
	"github.com/becomeliminal/vectorwave-go/store/embedder"
	"github.com/becomeliminal/vectorwave-go/store/embedder/onnx"
)

func init() {
	RegisterEmbedder("onnx", func(s *config.Settings, logger *zap.Logger) (embedder.Embedder, error) {
		return onnx.New(onnx.Config{
			ModelPath:         s.OnnxModel,
			TokenizerPath:     s.OnnxTokenizer,
			SharedLibraryPath: s.OnnxLibrary,
			Logger:            logger,
		})
	})
}
