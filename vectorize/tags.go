package vectorize

import (
	"sort"

	"go.uber.org/zap"

	"github.com/becomeliminal/vectorwave-go/config"
)

// validateTags keeps the tags whose keys are custom properties. Without a
// properties file every tag is dropped.
func validateTags(tags map[string]any, s *config.Settings, logger *zap.Logger, function string) map[string]any {
	if len(tags) == 0 {
		return nil
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if s.CustomProperties == nil {
		logger.Warn("Custom properties are not loaded, dropping all tags",
			zap.String("function", function), zap.Strings("tags", keys))
		return nil
	}

	valid := make(map[string]any, len(tags))
	for _, k := range keys {
		if !s.HasCustomProperty(k) {
			logger.Warn("Dropping tag that is not a defined custom property",
				zap.String("function", function), zap.String("tag", k))
			continue
		}
		valid[k] = tags[k]
	}
	return valid
}
