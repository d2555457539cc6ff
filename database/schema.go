package database

import (
	"strings"

	"go.uber.org/zap"

	"github.com/becomeliminal/vectorwave-go/config"
	"github.com/becomeliminal/vectorwave-go/core"
	"github.com/becomeliminal/vectorwave-go/store"
)

var functionProperties = []store.Property{
	{Name: core.PropFunctionName, DataType: store.DataTypeText, Description: "The name of the function"},
	{Name: core.PropModuleName, DataType: store.DataTypeText, Description: "The module the function belongs to"},
	{Name: core.PropDocstring, DataType: store.DataTypeText, Description: "The doc comment of the function"},
	{Name: core.PropSourceCode, DataType: store.DataTypeText, Description: "The source code of the function"},
	{Name: core.PropSearchDescription, DataType: store.DataTypeText, Description: "User-provided description for similarity search"},
	{Name: core.PropSequenceNarrative, DataType: store.DataTypeText, Description: "User-provided narrative of what happens after the call"},
}

var executionProperties = []store.Property{
	{Name: core.PropFunctionUUID, DataType: store.DataTypeText, Description: "ID of the executed function"},
	{Name: core.PropFunctionName, DataType: store.DataTypeText, Description: "Name of the executed function"},
	{Name: core.PropTimestampUTC, DataType: store.DataTypeDate, Description: "Start time of the call (UTC)"},
	{Name: core.PropDurationMs, DataType: store.DataTypeNumber, Description: "Wall time of the call in milliseconds"},
	{Name: core.PropStatus, DataType: store.DataTypeText, Description: "SUCCESS or ERROR"},
	{Name: core.PropErrorMessage, DataType: store.DataTypeText, Description: "Error detail and stack for failed calls"},
	{Name: core.PropErrorCode, DataType: store.DataTypeText, Description: "Error code or type of failed calls"},
	{Name: core.PropTraceID, DataType: store.DataTypeText, Description: "Trace the call belongs to"},
	{Name: core.PropSpanID, DataType: store.DataTypeText, Description: "Span of the call"},
	{Name: core.PropParentSpanID, DataType: store.DataTypeText, Description: "Parent span of the call"},
}

// FunctionCollection returns the definition of the function descriptor
// collection: base properties followed by the custom properties.
func FunctionCollection(s *config.Settings, logger *zap.Logger) store.CollectionSpec {
	return store.CollectionSpec{
		Name:                    s.CollectionName,
		Description:             "VectorWave function definitions",
		Properties:              withCustomProperties(functionProperties, s, logger),
		Vectorize:               true,
		VectorizeCollectionName: s.VectorizeCollectionName,
	}
}

// ExecutionCollection returns the definition of the execution log
// collection.
func ExecutionCollection(s *config.Settings, logger *zap.Logger) store.CollectionSpec {
	return store.CollectionSpec{
		Name:                    s.ExecutionCollectionName,
		Description:             "VectorWave function execution logs",
		Properties:              withCustomProperties(executionProperties, s, logger),
		VectorizeCollectionName: s.VectorizeCollectionName,
	}
}

func withCustomProperties(base []store.Property, s *config.Settings, logger *zap.Logger) []store.Property {
	props := make([]store.Property, len(base), len(base)+len(s.CustomProperties))
	copy(props, base)

	taken := make(map[string]bool, len(base))
	for _, p := range base {
		taken[p.Name] = true
	}
	for _, name := range s.CustomPropertyNames() {
		if taken[name] {
			logger.Warn("Custom property shadows a built-in property, skipping", zap.String("property", name))
			continue
		}
		custom := s.CustomProperties[name]
		dt, ok := DataType(custom.DataType)
		if !ok {
			logger.Warn("Unknown custom property data type, using text",
				zap.String("property", name), zap.String("data_type", custom.DataType))
		}
		props = append(props, store.Property{Name: name, DataType: dt, Description: custom.Description})
	}
	return props
}

// DataType maps a data_type from the properties file ("TEXT", "INT",
// "NUMBER", "BOOLEAN", "DATE", "UUID", any case) to a store data type.
// Unknown names map to text with ok false.
func DataType(name string) (store.DataType, bool) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "TEXT", "STRING":
		return store.DataTypeText, true
	case "INT", "INTEGER":
		return store.DataTypeInt, true
	case "NUMBER", "FLOAT":
		return store.DataTypeNumber, true
	case "BOOLEAN", "BOOL":
		return store.DataTypeBoolean, true
	case "DATE":
		return store.DataTypeDate, true
	case "UUID":
		return store.DataTypeUUID, true
	}
	return store.DataTypeText, false
}
