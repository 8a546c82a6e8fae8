package logger

import (
	"strings"

	"go.uber.org/zap"
)

const (
	// FieldProvider is the structured log field key for the LLM or embedding provider.
	FieldProvider = "llm_provider"
	// FieldModel is the structured log field key for the model identifier.
	FieldModel = "llm_model"
	// FieldEntity is the structured log field key for the entity kind being resolved.
	FieldEntity = "entity"
	// FieldSource is the structured log field key for the career-site source name.
	FieldSource = "source"
)

// StringField describes a string-valued structured logging field.
type StringField struct {
	Key   string
	Value string
}

// StringFields converts the provided key/value pairs into zap fields, trimming
// whitespace and omitting entries with empty keys or values.
func StringFields(fields ...StringField) []zap.Field {
	result := make([]zap.Field, 0, len(fields))
	for _, field := range fields {
		key := strings.TrimSpace(field.Key)
		if key == "" {
			continue
		}

		value := strings.TrimSpace(field.Value)
		if value == "" {
			continue
		}

		result = append(result, zap.String(key, value))
	}

	return result
}

// WithFields attaches the provided fields to the logger.
// A nil logger becomes a no-op logger.
func WithFields(logger *zap.Logger, fields ...zap.Field) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}

	if len(fields) == 0 {
		return logger
	}

	return logger.With(fields...)
}

// ProviderFields describes the provider and model behind an LLM or embedding call.
func ProviderFields(provider, model string) []zap.Field {
	return StringFields(
		StringField{Key: FieldProvider, Value: provider},
		StringField{Key: FieldModel, Value: model},
	)
}

// WithProvider attaches provider and model fields to the logger.
func WithProvider(logger *zap.Logger, provider, model string) *zap.Logger {
	return WithFields(logger, ProviderFields(provider, model)...)
}

// ForEntity returns a named child logger tagged with the entity kind.
func ForEntity(logger *zap.Logger, component, kind string) *zap.Logger {
	logger = WithFields(logger, StringFields(StringField{Key: FieldEntity, Value: kind})...)
	if component != "" {
		logger = logger.Named(component)
	}
	return logger
}

// ForSource tags the logger with a career-site source name.
func ForSource(logger *zap.Logger, source string) *zap.Logger {
	return WithFields(logger, StringFields(StringField{Key: FieldSource, Value: source})...)
}
