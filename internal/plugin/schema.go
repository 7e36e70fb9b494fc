package plugin

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/yairfalse/vigil/types"
)

// ErrInvalidEvent wraps every schema or decode failure from Decode.
var ErrInvalidEvent = errors.New("invalid event")

const eventSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["event_type", "source_system"],
  "properties": {
    "event_id":       {"type": "string", "maxLength": 128},
    "correlation_id": {"type": "string", "maxLength": 128},
    "timestamp":      {"type": "string", "format": "date-time"},
    "event_type":     {"type": "string", "minLength": 1, "maxLength": 256},
    "source_system":  {"type": "string", "minLength": 1, "maxLength": 256},
    "severity":       {"type": "string"},
    "domain":         {"type": "string"},
    "actor_id":       {"type": "string", "maxLength": 256},
    "resource_id":    {"type": "string", "maxLength": 512},
    "payload":        {"type": "object"},
    "metadata":       {"type": "object", "additionalProperties": {"type": "string"}},
    "tags":           {"type": "array", "items": {"type": "string"}, "maxItems": 64}
  }
}`

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

func eventSchemaValidator() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(eventSchema))
	})
	return schema, schemaErr
}

// Decode checks raw JSON against the event wire schema and decodes it.
func Decode(raw []byte) (types.EventInput, error) {
	var in types.EventInput

	s, err := eventSchemaValidator()
	if err != nil {
		return in, fmt.Errorf("failed to load event schema: %w", err)
	}

	result, err := s.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return in, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return in, fmt.Errorf("%w: %s", ErrInvalidEvent, strings.Join(msgs, "; "))
	}

	if err := json.Unmarshal(raw, &in); err != nil {
		return in, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return in, nil
}
