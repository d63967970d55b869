package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/syncmap/internal/value"
)

// marshalFields converts a field map to canonical JSON TEXT for storage.
func marshalFields(fields value.Map) (string, error) {
	if fields == nil {
		fields = value.Map{}
	}
	data, err := value.MarshalCanonical(fields)
	if err != nil {
		return "", fmt.Errorf("marshal fields: %w", err)
	}
	return string(data), nil
}

// unmarshalFields parses stored JSON TEXT back into a field map.
// Integers are decoded through json.Number, so values > 2^53 survive.
func unmarshalFields(data string) (value.Map, error) {
	if data == "" || data == "{}" {
		return value.Map{}, nil
	}
	var m value.Map
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, fmt.Errorf("unmarshal fields: %w", err)
	}
	return m, nil
}
