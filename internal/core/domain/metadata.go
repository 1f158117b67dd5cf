package domain

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/mohae/deepcopy"
)

// Metadata is the open, schema-less metadata document of an asset.
// Values are restricted to JSON kinds: string, float64, bool, nil,
// []any and map[string]any.
type Metadata map[string]any

// NormalizeMetadata converts arbitrary Go values into the JSON value kinds
// accepted by Metadata. Integers become float64, typed slices become []any.
func NormalizeMetadata(raw map[string]any) (Metadata, error) {
	if raw == nil {
		return Metadata{}, nil
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, WrapError(ErrInvalidInput, "normalize metadata", err)
	}
	out := Metadata{}
	if err := json.Unmarshal(encoded, &out); err != nil {
		return nil, WrapError(ErrInvalidInput, "normalize metadata", err)
	}
	return out, nil
}

// ParseMetadata decodes a JSON object. An empty payload yields empty metadata.
func ParseMetadata(raw []byte) (Metadata, error) {
	if len(raw) == 0 {
		return Metadata{}, nil
	}
	out := Metadata{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, WrapError(ErrInvalidInput, "parse metadata", fmt.Errorf("metadata must be a JSON object: %w", err))
	}
	if out == nil {
		out = Metadata{}
	}
	return out, nil
}

// Clone returns a deep copy so stored state is never aliased by callers.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return Metadata{}
	}
	copied, ok := deepcopy.Copy(map[string]any(m)).(map[string]any)
	if !ok || copied == nil {
		return Metadata{}
	}
	return Metadata(copied)
}

// Merge applies patch with top-level key granularity: patch keys replace
// existing keys, keys absent from patch are left untouched.
func (m Metadata) Merge(patch Metadata) Metadata {
	out := m.Clone()
	for key, value := range patch.Clone() {
		out[key] = value
	}
	return out
}

// Keys returns the top-level keys in sorted order.
func (m Metadata) Keys() []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (m Metadata) String(key string) string {
	value, _ := m[key].(string)
	return value
}

func (m Metadata) Number(key string) (float64, bool) {
	value, ok := m[key].(float64)
	return value, ok
}

// StringList reads a list of strings, skipping non-string elements.
func (m Metadata) StringList(key string) []string {
	raw, ok := m[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Encode renders the document as a JSON object, never null.
func (m Metadata) Encode() ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]any(m))
}
