// Package contract sanitizes handler payloads before they cross the server
// boundary and provides the content fingerprinting used for conditional
// responses.
//
// A contract payload is the {views, model, permissions, actions} tree a
// handler assembles for one request. It is never persisted; normalization
// only reshapes it so clients always see a stable, safe structure.
package contract

import (
	"regexp"
	"sync/atomic"
)

// Top-level payload fields and their expected container kinds.
const (
	FieldViews       = "views"
	FieldModel       = "model"
	FieldPermissions = "permissions"
	FieldActions     = "actions"
)

// listFields are declared as lists; scalar values are wrapped.
var listFields = map[string]bool{FieldViews: true, FieldActions: true}

// mapFields are declared as maps; lists of pairs are converted.
var mapFields = map[string]bool{FieldModel: true, FieldPermissions: true}

// denyPattern matches internal field names that must never leave the server,
// at any nesting depth.
var denyPattern = regexp.MustCompile(`(?i)^(_.*|.*(_secret|_token|_internal|_private)|password|secret|api_key)$`)

// Normalizer applies the sanitization pipeline. The zero value is enabled;
// Disable exists for debugging and flips the pipeline into pass-through.
type Normalizer struct {
	disabled atomic.Bool
}

// NewNormalizer returns an enabled normalizer.
func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// SetEnabled toggles the pipeline at runtime.
func (n *Normalizer) SetEnabled(enabled bool) {
	n.disabled.Store(!enabled)
}

// Enabled reports whether the pipeline is active.
func (n *Normalizer) Enabled() bool {
	return !n.disabled.Load()
}

// Normalize returns a sanitized copy of the payload. It is pure and
// idempotent: the input is never mutated and re-normalizing an already
// normalized payload is a no-op. It never fails; a subtree that cannot be
// made safe is dropped rather than failing the whole payload.
func (n *Normalizer) Normalize(payload map[string]any) map[string]any {
	if n != nil && n.disabled.Load() {
		return payload
	}

	out := make(map[string]any, len(payload)+4)
	for key, value := range payload {
		if denyPattern.MatchString(key) {
			continue
		}
		coerced := coerceTopLevel(key, value)
		sanitized, ok := sanitize(coerced)
		if !ok {
			continue
		}
		out[key] = sanitized
	}

	// Structural backfill: every declared field exists with an empty
	// container, never null.
	for field := range listFields {
		if _, ok := out[field]; !ok {
			out[field] = []any{}
		}
	}
	for field := range mapFields {
		if _, ok := out[field]; !ok {
			out[field] = map[string]any{}
		}
	}
	return out
}

// coerceTopLevel reshapes a declared field to its expected container kind.
func coerceTopLevel(key string, value any) any {
	switch {
	case listFields[key]:
		switch v := value.(type) {
		case nil:
			return []any{}
		case []any:
			return v
		default:
			// Scalar delivered where a list is declared.
			return []any{v}
		}
	case mapFields[key]:
		switch v := value.(type) {
		case nil:
			return map[string]any{}
		case map[string]any:
			return v
		case []any:
			if converted, ok := pairsToMap(v); ok {
				return converted
			}
			return map[string]any{}
		default:
			return map[string]any{}
		}
	default:
		return value
	}
}

// pairsToMap converts a list of [key, value] pairs (or {key, value} objects)
// into a map. It reports false when the list is not pair-shaped.
func pairsToMap(list []any) (map[string]any, bool) {
	out := make(map[string]any, len(list))
	for _, element := range list {
		switch pair := element.(type) {
		case []any:
			if len(pair) != 2 {
				return nil, false
			}
			key, ok := pair[0].(string)
			if !ok {
				return nil, false
			}
			out[key] = pair[1]
		case map[string]any:
			key, keyOK := pair["key"].(string)
			if !keyOK || len(pair) != 2 {
				return nil, false
			}
			value, valueOK := pair["value"]
			if !valueOK {
				return nil, false
			}
			out[key] = value
		default:
			return nil, false
		}
	}
	return out, true
}

// sanitize deep-copies a value, clipping denied keys, replacing null leaves
// with type-appropriate defaults, and dropping values it cannot represent
// safely. The second return value reports whether the value survived.
func sanitize(value any) (any, bool) {
	switch v := value.(type) {
	case nil:
		// Null leaves become empty strings rather than propagating null.
		return "", true
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, child := range v {
			if denyPattern.MatchString(key) {
				continue
			}
			sanitized, ok := sanitize(child)
			if !ok {
				continue
			}
			out[key] = sanitized
		}
		return out, true
	case []any:
		out := make([]any, 0, len(v))
		for _, child := range v {
			sanitized, ok := sanitize(child)
			if !ok {
				continue
			}
			out = append(out, sanitized)
		}
		return out, true
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return v, true
	default:
		// Unsupported value kind: degrade by dropping the subtree.
		return nil, false
	}
}
