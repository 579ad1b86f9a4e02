package capability

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Spec is the declarative wire form of a capability, shared by the record
// store and scene package export/import.
type Spec struct {
	Code       string          `json:"code"`
	Sequence   int             `json:"sequence"`
	Active     bool            `json:"active"`
	Rule       json.RawMessage `json:"rule,omitempty"`
	Projection Projection      `json:"projection"`
}

// Capability decodes the spec into an evaluable capability.
func (s Spec) Capability() (Capability, error) {
	rule, err := UnmarshalRule(s.Rule)
	if err != nil {
		return Capability{}, fmt.Errorf("capability %s: %w", s.Code, err)
	}
	return Capability{
		Code:       strings.TrimSpace(s.Code),
		Sequence:   s.Sequence,
		Active:     s.Active,
		Rule:       rule,
		Projection: s.Projection,
	}, nil
}

// SpecOf encodes a capability into its wire form.
func SpecOf(c Capability) (Spec, error) {
	rule, err := MarshalRule(c.Rule)
	if err != nil {
		return Spec{}, fmt.Errorf("capability %s: %w", c.Code, err)
	}
	if string(rule) == "null" {
		rule = nil
	}
	return Spec{
		Code:       c.Code,
		Sequence:   c.Sequence,
		Active:     c.Active,
		Rule:       rule,
		Projection: c.Projection,
	}, nil
}

// FromSpecs decodes a list of specs into a set. Specs that fail to decode are
// skipped; the returned errors identify them for telemetry. Decoding is
// forgiving for the same reason Lint exists: one broken record must not take
// the whole configuration offline.
func FromSpecs(specs []Spec) (*Set, []error) {
	capabilities := make([]Capability, 0, len(specs))
	var errs []error
	for _, spec := range specs {
		c, err := spec.Capability()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		capabilities = append(capabilities, c)
	}
	return NewSet(capabilities), errs
}
