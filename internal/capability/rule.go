package capability

import (
	"encoding/json"
	"fmt"
	"strings"

	apperrors "github.com/louisbranch/keystone/internal/errors"
	"github.com/louisbranch/keystone/internal/identity"
)

// Rule is a visibility predicate over an identity. The variant set is closed:
// rules are data, evaluated by the interpreter below, so administrator-edited
// configuration can never smuggle arbitrary evaluation into a request.
type Rule interface {
	kind() string
}

// RoleIn passes when the identity holds at least one of the listed roles.
type RoleIn struct {
	Roles []string `json:"roles"`
}

// CompanyIs passes when the identity belongs to the given company.
type CompanyIs struct {
	Company string `json:"company"`
}

// FlagTrue passes when the named identity flag is set.
type FlagTrue struct {
	Flag string `json:"flag"`
}

// All passes when every child rule passes. An empty All always passes.
type All struct {
	Rules []Rule `json:"rules"`
}

// SameAs delegates to the rule of another capability, letting related
// capabilities share one source of truth. Lint rejects reference cycles.
type SameAs struct {
	Code string `json:"code"`
}

func (RoleIn) kind() string    { return "role_in" }
func (CompanyIs) kind() string { return "company_is" }
func (FlagTrue) kind() string  { return "flag_true" }
func (All) kind() string       { return "all" }
func (SameAs) kind() string    { return "same_as" }

// eval interprets a rule for an identity. visited guards SameAs cycles: a
// repeated code means the configuration is circular, which is an evaluation
// error (and a lint finding), never an infinite loop.
func (s *Set) eval(rule Rule, id identity.Identity, visited map[string]bool) (bool, error) {
	switch r := rule.(type) {
	case nil:
		// No rule means the capability is visible to any authenticated caller.
		return id.Authenticated, nil
	case RoleIn:
		for _, role := range r.Roles {
			if id.HasRole(role) {
				return true, nil
			}
		}
		return false, nil
	case CompanyIs:
		return id.Company != "" && id.Company == r.Company, nil
	case FlagTrue:
		return id.FlagEnabled(r.Flag), nil
	case All:
		for _, child := range r.Rules {
			passed, err := s.eval(child, id, visited)
			if err != nil {
				return false, err
			}
			if !passed {
				return false, nil
			}
		}
		return true, nil
	case SameAs:
		code := strings.TrimSpace(r.Code)
		if visited[code] {
			return false, apperrors.WithMetadata(apperrors.CodeCapabilityRuleInvalid,
				"capability rule reference is circular",
				map[string]string{"Capability": code})
		}
		target, ok := s.byCode[code]
		if !ok {
			return false, apperrors.WithMetadata(apperrors.CodeCapabilityRuleInvalid,
				"capability rule references unknown capability",
				map[string]string{"Capability": code})
		}
		if visited == nil {
			visited = make(map[string]bool)
		}
		visited[code] = true
		return s.eval(target.Rule, id, visited)
	default:
		return false, apperrors.New(apperrors.CodeCapabilityRuleInvalid, "capability rule variant is unknown")
	}
}

// ruleEnvelope is the tagged wire form of a rule.
type ruleEnvelope struct {
	Kind    string            `json:"kind"`
	Roles   []string          `json:"roles,omitempty"`
	Company string            `json:"company,omitempty"`
	Flag    string            `json:"flag,omitempty"`
	Code    string            `json:"code,omitempty"`
	Rules   []json.RawMessage `json:"rules,omitempty"`
}

// MarshalRule encodes a rule as its tagged JSON form for storage and package
// export. A nil rule encodes as JSON null.
func MarshalRule(rule Rule) ([]byte, error) {
	if rule == nil {
		return []byte("null"), nil
	}
	env := ruleEnvelope{Kind: rule.kind()}
	switch r := rule.(type) {
	case RoleIn:
		env.Roles = r.Roles
	case CompanyIs:
		env.Company = r.Company
	case FlagTrue:
		env.Flag = r.Flag
	case SameAs:
		env.Code = r.Code
	case All:
		env.Rules = make([]json.RawMessage, 0, len(r.Rules))
		for _, child := range r.Rules {
			encoded, err := MarshalRule(child)
			if err != nil {
				return nil, err
			}
			env.Rules = append(env.Rules, encoded)
		}
	default:
		return nil, fmt.Errorf("unsupported rule variant %q", rule.kind())
	}
	return json.Marshal(env)
}

// UnmarshalRule decodes a tagged JSON rule. JSON null decodes as a nil rule.
func UnmarshalRule(data []byte) (Rule, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	var env ruleEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode rule: %w", err)
	}
	switch env.Kind {
	case "role_in":
		return RoleIn{Roles: env.Roles}, nil
	case "company_is":
		return CompanyIs{Company: env.Company}, nil
	case "flag_true":
		return FlagTrue{Flag: env.Flag}, nil
	case "same_as":
		return SameAs{Code: env.Code}, nil
	case "all":
		children := make([]Rule, 0, len(env.Rules))
		for _, raw := range env.Rules {
			child, err := UnmarshalRule(raw)
			if err != nil {
				return nil, err
			}
			if child != nil {
				children = append(children, child)
			}
		}
		return All{Rules: children}, nil
	default:
		return nil, fmt.Errorf("unknown rule kind %q", env.Kind)
	}
}

func panicString(v any) string {
	return fmt.Sprintf("%v", v)
}
