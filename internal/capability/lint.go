package capability

import (
	"fmt"
	"sort"
	"strings"

	"github.com/louisbranch/keystone/internal/identity"
)

// identityProbe is a throwaway identity used to check whether a projection
// attribute name resolves at all.
var identityProbe = identity.Identity{}

// Problem is one lint finding for a capability configuration.
type Problem struct {
	Code    string
	Problem string
}

// Lint statically walks all active capabilities and reports configuration
// defects: duplicate or empty codes, projections referencing undefined
// attributes, rule references that are unknown or circular, and rules that
// can never evaluate true for any identity shape. A healthy configuration
// returns an empty result; the CI lint gate fails the build otherwise.
func (s *Set) Lint() []Problem {
	if s == nil {
		return nil
	}

	var problems []Problem
	seen := make(map[string]bool, len(s.capabilities))

	for _, c := range s.capabilities {
		code := strings.TrimSpace(c.Code)
		if code == "" {
			problems = append(problems, Problem{Code: code, Problem: "capability code is empty"})
			continue
		}
		if seen[code] {
			problems = append(problems, Problem{Code: code, Problem: "capability code is duplicated"})
			continue
		}
		seen[code] = true

		if !c.Active {
			continue
		}

		for _, ref := range c.Projection.references() {
			if !knownAttribute(ref) {
				problems = append(problems, Problem{
					Code:    code,
					Problem: fmt.Sprintf("projection references undefined attribute %q", ref),
				})
			}
		}

		problems = append(problems, s.lintRule(code, c.Rule, map[string]bool{code: true})...)
	}

	sort.Slice(problems, func(i, j int) bool {
		if problems[i].Code != problems[j].Code {
			return problems[i].Code < problems[j].Code
		}
		return problems[i].Problem < problems[j].Problem
	})
	return problems
}

// lintRule reports structural and satisfiability defects for one rule tree.
// The satisfiability check covers the detectable subset: empty role sets,
// empty flag or company operands, and conjunctions demanding two different
// companies at once.
func (s *Set) lintRule(code string, rule Rule, visited map[string]bool) []Problem {
	var problems []Problem
	switch r := rule.(type) {
	case nil:
		// no rule: authenticated-only default, always satisfiable
	case RoleIn:
		if len(r.Roles) == 0 {
			problems = append(problems, Problem{Code: code, Problem: "role_in rule has an empty role set and can never pass"})
		}
		for _, role := range r.Roles {
			if strings.TrimSpace(role) == "" {
				problems = append(problems, Problem{Code: code, Problem: "role_in rule contains an empty role"})
			}
		}
	case CompanyIs:
		if strings.TrimSpace(r.Company) == "" {
			problems = append(problems, Problem{Code: code, Problem: "company_is rule has an empty company and can never pass"})
		}
	case FlagTrue:
		if strings.TrimSpace(r.Flag) == "" {
			problems = append(problems, Problem{Code: code, Problem: "flag_true rule has an empty flag name and can never pass"})
		}
	case All:
		companies := make(map[string]bool)
		for _, child := range r.Rules {
			if companyRule, ok := child.(CompanyIs); ok {
				companies[companyRule.Company] = true
			}
			problems = append(problems, s.lintRule(code, child, visited)...)
		}
		if len(companies) > 1 {
			problems = append(problems, Problem{Code: code, Problem: "all rule requires two different companies and can never pass"})
		}
	case SameAs:
		target := strings.TrimSpace(r.Code)
		if visited[target] {
			problems = append(problems, Problem{Code: code, Problem: fmt.Sprintf("rule reference to %q is circular", target)})
			return problems
		}
		targetCapability, ok := s.byCode[target]
		if !ok {
			problems = append(problems, Problem{Code: code, Problem: fmt.Sprintf("rule references unknown capability %q", target)})
			return problems
		}
		visited[target] = true
		problems = append(problems, s.lintRule(code, targetCapability.Rule, visited)...)
	default:
		problems = append(problems, Problem{Code: code, Problem: "rule variant is unknown"})
	}
	return problems
}

func knownAttribute(name string) bool {
	_, ok := attributeValue(name, identityProbe)
	return ok
}
