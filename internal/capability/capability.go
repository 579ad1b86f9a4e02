// Package capability implements the authorization units evaluated for every
// dispatched intent and for client menu construction.
//
// A capability pairs a visibility rule (a small closed set of typed
// predicates, see rule.go) with a client-safe projection. Capabilities are
// administrator-managed records; evaluation is per-request and stateless, so
// concurrent requests share nothing mutable.
package capability

import (
	"sort"
	"strings"

	apperrors "github.com/louisbranch/keystone/internal/errors"
	"github.com/louisbranch/keystone/internal/identity"
)

// Capability is one named authorization unit.
type Capability struct {
	Code       string
	Sequence   int
	Active     bool
	Rule       Rule
	Projection Projection
}

// Visible is the client-safe representation of a capability that passed its
// visibility rule for an identity.
type Visible struct {
	Code     string
	Label    string
	Metadata map[string]string
}

// EvalIssue records an isolated evaluation failure for one capability.
// Issues are reported to the caller for telemetry but never abort evaluation
// of sibling capabilities.
type EvalIssue struct {
	Code string
	Err  error
}

// Set is an immutable snapshot of the capability configuration used for one
// request. Build it once from records, then evaluate freely.
type Set struct {
	capabilities []Capability
	byCode       map[string]Capability
}

// NewSet builds a set from capability definitions. Definitions are accepted
// as-is; configuration problems are surfaced by Lint, not here, so a broken
// capability can never block startup of the healthy rest.
func NewSet(capabilities []Capability) *Set {
	set := &Set{
		capabilities: make([]Capability, 0, len(capabilities)),
		byCode:       make(map[string]Capability, len(capabilities)),
	}
	for _, c := range capabilities {
		c.Code = strings.TrimSpace(c.Code)
		set.capabilities = append(set.capabilities, c)
		if c.Code == "" {
			continue
		}
		if _, exists := set.byCode[c.Code]; exists {
			// First definition wins; the duplicate is a lint finding.
			continue
		}
		set.byCode[c.Code] = c
	}
	return set
}

// Allows reports whether the identity passes the named capability's rule.
// Unknown or inactive capabilities deny.
func (s *Set) Allows(code string, id identity.Identity) bool {
	if s == nil {
		return false
	}
	c, ok := s.byCode[strings.TrimSpace(code)]
	if !ok || !c.Active {
		return false
	}
	allowed, err := s.safeEval(c.Rule, id)
	if err != nil {
		return false
	}
	return allowed
}

// ListVisible evaluates every active capability against the identity and
// returns projections for those that pass, ordered by sequence then code.
// A failure evaluating one capability is recorded and skipped; it never
// aborts the evaluation of the others.
func (s *Set) ListVisible(id identity.Identity) ([]Visible, []EvalIssue) {
	if s == nil {
		return nil, nil
	}

	ordered := make([]Capability, 0, len(s.capabilities))
	for _, c := range s.capabilities {
		if c.Active && c.Code != "" {
			ordered = append(ordered, c)
		}
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Sequence != ordered[j].Sequence {
			return ordered[i].Sequence < ordered[j].Sequence
		}
		return ordered[i].Code < ordered[j].Code
	})

	visible := make([]Visible, 0, len(ordered))
	var issues []EvalIssue
	for _, c := range ordered {
		passed, err := s.safeEval(c.Rule, id)
		if err != nil {
			issues = append(issues, EvalIssue{Code: c.Code, Err: err})
			continue
		}
		if !passed {
			continue
		}
		projected, err := c.Projection.render(id)
		if err != nil {
			issues = append(issues, EvalIssue{Code: c.Code, Err: err})
			continue
		}
		projected.Code = c.Code
		visible = append(visible, projected)
	}
	return visible, issues
}

// safeEval evaluates a rule with panic isolation so one pathological
// capability cannot take down the request.
func (s *Set) safeEval(rule Rule, id identity.Identity) (allowed bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			allowed = false
			err = apperrors.WithMetadata(apperrors.CodeCapabilityRuleInvalid,
				"capability rule evaluation panicked",
				map[string]string{"Panic": panicString(r)})
		}
	}()
	return s.eval(rule, id, nil)
}
