package capability

import (
	"regexp"
	"strings"

	apperrors "github.com/louisbranch/keystone/internal/errors"
	"github.com/louisbranch/keystone/internal/identity"
)

// Projection is the declarative client-safe representation of a capability.
// Label and metadata values may reference identity attributes with {name}
// placeholders; the reference set is closed so Lint can verify every
// projection renders without raising for any identity shape.
type Projection struct {
	Label    string            `json:"label"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// placeholderPattern matches {attr} and {flag:name} references.
var placeholderPattern = regexp.MustCompile(`\{([a-z_]+(?::[a-z0-9_]+)?)\}`)

// attributeValue resolves a placeholder name against an identity. The
// second return value reports whether the attribute is defined.
func attributeValue(name string, id identity.Identity) (string, bool) {
	switch name {
	case "user_id":
		return id.UserID, true
	case "company":
		return id.Company, true
	case "roles":
		return strings.Join(id.Roles, ","), true
	}
	if flag, ok := strings.CutPrefix(name, "flag:"); ok {
		if id.FlagEnabled(flag) {
			return "true", true
		}
		return "false", true
	}
	return "", false
}

// render substitutes identity attributes into the projection. Undefined
// references fail the render; Lint reports them before they can reach a
// request.
func (p Projection) render(id identity.Identity) (Visible, error) {
	label, err := substitute(p.Label, id)
	if err != nil {
		return Visible{}, err
	}
	out := Visible{Label: label}
	if len(p.Metadata) > 0 {
		out.Metadata = make(map[string]string, len(p.Metadata))
		for key, value := range p.Metadata {
			rendered, err := substitute(value, id)
			if err != nil {
				return Visible{}, err
			}
			out.Metadata[key] = rendered
		}
	}
	return out, nil
}

func substitute(value string, id identity.Identity) (string, error) {
	var undefined string
	rendered := placeholderPattern.ReplaceAllStringFunc(value, func(match string) string {
		name := strings.Trim(match, "{}")
		resolved, ok := attributeValue(name, id)
		if !ok {
			undefined = name
			return match
		}
		return resolved
	})
	if undefined != "" {
		return "", apperrors.WithMetadata(apperrors.CodeCapabilityRuleInvalid,
			"projection references undefined attribute",
			map[string]string{"Attribute": undefined})
	}
	return rendered, nil
}

// references returns every placeholder name used by the projection.
func (p Projection) references() []string {
	var refs []string
	collect := func(value string) {
		for _, match := range placeholderPattern.FindAllStringSubmatch(value, -1) {
			refs = append(refs, match[1])
		}
	}
	collect(p.Label)
	for _, value := range p.Metadata {
		collect(value)
	}
	return refs
}
