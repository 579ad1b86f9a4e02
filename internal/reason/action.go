package reason

import (
	"bytes"
	"strings"
	"text/template"

	apperrors "github.com/louisbranch/keystone/internal/errors"
)

// WorkflowState names the caller's position in a domain workflow. Suggested
// actions vary by state because the right next step for a denied edit differs
// between a draft and a closed record.
type WorkflowState string

const (
	// StateDraft indicates the record is still being assembled.
	StateDraft WorkflowState = "draft"
	// StatePendingApproval indicates the record awaits an approver.
	StatePendingApproval WorkflowState = "pending_approval"
	// StateActive indicates the record is live.
	StateActive WorkflowState = "active"
	// StateClosed indicates the record is finalized.
	StateClosed WorkflowState = "closed"
)

// defaultAction is the fail-closed suggestion for unknown combinations.
const defaultAction = "contact your administrator"

type actionKey struct {
	code  apperrors.Code
	state WorkflowState
}

// actionTable maps (reason code, workflow state) pairs to suggestion
// templates. Templates may reference {{.State}} and {{.Code}}.
var actionTable = map[actionKey]string{
	{apperrors.CodePermissionDenied, StateDraft}:           "ask the record owner to grant you edit access",
	{apperrors.CodePermissionDenied, StatePendingApproval}: "wait for approval or ask an approver to delegate the review",
	{apperrors.CodePermissionDenied, StateActive}:          "request the capability for this operation from your administrator",
	{apperrors.CodePermissionDenied, StateClosed}:          "closed records are read-only; ask an administrator to reopen",
	{apperrors.CodeNotFound, StateDraft}:                   "the draft may have been discarded; refresh the list and retry",
	{apperrors.CodeNotFound, StateActive}:                  "refresh the list; the record may have been archived",
	{apperrors.CodeInvalidID, StateDraft}:                  "check the identifier format before saving the draft",
	{apperrors.CodeInvalidID, StateActive}:                 "check the identifier format and retry",
	{apperrors.CodeUnsupportedSource, StateDraft}:          "convert the source document to a supported format",
	{apperrors.CodeUnsupportedSource, StateActive}:         "convert the source document to a supported format",
	{apperrors.CodeUserError, StateDraft}:                  "review the highlighted fields and resubmit",
	{apperrors.CodeUserError, StatePendingApproval}:        "withdraw the submission, fix the fields, and resubmit",
	{apperrors.CodeInternal, StateDraft}:                   "retry shortly; your draft is preserved",
	{apperrors.CodeInternal, StateActive}:                  "retry shortly; if the {{.State}} record stays unavailable, contact support",
}

// SuggestedAction resolves the recommended next step for a reason code in a
// workflow state. Unknown combinations fail closed to a generic suggestion,
// never to an empty string.
func SuggestedAction(code apperrors.Code, state WorkflowState) string {
	normalized := WorkflowState(strings.TrimSpace(string(state)))

	tmpl, ok := actionTable[actionKey{code: code, state: normalized}]
	if !ok {
		return defaultAction
	}

	parsed, err := template.New("action").Parse(tmpl)
	if err != nil {
		return defaultAction
	}
	var buf bytes.Buffer
	err = parsed.Execute(&buf, struct {
		Code  string
		State string
	}{Code: string(code), State: string(normalized)})
	if err != nil || strings.TrimSpace(buf.String()) == "" {
		return defaultAction
	}
	return buf.String()
}
