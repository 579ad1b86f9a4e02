// Package reason maps failures to stable reason codes with fixed metadata
// and resolves suggested next actions for callers.
package reason

import (
	"errors"
	"strings"

	apperrors "github.com/louisbranch/keystone/internal/errors"
)

// StatusClass groups reason codes by the HTTP status family a transport
// adapter should use when surfacing them.
type StatusClass int

const (
	// StatusClassClientError covers 4xx-family failures.
	StatusClassClientError StatusClass = 4
	// StatusClassServerError covers 5xx-family failures.
	StatusClassServerError StatusClass = 5
)

// Entry is one immutable row of the process-wide reason table.
type Entry struct {
	Code        apperrors.Code
	StatusClass StatusClass
	Retryable   bool
}

// table is the static reason table. Entries are never mutated at runtime.
var table = map[apperrors.Code]Entry{
	apperrors.CodePermissionDenied:  {Code: apperrors.CodePermissionDenied, StatusClass: StatusClassClientError, Retryable: false},
	apperrors.CodeNotFound:          {Code: apperrors.CodeNotFound, StatusClass: StatusClassClientError, Retryable: false},
	apperrors.CodeInvalidID:         {Code: apperrors.CodeInvalidID, StatusClass: StatusClassClientError, Retryable: false},
	apperrors.CodeUnsupportedSource: {Code: apperrors.CodeUnsupportedSource, StatusClass: StatusClassClientError, Retryable: false},
	apperrors.CodeUserError:         {Code: apperrors.CodeUserError, StatusClass: StatusClassClientError, Retryable: false},
	apperrors.CodeUnknownIntent:     {Code: apperrors.CodeUnknownIntent, StatusClass: StatusClassClientError, Retryable: false},
	apperrors.CodeInternal:          {Code: apperrors.CodeInternal, StatusClass: StatusClassServerError, Retryable: true},
}

// legacyPatterns preserves the historical message-substring refinement of
// generic validation failures. It is consulted only for errors that carry no
// domain code, kept as data so exact parity with existing clients survives
// the move to structured errors.
var legacyPatterns = []struct {
	substring string
	code      apperrors.Code
}{
	{substring: "invalid id", code: apperrors.CodeInvalidID},
	{substring: "unsupported source", code: apperrors.CodeUnsupportedSource},
}

// Classify maps any error to exactly one reason entry. The mapping is total
// and deterministic: the same error shape always yields the same code.
func Classify(err error) Entry {
	if err == nil {
		return table[apperrors.CodeInternal]
	}

	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return classifyCode(appErr.Code)
	}

	message := strings.ToLower(err.Error())
	for _, pattern := range legacyPatterns {
		if strings.Contains(message, pattern.substring) {
			return table[pattern.code]
		}
	}

	return table[apperrors.CodeInternal]
}

// classifyCode folds the full domain code space onto the reason table.
func classifyCode(code apperrors.Code) Entry {
	if entry, ok := table[code]; ok {
		return entry
	}

	switch code {
	case apperrors.CodeIdentityAssertionInvalid,
		apperrors.CodeIdentityAssertionExpired:
		return table[apperrors.CodePermissionDenied]
	case apperrors.CodeValidation,
		apperrors.CodeCapabilityCodeEmpty,
		apperrors.CodeCapabilityCodeDuplicate,
		apperrors.CodeCapabilityRuleInvalid,
		apperrors.CodeSceneInvalidChannel,
		apperrors.CodeSceneCompanyEmpty,
		apperrors.CodeSceneActorEmpty,
		apperrors.CodeSceneNoPriorChannel,
		apperrors.CodeScenePackageNameEmpty,
		apperrors.CodeScenePackageVersionEmpty,
		apperrors.CodeScenePackageChecksumEmpty,
		apperrors.CodeScenePackageActiveConflict,
		apperrors.CodeScenePackageChecksumInvalid:
		return table[apperrors.CodeUserError]
	default:
		return table[apperrors.CodeInternal]
	}
}

// Lookup returns the reason entry for a code, falling back to the internal
// entry for codes outside the table.
func Lookup(code apperrors.Code) Entry {
	return classifyCode(code)
}
