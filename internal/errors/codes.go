package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Dispatch errors
	CodePermissionDenied Code = "PERMISSION_DENIED"
	CodeUnknownIntent    Code = "UNKNOWN_INTENT"
	CodeDuplicateIntent  Code = "DUPLICATE_INTENT"
	CodeInternal         Code = "INTERNAL_ERROR"

	// Validation errors
	CodeValidation        Code = "VALIDATION_ERROR"
	CodeInvalidID         Code = "INVALID_ID"
	CodeUnsupportedSource Code = "UNSUPPORTED_SOURCE"
	CodeUserError         Code = "USER_ERROR"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"

	// Identity errors
	CodeIdentityAssertionInvalid Code = "IDENTITY_ASSERTION_INVALID"
	CodeIdentityAssertionExpired Code = "IDENTITY_ASSERTION_EXPIRED"

	// Capability errors
	CodeCapabilityCodeEmpty     Code = "CAPABILITY_CODE_EMPTY"
	CodeCapabilityCodeDuplicate Code = "CAPABILITY_CODE_DUPLICATE"
	CodeCapabilityRuleInvalid   Code = "CAPABILITY_RULE_INVALID"

	// Scene governance errors
	CodeSceneInvalidChannel         Code = "SCENE_INVALID_CHANNEL"
	CodeSceneCompanyEmpty           Code = "SCENE_COMPANY_EMPTY"
	CodeSceneActorEmpty             Code = "SCENE_ACTOR_EMPTY"
	CodeSceneNoPriorChannel         Code = "SCENE_NO_PRIOR_CHANNEL"
	CodeScenePackageNameEmpty       Code = "SCENE_PACKAGE_NAME_EMPTY"
	CodeScenePackageVersionEmpty    Code = "SCENE_PACKAGE_VERSION_EMPTY"
	CodeScenePackageChecksumEmpty   Code = "SCENE_PACKAGE_CHECKSUM_EMPTY"
	CodeScenePackageActiveConflict  Code = "SCENE_PACKAGE_ACTIVE_CONFLICT"
	CodeScenePackageChecksumInvalid Code = "SCENE_PACKAGE_CHECKSUM_INVALID"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeValidation,
		CodeInvalidID,
		CodeUnsupportedSource,
		CodeUserError,
		CodeCapabilityCodeEmpty,
		CodeCapabilityCodeDuplicate,
		CodeCapabilityRuleInvalid,
		CodeSceneInvalidChannel,
		CodeSceneCompanyEmpty,
		CodeSceneActorEmpty,
		CodeScenePackageNameEmpty,
		CodeScenePackageVersionEmpty,
		CodeScenePackageChecksumEmpty,
		CodeScenePackageChecksumInvalid:
		return codes.InvalidArgument

	// FailedPrecondition - state doesn't allow the operation
	case CodeDuplicateIntent,
		CodeSceneNoPriorChannel,
		CodeScenePackageActiveConflict:
		return codes.FailedPrecondition

	// PermissionDenied - authorization failures
	case CodePermissionDenied:
		return codes.PermissionDenied

	// Unauthenticated - identity assertion failures
	case CodeIdentityAssertionInvalid,
		CodeIdentityAssertionExpired:
		return codes.Unauthenticated

	// NotFound - resource doesn't exist
	case CodeNotFound,
		CodeUnknownIntent:
		return codes.NotFound

	default:
		return codes.Internal
	}
}

