package intent

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/louisbranch/keystone/internal/capability"
	"github.com/louisbranch/keystone/internal/contract"
	apperrors "github.com/louisbranch/keystone/internal/errors"
	"github.com/louisbranch/keystone/internal/identity"
	"github.com/louisbranch/keystone/internal/reason"
)

// Status classifies the outcome of one dispatch.
type Status string

const (
	// StatusOK indicates the handler ran and produced a normalized body.
	StatusOK Status = "ok"
	// StatusNotModified indicates the body fingerprint matched the caller's
	// etag, so no body is returned.
	StatusNotModified Status = "not_modified"
	// StatusError indicates a classified failure envelope.
	StatusError Status = "error"
)

// Request is one inbound intent call.
type Request struct {
	Type          string
	Version       string
	Params        map[string]any
	Identity      identity.Identity
	IfNoneMatch   string
	WorkflowState reason.WorkflowState
}

// ErrorEnvelope is the structured failure surface of a dispatch. Clients
// branch on ReasonCode; Message is informational only.
type ErrorEnvelope struct {
	ReasonCode      apperrors.Code
	Message         string
	SuggestedAction string
}

// Response is the outcome of one dispatch.
type Response struct {
	Status Status
	Body   map[string]any
	ETag   string
	Meta   map[string]string
	Error  *ErrorEnvelope
}

// Dispatcher resolves, authorizes, executes, and normalizes intents. It is
// read-only with respect to domain data; all writes belong to handlers.
type Dispatcher struct {
	registry   *Registry
	caps       *capability.Set
	normalizer *contract.Normalizer
	tracer     trace.Tracer
}

// NewDispatcher wires a dispatcher over a registry, a capability snapshot,
// and a normalizer.
func NewDispatcher(registry *Registry, caps *capability.Set, normalizer *contract.Normalizer) *Dispatcher {
	return &Dispatcher{
		registry:   registry,
		caps:       caps,
		normalizer: normalizer,
		tracer:     otel.Tracer("github.com/louisbranch/keystone/internal/intent"),
	}
}

// Dispatch runs one intent call end to end. Failures never escape as raw
// errors: every path returns a response, with failures classified into a
// reason code and a suggested next action.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Response {
	ctx, span := d.tracer.Start(ctx, "intent.dispatch", trace.WithAttributes(
		attribute.String("intent.type", req.Type),
		attribute.String("intent.version", req.Version),
	))
	defer span.End()

	def, err := d.registry.Resolve(req.Type, req.Version)
	if err != nil {
		return d.failure(span, err, req.WorkflowState)
	}

	if code := def.Descriptor.RequiredCapability; code != "" {
		if !d.caps.Allows(code, req.Identity) {
			err := apperrors.WithMetadata(apperrors.CodePermissionDenied,
				"identity lacks the capability required by this intent",
				map[string]string{
					"Capability": code,
					"IntentType": def.Descriptor.Type,
				})
			return d.failure(span, err, req.WorkflowState)
		}
	}

	result, err := d.invoke(ctx, def, req)
	if err != nil {
		return d.failure(span, err, req.WorkflowState)
	}

	var etag string
	if def.Descriptor.SupportsConditionalResponse {
		etag, err = contract.ContentHash(result.Body)
		if err != nil {
			return d.failure(span, apperrors.Wrap(apperrors.CodeInternal, "fingerprint response body", err), req.WorkflowState)
		}
		if req.IfNoneMatch != "" && etag == req.IfNoneMatch {
			span.SetAttributes(attribute.String("intent.status", string(StatusNotModified)))
			return Response{Status: StatusNotModified, ETag: etag, Meta: result.Meta}
		}
	}

	body := result.Body
	if d.normalizer != nil {
		body = d.normalizer.Normalize(body)
	}

	span.SetAttributes(attribute.String("intent.status", string(StatusOK)))
	return Response{
		Status: StatusOK,
		Body:   body,
		ETag:   etag,
		Meta:   result.Meta,
	}
}

// invoke runs the handler with panic isolation so a handler bug surfaces as
// a classified internal error instead of taking down the request.
func (d *Dispatcher) invoke(ctx context.Context, def Definition, req Request) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = Result{}
			err = apperrors.WithMetadata(apperrors.CodeInternal, "intent handler panicked",
				map[string]string{
					"Panic":      fmt.Sprint(r),
					"IntentType": def.Descriptor.Type,
				})
		}
	}()
	return def.Handle(ctx, req)
}

func (d *Dispatcher) failure(span trace.Span, err error, state reason.WorkflowState) Response {
	entry := reason.Classify(err)
	span.SetAttributes(
		attribute.String("intent.status", string(StatusError)),
		attribute.String("intent.reason_code", string(entry.Code)),
	)
	return Response{
		Status: StatusError,
		Error: &ErrorEnvelope{
			ReasonCode:      entry.Code,
			Message:         err.Error(),
			SuggestedAction: reason.SuggestedAction(entry.Code, state),
		},
	}
}
