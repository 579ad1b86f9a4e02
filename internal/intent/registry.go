// Package intent routes named, versioned operations through a dispatch bus
// that enforces capability checks, normalizes handler output, and converts
// every failure into a structured error envelope before it can reach the
// transport boundary.
package intent

import (
	"context"
	"sort"
	"strings"

	apperrors "github.com/louisbranch/keystone/internal/errors"
)

// Handler executes one intent invocation and returns its contract body plus
// side-channel metadata for the transport layer.
type Handler func(ctx context.Context, req Request) (Result, error)

// Result is a handler's raw output before normalization.
type Result struct {
	Body map[string]any
	Meta map[string]string
}

// Descriptor identifies one registered intent version and its dispatch
// behavior. Descriptors are immutable for the process lifetime once
// registered.
type Descriptor struct {
	Type                        string
	Version                     string
	SupportsConditionalResponse bool
	RequiredCapability          string
}

// Definition pairs a descriptor with its handler.
type Definition struct {
	Descriptor Descriptor
	Handle     Handler
}

type registryKey struct {
	intentType string
	version    string
}

// Registry stores intent definitions. Registration is a one-time,
// order-sensitive startup step: the first registration of a (type, version)
// pair wins and any later one fails, so two handlers can never silently
// claim the same contract.
type Registry struct {
	definitions map[registryKey]Definition
	latest      map[string]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		definitions: make(map[registryKey]Definition),
		latest:      make(map[string]string),
	}
}

// Register adds an intent definition. A duplicate (type, version) pair is a
// fatal configuration error the caller must halt on, never ignore.
func (r *Registry) Register(def Definition) error {
	def.Descriptor.Type = strings.TrimSpace(def.Descriptor.Type)
	def.Descriptor.Version = strings.TrimSpace(def.Descriptor.Version)
	if def.Descriptor.Type == "" {
		return apperrors.New(apperrors.CodeValidation, "intent type is required")
	}
	if def.Descriptor.Version == "" {
		return apperrors.New(apperrors.CodeValidation, "intent version is required")
	}
	if def.Handle == nil {
		return apperrors.WithMetadata(apperrors.CodeValidation, "intent handler is required",
			map[string]string{"IntentType": def.Descriptor.Type})
	}

	key := registryKey{intentType: def.Descriptor.Type, version: def.Descriptor.Version}
	if _, exists := r.definitions[key]; exists {
		return apperrors.WithMetadata(apperrors.CodeDuplicateIntent, "intent already registered",
			map[string]string{
				"IntentType": def.Descriptor.Type,
				"Version":    def.Descriptor.Version,
			})
	}
	r.definitions[key] = def
	r.latest[def.Descriptor.Type] = def.Descriptor.Version
	return nil
}

// Resolve looks up the definition for an intent. An empty version resolves
// to the most recently registered version of the type.
func (r *Registry) Resolve(intentType, version string) (Definition, error) {
	intentType = strings.TrimSpace(intentType)
	version = strings.TrimSpace(version)
	if version == "" {
		version = r.latest[intentType]
	}

	def, ok := r.definitions[registryKey{intentType: intentType, version: version}]
	if !ok {
		return Definition{}, apperrors.WithMetadata(apperrors.CodeUnknownIntent, "intent is not registered",
			map[string]string{
				"IntentType": intentType,
				"Version":    version,
			})
	}
	return def, nil
}

// ListDescriptors returns a stable, sorted snapshot of registered
// descriptors.
func (r *Registry) ListDescriptors() []Descriptor {
	if r == nil || len(r.definitions) == 0 {
		return nil
	}
	descriptors := make([]Descriptor, 0, len(r.definitions))
	for _, def := range r.definitions {
		descriptors = append(descriptors, def.Descriptor)
	}
	sort.Slice(descriptors, func(i, j int) bool {
		if descriptors[i].Type != descriptors[j].Type {
			return descriptors[i].Type < descriptors[j].Type
		}
		return descriptors[i].Version < descriptors[j].Version
	})
	return descriptors
}
