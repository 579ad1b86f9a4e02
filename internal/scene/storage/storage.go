// Package storage defines the record store contracts for rollout governance
// and capability configuration.
package storage

import (
	"context"
	"errors"

	"github.com/louisbranch/keystone/internal/capability"
	"github.com/louisbranch/keystone/internal/scene/domain"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("record not found")

// GovernanceStore persists channel assignments, package installations, and
// the governance log. The two Apply methods are the only writers of state
// rows, and each commits its state change and audit entry in one atomic
// unit.
type GovernanceStore interface {
	// GetAssignment returns the channel assignment for a company, or
	// ErrNotFound when the company was never assigned.
	GetAssignment(ctx context.Context, company string) (domain.Assignment, error)

	// ApplyChannelChange upserts the assignment and appends the audit entry
	// atomically. Neither write survives without the other.
	ApplyChannelChange(ctx context.Context, assignment domain.Assignment, entry domain.LogEntry) error

	// LastChannelChange returns the most recent log entry that changed the
	// company's channel, or ErrNotFound when the company has no channel
	// history.
	LastChannelChange(ctx context.Context, company string) (domain.LogEntry, error)

	// ActiveInstallation returns the active installation for a package name,
	// or ErrNotFound when none is active.
	ActiveInstallation(ctx context.Context, name string) (domain.Installation, error)

	// ApplyInstallation inserts the installation, deactivates any prior
	// active installation of the same name, and appends the audit entry, all
	// atomically.
	ApplyInstallation(ctx context.Context, installation domain.Installation, entry domain.LogEntry) error

	// ListInstallations returns every installation of a package name, newest
	// first.
	ListInstallations(ctx context.Context, name string) ([]domain.Installation, error)

	// AppendLogEntry appends an audit entry with no accompanying state
	// change, such as an idempotent package re-import.
	AppendLogEntry(ctx context.Context, entry domain.LogEntry) error

	// ListGovernanceLog returns log entries matching an AIP-160 filter
	// expression, newest first. An empty filter returns everything up to
	// limit.
	ListGovernanceLog(ctx context.Context, filter string, limit int) ([]domain.LogEntry, error)
}

// CapabilityStore persists the administrator-managed capability
// configuration consumed by the dispatcher and the lint gate.
type CapabilityStore interface {
	PutCapability(ctx context.Context, spec capability.Spec) error
	ListCapabilities(ctx context.Context) ([]capability.Spec, error)
}
