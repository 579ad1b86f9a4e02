// Package service implements the scene channel governor: every rollout
// mutation goes through here, and every mutation writes exactly one
// governance log entry in the same atomic unit as the state change.
package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/louisbranch/keystone/internal/errors"
	"github.com/louisbranch/keystone/internal/scene/domain"
	"github.com/louisbranch/keystone/internal/scene/storage"
)

// Governor owns all writes to governance state. No other component may
// append to the governance log.
type Governor struct {
	store       storage.GovernanceStore
	clock       func() time.Time
	idGenerator func() (string, error)
}

// NewGovernor creates a governor with default dependencies.
func NewGovernor(store storage.GovernanceStore) *Governor {
	return &Governor{
		store:       store,
		clock:       time.Now,
		idGenerator: domain.NewID,
	}
}

// SwitchChannel moves a company to another rollout channel.
func (g *Governor) SwitchChannel(ctx context.Context, company, actor, toChannel, why string) (domain.Assignment, domain.LogEntry, error) {
	channel, err := domain.ParseChannel(toChannel)
	if err != nil {
		return domain.Assignment{}, domain.LogEntry{}, err
	}
	return g.applyChannel(ctx, domain.ActionSwitchChannel, company, actor, channel, why)
}

// PinStable forces a company back to the stable channel.
func (g *Governor) PinStable(ctx context.Context, company, actor, why string) (domain.Assignment, domain.LogEntry, error) {
	return g.applyChannel(ctx, domain.ActionPinStable, company, actor, domain.ChannelStable, why)
}

// Rollback restores the company's previous channel, read from the most
// recent channel change in the governance log.
func (g *Governor) Rollback(ctx context.Context, company, actor, why string) (domain.Assignment, domain.LogEntry, error) {
	company = strings.TrimSpace(company)
	if company == "" {
		return domain.Assignment{}, domain.LogEntry{}, apperrors.New(apperrors.CodeSceneCompanyEmpty, "company is required")
	}

	last, err := g.store.LastChannelChange(ctx, company)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.Assignment{}, domain.LogEntry{}, apperrors.WithMetadata(apperrors.CodeSceneNoPriorChannel,
			"company has no channel history to roll back to",
			map[string]string{"Company": company})
	}
	if err != nil {
		return domain.Assignment{}, domain.LogEntry{}, apperrors.Wrap(apperrors.CodeInternal, "read channel history", err)
	}
	if !last.FromChannel.Valid() {
		return domain.Assignment{}, domain.LogEntry{}, apperrors.WithMetadata(apperrors.CodeSceneNoPriorChannel,
			"company has no prior channel to roll back to",
			map[string]string{"Company": company})
	}

	return g.applyChannel(ctx, domain.ActionRollback, company, actor, last.FromChannel, why)
}

// applyChannel performs one governed channel transition. The state change
// and its audit entry commit together or not at all.
func (g *Governor) applyChannel(ctx context.Context, action domain.Action, company, actor string, to domain.Channel, why string) (domain.Assignment, domain.LogEntry, error) {
	company = strings.TrimSpace(company)
	actor = strings.TrimSpace(actor)
	if company == "" {
		return domain.Assignment{}, domain.LogEntry{}, apperrors.New(apperrors.CodeSceneCompanyEmpty, "company is required")
	}
	if actor == "" {
		return domain.Assignment{}, domain.LogEntry{}, apperrors.New(apperrors.CodeSceneActorEmpty, "actor is required")
	}

	var from domain.Channel
	current, err := g.store.GetAssignment(ctx, company)
	switch {
	case err == nil:
		from = current.Channel
	case errors.Is(err, storage.ErrNotFound):
		// First assignment for the company.
	default:
		return domain.Assignment{}, domain.LogEntry{}, apperrors.Wrap(apperrors.CodeInternal, "read channel assignment", err)
	}

	now := g.clock()
	entryID, err := g.idGenerator()
	if err != nil {
		return domain.Assignment{}, domain.LogEntry{}, apperrors.Wrap(apperrors.CodeInternal, "generate audit entry id", err)
	}

	assignment := domain.Assignment{Company: company, Channel: to, UpdatedAt: now}
	entry := domain.LogEntry{
		ID:          entryID,
		Action:      action,
		Actor:       actor,
		Company:     company,
		FromChannel: from,
		ToChannel:   to,
		Reason:      strings.TrimSpace(why),
		TraceID:     traceIDFrom(ctx),
		CreatedAt:   now,
	}

	if err := g.store.ApplyChannelChange(ctx, assignment, entry); err != nil {
		return domain.Assignment{}, domain.LogEntry{}, err
	}
	return assignment, entry, nil
}

// InstallPackage activates a new package installation, deactivating any
// prior active installation of the same name in the same transaction.
func (g *Governor) InstallPackage(ctx context.Context, actor string, def domain.Definition) (domain.Installation, domain.LogEntry, error) {
	return g.applyPackage(ctx, domain.ActionPackageInstall, actor, def)
}

// ImportPackage installs a package from its exported definition. Importing
// a checksum that is already active is a no-op that still writes a
// package_import audit entry.
func (g *Governor) ImportPackage(ctx context.Context, actor string, data []byte) (domain.Installation, domain.LogEntry, error) {
	def, err := domain.ImportDefinition(data)
	if err != nil {
		return domain.Installation{}, domain.LogEntry{}, err
	}

	checksum, err := def.Checksum()
	if err != nil {
		return domain.Installation{}, domain.LogEntry{}, apperrors.Wrap(apperrors.CodeInternal, "fingerprint package definition", err)
	}

	active, err := g.store.ActiveInstallation(ctx, def.Name)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return domain.Installation{}, domain.LogEntry{}, apperrors.Wrap(apperrors.CodeInternal, "read active installation", err)
	}
	if err == nil && active.Checksum == checksum {
		entry, auditErr := g.auditOnly(ctx, domain.ActionPackageImport, actor, def, "checksum already active")
		if auditErr != nil {
			return domain.Installation{}, domain.LogEntry{}, auditErr
		}
		return active, entry, nil
	}

	return g.applyPackage(ctx, domain.ActionPackageImport, actor, def)
}

// ExportPackage serializes the active installation of a package for
// transport between environments.
func (g *Governor) ExportPackage(ctx context.Context, name string) ([]byte, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.New(apperrors.CodeScenePackageNameEmpty, "package name is required")
	}

	active, err := g.store.ActiveInstallation(ctx, name)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperrors.WithMetadata(apperrors.CodeNotFound, "package has no active installation",
			map[string]string{"Package": name})
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "read active installation", err)
	}
	return active.Definition().Export()
}

// ListGovernanceLog returns governance log entries matching an AIP-160
// filter expression, newest first.
func (g *Governor) ListGovernanceLog(ctx context.Context, filter string, limit int) ([]domain.LogEntry, error) {
	return g.store.ListGovernanceLog(ctx, filter, limit)
}

func (g *Governor) applyPackage(ctx context.Context, action domain.Action, actor string, def domain.Definition) (domain.Installation, domain.LogEntry, error) {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return domain.Installation{}, domain.LogEntry{}, apperrors.New(apperrors.CodeSceneActorEmpty, "actor is required")
	}
	if err := def.Validate(); err != nil {
		return domain.Installation{}, domain.LogEntry{}, err
	}

	checksum, err := def.Checksum()
	if err != nil {
		return domain.Installation{}, domain.LogEntry{}, apperrors.Wrap(apperrors.CodeInternal, "fingerprint package definition", err)
	}

	now := g.clock()
	installationID, err := g.idGenerator()
	if err != nil {
		return domain.Installation{}, domain.LogEntry{}, apperrors.Wrap(apperrors.CodeInternal, "generate installation id", err)
	}
	entryID, err := g.idGenerator()
	if err != nil {
		return domain.Installation{}, domain.LogEntry{}, apperrors.Wrap(apperrors.CodeInternal, "generate audit entry id", err)
	}

	installation := domain.Installation{
		ID:        installationID,
		Name:      def.Name,
		Version:   def.Version,
		Channel:   def.Channel,
		Checksum:  checksum,
		Payload:   def.Payload,
		Active:    true,
		CreatedAt: now,
	}
	entry := domain.LogEntry{
		ID:        entryID,
		Action:    action,
		Actor:     actor,
		ToChannel: def.Channel,
		Reason:    def.Name + "@" + def.Version,
		TraceID:   traceIDFrom(ctx),
		CreatedAt: now,
	}

	if err := g.store.ApplyInstallation(ctx, installation, entry); err != nil {
		return domain.Installation{}, domain.LogEntry{}, err
	}
	return installation, entry, nil
}

func (g *Governor) auditOnly(ctx context.Context, action domain.Action, actor string, def domain.Definition, why string) (domain.LogEntry, error) {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return domain.LogEntry{}, apperrors.New(apperrors.CodeSceneActorEmpty, "actor is required")
	}

	entryID, err := g.idGenerator()
	if err != nil {
		return domain.LogEntry{}, apperrors.Wrap(apperrors.CodeInternal, "generate audit entry id", err)
	}
	entry := domain.LogEntry{
		ID:        entryID,
		Action:    action,
		Actor:     actor,
		ToChannel: def.Channel,
		Reason:    def.Name + "@" + def.Version + ": " + why,
		TraceID:   traceIDFrom(ctx),
		CreatedAt: g.clock(),
	}
	if err := g.store.AppendLogEntry(ctx, entry); err != nil {
		return domain.LogEntry{}, err
	}
	return entry, nil
}

// traceIDFrom extracts the active trace id for audit correlation.
func traceIDFrom(ctx context.Context) string {
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		return sc.TraceID().String()
	}
	return ""
}
