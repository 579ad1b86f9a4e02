package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/louisbranch/keystone/internal/capability"
	apperrors "github.com/louisbranch/keystone/internal/errors"
	"github.com/louisbranch/keystone/internal/scene/domain"
	"github.com/louisbranch/keystone/internal/scene/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "governance.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return store
}

func testEntry(id string, action domain.Action, company string, from, to domain.Channel, at time.Time) domain.LogEntry {
	return domain.LogEntry{
		ID:          id,
		Action:      action,
		Actor:       "ops",
		Company:     company,
		FromChannel: from,
		ToChannel:   to,
		Reason:      "test",
		CreatedAt:   at,
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatal("expected Open to reject an empty path")
	}
}

func TestAssignmentRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, err := store.GetAssignment(ctx, "acme"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("GetAssignment error = %v, want ErrNotFound", err)
	}

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	assignment := domain.Assignment{Company: "acme", Channel: domain.ChannelBeta, UpdatedAt: at}
	entry := testEntry("e1", domain.ActionSwitchChannel, "acme", "", domain.ChannelBeta, at)
	if err := store.ApplyChannelChange(ctx, assignment, entry); err != nil {
		t.Fatalf("ApplyChannelChange error: %v", err)
	}

	got, err := store.GetAssignment(ctx, "acme")
	if err != nil {
		t.Fatalf("GetAssignment error: %v", err)
	}
	if got.Channel != domain.ChannelBeta || !got.UpdatedAt.Equal(at) {
		t.Fatalf("assignment = %+v, want beta at %v", got, at)
	}

	entries, err := store.ListGovernanceLog(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListGovernanceLog error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("log has %d entries, want 1", len(entries))
	}
	if entries[0].ID != "e1" || entries[0].Action != domain.ActionSwitchChannel {
		t.Fatalf("entry = %+v", entries[0])
	}
}

func TestApplyChannelChangeUpdatesExisting(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := store.ApplyChannelChange(ctx,
		domain.Assignment{Company: "acme", Channel: domain.ChannelBeta, UpdatedAt: at},
		testEntry("e1", domain.ActionSwitchChannel, "acme", "", domain.ChannelBeta, at),
	); err != nil {
		t.Fatalf("ApplyChannelChange error: %v", err)
	}
	if err := store.ApplyChannelChange(ctx,
		domain.Assignment{Company: "acme", Channel: domain.ChannelDev, UpdatedAt: at.Add(time.Hour)},
		testEntry("e2", domain.ActionSwitchChannel, "acme", domain.ChannelBeta, domain.ChannelDev, at.Add(time.Hour)),
	); err != nil {
		t.Fatalf("ApplyChannelChange error: %v", err)
	}

	got, err := store.GetAssignment(ctx, "acme")
	if err != nil {
		t.Fatalf("GetAssignment error: %v", err)
	}
	if got.Channel != domain.ChannelDev {
		t.Fatalf("Channel = %s, want dev", got.Channel)
	}
}

func TestApplyChannelChangeAtomicity(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := store.ApplyChannelChange(ctx,
		domain.Assignment{Company: "acme", Channel: domain.ChannelBeta, UpdatedAt: at},
		testEntry("e1", domain.ActionSwitchChannel, "acme", "", domain.ChannelBeta, at),
	); err != nil {
		t.Fatalf("ApplyChannelChange error: %v", err)
	}

	// Reusing the entry id makes the audit insert fail after the state write.
	err := store.ApplyChannelChange(ctx,
		domain.Assignment{Company: "acme", Channel: domain.ChannelDev, UpdatedAt: at.Add(time.Hour)},
		testEntry("e1", domain.ActionSwitchChannel, "acme", domain.ChannelBeta, domain.ChannelDev, at.Add(time.Hour)),
	)
	if err == nil {
		t.Fatal("expected ApplyChannelChange to fail on duplicate audit id")
	}

	got, getErr := store.GetAssignment(ctx, "acme")
	if getErr != nil {
		t.Fatalf("GetAssignment error: %v", getErr)
	}
	if got.Channel != domain.ChannelBeta {
		t.Fatalf("Channel = %s, want beta (state change must roll back with the audit failure)", got.Channel)
	}
	entries, listErr := store.ListGovernanceLog(ctx, "", 10)
	if listErr != nil {
		t.Fatalf("ListGovernanceLog error: %v", listErr)
	}
	if len(entries) != 1 {
		t.Fatalf("log has %d entries, want 1", len(entries))
	}
}

func TestLastChannelChange(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	if _, err := store.LastChannelChange(ctx, "acme"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("LastChannelChange error = %v, want ErrNotFound", err)
	}

	if err := store.ApplyChannelChange(ctx,
		domain.Assignment{Company: "acme", Channel: domain.ChannelBeta, UpdatedAt: at},
		testEntry("e1", domain.ActionSwitchChannel, "acme", "", domain.ChannelBeta, at),
	); err != nil {
		t.Fatalf("ApplyChannelChange error: %v", err)
	}
	if err := store.ApplyChannelChange(ctx,
		domain.Assignment{Company: "acme", Channel: domain.ChannelDev, UpdatedAt: at.Add(time.Hour)},
		testEntry("e2", domain.ActionSwitchChannel, "acme", domain.ChannelBeta, domain.ChannelDev, at.Add(time.Hour)),
	); err != nil {
		t.Fatalf("ApplyChannelChange error: %v", err)
	}

	last, err := store.LastChannelChange(ctx, "acme")
	if err != nil {
		t.Fatalf("LastChannelChange error: %v", err)
	}
	if last.ID != "e2" || last.FromChannel != domain.ChannelBeta {
		t.Fatalf("last = %+v, want e2 from beta", last)
	}
}

func testInstallation(id, version string, at time.Time) domain.Installation {
	return domain.Installation{
		ID:        id,
		Name:      "budgeting",
		Version:   version,
		Channel:   domain.ChannelBeta,
		Checksum:  "checksum-" + version,
		Payload:   map[string]any{"menu": []any{"budgets"}},
		Active:    true,
		CreatedAt: at,
	}
}

func TestApplyInstallationSingleActive(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, version := range []string{"1.0.0", "1.1.0", "1.2.0"} {
		installation := testInstallation("i"+version, version, at.Add(time.Duration(i)*time.Hour))
		entry := testEntry("e"+version, domain.ActionPackageInstall, "", "", domain.ChannelBeta, installation.CreatedAt)
		if err := store.ApplyInstallation(ctx, installation, entry); err != nil {
			t.Fatalf("ApplyInstallation(%s) error: %v", version, err)
		}
	}

	installations, err := store.ListInstallations(ctx, "budgeting")
	if err != nil {
		t.Fatalf("ListInstallations error: %v", err)
	}
	if len(installations) != 3 {
		t.Fatalf("%d installation rows, want 3", len(installations))
	}
	active := 0
	for _, installation := range installations {
		if installation.Active {
			active++
			if installation.Version != "1.2.0" {
				t.Fatalf("active version = %s, want 1.2.0", installation.Version)
			}
		}
	}
	if active != 1 {
		t.Fatalf("%d active installations, want exactly 1", active)
	}

	current, err := store.ActiveInstallation(ctx, "budgeting")
	if err != nil {
		t.Fatalf("ActiveInstallation error: %v", err)
	}
	if current.Version != "1.2.0" {
		t.Fatalf("ActiveInstallation version = %s, want 1.2.0", current.Version)
	}
	if current.Payload == nil {
		t.Fatal("payload did not survive the round trip")
	}
}

func TestSingleActiveIndexEnforced(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	installation := testInstallation("i1", "1.0.0", at)
	entry := testEntry("e1", domain.ActionPackageInstall, "", "", domain.ChannelBeta, at)
	if err := store.ApplyInstallation(ctx, installation, entry); err != nil {
		t.Fatalf("ApplyInstallation error: %v", err)
	}

	// A second active row for the same name must be rejected by the store
	// itself, not by an application-level check.
	_, err := store.DB().ExecContext(ctx, `
INSERT INTO scene_installations (id, name, version, channel, checksum, payload, active, created_at)
VALUES ('i2', 'budgeting', '2.0.0', 'beta', 'checksum-2', '{}', 1, ?)
`, at.Add(time.Hour).UnixMilli())
	if err == nil {
		t.Fatal("expected the partial unique index to reject a second active installation")
	}
	if !isUniqueViolation(err) {
		t.Fatalf("error = %v, want a unique constraint failure", err)
	}
}

func TestApplyInstallationAtomicity(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := store.ApplyInstallation(ctx,
		testInstallation("i1", "1.0.0", at),
		testEntry("e1", domain.ActionPackageInstall, "", "", domain.ChannelBeta, at),
	); err != nil {
		t.Fatalf("ApplyInstallation error: %v", err)
	}

	err := store.ApplyInstallation(ctx,
		testInstallation("i2", "2.0.0", at.Add(time.Hour)),
		testEntry("e1", domain.ActionPackageInstall, "", "", domain.ChannelBeta, at.Add(time.Hour)),
	)
	if err == nil {
		t.Fatal("expected ApplyInstallation to fail on duplicate audit id")
	}

	current, getErr := store.ActiveInstallation(ctx, "budgeting")
	if getErr != nil {
		t.Fatalf("ActiveInstallation error: %v", getErr)
	}
	if current.Version != "1.0.0" {
		t.Fatalf("active version = %s, want 1.0.0 (install must roll back with the audit failure)", current.Version)
	}
	installations, listErr := store.ListInstallations(ctx, "budgeting")
	if listErr != nil {
		t.Fatalf("ListInstallations error: %v", listErr)
	}
	if len(installations) != 1 {
		t.Fatalf("%d installation rows, want 1", len(installations))
	}
}

func TestApplyInstallationConflictCode(t *testing.T) {
	err := apperrors.WithMetadata(apperrors.CodeScenePackageActiveConflict, "conflict", nil)
	if !apperrors.IsCode(err, apperrors.CodeScenePackageActiveConflict) {
		t.Fatal("conflict code round trip failed")
	}
}

func TestListGovernanceLogFilter(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	entries := []domain.LogEntry{
		testEntry("e1", domain.ActionSwitchChannel, "acme", "", domain.ChannelBeta, at),
		testEntry("e2", domain.ActionPinStable, "acme", domain.ChannelBeta, domain.ChannelStable, at.Add(time.Hour)),
		testEntry("e3", domain.ActionSwitchChannel, "globex", "", domain.ChannelDev, at.Add(2*time.Hour)),
	}
	for _, entry := range entries {
		if err := store.AppendLogEntry(ctx, entry); err != nil {
			t.Fatalf("AppendLogEntry(%s) error: %v", entry.ID, err)
		}
	}

	tests := []struct {
		name    string
		filter  string
		wantIDs []string
	}{
		{name: "all newest first", filter: "", wantIDs: []string{"e3", "e2", "e1"}},
		{name: "by company", filter: `company = "acme"`, wantIDs: []string{"e2", "e1"}},
		{name: "by action", filter: `action = "pin_stable"`, wantIDs: []string{"e2"}},
		{name: "combined", filter: `company = "acme" AND action = "switch_channel"`, wantIDs: []string{"e1"}},
		{name: "by timestamp", filter: `created_at >= timestamp("2025-03-01T13:00:00Z")`, wantIDs: []string{"e3", "e2"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := store.ListGovernanceLog(ctx, tc.filter, 10)
			if err != nil {
				t.Fatalf("ListGovernanceLog(%q) error: %v", tc.filter, err)
			}
			if len(got) != len(tc.wantIDs) {
				t.Fatalf("got %d entries, want %d", len(got), len(tc.wantIDs))
			}
			for i, id := range tc.wantIDs {
				if got[i].ID != id {
					t.Fatalf("entry %d = %s, want %s", i, got[i].ID, id)
				}
			}
		})
	}

	if _, err := store.ListGovernanceLog(ctx, `bogus = "x"`, 10); err == nil {
		t.Fatal("expected an unknown filter field to fail")
	}

	limited, err := store.ListGovernanceLog(ctx, "", 2)
	if err != nil {
		t.Fatalf("ListGovernanceLog error: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("limit ignored: got %d entries", len(limited))
	}
}

func TestCapabilityRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	specs := []capability.Spec{
		{
			Code:     "budget.approve",
			Sequence: 2,
			Active:   true,
			Rule:     json.RawMessage(`{"kind":"role_in","roles":["manager"]}`),
			Projection: capability.Projection{
				Label:    "Approve budgets",
				Metadata: map[string]string{"icon": "check"},
			},
		},
		{
			Code:       "project.view",
			Sequence:   1,
			Active:     true,
			Projection: capability.Projection{Label: "Projects"},
		},
	}
	for _, spec := range specs {
		if err := store.PutCapability(ctx, spec); err != nil {
			t.Fatalf("PutCapability(%s) error: %v", spec.Code, err)
		}
	}

	listed, err := store.ListCapabilities(ctx)
	if err != nil {
		t.Fatalf("ListCapabilities error: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("listed %d capabilities, want 2", len(listed))
	}
	if listed[0].Code != "project.view" || listed[1].Code != "budget.approve" {
		t.Fatalf("order = %s, %s; want sequence order", listed[0].Code, listed[1].Code)
	}
	if listed[1].Projection.Metadata["icon"] != "check" {
		t.Fatalf("metadata did not survive: %+v", listed[1].Projection)
	}
	if len(listed[0].Rule) != 0 {
		t.Fatalf("nil rule came back as %s", listed[0].Rule)
	}

	set, errs := capability.FromSpecs(listed)
	if len(errs) != 0 {
		t.Fatalf("FromSpecs errors: %v", errs)
	}
	if problems := set.Lint(); len(problems) != 0 {
		t.Fatalf("Lint problems: %+v", problems)
	}

	// Upsert replaces in place.
	update := specs[0]
	update.Active = false
	if err := store.PutCapability(ctx, update); err != nil {
		t.Fatalf("PutCapability update error: %v", err)
	}
	listed, err = store.ListCapabilities(ctx)
	if err != nil {
		t.Fatalf("ListCapabilities error: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("upsert duplicated rows: %d", len(listed))
	}
	for _, spec := range listed {
		if spec.Code == "budget.approve" && spec.Active {
			t.Fatal("update did not deactivate the capability")
		}
	}
}
