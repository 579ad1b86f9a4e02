// Package domain defines the rollout governance records: per-company channel
// assignments, package installations, and the append-only governance log.
package domain

import (
	"strings"
	"time"

	apperrors "github.com/louisbranch/keystone/internal/errors"
)

// Channel is a named rollout stage a company is pinned to.
type Channel string

const (
	// ChannelStable is the default production channel.
	ChannelStable Channel = "stable"
	// ChannelBeta receives packages ahead of stable.
	ChannelBeta Channel = "beta"
	// ChannelDev receives unreleased packages.
	ChannelDev Channel = "dev"
)

// Valid reports whether the channel is one of the known rollout stages.
func (c Channel) Valid() bool {
	switch c {
	case ChannelStable, ChannelBeta, ChannelDev:
		return true
	}
	return false
}

// ParseChannel normalizes and validates a channel name.
func ParseChannel(raw string) (Channel, error) {
	channel := Channel(strings.ToLower(strings.TrimSpace(raw)))
	if !channel.Valid() {
		return "", apperrors.WithMetadata(apperrors.CodeSceneInvalidChannel,
			"channel must be stable, beta, or dev",
			map[string]string{"Channel": raw})
	}
	return channel, nil
}

// Assignment pins one company to a rollout channel. At most one assignment
// exists per company.
type Assignment struct {
	Company   string
	Channel   Channel
	UpdatedAt time.Time
}

// Action names one governed operation. Every action writes exactly one
// governance log entry.
type Action string

const (
	// ActionSwitchChannel moves a company to another channel.
	ActionSwitchChannel Action = "switch_channel"
	// ActionPinStable forces a company back to the stable channel.
	ActionPinStable Action = "pin_stable"
	// ActionRollback restores the company's previous channel.
	ActionRollback Action = "rollback"
	// ActionPackageInstall activates a package installation.
	ActionPackageInstall Action = "package_install"
	// ActionPackageImport records a package import, including idempotent
	// re-imports of an already-installed checksum.
	ActionPackageImport Action = "package_import"
)

// LogEntry is one append-only governance log row. Entries are written once
// by the governor and never edited or deleted.
type LogEntry struct {
	ID          string
	Action      Action
	Actor       string
	Company     string
	FromChannel Channel
	ToChannel   Channel
	Reason      string
	TraceID     string
	CreatedAt   time.Time
}

// Installation is one imported package version. At most one installation per
// package name is active at any time.
type Installation struct {
	ID        string
	Name      string
	Version   string
	Channel   Channel
	Checksum  string
	Payload   map[string]any
	Active    bool
	CreatedAt time.Time
}

// Definition reconstructs the declarative package definition held by the
// installation, for export.
func (i Installation) Definition() Definition {
	return Definition{
		Name:    i.Name,
		Version: i.Version,
		Channel: i.Channel,
		Payload: i.Payload,
	}
}
