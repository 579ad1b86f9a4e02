package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/louisbranch/keystone/internal/scene/domain"
	"github.com/louisbranch/keystone/internal/scene/storage"
)

// GetAssignment returns the channel assignment for a company.
func (s *Store) GetAssignment(ctx context.Context, company string) (domain.Assignment, error) {
	if err := ctx.Err(); err != nil {
		return domain.Assignment{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.Assignment{}, fmt.Errorf("storage is not configured")
	}
	company = strings.TrimSpace(company)
	if company == "" {
		return domain.Assignment{}, fmt.Errorf("company is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT company, channel, updated_at
FROM scene_assignments
WHERE company = ?
`, company)

	var (
		assignment domain.Assignment
		channel    string
		updatedAt  int64
	)
	if err := row.Scan(&assignment.Company, &channel, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Assignment{}, storage.ErrNotFound
		}
		return domain.Assignment{}, fmt.Errorf("get assignment: %w", err)
	}
	assignment.Channel = domain.Channel(channel)
	assignment.UpdatedAt = fromMillis(updatedAt)
	return assignment, nil
}

// ApplyChannelChange upserts the company's assignment and appends the audit
// entry in one transaction. Neither write commits without the other.
func (s *Store) ApplyChannelChange(ctx context.Context, assignment domain.Assignment, entry domain.LogEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(assignment.Company) == "" {
		return fmt.Errorf("company is required")
	}
	if !assignment.Channel.Valid() {
		return fmt.Errorf("channel is invalid")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin channel change: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO scene_assignments (company, channel, updated_at)
VALUES (?, ?, ?)
ON CONFLICT(company) DO UPDATE SET
	channel = excluded.channel,
	updated_at = excluded.updated_at
`,
		strings.TrimSpace(assignment.Company),
		string(assignment.Channel),
		toMillis(assignment.UpdatedAt),
	); err != nil {
		return fmt.Errorf("upsert assignment: %w", err)
	}

	if err := insertLogEntry(ctx, tx, entry); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit channel change: %w", err)
	}
	return nil
}

// LastChannelChange returns the most recent log entry that changed the
// company's channel.
func (s *Store) LastChannelChange(ctx context.Context, company string) (domain.LogEntry, error) {
	if err := ctx.Err(); err != nil {
		return domain.LogEntry{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.LogEntry{}, fmt.Errorf("storage is not configured")
	}
	company = strings.TrimSpace(company)
	if company == "" {
		return domain.LogEntry{}, fmt.Errorf("company is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, action, actor, company, from_channel, to_channel, reason, trace_id, created_at
FROM scene_governance_log
WHERE company = ? AND action IN (?, ?, ?)
ORDER BY created_at DESC, id DESC
LIMIT 1
`,
		company,
		string(domain.ActionSwitchChannel),
		string(domain.ActionPinStable),
		string(domain.ActionRollback),
	)

	entry, err := scanLogEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.LogEntry{}, storage.ErrNotFound
	}
	if err != nil {
		return domain.LogEntry{}, fmt.Errorf("last channel change: %w", err)
	}
	return entry, nil
}
