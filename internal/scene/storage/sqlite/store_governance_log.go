package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/louisbranch/keystone/internal/scene/domain"
	"github.com/louisbranch/keystone/internal/scene/storage/filter"
)

const defaultLogLimit = 100

type execContexter interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type rowScanner interface {
	Scan(dest ...any) error
}

// insertLogEntry appends one governance log row. Callers pass a transaction
// when the entry must commit together with a state change.
func insertLogEntry(ctx context.Context, db execContexter, entry domain.LogEntry) error {
	if strings.TrimSpace(entry.ID) == "" {
		return fmt.Errorf("log entry id is required")
	}
	if strings.TrimSpace(string(entry.Action)) == "" {
		return fmt.Errorf("log entry action is required")
	}
	if strings.TrimSpace(entry.Actor) == "" {
		return fmt.Errorf("log entry actor is required")
	}
	if entry.CreatedAt.IsZero() {
		return fmt.Errorf("log entry created at is required")
	}

	_, err := db.ExecContext(ctx, `
INSERT INTO scene_governance_log (
	id, action, actor, company, from_channel, to_channel, reason, trace_id, created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		strings.TrimSpace(entry.ID),
		string(entry.Action),
		strings.TrimSpace(entry.Actor),
		strings.TrimSpace(entry.Company),
		string(entry.FromChannel),
		string(entry.ToChannel),
		strings.TrimSpace(entry.Reason),
		strings.TrimSpace(entry.TraceID),
		toMillis(entry.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert log entry: %w", err)
	}
	return nil
}

func scanLogEntry(row rowScanner) (domain.LogEntry, error) {
	var (
		entry       domain.LogEntry
		action      string
		fromChannel string
		toChannel   string
		createdAt   int64
	)
	if err := row.Scan(
		&entry.ID,
		&action,
		&entry.Actor,
		&entry.Company,
		&fromChannel,
		&toChannel,
		&entry.Reason,
		&entry.TraceID,
		&createdAt,
	); err != nil {
		return domain.LogEntry{}, err
	}
	entry.Action = domain.Action(action)
	entry.FromChannel = domain.Channel(fromChannel)
	entry.ToChannel = domain.Channel(toChannel)
	entry.CreatedAt = fromMillis(createdAt)
	return entry, nil
}

// AppendLogEntry appends an audit entry with no accompanying state change.
func (s *Store) AppendLogEntry(ctx context.Context, entry domain.LogEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return insertLogEntry(ctx, s.sqlDB, entry)
}

// ListGovernanceLog returns log entries matching an AIP-160 filter
// expression, newest first.
func (s *Store) ListGovernanceLog(ctx context.Context, filterStr string, limit int) ([]domain.LogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		limit = defaultLogLimit
	}

	condition, err := filter.ParseLogFilter(filterStr)
	if err != nil {
		return nil, fmt.Errorf("parse governance log filter: %w", err)
	}

	query := `
SELECT id, action, actor, company, from_channel, to_channel, reason, trace_id, created_at
FROM scene_governance_log
`
	var params []any
	if condition.Clause != "" {
		query += "WHERE " + condition.Clause + "\n"
		params = append(params, condition.Params...)
	}
	query += "ORDER BY created_at DESC, id DESC\nLIMIT ?"
	params = append(params, limit)

	rows, err := s.sqlDB.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("list governance log: %w", err)
	}
	defer rows.Close()

	var entries []domain.LogEntry
	for rows.Next() {
		entry, err := scanLogEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate governance log: %w", err)
	}
	return entries, nil
}
