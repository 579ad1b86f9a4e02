package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	apperrors "github.com/louisbranch/keystone/internal/errors"
	"github.com/louisbranch/keystone/internal/scene/domain"
	"github.com/louisbranch/keystone/internal/scene/storage"
)

func encodePayload(payload map[string]any) (string, error) {
	if len(payload) == 0 {
		return "{}", nil
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return string(encoded), nil
}

func decodePayload(value string) (map[string]any, error) {
	value = strings.TrimSpace(value)
	if value == "" || value == "{}" {
		return nil, nil
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(value), &payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return payload, nil
}

// ActiveInstallation returns the active installation for a package name.
func (s *Store) ActiveInstallation(ctx context.Context, name string) (domain.Installation, error) {
	if err := ctx.Err(); err != nil {
		return domain.Installation{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.Installation{}, fmt.Errorf("storage is not configured")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Installation{}, fmt.Errorf("package name is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, name, version, channel, checksum, payload, active, created_at
FROM scene_installations
WHERE name = ? AND active = 1
`, name)

	installation, err := scanInstallation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Installation{}, storage.ErrNotFound
	}
	if err != nil {
		return domain.Installation{}, fmt.Errorf("active installation: %w", err)
	}
	return installation, nil
}

// ApplyInstallation inserts the installation, deactivates any prior active
// installation of the same name, and appends the audit entry atomically.
// The partial unique index on (name) WHERE active = 1 backs the
// single-active invariant even if two installs race.
func (s *Store) ApplyInstallation(ctx context.Context, installation domain.Installation, entry domain.LogEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(installation.ID) == "" {
		return fmt.Errorf("installation id is required")
	}
	if strings.TrimSpace(installation.Name) == "" {
		return fmt.Errorf("installation name is required")
	}

	payload, err := encodePayload(installation.Payload)
	if err != nil {
		return err
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin installation: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
UPDATE scene_installations SET active = 0 WHERE name = ? AND active = 1
`, strings.TrimSpace(installation.Name)); err != nil {
		return fmt.Errorf("deactivate prior installation: %w", err)
	}

	active := 0
	if installation.Active {
		active = 1
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO scene_installations (
	id, name, version, channel, checksum, payload, active, created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`,
		strings.TrimSpace(installation.ID),
		strings.TrimSpace(installation.Name),
		strings.TrimSpace(installation.Version),
		string(installation.Channel),
		strings.TrimSpace(installation.Checksum),
		payload,
		active,
		toMillis(installation.CreatedAt),
	); err != nil {
		if isUniqueViolation(err) {
			return apperrors.WithMetadata(apperrors.CodeScenePackageActiveConflict,
				"another installation of this package is already active",
				map[string]string{"Package": installation.Name})
		}
		return fmt.Errorf("insert installation: %w", err)
	}

	if err := insertLogEntry(ctx, tx, entry); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit installation: %w", err)
	}
	return nil
}

// ListInstallations returns every installation of a package name, newest
// first.
func (s *Store) ListInstallations(ctx context.Context, name string) ([]domain.Installation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("package name is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, name, version, channel, checksum, payload, active, created_at
FROM scene_installations
WHERE name = ?
ORDER BY created_at DESC, id DESC
`, name)
	if err != nil {
		return nil, fmt.Errorf("list installations: %w", err)
	}
	defer rows.Close()

	var installations []domain.Installation
	for rows.Next() {
		installation, err := scanInstallation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan installation: %w", err)
		}
		installations = append(installations, installation)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate installations: %w", err)
	}
	return installations, nil
}

func scanInstallation(row rowScanner) (domain.Installation, error) {
	var (
		installation domain.Installation
		channel      string
		payload      string
		active       int
		createdAt    int64
	)
	if err := row.Scan(
		&installation.ID,
		&installation.Name,
		&installation.Version,
		&channel,
		&installation.Checksum,
		&payload,
		&active,
		&createdAt,
	); err != nil {
		return domain.Installation{}, err
	}
	decoded, err := decodePayload(payload)
	if err != nil {
		return domain.Installation{}, err
	}
	installation.Channel = domain.Channel(channel)
	installation.Payload = decoded
	installation.Active = active == 1
	installation.CreatedAt = fromMillis(createdAt)
	return installation, nil
}

// isUniqueViolation detects SQLite unique constraint failures.
func isUniqueViolation(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
