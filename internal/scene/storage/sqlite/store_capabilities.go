package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/louisbranch/keystone/internal/capability"
)

func encodeMetadata(metadata map[string]string) (string, error) {
	if len(metadata) == 0 {
		return "{}", nil
	}
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	return string(encoded), nil
}

func decodeMetadata(value string) (map[string]string, error) {
	value = strings.TrimSpace(value)
	if value == "" || value == "{}" {
		return nil, nil
	}
	var metadata map[string]string
	if err := json.Unmarshal([]byte(value), &metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return metadata, nil
}

// PutCapability upserts one capability record.
func (s *Store) PutCapability(ctx context.Context, spec capability.Spec) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	code := strings.TrimSpace(spec.Code)
	if code == "" {
		return fmt.Errorf("capability code is required")
	}

	metadata, err := encodeMetadata(spec.Projection.Metadata)
	if err != nil {
		return err
	}

	var rule any
	if len(spec.Rule) > 0 {
		rule = string(spec.Rule)
	}

	active := 0
	if spec.Active {
		active = 1
	}
	if _, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO capabilities (code, sequence, active, rule, label, metadata)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(code) DO UPDATE SET
	sequence = excluded.sequence,
	active = excluded.active,
	rule = excluded.rule,
	label = excluded.label,
	metadata = excluded.metadata
`,
		code,
		spec.Sequence,
		active,
		rule,
		spec.Projection.Label,
		metadata,
	); err != nil {
		return fmt.Errorf("put capability: %w", err)
	}
	return nil
}

// ListCapabilities returns every capability record ordered by sequence then
// code, matching the evaluation order used for client menus.
func (s *Store) ListCapabilities(ctx context.Context) ([]capability.Spec, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT code, sequence, active, rule, label, metadata
FROM capabilities
ORDER BY sequence ASC, code ASC
`)
	if err != nil {
		return nil, fmt.Errorf("list capabilities: %w", err)
	}
	defer rows.Close()

	var specs []capability.Spec
	for rows.Next() {
		var (
			spec     capability.Spec
			active   int
			rule     sql.NullString
			label    string
			metadata string
		)
		if err := rows.Scan(&spec.Code, &spec.Sequence, &active, &rule, &label, &metadata); err != nil {
			return nil, fmt.Errorf("scan capability: %w", err)
		}
		spec.Active = active == 1
		if rule.Valid && strings.TrimSpace(rule.String) != "" {
			spec.Rule = json.RawMessage(rule.String)
		}
		decoded, err := decodeMetadata(metadata)
		if err != nil {
			return nil, err
		}
		spec.Projection.Label = label
		spec.Projection.Metadata = decoded
		specs = append(specs, spec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate capabilities: %w", err)
	}
	return specs, nil
}
