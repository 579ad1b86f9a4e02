package filter

import (
	"reflect"
	"testing"
	"time"
)

func TestParseLogFilter(t *testing.T) {
	tests := []struct {
		name       string
		filter     string
		wantClause string
		wantParams []any
	}{
		{
			name:   "empty filter",
			filter: "",
		},
		{
			name:       "equality",
			filter:     `action = "switch_channel"`,
			wantClause: "action = ?",
			wantParams: []any{"switch_channel"},
		},
		{
			name:       "and",
			filter:     `company = "acme" AND to_channel = "beta"`,
			wantClause: "(company = ? AND to_channel = ?)",
			wantParams: []any{"acme", "beta"},
		},
		{
			name:       "or",
			filter:     `action = "rollback" OR action = "pin_stable"`,
			wantClause: "(action = ? OR action = ?)",
			wantParams: []any{"rollback", "pin_stable"},
		},
		{
			name:       "not equals",
			filter:     `actor != "ops"`,
			wantClause: "actor != ?",
			wantParams: []any{"ops"},
		},
		{
			name:       "timestamp comparison",
			filter:     `created_at >= timestamp("2025-03-01T00:00:00Z")`,
			wantClause: "created_at >= ?",
			wantParams: []any{time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC).UnixMilli()},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cond, err := ParseLogFilter(tc.filter)
			if err != nil {
				t.Fatalf("ParseLogFilter(%q) error: %v", tc.filter, err)
			}
			if cond.Clause != tc.wantClause {
				t.Fatalf("Clause = %q, want %q", cond.Clause, tc.wantClause)
			}
			if !reflect.DeepEqual(cond.Params, tc.wantParams) {
				t.Fatalf("Params = %#v, want %#v", cond.Params, tc.wantParams)
			}
		})
	}
}

func TestParseLogFilterErrors(t *testing.T) {
	tests := []struct {
		name   string
		filter string
	}{
		{name: "unknown field", filter: `severity = "high"`},
		{name: "bad syntax", filter: `action = `},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseLogFilter(tc.filter); err == nil {
				t.Fatalf("ParseLogFilter(%q) succeeded, want error", tc.filter)
			}
		})
	}
}
