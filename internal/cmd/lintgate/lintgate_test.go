package lintgate

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"path/filepath"
	"strings"
	"testing"

	"github.com/louisbranch/keystone/internal/capability"
	"github.com/louisbranch/keystone/internal/scene/storage/sqlite"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("lintgate", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cfg.DBPath != "data/keystone.db" {
		t.Fatalf("DBPath = %q, want default", cfg.DBPath)
	}
}

func TestParseConfigEnvAndFlag(t *testing.T) {
	t.Setenv("KEYSTONE_SCENE_DB", "/tmp/env.db")

	fs := flag.NewFlagSet("lintgate", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cfg.DBPath != "/tmp/env.db" {
		t.Fatalf("DBPath = %q, want env value", cfg.DBPath)
	}

	fs = flag.NewFlagSet("lintgate", flag.ContinueOnError)
	cfg, err = ParseConfig(fs, []string{"-db-path", "/tmp/flag.db"})
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cfg.DBPath != "/tmp/flag.db" {
		t.Fatalf("DBPath = %q, want flag to override env", cfg.DBPath)
	}
}

func TestReportHealthy(t *testing.T) {
	specs := []capability.Spec{
		{Code: "system.ping", Sequence: 1, Active: true},
	}

	var out bytes.Buffer
	if findings := Report(specs, &out); findings != 0 {
		t.Fatalf("findings = %d, want 0; output:\n%s", findings, out.String())
	}
}

func TestReportFindings(t *testing.T) {
	specs := []capability.Spec{
		{Code: "system.ping", Sequence: 1, Active: true},
		{Code: "system.ping", Sequence: 2, Active: true},
		{Code: "budget.approve", Sequence: 3, Active: true, Rule: json.RawMessage(`{"kind":"role_in","roles":[]}`)},
		{Code: "broken.rule", Sequence: 4, Active: true, Rule: json.RawMessage(`{"kind":"no_such_rule"}`)},
	}

	var out bytes.Buffer
	findings := Report(specs, &out)
	if findings != 3 {
		t.Fatalf("findings = %d, want 3; output:\n%s", findings, out.String())
	}
	for _, want := range []string{"broken.rule", "duplicated", "empty role set"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestRunAgainstStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "lintgate.db")

	store, err := sqlite.Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := store.PutCapability(ctx, capability.Spec{Code: "system.ping", Sequence: 1, Active: true}); err != nil {
		t.Fatalf("put capability: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	var out bytes.Buffer
	if err := Run(ctx, Config{DBPath: path}, &out); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(out.String(), "healthy") {
		t.Fatalf("output = %q, want healthy summary", out.String())
	}
}

func TestRunFailsOnFindings(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "lintgate.db")

	store, err := sqlite.Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	spec := capability.Spec{
		Code:     "report.view",
		Sequence: 1,
		Active:   true,
		Rule:     json.RawMessage(`{"kind":"same_as","code":"missing.capability"}`),
	}
	if err := store.PutCapability(ctx, spec); err != nil {
		t.Fatalf("put capability: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	var out bytes.Buffer
	err = Run(ctx, Config{DBPath: path}, &out)
	if err == nil {
		t.Fatal("Run succeeded, want lint failure")
	}
	if !strings.Contains(out.String(), "missing.capability") {
		t.Fatalf("output missing finding:\n%s", out.String())
	}
}
