// Package lintgate implements the capability lint gate run in CI: it loads
// the capability configuration and fails when lint reports any finding.
package lintgate

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/louisbranch/keystone/internal/capability"
	"github.com/louisbranch/keystone/internal/platform/config"
	"github.com/louisbranch/keystone/internal/scene/storage/sqlite"
)

// Config holds lintgate command configuration.
type Config struct {
	DBPath string `env:"KEYSTONE_SCENE_DB" envDefault:"data/keystone.db"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "path to the sqlite record store")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run loads the capability configuration and lints it. A non-nil error means
// the gate failed; findings are written to out.
func Run(ctx context.Context, cfg Config, out io.Writer) error {
	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open record store: %w", err)
	}
	defer func() { _ = store.Close() }()

	specs, err := store.ListCapabilities(ctx)
	if err != nil {
		return fmt.Errorf("load capabilities: %w", err)
	}

	findings := Report(specs, out)
	if findings > 0 {
		return fmt.Errorf("capability lint failed with %d findings", findings)
	}
	fmt.Fprintf(out, "capability configuration is healthy (%d capabilities)\n", len(specs))
	return nil
}

// Report decodes and lints a capability configuration, writing one line per
// finding. It returns the number of findings.
func Report(specs []capability.Spec, out io.Writer) int {
	set, decodeErrs := capability.FromSpecs(specs)

	findings := 0
	for _, err := range decodeErrs {
		findings++
		fmt.Fprintf(out, "decode: %v\n", err)
	}
	for _, problem := range set.Lint() {
		findings++
		fmt.Fprintf(out, "%s: %s\n", problem.Code, problem.Problem)
	}
	return findings
}
