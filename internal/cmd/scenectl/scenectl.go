// Package scenectl implements the operator CLI for scene channel governance:
// channel switches, stable pins, rollbacks, package install/export/import, and
// the governance audit log.
package scenectl

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/louisbranch/keystone/internal/platform/config"
	"github.com/louisbranch/keystone/internal/scene/domain"
	"github.com/louisbranch/keystone/internal/scene/service"
	"github.com/louisbranch/keystone/internal/scene/storage/sqlite"
)

// Config holds scenectl command configuration. Args carries the subcommand
// and its arguments.
type Config struct {
	DBPath string `env:"KEYSTONE_SCENE_DB" envDefault:"data/keystone.db"`
	Actor  string `env:"KEYSTONE_SCENE_ACTOR" envDefault:"operator"`
	Args   []string
}

// ParseConfig parses environment and global flags into a Config, leaving the
// subcommand and its arguments in Config.Args.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "path to the sqlite record store")
	fs.StringVar(&cfg.Actor, "actor", cfg.Actor, "actor recorded in the governance log")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg.Args = fs.Args()
	if len(cfg.Args) == 0 {
		return Config{}, fmt.Errorf("a subcommand is required: %s", strings.Join(subcommands, ", "))
	}
	return cfg, nil
}

var subcommands = []string{
	"switch-channel", "pin-stable", "rollback", "install", "export", "import", "log",
}

// Run executes the subcommand named in cfg.Args against the record store.
func Run(ctx context.Context, cfg Config, out io.Writer) error {
	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open record store: %w", err)
	}
	defer func() { _ = store.Close() }()

	governor := service.NewGovernor(store)

	name, rest := cfg.Args[0], cfg.Args[1:]
	switch name {
	case "switch-channel":
		return runSwitchChannel(ctx, governor, cfg.Actor, rest, out)
	case "pin-stable":
		return runPinStable(ctx, governor, cfg.Actor, rest, out)
	case "rollback":
		return runRollback(ctx, governor, cfg.Actor, rest, out)
	case "install":
		return runInstall(ctx, governor, cfg.Actor, rest, out)
	case "export":
		return runExport(ctx, governor, rest, out)
	case "import":
		return runImport(ctx, governor, cfg.Actor, rest, out)
	case "log":
		return runLog(ctx, governor, rest, out)
	default:
		return fmt.Errorf("unknown subcommand %q (valid: %s)", name, strings.Join(subcommands, ", "))
	}
}

func runSwitchChannel(ctx context.Context, governor *service.Governor, actor string, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("switch-channel", flag.ContinueOnError)
	reason := fs.String("reason", "", "reason recorded in the governance log")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("usage: switch-channel [-reason text] <company> <channel>")
	}

	assignment, entry, err := governor.SwitchChannel(ctx, fs.Arg(0), actor, fs.Arg(1), *reason)
	if err != nil {
		return err
	}
	printChannelChange(out, assignment, entry)
	return nil
}

func runPinStable(ctx context.Context, governor *service.Governor, actor string, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("pin-stable", flag.ContinueOnError)
	reason := fs.String("reason", "", "reason recorded in the governance log")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: pin-stable [-reason text] <company>")
	}

	assignment, entry, err := governor.PinStable(ctx, fs.Arg(0), actor, *reason)
	if err != nil {
		return err
	}
	printChannelChange(out, assignment, entry)
	return nil
}

func runRollback(ctx context.Context, governor *service.Governor, actor string, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("rollback", flag.ContinueOnError)
	reason := fs.String("reason", "", "reason recorded in the governance log")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: rollback [-reason text] <company>")
	}

	assignment, entry, err := governor.Rollback(ctx, fs.Arg(0), actor, *reason)
	if err != nil {
		return err
	}
	printChannelChange(out, assignment, entry)
	return nil
}

func runInstall(ctx context.Context, governor *service.Governor, actor string, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("install", flag.ContinueOnError)
	file := fs.String("file", "", "path to the package definition JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	def, err := readDefinition(*file)
	if err != nil {
		return err
	}
	installation, entry, err := governor.InstallPackage(ctx, actor, def)
	if err != nil {
		return err
	}
	printInstallation(out, installation, entry)
	return nil
}

func runImport(ctx context.Context, governor *service.Governor, actor string, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	file := fs.String("file", "", "path to the exported package JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return fmt.Errorf("usage: import -file <path>")
	}

	data, err := os.ReadFile(*file)
	if err != nil {
		return fmt.Errorf("read package file: %w", err)
	}
	installation, entry, err := governor.ImportPackage(ctx, actor, data)
	if err != nil {
		return err
	}
	printInstallation(out, installation, entry)
	return nil
}

func runExport(ctx context.Context, governor *service.Governor, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	file := fs.String("file", "", "write the package to this path instead of stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: export [-file path] <name>")
	}

	data, err := governor.ExportPackage(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	if *file != "" {
		if err := os.WriteFile(*file, append(data, '\n'), 0o644); err != nil {
			return fmt.Errorf("write package file: %w", err)
		}
		fmt.Fprintf(out, "exported %s to %s\n", fs.Arg(0), *file)
		return nil
	}
	fmt.Fprintf(out, "%s\n", data)
	return nil
}

func runLog(ctx context.Context, governor *service.Governor, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("log", flag.ContinueOnError)
	filter := fs.String("filter", "", "AIP-160 filter, e.g. company = \"acme\" AND action = \"rollback\"")
	limit := fs.Int("limit", 0, "max entries to list (0 = default)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	entries, err := governor.ListGovernanceLog(ctx, *filter, *limit)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		printLogEntry(out, entry)
	}
	fmt.Fprintf(out, "%d entries\n", len(entries))
	return nil
}

func readDefinition(path string) (domain.Definition, error) {
	if path == "" {
		return domain.Definition{}, fmt.Errorf("usage: install -file <path>")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Definition{}, fmt.Errorf("read package file: %w", err)
	}
	return domain.ImportDefinition(data)
}

func printChannelChange(out io.Writer, assignment domain.Assignment, entry domain.LogEntry) {
	from := string(entry.FromChannel)
	if from == "" {
		from = "(none)"
	}
	fmt.Fprintf(out, "%s: %s -> %s (audit %s)\n", assignment.Company, from, assignment.Channel, entry.ID)
}

func printInstallation(out io.Writer, installation domain.Installation, entry domain.LogEntry) {
	fmt.Fprintf(out, "%s@%s on %s active=%t checksum=%s (audit %s)\n",
		installation.Name, installation.Version, installation.Channel,
		installation.Active, installation.Checksum, entry.ID)
}

func printLogEntry(out io.Writer, entry domain.LogEntry) {
	fmt.Fprintf(out, "%s %s %s company=%s %s->%s %s\n",
		entry.CreatedAt.Format("2006-01-02T15:04:05Z07:00"), entry.ID, entry.Action,
		entry.Company, entry.FromChannel, entry.ToChannel, entry.Reason)
}
