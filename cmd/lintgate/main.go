// Package main provides the capability lint gate used in CI.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	lintgatecmd "github.com/louisbranch/keystone/internal/cmd/lintgate"
	"github.com/louisbranch/keystone/internal/platform/config"
)

func main() {
	cfg, err := lintgatecmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := lintgatecmd.Run(ctx, cfg, os.Stdout); err != nil {
		config.Exitf("%v", err)
	}
}
