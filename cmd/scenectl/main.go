// Package main provides the operator CLI for scene channel governance.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	scenectlcmd "github.com/louisbranch/keystone/internal/cmd/scenectl"
	"github.com/louisbranch/keystone/internal/platform/config"
	"github.com/louisbranch/keystone/internal/platform/otel"
)

func main() {
	cfg, err := scenectlcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := otel.Setup(ctx, "scenectl")
	if err != nil {
		config.Exitf("otel setup: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	if err := scenectlcmd.Run(ctx, cfg, os.Stdout); err != nil {
		config.Exitf("%v", err)
	}
}
