package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/subcommands"
	log "github.com/sirupsen/logrus"

	"rxv6"
)

// Boot implements subcommands.Command for the "boot" command.
type Boot struct {
	config  string
	timeout time.Duration
	message string
	spins   uint64
}

// Name implements subcommands.Command.Name.
func (*Boot) Name() string {
	return "boot"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Boot) Synopsis() string {
	return "boot the machine and run the init process until it exits"
}

// Usage implements subcommands.Command.Usage.
func (*Boot) Usage() string {
	return `boot [flags] - boot the machine and run the init process.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (b *Boot) SetFlags(f *flag.FlagSet) {
	f.StringVar(&b.config, "config", "", "path to a TOML machine description; defaults are used when empty.")
	f.DurationVar(&b.timeout, "timeout", 0, "halt the machine after this long; zero waits for power off.")
	f.StringVar(&b.message, "message", "init: starting\n", "text the init process writes to the console.")
	f.Uint64Var(&b.spins, "spins", 1000, "loop iterations init runs before it exits.")
}

// Execute implements subcommands.Command.Execute.
func (b *Boot) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	cfg := rxv6.DefaultConfig()
	if b.config != "" {
		var err error
		if cfg, err = rxv6.LoadConfig(b.config); err != nil {
			log.WithError(err).Error("[MAIN] bad config")
			return subcommands.ExitUsageError
		}
	}
	if err := rxv6.SetLogLevel(cfg.LogLevel); err != nil {
		log.WithError(err).Error("[MAIN] bad log level")
		return subcommands.ExitUsageError
	}

	k, err := rxv6.NewKernel(cfg, rxv6.WithConsole(os.Stdout))
	if err != nil {
		log.WithError(err).Error("[MAIN] build machine")
		return subcommands.ExitFailure
	}

	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	if err := k.Boot(ctx, rxv6.InitCode(b.message, b.spins)); err != nil {
		var fault *rxv6.Fault
		if errors.As(err, &fault) {
			fmt.Fprintf(os.Stderr, "panic: %v\n", fault)
		} else {
			fmt.Fprintf(os.Stderr, "halted: %v\n", err)
		}
		return subcommands.ExitFailure
	}
	fmt.Fprintf(os.Stderr, "power off after %d ticks\n", k.Ticks())
	return subcommands.ExitSuccess
}
