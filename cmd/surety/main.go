// Package main is the entry point for the Surety portal backend and its
// workstation CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pitabwire/surety/internal/api"
	"github.com/pitabwire/surety/internal/notify"
	"github.com/pitabwire/surety/internal/observability"
	"github.com/pitabwire/surety/internal/transport"
	"github.com/pitabwire/surety/internal/wizard"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

// Metrics must satisfy every recorder the domain packages accept.
var (
	_ api.Recorder                = (*observability.Metrics)(nil)
	_ notify.Recorder             = (*observability.Metrics)(nil)
	_ wizard.Recorder             = (*observability.Metrics)(nil)
	_ wizard.UploadRecorder       = (*observability.Metrics)(nil)
	_ transport.RateLimitRecorder = (*observability.Metrics)(nil)
	_ transport.AuthRecorder      = (*observability.Metrics)(nil)
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "surety",
		Short:         "Insurance portal backend and admin tooling",
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "config.yaml", "path to configuration file")

	root.AddCommand(serveCmd())
	root.AddCommand(loginCmd())
	root.AddCommand(notificationsCmd())
	return root
}
