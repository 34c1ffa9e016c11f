package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pitabwire/surety/internal/notify"
	"github.com/pitabwire/surety/model"
)

// connectionPoll is how often tail checks that the socket is still up.
const connectionPoll = 2 * time.Second

func notificationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "Admin notification tools",
	}
	cmd.AddCommand(tailCmd())
	return cmd
}

func tailCmd() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Connect with the keyring token and print the live notification buffer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ring, err := openKeyring(cfg.Keyring)
			if err != nil {
				return err
			}
			logger := cliLogger(verbose)
			defer func() { _ = logger.Sync() }()

			parent := cmd.Context()
			if parent == nil {
				parent = context.Background()
			}
			ctx, stop := signal.NotifyContext(parent, syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			client := notify.NewClient(notify.ClientConfig{
				URL:            cfg.Notifications.SocketURL,
				ConnectTimeout: cfg.Notifications.ConnectTimeout,
			}, notify.NewKeyringCredentials(ring, cliSubject), logger)
			if err := client.Connect(ctx); err != nil {
				if errors.Is(err, notify.ErrNoCredential) {
					return errors.New("no stored token, run surety login first")
				}
				return err
			}
			defer client.Disconnect()

			return tail(ctx, client, cfg.Notifications.MaxBuffer, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&verbose, "verbose", false, "log to stderr")
	return cmd
}

// socket is the part of notify.Client tail needs.
type socket interface {
	notify.Source
	Connected() bool
}

// tail prints the buffer, newest first, every time a notification arrives.
// It returns nil when ctx is done and an error when the socket drops.
func tail(ctx context.Context, src socket, maxBuffer int, out io.Writer) error {
	feed := notify.NewFeed(ctx, src, notify.NewBuffer(maxBuffer), nil)
	defer feed.Close()

	updates := make(chan struct{}, 1)
	feed.OnNotification(func(model.NotificationEvent) {
		select {
		case updates <- struct{}{}:
		default:
		}
	})

	fmt.Fprintln(out, "Connected, waiting for notifications")

	ticker := time.NewTicker(connectionPoll)
	defer ticker.Stop()

	for {
		select {
		case <-feed.Done():
			return nil
		case <-ticker.C:
			if !src.Connected() {
				return fmt.Errorf("notification socket disconnected")
			}
		case <-updates:
			printBuffer(out, feed.Buffer().Snapshot())
		}
	}
}

func printBuffer(out io.Writer, events []model.NotificationEvent) {
	fmt.Fprintf(out, "\n%d notification(s)\n", len(events))
	for _, n := range events {
		fmt.Fprintf(out, "%s  %-18s %s: %s\n",
			n.ReceivedAt.Format(time.TimeOnly), n.Kind, n.Title, n.Message)
	}
}
