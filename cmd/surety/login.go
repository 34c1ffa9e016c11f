package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/99designs/keyring"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pitabwire/surety/internal/config"
	"github.com/pitabwire/surety/internal/session"
)

// cliSubject is the keyring subject the workstation commands share.
const cliSubject = "cli"

// passwordEnv is read when --password is not given.
const passwordEnv = "SURETY_PASSWORD"

func loginCmd() *cobra.Command {
	var (
		email    string
		password string
		verbose  bool
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and keep the tokens in the OS keyring",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if password == "" {
				password = os.Getenv(passwordEnv)
			}
			if password == "" {
				password, err = readLine(cmd.InOrStdin(), cmd.ErrOrStderr(), "Password: ")
				if err != nil {
					return err
				}
			}

			ring, err := openKeyring(cfg.Keyring)
			if err != nil {
				return err
			}
			logger := cliLogger(verbose)
			defer func() { _ = logger.Sync() }()

			client := newAPIClient(cfg.API, logger, nil)
			result, err := login(cmd.Context(), client, ring, email, password, logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s (%s)\n", result.User.Name, result.User.Role)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password (defaults to $"+passwordEnv+" or a prompt)")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "log to stderr")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

// login signs in through the API and stores the tokens and user record in
// ring, both under the user's id and under cliSubject.
func login(ctx context.Context, auth session.Authenticator, ring keyring.Keyring, email, password string, logger *zap.Logger) (session.LoginResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	store := session.NewKeyringStore(ring)
	result, err := newLoginService(auth, store, logger).Login(ctx, email, password)
	if err != nil {
		return session.LoginResult{}, err
	}
	if err := store.SaveTokens(ctx, cliSubject, result.Tokens); err != nil {
		return session.LoginResult{}, err
	}
	if err := store.SaveUser(ctx, cliSubject, result.User); err != nil {
		return session.LoginResult{}, err
	}
	return result, nil
}

func openKeyring(cfg config.KeyringConfig) (keyring.Keyring, error) {
	var password string
	if cfg.PasswordEnv != "" {
		password = os.Getenv(cfg.PasswordEnv)
	}
	return session.OpenKeyring(session.KeyringConfig{
		FileDir:      cfg.FileDir,
		FilePassword: password,
	})
}

func readLine(in io.Reader, prompt io.Writer, label string) (string, error) {
	fmt.Fprint(prompt, label)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading %s: %w", strings.TrimSuffix(strings.ToLower(label), ": "), err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// cliLogger keeps stdout for command output.
func cliLogger(verbose bool) *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.OutputPaths = []string{"stderr"}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
