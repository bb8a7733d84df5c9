package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mydkumarj/Kotak-Algo-Dashboard/internal/auth"
	"github.com/mydkumarj/Kotak-Algo-Dashboard/internal/config"
	apperrors "github.com/mydkumarj/Kotak-Algo-Dashboard/internal/errors"
	"github.com/mydkumarj/Kotak-Algo-Dashboard/internal/security"
)

// newLoginCmd creates the login command.
func newLoginCmd(app *App) *cobra.Command {
	var totpCode string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate with the broker (TOTP + MPIN)",
		Long: `Runs the two-step login: the TOTP code verifies the device, the MPIN
from credentials.toml establishes the session. With totp_secret
configured the code is generated automatically.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			output.Info("Logging in as %s (%s)", app.Config.Credentials.UCC,
				security.MaskCredential(app.Config.Credentials.Mobile))
			if err := app.Session.RequestTOTP(); err != nil {
				return err
			}

			code := totpCode
			if code == "" && app.Config.Credentials.TOTPSecret != "" {
				generated, err := auth.GenerateTOTP(app.Config.Credentials.TOTPSecret)
				if err != nil {
					return err
				}
				code = generated
				output.Info("TOTP code generated from stored secret")
			}
			if code == "" {
				prompted, err := promptLine(cmd, "Enter TOTP code: ")
				if err != nil {
					return err
				}
				code = prompted
			}

			if err := app.Session.VerifyTOTP(ctx, code); err != nil {
				return err
			}
			output.Info("TOTP verified")

			if err := app.Session.Login(ctx); err != nil {
				return err
			}
			output.Success("Logged in")

			if err := config.SaveCredentials(config.DefaultConfigDir(), app.Config.Credentials); err != nil {
				output.Warning("Saving credentials failed: %v", err)
			}

			return app.startSession(ctx, output)
		},
	}

	cmd.Flags().StringVar(&totpCode, "totp", "", "TOTP code (otherwise generated or prompted)")
	return cmd
}

// startSession brings up the feed and caches after a successful login:
// the dispatcher starts, the feed connects, the persisted watchlist is
// restored and resubscribed, and the order book is reconciled.
func (a *App) startSession(ctx context.Context, output *Output) error {
	if err := a.Dispatcher.Start(ctx); err != nil {
		return err
	}
	// Replaces the dispatcher's default error handler so a broker-side
	// auth failure on the feed expires the session instead of retrying.
	a.Feed.OnError(func(err error) {
		a.Logger.Error().Err(err).Msg("feed error")
		if errors.Is(err, apperrors.ErrSessionExpired) {
			a.Session.MarkExpired()
		}
	})
	if err := a.Feed.Connect(ctx); err != nil {
		output.Warning("Feed connection failed: %v (will keep retrying)", err)
	}
	if err := a.Watchlist.Restore(ctx); err != nil {
		output.Warning("Watchlist restore failed: %v", err)
	}
	if err := a.Watchlist.Resubscribe(); err != nil {
		output.Warning("Resubscribe failed: %v", err)
	}
	if err := a.Gateway.Reconcile(ctx); err != nil {
		output.Warning("Order book reconciliation failed: %v", err)
	}
	return nil
}

// newLogoutCmd creates the logout command.
func newLogoutCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the broker session",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Session.Logout(cmd.Context()); err != nil {
				return err
			}
			output.Success("Logged out")
			return nil
		},
	}
}

// newStatusCmd creates the status command.
func newStatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show session and feed status",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			state := app.Session.State()
			feedUp := app.Feed != nil && app.Feed.IsConnected()

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"session":       string(state),
					"feedConnected": feedUp,
					"subscriptions": len(app.Feed.Subscriptions()),
					"watchlist":     len(app.Watchlist.Entries()),
				})
			}

			output.Printf("Session:  %s\n", string(state))
			if feedUp {
				output.Printf("Feed:     %s (%d subscriptions)\n", output.Green("connected"), len(app.Feed.Subscriptions()))
			} else {
				output.Printf("Feed:     %s\n", output.Red("disconnected"))
			}
			output.Printf("Watching: %d instruments\n", len(app.Watchlist.Entries()))
			return nil
		},
	}
}

func promptLine(cmd *cobra.Command, prompt string) (string, error) {
	fmt.Fprint(cmd.OutOrStdout(), prompt)
	reader := bufio.NewReader(cmd.InOrStdin())
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
