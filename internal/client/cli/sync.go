package cli

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"

	"github.com/dmitrijs2005/gophsync/internal/client/syncer"
	"github.com/spf13/cobra"
)

func (a *App) syncCmd() *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync session and print its report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if err := a.login(ctx, username); err != nil {
				return err
			}

			report, err := a.runSync(ctx)
			if report != nil {
				out, merr := json.MarshalIndent(report, "", "  ")
				if merr != nil {
					return merr
				}
				a.printf("%s\n", out)
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&username, "user", "u", "", "account name (default: the remembered one)")
	return cmd
}

// runSync interrupts the session on SIGINT so it stops at the next record
// boundary with everything merged so far committed.
func (a *App) runSync(ctx context.Context) (*syncer.Report, error) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	defer signal.Stop(sig)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-sig:
			a.logger.Warn(ctx, "interrupt requested")
			a.engine.Interrupt()
		case <-done:
		}
	}()

	return a.engine.Sync(ctx)
}

func (a *App) resetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Forget all sync state; local records are kept and uploaded again",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.engine.ResetSyncState(cmd.Context()); err != nil {
				return err
			}
			a.printf("sync state reset\n")
			return nil
		},
	}
}
