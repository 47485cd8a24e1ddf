package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dmitrijs2005/gophsync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/gophsync/internal/client/services"
	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/filex"
	"github.com/dmitrijs2005/gophsync/internal/netx"
	"github.com/spf13/cobra"
)

var errPasswordMismatch = errors.New("passwords do not match")

func (a *App) registerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register",
		Short: "Create an account on the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			username, err := GetSimpleText(a.in, "Username", a.out)
			if err != nil {
				return err
			}
			password, err := GetPassword(a.in, "Password", a.out)
			if err != nil {
				return err
			}
			defer common.WipeByteArray(password)
			confirm, err := GetPassword(a.in, "Repeat password", a.out)
			if err != nil {
				return err
			}
			defer common.WipeByteArray(confirm)
			if !bytes.Equal(password, confirm) {
				return errPasswordMismatch
			}

			if err := a.auth.Register(cmd.Context(), username, password); err != nil {
				return fmt.Errorf("register: %w", err)
			}
			a.printf("registered %s\n", username)
			return nil
		},
	}
}

func (a *App) loginCmd() *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and remember the account on this device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.login(cmd.Context(), username); err != nil {
				return err
			}
			a.printf("logged in\n")
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "user", "u", "", "account name (default: the remembered one)")
	return cmd
}

func (a *App) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the account remembered on this device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.auth.Logout(cmd.Context())
		},
	}
}

func (a *App) wipeRemoteCmd() *cobra.Command {
	var username, savePath string
	cmd := &cobra.Command{
		Use:   "wipe-remote",
		Short: "Delete every record of the account from the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if err := a.login(ctx, username); err != nil {
				return err
			}
			url, err := a.auth.DeleteAll(ctx)
			if err != nil {
				return err
			}
			// the server forgot our collections, so must we
			if err := a.engine.ResetSyncState(ctx); err != nil {
				return err
			}
			if url == "" {
				return nil
			}
			a.printf("archive: %s\n", url)
			if savePath != "" {
				return saveArchive(ctx, url, savePath)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "user", "u", "", "account name (default: the remembered one)")
	cmd.Flags().StringVar(&savePath, "save", "", "download the server's archive to this file")
	return cmd
}

// login prompts for what is missing and logs in online, falling back to
// the cached credentials when the server cannot be reached.
func (a *App) login(ctx context.Context, username string) error {
	if username == "" {
		saved, err := a.store.Metadata().Get(ctx, metadata.KeyUsername)
		if err != nil {
			return err
		}
		username = string(saved)
	}
	if username == "" {
		var err error
		if username, err = GetSimpleText(a.in, "Username", a.out); err != nil {
			return err
		}
	}

	password, err := GetPassword(a.in, "Password for "+username, a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	err = a.auth.OnlineLogin(ctx, username, password)
	if errors.Is(err, common.ErrUnavailable) {
		a.logger.Warn(ctx, "server unavailable, using cached credentials")
		err = a.auth.OfflineLogin(ctx, username, password)
		if errors.Is(err, services.ErrLocalDataNotAvailable) {
			return fmt.Errorf("server unavailable and no cached login: %w", err)
		}
	}
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	return nil
}

func saveArchive(ctx context.Context, url, path string) (err error) {
	if err := filex.EnsureParentDir(path); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return netx.DownloadPresignedURL(ctx, url, f)
}
