package cli

import (
	"context"
	"errors"
	"io"

	"github.com/dmitrijs2005/gophsync/internal/client/config"
	"github.com/spf13/cobra"
)

// newRootCmd builds the command tree. args are the process arguments
// without the program name; they are scanned for -c/--config before the
// flags are bound.
func newRootCmd(args []string, in io.Reader, out, errOut io.Writer) (*cobra.Command, *App, error) {
	cfg, err := config.Load(args)
	if err != nil {
		return nil, nil, err
	}
	app := newApp(cfg, in, out)

	root := &cobra.Command{
		Use:           "gophsync",
		Short:         "Local-first record store with encrypted sync",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return app.open(cmd.Context(), errOut)
		},
	}
	root.SetArgs(args)
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)
	config.BindFlags(root.PersistentFlags(), cfg)

	root.AddCommand(
		app.registerCmd(),
		app.loginCmd(),
		app.logoutCmd(),
		app.wipeRemoteCmd(),
		app.syncCmd(),
		app.resetCmd(),
		app.addCmd(),
		app.updateCmd(),
		app.getCmd(),
		app.listCmd(),
		app.deleteCmd(),
		app.restoreCmd(),
	)
	return root, app, nil
}

// Execute runs the CLI with the given arguments.
func Execute(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) (err error) {
	root, app, err := newRootCmd(args, in, out, errOut)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, app.close())
	}()
	return root.ExecuteContext(ctx)
}
