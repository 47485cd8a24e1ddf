package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dmitrijs2005/gophsync/internal/client/config"
	"github.com/dmitrijs2005/gophsync/internal/client/encryption"
	"github.com/dmitrijs2005/gophsync/internal/client/schema"
	"github.com/dmitrijs2005/gophsync/internal/client/services"
	"github.com/dmitrijs2005/gophsync/internal/client/storage"
	"github.com/dmitrijs2005/gophsync/internal/client/syncer"
	"github.com/dmitrijs2005/gophsync/internal/client/transport"
	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/cryptox"
	"github.com/dmitrijs2005/gophsync/internal/filex"
	"github.com/dmitrijs2005/gophsync/internal/logging"
	"gopkg.in/natefinch/lumberjack.v2"
)

// App holds what one command invocation needs. It is opened by the root
// command before any subcommand runs.
type App struct {
	cfg    *config.Config
	in     *bufio.Reader
	out    io.Writer
	logger logging.Logger
	logOut io.Closer

	store  *storage.Store
	client *transport.GRPCClient
	auth   *services.AuthService
	engine *syncer.Engine
}

func newApp(cfg *config.Config, in io.Reader, out io.Writer) *App {
	return &App{
		cfg: cfg,
		in:  bufio.NewReader(in),
		out: out,
		// logger is replaced in open once flags are parsed
		logger: logging.Nop{},
	}
}

func (a *App) open(ctx context.Context, errOut io.Writer) error {
	paths := []string{a.cfg.KeyFile, a.cfg.DatabasePath}
	if a.cfg.LogFile != "" {
		paths = append(paths, a.cfg.LogFile)
	}
	for _, p := range paths {
		if err := filex.EnsureParentDir(p); err != nil {
			return err
		}
	}

	if a.cfg.LogFile != "" {
		lj := &lumberjack.Logger{
			Filename:   a.cfg.LogFile,
			MaxSize:    10,
			MaxBackups: 3,
		}
		a.logOut = lj
		errOut = lj
	}
	a.logger = logging.NewTextLogger(errOut, a.cfg.LogLevel)

	key, err := cryptox.LoadOrCreateKey(a.cfg.KeyFile)
	if err != nil {
		return err
	}
	local, err := cryptox.NewCipher(key)
	common.WipeByteArray(key)
	if err != nil {
		return err
	}

	collections, err := schema.Select(a.cfg.Collections)
	if err != nil {
		return err
	}

	store, err := storage.Open(ctx, a.cfg.DatabasePath, encryption.NewBoundary(local), a.logger)
	if err != nil {
		return err
	}

	client, err := transport.NewGRPCClient(a.cfg.ServerEndpointAddr, transport.Options{
		Timeout:    a.cfg.RequestTimeout,
		MaxRetries: a.cfg.MaxRetries,
	})
	if err != nil {
		_ = store.Close()
		return err
	}

	a.store = store
	a.client = client
	a.auth = services.NewAuthService(client, store.Writer())
	a.engine = syncer.NewEngine(store, a.auth, client, syncer.Config{
		Collections:     collections,
		UploadBatchSize: a.cfg.UploadBatchSize,
	}, a.logger)
	return nil
}

func (a *App) close() error {
	var errs []error
	if a.auth != nil {
		errs = append(errs, a.auth.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.logOut != nil {
		errs = append(errs, a.logOut.Close())
	}
	return errors.Join(errs...)
}

func (a *App) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}
