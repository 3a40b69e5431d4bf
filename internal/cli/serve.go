package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/dcawatch/internal/api"
	"github.com/ppiankov/dcawatch/internal/contract"
)

const shutdownTimeout = 10 * time.Second

var (
	serveAddr    string
	serveNoWatch bool
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "HTTP listen address (overrides config)")
	serveCmd.Flags().BoolVar(&serveNoWatch, "no-watch", false, "Disable hot-reload of the contract file")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP governance API",
	Long:  "Serves case checks, assessments, action recording and ledger review over HTTP.\nThe contract file is hot-reloaded on change; a broken edit keeps the previous contracts.",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	httpCfg := api.Config{
		Addr:         cfg.HTTP.Addr,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	if serveAddr != "" {
		httpCfg.Addr = serveAddr
	}
	srv := api.New(httpCfg, a.facade, a.source, logger)

	var watcher *contract.Watcher
	if !serveNoWatch {
		watcher, err = contract.NewWatcher(a.source, cfg.Contracts, logger)
		if err != nil {
			logger.Warn("hot-reload disabled", "error", err)
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Serve)
	if watcher != nil {
		g.Go(func() error { return watcher.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	logger.Info("dcawatch serving",
		"addr", httpCfg.Addr,
		"contracts", cfg.Contracts,
		"agencies", a.source.Current().Len(),
		"ledger", cfg.Ledger.Backend,
		"authz", cfg.Authz.Mode,
	)
	return g.Wait()
}
