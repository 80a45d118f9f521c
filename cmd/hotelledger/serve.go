package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/xraph/hotelledger"
	audithook "github.com/xraph/hotelledger/audit_hook"
	"github.com/xraph/hotelledger/extension"
	"github.com/xraph/hotelledger/observability"
)

var serveFlags struct {
	addr            string
	shutdownTimeout time.Duration
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the billing HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.addr, "addr", ":8080", "listen address")
	serveCmd.Flags().DurationVar(&serveFlags.shutdownTimeout, "shutdown-timeout", 15*time.Second,
		"time allowed for in-flight requests on shutdown")
}

func runServer(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.Default()

	s, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	cfg := extension.DefaultConfig()
	cfg.ApplyEnv()

	stack, err := extension.Build(cfg, extension.Deps{
		Store:    s,
		Logger:   logger,
		Gatherer: reg,
		LedgerOpts: []hotelledger.Option{
			hotelledger.WithPlugin(audithook.New(audithook.SlogRecorder(logger), audithook.WithLogger(logger))),
			hotelledger.WithPlugin(observability.NewMetricsExtension(reg)),
		},
	})
	if err != nil {
		return err
	}

	if err := stack.Ledger.Start(ctx); err != nil {
		return err
	}
	defer stack.Ledger.Stop() //nolint:errcheck // shutdown path

	if extension.GetEnv("GIN_MODE", "") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	srv := &http.Server{
		Addr:              serveFlags.addr,
		Handler:           stack.Handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("hotelledger listening",
			"addr", serveFlags.addr,
			"store", storeFlags.driver,
			"provider", stack.Provider.Name(),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), serveFlags.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
