package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/nyash/nyashd/internal/api"
	"github.com/nyash/nyashd/internal/config"
	"github.com/nyash/nyashd/internal/ledger"
	"github.com/nyash/nyashd/internal/logger"
)

const shutdownGrace = 10 * time.Second

// ServeCmd returns the serve command.
func ServeCmd(cfg *config.Config) *Command {
	flags := flag.NewFlagSet("serve", flag.ContinueOnError)
	listen := flags.StringP("listen", "l", "", "Listen address (default: listen from config)")

	return &Command{
		Flags: flags,
		Usage: "serve [--listen addr]",
		Short: "Serve the ledger over HTTP",
		Long: "Open the ledger file and serve job leases over HTTP until interrupted.\n" +
			"The file stays locked while the server runs.",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) != 0 {
				return usageErr("serve takes no arguments")
			}

			addr := *listen
			if addr == "" {
				addr = cfg.Listen
			}

			return execServe(ctx, o, cfg, addr)
		},
	}
}

func execServe(ctx context.Context, o *IO, cfg *config.Config, addr string) error {
	log, err := logger.New(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		return err
	}

	defer func() { _ = log.Sync() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	l, err := openLedger(ctx, cfg, ledger.WithLogger(log), ledger.WithMetrics(ledger.NewMetrics(reg)))
	if err != nil {
		return err
	}

	defer func() { _ = l.Close() }()

	opts := api.Options{DefaultJobLen: cfg.DefaultJobLen, Logger: log}
	if cfg.MetricsEnabled() {
		opts.Metrics = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	var lc net.ListenConfig

	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           api.New(l, opts),
		ReadHeaderTimeout: 10 * time.Second,
	}

	o.Println("listening on " + ln.Addr().String())
	log.InfofCtx(ctx, "serving %s on %s", cfg.DBPathAbs, ln.Addr())

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return err
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if err != nil {
		return err
	}

	log.InfofCtx(ctx, "server stopped")

	return nil
}
