package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/mbhatt1/hive-sub000/cmd/hive/internal"
	"github.com/mbhatt1/hive-sub000/internal/trigger"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run scheduled AWS audits and serve metrics",
	Long: `Run the audit scheduler in the foreground until interrupted.

Every entry under 'schedules' in the config file fires an AWS audit mission
for its account on its cron expression. At most core.parallel_limit missions
run at once. When the prometheus metrics provider is enabled, /metrics is
served on metrics.port.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx, appConfig)
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))

	scheduler := trigger.NewScheduler(a.service, appConfig.Core.ParallelLimit, a.logger)
	if err := scheduler.AddAll(appConfig.Schedules); err != nil {
		return internal.WrapError(internal.ExitConfigError, "invalid schedules", err)
	}

	var srv *http.Server
	serveErr := make(chan error, 1)
	if a.metrics.Handler != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.metrics.Handler)
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		srv = &http.Server{
			Addr:              net.JoinHostPort("", strconv.Itoa(appConfig.Metrics.Port)),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			a.logger.Info("metrics server listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- fmt.Errorf("metrics server failed: %w", err)
			}
		}()
	}

	scheduler.Start()
	if !globalFlags.IsQuiet() {
		_ = printerFor(cmd).PrintSuccess(fmt.Sprintf("Serving %d audit schedules", len(appConfig.Schedules)))
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutting down")
	case runErr = <-serveErr:
	}

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	stopErr := scheduler.Stop(stopCtx)
	if srv != nil {
		stopErr = errors.Join(stopErr, srv.Shutdown(stopCtx))
	}
	return errors.Join(runErr, stopErr)
}
