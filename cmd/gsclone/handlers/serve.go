package handlers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/imamik/gsclone/internal/api"
	"github.com/imamik/gsclone/internal/logging"
	"github.com/imamik/gsclone/internal/provisioning"
)

// shutdownGrace is how long running workflows may continue after a
// shutdown signal before they are cancelled.
var shutdownGrace = 30 * time.Second

// listen opens the API listener (for testing injection).
var listen = func(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}

// Serve runs the HTTP API until ctx is cancelled.
//
// Workflows interrupted by a previous process are stopped first so they
// can be resumed. On shutdown the server stops accepting requests and
// running workflows get shutdownGrace to finish before they are cancelled.
func Serve(ctx context.Context, configPath, addr string) error {
	logger := logging.FromContext(ctx)

	env, err := newEnvironment(ctx, configPath, provisioning.WithMetrics(true))
	if err != nil {
		return err
	}
	defer env.Close()

	recovered, err := env.orch.RecoverInterrupted(ctx)
	if err != nil {
		return err
	}
	if len(recovered) > 0 {
		logger.Info("stopped workflows interrupted by a previous run", "guests", recovered)
	}

	if addr == "" {
		addr = env.cfg.Server.Listen
	}
	ln, err := listen(addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	base, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()
	handler := api.NewHandler(env.orch, api.WithBaseContext(base), api.WithLogger(logger))

	mux := http.NewServeMux()
	mux.Handle("/", handler)
	if env.cfg.Server.Metrics {
		mux.Handle("GET /metrics", promhttp.Handler())
	}
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("serving API", "address", ln.Addr().String(), "metrics", env.cfg.Server.Metrics)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", "grace", shutdownGrace.String())

		graceCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
		defer cancel()
		stop := context.AfterFunc(graceCtx, cancelWork)
		defer stop()

		if err := srv.Shutdown(graceCtx); err != nil {
			logger.Info("requests still running at shutdown were cancelled", "error", err.Error())
		}
		handler.Wait()
		return nil
	})
	return g.Wait()
}
