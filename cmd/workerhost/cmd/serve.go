package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/reglet-dev/reglet-workers/server"
)

func newServeCommand(a *app) *cobra.Command {
	c := &cobra.Command{
		Use:   "serve",
		Short: "Serve the worker over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}

	flags := c.Flags()
	flags.String("addr", ":8787", "listen address")
	flags.String("storage", "memory", "durable object state store: memory or sqlite")
	flags.String("storage-path", "", "sqlite database path")
	flags.Duration("invocation-timeout", 0, "bound on one invocation")
	_ = a.v.BindPFlag("server.addr", flags.Lookup("addr"))
	_ = a.v.BindPFlag("storage.driver", flags.Lookup("storage"))
	_ = a.v.BindPFlag("storage.path", flags.Lookup("storage-path"))
	_ = a.v.BindPFlag("server.invocation_timeout", flags.Lookup("invocation-timeout"))
	return c
}

func (a *app) serve(ctx context.Context) error {
	reg := newMetricsRegistry()
	rt, err := a.runtime(ctx, reg)
	if err != nil {
		return err
	}

	handler := server.New(rt.Dispatcher,
		server.WithLogger(a.logger),
		server.WithMetricsGatherer(reg),
		server.WithInvocationTimeout(a.cfg.Server.InvocationTimeout),
	)
	srv := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: a.cfg.Server.ReadHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("listening", "addr", srv.Addr, "worker", rt.Manifest.Name)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		return errors.Join(srv.Shutdown(sctx), rt.Close(sctx))
	})
	return g.Wait()
}
