package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/voyagen/iptvwatch/internal/logging"
	"github.com/voyagen/iptvwatch/internal/server"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with background check and prune jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sigCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return ctx.withApp(sigCtx, cmd.ErrOrStderr(), func(a *app) error {
				return serve(sigCtx, a)
			})
		},
	}
}

func serve(ctx context.Context, a *app) error {
	if a.redis != nil {
		a.log.Info().Msg("redis connected (caching enabled)")
		go a.jobs.Worker(ctx)
	} else {
		a.log.Info().Msg("redis disabled (REDIS_URL not set)")
	}
	go a.jobs.Periodic(ctx, a.cfg.CheckInterval)

	srv := server.New(a.store, a.jobs, server.Options{
		Port:    a.cfg.ServerPort,
		Logger:  a.log,
		Metrics: a.metrics,
		Color:   logging.IsTerminal(os.Stderr),
	})
	err := srv.ListenAndServe(ctx)
	a.jobs.Wait()
	return err
}
