package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/voyagen/iptvwatch/internal/cache"
	"github.com/voyagen/iptvwatch/internal/service"
)

func newRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove",
		Short: "Delete entries that have been dead longer than the retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd.Context(), cmd.ErrOrStderr(), func(a *app) error {
				n, err := service.Prune(cmd.Context(), a.locker, a.store, a.cfg.PruneRetention, a.log, a.metrics)
				if errors.Is(err, cache.ErrLocked) {
					fmt.Fprintln(cmd.OutOrStdout(), "A prune sweep is already running; skipped")
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d entries\n", n)
				return nil
			})
		},
	}
}
