package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/voyagen/iptvwatch/internal/cache"
	"github.com/voyagen/iptvwatch/internal/service"
)

func newCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check <max>",
		Short: "Probe up to max stale entries and record liveness",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, err := parseLimit(args[0])
			if err != nil {
				return err
			}
			return ctx.withApp(cmd.Context(), cmd.ErrOrStderr(), func(a *app) error {
				summary, err := service.RunCheck(cmd.Context(), a.locker, a.scheduler, limit)
				if errors.Is(err, cache.ErrLocked) {
					fmt.Fprintln(cmd.OutOrStdout(), "A check cycle is already running; skipped")
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Checked %d entries with %d workers: %d alive, %d dead\n",
					summary.Selected, summary.Workers, summary.Alive, summary.Dead)
				if summary.WriteErrors > 0 || summary.Faults > 0 {
					fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %d results not recorded, %d probes failed unexpectedly\n",
						summary.WriteErrors, summary.Faults)
				}
				return nil
			})
		},
	}
}

func parseLimit(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid max %q: must be a whole number", raw)
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid max %d: must not be negative", n)
	}
	return n, nil
}
