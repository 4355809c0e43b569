package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/voyagen/iptvwatch/internal/service"
)

func newLoadCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "load <url|file>",
		Short: "Ingest an M3U playlist into the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd.Context(), cmd.ErrOrStderr(), func(a *app) error {
				res, err := service.Ingest(cmd.Context(), a.store, args[0], a.ingestOptions())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if res.FetchErr != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "Warning: could not fetch %s: %v\n", args[0], res.FetchErr)
				}
				fmt.Fprintf(out, "Inserted %d new entries\n", res.Inserted)
				return nil
			})
		},
	}
}
