package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/voyagen/iptvwatch/internal/service"
)

func newSaveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "save <file>",
		Short: "Export active entries as an M3U playlist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd.Context(), cmd.ErrOrStderr(), func(a *app) error {
				n, err := service.ExportFile(cmd.Context(), a.store, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Saved %d entries to %s\n", n, args[0])
				return nil
			})
		},
	}
}
