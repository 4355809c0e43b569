package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/voyagen/iptvwatch/internal/models"
)

func newStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show per-group catalog counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd.Context(), cmd.ErrOrStderr(), func(a *app) error {
				groups, err := a.store.GroupStats(cmd.Context())
				if err != nil {
					return err
				}
				if len(groups) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Catalog is empty")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderGroupStats(groups, time.Now()))
				return nil
			})
		},
	}
}

func renderGroupStats(groups []models.GroupStats, now time.Time) string {
	var total models.GroupStats
	total.Name = "Total"

	rows := make([][]string, 0, len(groups))
	for _, g := range groups {
		rows = append(rows, groupRow(g, now))
		total.Total += g.Total
		total.Active += g.Active
		total.Dead += g.Dead
		total.Unchecked += g.Unchecked
		if g.LastChecked != nil && (total.LastChecked == nil || g.LastChecked.After(*total.LastChecked)) {
			total.LastChecked = g.LastChecked
		}
	}

	headers := []string{"Group", "Total", "Active", "Dead", "Unchecked", "Last check"}
	aligns := []columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignLeft}
	return renderTable(headers, rows, groupRow(total, now), aligns)
}

func groupRow(g models.GroupStats, now time.Time) []string {
	last := "never"
	if g.LastChecked != nil {
		last = humanize.RelTime(*g.LastChecked, now, "ago", "from now")
	}
	return []string{
		g.Name,
		humanize.Comma(int64(g.Total)),
		humanize.Comma(int64(g.Active)),
		humanize.Comma(int64(g.Dead)),
		humanize.Comma(int64(g.Unchecked)),
		last,
	}
}
