package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"edgelm/internal/common/fsutil"
	"edgelm/internal/statsstore"
)

var errNoStatsDB = errors.New("no statistics database configured (set stats_db, EDGELM_STATS_DB or --stats-db)")

func newStatsCmd(a *app) *cobra.Command {
	var (
		model  string
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show recorded generation statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			applyFlags(cmd, &a.cfg)
			store, err := a.requireStats()
			if err != nil {
				return err
			}
			defer store.Close()
			sums, err := store.Summaries(cmd.Context())
			if err != nil {
				return err
			}
			recent, err := store.Recent(cmd.Context(), model, limit)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{"summaries": sums, "recent": recent})
			}
			return printStats(cmd.OutOrStdout(), sums, recent)
		},
	}
	cmd.PersistentFlags().String("stats-db", "", "SQLite statistics file (overrides config)")
	cmd.Flags().StringVar(&model, "model", "", "Only show recent calls for this model")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of recent calls to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")

	var olderThan time.Duration
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete generation records older than a cutoff",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			applyFlags(cmd, &a.cfg)
			store, err := a.requireStats()
			if err != nil {
				return err
			}
			defer store.Close()
			n, err := store.Prune(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d records\n", n)
			return nil
		},
	}
	prune.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Age of the records to delete")

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations and print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			applyFlags(cmd, &a.cfg)
			path, err := a.statsPath()
			if err != nil {
				return err
			}
			if err := statsstore.MigrateUp(path); err != nil {
				return err
			}
			v, dirty, err := statsstore.Version(path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty=%t)\n", v, dirty)
			return nil
		},
	}
	cmd.AddCommand(prune, migrate)
	return cmd
}

func (a *app) statsPath() (string, error) {
	if a.cfg.StatsDB == "" {
		return "", errNoStatsDB
	}
	return fsutil.ExpandHome(a.cfg.StatsDB)
}

func (a *app) requireStats() (*statsstore.Store, error) {
	if a.cfg.StatsDB == "" {
		return nil, errNoStatsDB
	}
	return a.openStats()
}

func printStats(w io.Writer, sums []statsstore.Summary, recent []statsstore.Record) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MODEL\tCALLS\tOK\tFAILED\tTOKENS\tTOK/S\tLAST")
	for _, s := range sums {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\t%.1f\t%s\n",
			s.Model, s.Calls, s.Completed, s.Failed, humanize.Comma(s.Tokens), s.AvgTokensPerSecond, humanize.Time(s.LastCall))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if len(recent) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tMODEL\tOUTCOME\tTOKENS\tDURATION\tTOK/S\tPARAMS\tWHEN")
	for _, r := range recent {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%.1f\t%s\t%s\n",
			shortID(r.ID), r.Model, r.Outcome, r.Tokens, r.Duration.Round(time.Millisecond), r.TokensPerSecond(),
			orDash(r.ParamSource), humanize.Time(r.CreatedAt))
	}
	return tw.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
