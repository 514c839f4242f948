package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/goliatone/go-orm-lab/caching"
	"github.com/goliatone/go-orm-lab/internal/database"
	"github.com/spf13/cobra"
)

func newRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run [module...]",
		Short: "Run modules in order (all of them when none are named)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := a.container(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			runner, err := c.Runner()
			if err != nil {
				return err
			}
			results, err := runner.Run(ctx, args...)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "MODULE\tDURATION\tRESULT")
			for _, res := range results {
				status := "ok"
				if res.Err != nil {
					status = "failed"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", res.Module, res.Duration.Round(time.Millisecond), status)
			}
			_ = w.Flush()
			return err
		},
	}
}

func newModulesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "modules",
		Short: "List the available modules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.container(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, m := range c.Modules() {
				fmt.Fprintf(w, "%s\t%s\n", m.Name, m.Description)
			}
			return w.Flush()
		},
	}
}

func newPerfCmd(a *app) *cobra.Command {
	var products, reads int

	cmd := &cobra.Command{
		Use:   "perf",
		Short: "Compare product reads with and without the second-level cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			c, err := a.container(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			if err := database.ResetSchema(ctx, c.DB(), caching.Models()...); err != nil {
				return err
			}
			report, err := caching.Perf(ctx, c.Catalog(), c.QueryHook(), products, reads)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "products\t%d\n", report.Products)
			fmt.Fprintf(w, "reads\t%d\n", report.Reads)
			fmt.Fprintf(w, "uncached\t%s\t%d statements\n", report.Uncached, report.UncachedQueries)
			fmt.Fprintf(w, "cached\t%s\t%d statements\n", report.Cached, report.CachedQueries)
			fmt.Fprintf(w, "hits/misses\t%d/%d\n", report.Statistics.SecondLevelCacheHits, report.Statistics.SecondLevelCacheMisses)
			fmt.Fprintf(w, "speedup\t%.1fx\n", report.Speedup())
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&products, "products", 100, "Number of products to seed")
	cmd.Flags().IntVar(&reads, "reads", 10000, "Number of reads per pass")
	return cmd
}

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats [module...]",
		Short: "Run modules, then print the statistics in Prometheus text format",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := a.container(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			runner, err := c.Runner()
			if err != nil {
				return err
			}
			if _, err := runner.Run(ctx, args...); err != nil {
				return err
			}
			c.Statistics().WritePrometheus(cmd.OutOrStdout())
			return nil
		},
	}
}
