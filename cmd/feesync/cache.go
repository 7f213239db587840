package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/ericfisherdev/feesync/internal/domain/model"
)

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the fee cache",
	}
	cmd.AddCommand(cacheStatsCmd(), cacheClearCmd(), cacheSweepCmd())
	return cmd
}

func cacheStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show fee cache counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			stats, err := a.syncSvc.CacheStats(cmd.Context())
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Entries: %d (ttl %s)\n", stats.Count, a.cfg.CacheTTL)
			if stats.Count == 0 {
				return nil
			}
			fmt.Fprintf(w, "Oldest:  %s ago\n", stats.OldestAge.Round(time.Second))
			fmt.Fprintf(w, "Newest:  %s ago\n", stats.NewestAge.Round(time.Second))

			providers := make([]model.Provider, 0, len(stats.ByProvider))
			for p := range stats.ByProvider {
				providers = append(providers, p)
			}
			sort.Slice(providers, func(i, j int) bool { return providers[i] < providers[j] })

			for _, p := range providers {
				ps := stats.ByProvider[p]
				fmt.Fprintf(w, "  %-8s %d entries, %d estimated\n", p, ps.Count, ps.Estimated)
			}
			return nil
		},
	}
}

func cacheClearCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete cached fees and settlement rates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			providerName, _ := cmd.Flags().GetString("provider")
			account, _ := cmd.Flags().GetString("account")

			scope := model.CacheScope{Account: account}
			if providerName != "" {
				p, ok := model.ParseProvider(providerName)
				if !ok {
					return fmt.Errorf("unknown provider %q", providerName)
				}
				scope.Provider = p
			}

			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.syncSvc.ClearCache(cmd.Context(), scope)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d fee entries and %d settlement entries\n", res.FeeEntries, res.SettlementEntries)
			return nil
		},
	}
	cmd.Flags().StringP("provider", "p", "", "Only entries of this provider")
	cmd.Flags().StringP("account", "a", "", "Only entries of this account")
	return cmd
}

func cacheSweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete cache entries older than a cutoff",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			olderThan, _ := cmd.Flags().GetDuration("older-than")
			if olderThan < 0 {
				return fmt.Errorf("--older-than must not be negative")
			}

			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.syncSvc.SweepCache(cmd.Context(), olderThan)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Swept %d fee entries and %d settlement entries\n", res.FeeEntries, res.SettlementEntries)
			return nil
		},
	}
	cmd.Flags().Duration("older-than", 0, "Age cutoff (default: the cache TTL)")
	return cmd
}
