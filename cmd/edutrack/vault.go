package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

// vaultCmd groups vault inspection commands.
var vaultCmd = &cobra.Command{
	Use:   "vault",
	Short: "Inspect the curriculum vault",
}

var vaultStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show vault row counts",
	RunE:  runVaultStats,
}

func init() {
	vaultCmd.AddCommand(vaultStatsCmd)
}

func runVaultStats(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	stats, err := app.store.Stats(ctx)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Println(headerStyle.Render("vault"))
	for _, k := range keys {
		fmt.Printf("  %-28s %d\n", k, stats[k])
	}
	return nil
}
