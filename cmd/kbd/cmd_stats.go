package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print graph and entry counts",
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	c, err := build(cfg)
	if err != nil {
		return err
	}
	defer c.close()

	stats, err := c.store.GraphStats()
	if err != nil {
		return fmt.Errorf("graph stats: %w", err)
	}

	fmt.Printf("active entries: %d\n", stats.ActiveEntries)
	fmt.Println("nodes by type:")
	for t, n := range stats.NodesByType {
		fmt.Printf("  %-12s %d\n", t, n)
	}
	fmt.Println("edges by type:")
	for t, n := range stats.EdgesByType {
		fmt.Printf("  %-16s %d\n", t, n)
	}
	fmt.Printf("vector search: %v\n", c.store.VectorAvailable())
	return nil
}
