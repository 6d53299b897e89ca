package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kbgraph/kbd/internal/store"
	"github.com/kbgraph/kbd/pkg/config"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the store, embedder and LLM provider",
	Long:  `doctor loads the configuration and probes every dependency kbd relies on, reporting what is reachable and what is degraded.`,
	RunE:  runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	fmt.Println("kbd system check")
	fmt.Println("================")
	fmt.Println()

	ok := true

	fmt.Print("Configuration... ")
	cfg, err := loadConfig(cmd)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		return nil
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("INVALID: %v\n", err)
		ok = false
	} else {
		fmt.Println("OK")
	}
	fmt.Printf("  config path: %s\n\n", config.ConfigPath())

	fmt.Print("Store... ")
	if _, statErr := os.Stat(cfg.Store.Path); os.IsNotExist(statErr) {
		fmt.Println("NOT INITIALIZED (will be created on first write)")
	} else {
		s, openErr := store.Open(cfg.Store.Path, cfg.Embedding.Dimensions)
		if openErr != nil {
			fmt.Printf("ERROR: %v\n", openErr)
			ok = false
		} else {
			stats, statsErr := s.GraphStats()
			if statsErr != nil {
				fmt.Printf("ERROR: %v\n", statsErr)
				ok = false
			} else {
				nodeTotal, edgeTotal := 0, 0
				for _, c := range stats.NodesByType {
					nodeTotal += c
				}
				for _, c := range stats.EdgesByType {
					edgeTotal += c
				}
				fmt.Printf("OK (%d entries, %d nodes, %d edges)\n", stats.ActiveEntries, nodeTotal, edgeTotal)
			}
			fmt.Print("Vector search (sqlite-vec)... ")
			if s.VectorAvailable() {
				fmt.Println("OK")
			} else {
				fmt.Println("UNAVAILABLE (falling back to FTS-only ranking)")
			}
			s.Close()
		}
	}
	fmt.Printf("  path: %s\n\n", cfg.Store.Path)

	fmt.Print("Embedder... ")
	if !cfg.Embedding.Enabled {
		fmt.Println("DISABLED in config")
	} else {
		c, buildErr := build(cfg)
		if buildErr != nil {
			fmt.Printf("ERROR: %v\n", buildErr)
		} else {
			if c.embedder != nil && c.embedder.IsAvailable(cmd.Context()) {
				fmt.Println("OK")
			} else {
				fmt.Println("UNREACHABLE (searches will run lexical-only)")
			}
			c.close()
		}
	}
	fmt.Println()

	fmt.Print("LLM provider (" + cfg.LLM.Provider + ")... ")
	c, buildErr := build(cfg)
	if buildErr != nil {
		fmt.Printf("ERROR: %v\n", buildErr)
	} else {
		if c.llm != nil && c.llm.IsAvailable(cmd.Context()) {
			fmt.Println("OK")
		} else {
			fmt.Println("UNREACHABLE (graph enrichment and planning fall back to deterministic behavior)")
		}
		c.close()
	}
	fmt.Println()

	if ok {
		fmt.Println("Core systems operational.")
	} else {
		fmt.Println("Issues detected above.")
	}
	return nil
}
