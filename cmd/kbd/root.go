package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set during build.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "kbd",
	Short: "Persistent knowledge base with hybrid retrieval and a relationship graph",
	Long: `kbd stores knowledge entries in a single transactional SQLite file,
ranks search results by fusing lexical and vector search, and maintains a
graph linking entries to tags, projects, people, tools, and each other.

Examples:
  kbd serve
  kbd stats
  kbd doctor`,
	Version: Version,
}

// Execute adds all child commands to the root command and runs it.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().String("log_level", "", "log level override (debug, info, warn, error)")
}
