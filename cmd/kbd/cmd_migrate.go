package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema changes to the store",
	Long:  `migrate opens the store file, which applies its schema in place, then reports the result. There is no separate migration runner: store.Open is idempotent and safe to run repeatedly.`,
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.EnsureStoreDir(); err != nil {
		return err
	}

	c, err := build(cfg)
	if err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	defer c.close()

	fmt.Printf("schema up to date at %s\n", cfg.Store.Path)
	return nil
}
