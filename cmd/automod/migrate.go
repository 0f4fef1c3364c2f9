package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"automod/internal/config"
	"automod/internal/storage"
	logx "automod/pkg/logx"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.NewConfigManager(cfgPath).Load()
	if err != nil {
		return err
	}
	log := logx.NewConsole(cfg.Logging.Level)
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return err
	}
	// Open applies the schema.
	st, err := storage.Open(cmd.Context(), storage.Config{Path: cfg.Storage.Path, BusyTimeout: busy}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()
	fmt.Println("schema up to date:", cfg.Storage.Path)
	return nil
}
