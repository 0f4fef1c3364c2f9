package main

import (
	"fmt"
	"os"
	_ "time/tzdata"

	"github.com/spf13/cobra"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "automod",
	Short: "automod - scheduled content and download pipeline",
	Long: `automod generates posts for connected accounts, publishes them when due,
reconciles follower metrics, processes queued downloads and prunes old data,
each on its own schedule.`,
	SilenceUsage: true,
	RunE:         runPipeline,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "./automod.yaml", "path to config (yaml or json)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(fireCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
