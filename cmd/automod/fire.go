package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"automod/internal/app"
	"automod/internal/config"
	"automod/internal/content"
	"automod/internal/task/engine"
)

var fireCmd = &cobra.Command{
	Use:   "fire [task]",
	Short: "Run one firing of a task now and print its report",
	Long:  "Runs one firing synchronously. Tasks: " + strings.Join(config.TaskNames(), ", "),
	Args:  cobra.ExactArgs(1),
	RunE:  runFire,
}

func runFire(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := app.New(ctx, cfgPath, app.Options{Manual: true})
	if err != nil {
		return err
	}
	defer func() { _ = a.Stop(context.Background(), app.StopCommand) }()

	rep, err := a.Fire(ctx, args[0])
	if errors.Is(err, engine.ErrOverlapSkip) {
		fmt.Printf("task %s is already running; firing skipped\n", args[0])
		return err
	}
	printReport(rep)
	return err
}

func printReport(rep content.Report) {
	fmt.Printf("stage %s: attempted=%d succeeded=%d failed=%d skipped=%d",
		rep.Stage, rep.Attempted(), rep.Succeeded(), rep.Failed(), rep.Skipped())
	if rep.Deleted > 0 {
		fmt.Printf(" deleted=%d", rep.Deleted)
	}
	fmt.Println()
	if len(rep.Results) == 0 {
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tID\tOUTCOME\tERROR")
	for _, r := range rep.Results {
		outcome, msg := "ok", ""
		switch {
		case r.Skipped:
			outcome = "skipped"
		case r.Err != nil:
			outcome, msg = "failed", r.Err.Error()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Kind, r.ID, outcome, msg)
	}
	_ = w.Flush()
}
