package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"automod/internal/app"
)

var tasksJSON bool

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List registered tasks and their effective schedules",
	Args:  cobra.NoArgs,
	RunE:  runTasks,
}

func init() {
	tasksCmd.Flags().BoolVar(&tasksJSON, "json", false, "print JSON")
}

func runTasks(cmd *cobra.Command, _ []string) error {
	a, err := app.New(cmd.Context(), cfgPath, app.Options{Manual: true})
	if err != nil {
		return err
	}
	defer func() { _ = a.Stop(context.Background(), app.StopCommand) }()

	tasks := a.Tasks()
	if tasksJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(tasks)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSCHEDULE\tTIMEOUT\tLAST RUN")
	for _, t := range tasks {
		last := "-"
		if !t.LastRun.IsZero() {
			last = t.LastRun.Format(time.RFC3339)
		}
		timeout := t.Timeout
		if timeout == "" {
			timeout = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.Name, t.Spec, timeout, last)
	}
	return w.Flush()
}
