package cmd

import (
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v2"

	"pipematrix/runner/storage"
)

// History executes the 'history' command
func History(c *cli.Context) error {
	store, err := openStore(c.String(DBFlag.Name))
	if err != nil {
		return runtimeExit(err)
	}
	defer store.Close()

	runs, err := store.GetRuns(c.Int(LimitFlag.Name))
	if err != nil {
		return runtimeExit(err)
	}
	writeHistory(os.Stdout, runs)
	return nil
}

func writeHistory(w io.Writer, runs []*storage.Run) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"ID", "PROJECT", "ENTRY", "VERSION", "STATUS", "FAILING STAGE", "TESTS", "CLEANUP", "DURATION", "STARTED"})
	for _, run := range runs {
		duration := "-"
		if run.Duration != nil {
			duration = *run.Duration
		}
		failing := "-"
		if run.FailingStage != "" {
			failing = run.FailingStage
		}
		t.AppendRow(table.Row{
			run.ID,
			run.Project,
			run.Entry,
			run.InterpreterVersion,
			run.Status,
			failing,
			run.TestsStatus,
			run.CleanupStatus,
			duration,
			run.StartedAt.Local().Format("2006-01-02 15:04:05"),
		})
	}
	t.SetStyle(table.StyleLight)
	t.Render()
}
