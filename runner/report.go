package runner

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// WriteSummary renders one row per matrix entry
func WriteSummary(w io.Writer, results []*RunResult) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"ENTRY", "STATUS", "FAILING STAGE", "TESTS", "CLEANUP", "DURATION"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "DURATION", Align: text.AlignRight},
	})

	for _, res := range results {
		failing := "-"
		if res.FailingStage != "" {
			failing = string(res.FailingStage)
		}
		t.AppendRow(table.Row{
			res.Entry,
			res.Status,
			failing,
			res.TestsStatus,
			res.CleanupStatus,
			res.Duration.Round(time.Millisecond).String(),
		})
	}

	s := Summarize(results)
	t.AppendFooter(table.Row{"TOTAL", fmt.Sprintf("%d/%d succeeded", s.Succeeded, s.Total), "", "", fmt.Sprintf("%d failed", s.CleanupFailures), ""})

	switch {
	case s.Failed > 0:
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	case s.CleanupFailures > 0:
		t.SetStyle(table.StyleColoredBlackOnYellowWhite)
	default:
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	}
	t.Render()
}
