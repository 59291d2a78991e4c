package main

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"tubemux/job"
)

// progressLines returns one line per stage whose state changed since seen and
// records the new states in seen.
func progressLines(seen, current job.Tasks, color bool) []string {
	var lines []string
	for _, stage := range job.Stages {
		state, ok := current[stage]
		if !ok || seen[stage] == state {
			continue
		}
		seen[stage] = state
		if state.Status == job.StagePending {
			continue
		}
		lines = append(lines, fmt.Sprintf("%-13s %s  %s", stage, statusText(state.Status, color), state.Detail))
	}
	return lines
}

func statusText(status job.StageStatus, color bool) string {
	label := fmt.Sprintf("%-7s", status)
	if !color {
		return label
	}
	switch status {
	case job.StageDone:
		return text.FgGreen.Sprint(label)
	case job.StageError:
		return text.FgRed.Sprint(label)
	case job.StageSkipped:
		return text.FgHiBlack.Sprint(label)
	case job.StageRunning:
		return text.FgCyan.Sprint(label)
	default:
		return label
	}
}

func renderStageTable(tasks job.Tasks) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Stage", "Status", "Progress", "Detail"})
	for _, stage := range job.Stages {
		state := tasks[stage]
		progress := ""
		if state.Progress != "" {
			progress = state.Progress + "%"
		}
		tw.AppendRow(table.Row{string(stage), string(state.Status), progress, state.Detail})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight, AlignHeader: text.AlignLeft},
	})
	return tw.Render()
}
