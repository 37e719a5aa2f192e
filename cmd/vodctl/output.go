package main

import (
	"encoding/json"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/hszk-dev/vodforge/internal/domain/model"
)

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// wantsTable reports whether results are rendered as tables. In auto mode
// tables are used only when stdout is a terminal, so pipes get JSON.
func (c *commandContext) wantsTable(cmd *cobra.Command) bool {
	switch c.output {
	case outputTable:
		return true
	case outputJSON:
		return false
	default:
		return isTerminal(cmd.OutOrStdout())
	}
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func jobRows(jobs []*model.Job) [][]string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		rows = append(rows, []string{
			job.ID,
			job.EpisodeID,
			string(job.State),
			strconv.Itoa(job.Progress) + "%",
			strconv.Itoa(job.Attempt) + "/" + strconv.Itoa(job.MaxAttempts),
			strconv.Itoa(job.Priority),
			formatTime(job.EnqueuedAt),
			job.LastError,
		})
	}
	return rows
}

var jobHeaders = []string{"ID", "Episode", "State", "Progress", "Attempt", "Priority", "Enqueued", "Error"}

var jobAligns = []columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft, alignLeft}

func progressRow(event *model.ProgressEvent) []string {
	return []string{
		event.EpisodeID,
		event.JobID,
		string(event.Status),
		string(event.CurrentStage),
		strconv.Itoa(event.Progress) + "%",
		formatTime(event.Timestamp),
		event.Error,
	}
}

var progressHeaders = []string{"Episode", "Job", "Status", "Stage", "Progress", "Updated", "Error"}

var progressAligns = []columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}
