package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"tally/internal/ipc"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				status, err := client.Status()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				for _, line := range buildStatusLines(status, colorize) {
					fmt.Fprintln(out, line)
				}
				return nil
			})
		},
	}
}

func buildStatusLines(status *ipc.StatusResponse, colorize bool) []string {
	var lines []string

	lines = append(lines, renderSectionHeader("Daemon", colorize)...)
	runningKind := statusError
	runningMsg := "stopped"
	if status.Running {
		runningKind = statusOK
		runningMsg = fmt.Sprintf("pid %d", status.PID)
	}
	lines = append(lines, renderStatusLine("Running", runningKind, runningMsg, colorize))

	processingMsg := "idle"
	if status.Processing {
		processingMsg = "draining queue"
	}
	lines = append(lines, renderStatusLine("Processing", statusInfo, processingMsg, colorize))
	lines = append(lines, renderStatusLine("State database", statusInfo, status.StateDBPath, colorize))
	lines = append(lines, renderStatusLine("Operations", statusInfo, strings.Join(status.Kinds, ", "), colorize))

	if len(status.Preflight) > 0 {
		lines = append(lines, "")
		lines = append(lines, renderSectionHeader("Preflight", colorize)...)
		for _, check := range status.Preflight {
			kind := statusWarn
			if check.Passed {
				kind = statusOK
			}
			lines = append(lines, renderStatusLine(check.Name, kind, check.Detail, colorize))
		}
	}

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Queue", colorize)...)
	if rows := buildQueueStatusRows(status.QueueStats); len(rows) == 0 {
		lines = append(lines, statusIndent+"Queue is empty")
	} else {
		lines = append(lines, renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
	}

	return lines
}

// buildQueueStatusRows orders the non-zero per-status counts with the total
// last. An all-zero map yields no rows.
func buildQueueStatusRows(stats map[string]int) [][]string {
	if stats["total"] == 0 {
		return nil
	}

	order := []string{"pending", "in_progress", "retry", "failed"}
	var rows [][]string
	seen := map[string]bool{"total": true}
	for _, key := range order {
		seen[key] = true
		if count := stats[key]; count > 0 {
			rows = append(rows, []string{displayLabel(key), strconv.Itoa(count)})
		}
	}

	var extras []string
	for key, count := range stats {
		if !seen[key] && count > 0 {
			extras = append(extras, key)
		}
	}
	sort.Strings(extras)
	for _, key := range extras {
		rows = append(rows, []string{displayLabel(key), strconv.Itoa(stats[key])})
	}

	rows = append(rows, []string{"Total", strconv.Itoa(stats["total"])})
	return rows
}
