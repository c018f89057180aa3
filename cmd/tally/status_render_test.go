package main

import (
	"strings"
	"testing"
)

func TestDisplayLabel(t *testing.T) {
	tests := map[string]string{
		"in_progress": "In Progress",
		"pending":     "Pending",
		"critical":    "Critical",
		" retry ":     "Retry",
	}
	for input, want := range tests {
		if got := displayLabel(input); got != want {
			t.Errorf("displayLabel(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestBuildQueueStatusRows(t *testing.T) {
	rows := buildQueueStatusRows(map[string]int{
		"total":   4,
		"pending": 2,
		"retry":   1,
		"failed":  1,
	})
	if len(rows) != 4 {
		t.Fatalf("expected 4 rows, got %d: %v", len(rows), rows)
	}
	if rows[0][0] != "Pending" || rows[0][1] != "2" {
		t.Fatalf("unexpected first row %v", rows[0])
	}
	last := rows[len(rows)-1]
	if last[0] != "Total" || last[1] != "4" {
		t.Fatalf("expected total last, got %v", last)
	}

	if rows := buildQueueStatusRows(map[string]int{"total": 0}); rows != nil {
		t.Fatalf("expected no rows for an empty queue, got %v", rows)
	}
}

func TestRenderStatusLine(t *testing.T) {
	line := renderStatusLine("Running", statusOK, "pid 42", false)
	if !strings.Contains(line, "Running:") || !strings.Contains(line, "[OK] pid 42") {
		t.Fatalf("unexpected line %q", line)
	}
	if strings.Contains(line, ansiGreen) {
		t.Fatal("colorless render must not emit ANSI codes")
	}

	colored := renderStatusLine("Running", statusOK, "pid 42", true)
	if !strings.HasPrefix(colored, ansiGreen) || !strings.HasSuffix(colored, ansiReset) {
		t.Fatalf("expected colored line, got %q", colored)
	}
}

func TestShortIDAndTruncate(t *testing.T) {
	if got := shortID("0123456789abcdef"); got != "01234567" {
		t.Fatalf("shortID = %q", got)
	}
	if got := shortID("abc"); got != "abc" {
		t.Fatalf("shortID short input = %q", got)
	}
	if got := truncate("short", 48); got != "short" {
		t.Fatalf("truncate = %q", got)
	}
	long := strings.Repeat("x", 60)
	if got := truncate(long, 48); len(got) > 50 || !strings.HasSuffix(got, "…") {
		t.Fatalf("truncate long = %q", got)
	}
}
