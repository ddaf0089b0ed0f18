// Package render formats job progress and preflight reports for the
// terminal.
package render

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	humanize "github.com/dustin/go-humanize"

	"github.com/mgreer/stagesync/internal/domain"
	"github.com/mgreer/stagesync/internal/transport"
)

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	dimStyle     = lipgloss.NewStyle().Faint(true)
)

// ColorsEnabled reports whether styled output should be produced.
func ColorsEnabled() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func levelStyle(level domain.MessageLevel) lipgloss.Style {
	switch level {
	case domain.LevelSuccess:
		return successStyle
	case domain.LevelWarning:
		return warningStyle
	case domain.LevelError:
		return errorStyle
	}
	return infoStyle
}

func levelTag(level domain.MessageLevel) string {
	switch level {
	case domain.LevelSuccess:
		return "ok"
	case domain.LevelWarning:
		return "warn"
	case domain.LevelError:
		return "error"
	}
	return "info"
}

// Line formats one message line at its severity.
func Line(level domain.MessageLevel, message string) string {
	tag := fmt.Sprintf("%-5s", levelTag(level))
	if ColorsEnabled() {
		tag = levelStyle(level).Render(tag)
	}
	return tag + " " + message
}

// JobMessages writes job log entries, one line each.
func JobMessages(w io.Writer, msgs []domain.JobMessage) {
	for _, m := range msgs {
		fmt.Fprintln(w, Line(m.Level, m.Message))
	}
}

// Report writes a preflight or error report.
func Report(w io.Writer, msgs []transport.Message) {
	for _, m := range msgs {
		fmt.Fprintln(w, Line(m.Level, m.Message))
	}
}

// JobSummary writes one job line for list output.
func JobSummary(w io.Writer, j domain.ImportJob) {
	status := j.Status.String()
	if ColorsEnabled() {
		switch j.Status {
		case domain.StatusCompleted:
			status = successStyle.Render(status)
		case domain.StatusFailed:
			status = errorStyle.Render(status)
		case domain.StatusImporting:
			status = infoStyle.Render(status)
		}
	}
	age := humanize.Time(j.CreatedAt)
	size := ""
	if !j.Retired {
		size = "  " + humanize.Bytes(uint64(len(j.Payload)))
	}
	line := fmt.Sprintf("%-6d %-12s %s%s", j.ID, status, age, size)
	if j.Retired && ColorsEnabled() {
		line = strings.Replace(line, age, dimStyle.Render(age), 1)
	}
	fmt.Fprintln(w, line)
}

// PushSummary writes the final line after a push reaches a terminal
// state.
func PushSummary(w io.Writer, jobID int64, status domain.JobStatus, payloadSize int) {
	msg := fmt.Sprintf("job %d finished: %s (payload %s)",
		jobID, status, humanize.Bytes(uint64(payloadSize)))
	level := domain.LevelSuccess
	if status == domain.StatusFailed {
		level = domain.LevelError
	}
	fmt.Fprintln(w, Line(level, msg))
}
