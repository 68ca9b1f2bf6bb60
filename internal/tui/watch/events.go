package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/tgrelay/internal/events"
)

const maxShownEvents = 10

func renderEventStream(eventLog []events.Record, theme Theme, width int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENT STREAM"),
			theme.Dim.Render("  Waiting for events..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	var lines []string
	for _, e := range eventLog[:min(len(eventLog), maxShownEvents)] {
		lines = append(lines, formatEvent(e, theme))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENT STREAM"),
		lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n")),
	)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatEvent(e events.Record, theme Theme) string {
	ts := theme.Dim.Render(e.At.Format("15:04:05"))

	var typeStyle lipgloss.Style
	switch {
	case strings.HasSuffix(e.Type, ".sent"):
		typeStyle = theme.StatusOK
	case strings.HasSuffix(e.Type, ".failed"):
		typeStyle = theme.StatusFailed
	case strings.HasSuffix(e.Type, ".matched"):
		typeStyle = theme.StatusRunning
	default:
		typeStyle = theme.Dim
	}

	typeName := typeStyle.Render(fmt.Sprintf("%-18s", e.Type))
	return fmt.Sprintf("%s %s %s", ts, typeName, describeEvent(e))
}

// describeEvent renders the interesting fields of a dispatch record.
func describeEvent(e events.Record) string {
	var data struct {
		Bot      string       `json:"bot"`
		Command  string       `json:"command"`
		SenderID *json.Number `json:"sender_id"`
		Error    string       `json:"error"`
	}
	if err := json.Unmarshal(e.Data, &data); err != nil || data.Bot == "" {
		raw := string(e.Data)
		if len(raw) > 60 {
			raw = raw[:60] + "..."
		}
		return raw
	}

	parts := []string{"[" + data.Bot + "]"}
	if data.Command != "" {
		parts = append(parts, data.Command)
	}
	if data.SenderID != nil {
		parts = append(parts, "from "+data.SenderID.String())
	}
	if data.Error != "" {
		msg := data.Error
		if len(msg) > 60 {
			msg = msg[:60] + "..."
		}
		parts = append(parts, "("+msg+")")
	}
	return strings.Join(parts, " ")
}
