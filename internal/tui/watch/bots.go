package watch

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/tgrelay/internal/api"
)

// BotState aggregates what the event stream says about one bot.
type BotState struct {
	Name     string
	Username string
	Commands int

	Matched     int
	Dropped     int
	Failed      int
	Replies     int
	ReplyErrors int

	LastCommand string
	LastError   string
	LastSeen    time.Time
}

func getOrCreateBot(bots map[string]*BotState, name string) *BotState {
	b, ok := bots[name]
	if !ok {
		b = &BotState{Name: name}
		bots[name] = b
	}
	return b
}

// seedBots records the static bot listing from /bots.
func seedBots(bots map[string]*BotState, infos []api.BotInfo) {
	for _, info := range infos {
		b := getOrCreateBot(bots, info.Name)
		b.Username = info.Username
		b.Commands = len(info.Commands)
	}
}

// updateBotState folds one event into the per-bot counters.
func updateBotState(bots map[string]*BotState, eventType string, raw []byte, at time.Time) {
	var data struct {
		Bot     string `json:"bot"`
		Command string `json:"command"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &data); err != nil || data.Bot == "" {
		return
	}

	b := getOrCreateBot(bots, data.Bot)
	b.LastSeen = at
	if data.Command != "" {
		b.LastCommand = data.Command
	}

	switch eventType {
	case "dispatch.matched":
		b.Matched++
	case "dispatch.dropped":
		b.Dropped++
	case "dispatch.failed":
		b.Failed++
		b.LastError = data.Error
	case "reply.sent":
		b.Replies++
	case "reply.failed":
		b.ReplyErrors++
		b.LastError = data.Error
	}
}

func sortedBots(bots map[string]*BotState) []*BotState {
	out := make([]*BotState, 0, len(bots))
	for _, b := range bots {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func newBotTable() table.Model {
	t := table.New(
		table.WithColumns(botColumns(80)),
		table.WithHeight(6),
		table.WithFocused(true),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.Bold(true).Foreground(lipgloss.Color("#61AFEF"))
	s.Selected = s.Selected.Foreground(lipgloss.Color("#FAFAFA")).Background(lipgloss.Color("#874BFD"))
	t.SetStyles(s)
	return t
}

func botColumns(width int) []table.Column {
	last := max(12, width-70)
	return []table.Column{
		{Title: "BOT", Width: 16},
		{Title: "CMDS", Width: 5},
		{Title: "MATCHED", Width: 8},
		{Title: "DROPPED", Width: 8},
		{Title: "FAILED", Width: 7},
		{Title: "REPLIES", Width: 8},
		{Title: "LAST", Width: last},
	}
}

func botRows(bots map[string]*BotState) []table.Row {
	var rows []table.Row
	for _, b := range sortedBots(bots) {
		name := b.Name
		if b.Username != "" {
			name = "@" + b.Username
		}
		last := b.LastCommand
		if b.LastError != "" {
			last = "! " + b.LastError
		}
		rows = append(rows, table.Row{
			name,
			fmt.Sprint(b.Commands),
			fmt.Sprint(b.Matched),
			fmt.Sprint(b.Dropped),
			fmt.Sprint(b.Failed + b.ReplyErrors),
			fmt.Sprint(b.Replies),
			last,
		})
	}
	return rows
}

func renderBots(t table.Model, theme Theme, width int) string {
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("BOTS"),
		t.View(),
	)
	return theme.Border.Width(width - 4).Render(content)
}
