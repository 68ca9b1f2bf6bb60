package watch

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/tgrelay/internal/api"
	"github.com/mattjoyce/tgrelay/internal/events"
)

type eventMsg events.Record

type healthMsg api.HealthzResponse

type botsMsg []api.BotInfo

type tickMsg time.Time

type errMsg error

type sseDisconnectedMsg struct{}
type reconnectMsg struct{}

// subscribeToEvents streams /events into ch until the connection drops.
// lastID is sent as Last-Event-ID so a reconnect resumes the stream.
func subscribeToEvents(apiURL, apiKey string, lastID int64, ch chan<- events.Record) tea.Cmd {
	return func() tea.Msg {
		req, err := http.NewRequest(http.MethodGet, apiURL+"/events", nil)
		if err != nil {
			return errMsg(err)
		}
		req.Header.Set("Authorization", "Bearer "+apiKey)
		if lastID > 0 {
			req.Header.Set("Last-Event-ID", strconv.FormatInt(lastID, 10))
		}

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return sseDisconnectedMsg{}
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return errMsg(fmt.Errorf("GET /events: %s", resp.Status))
		}

		_ = readSSE(resp.Body, func(rec events.Record) { ch <- rec })
		return sseDisconnectedMsg{}
	}
}

// readSSE parses an event stream, calling emit for each complete frame.
func readSSE(r io.Reader, emit func(events.Record)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var cur events.Record
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if cur.Data != nil {
				cur.At = time.Now()
				emit(cur)
			}
			cur = events.Record{}
		case strings.HasPrefix(line, ":"):
			// keep-alive
		case strings.HasPrefix(line, "id: "):
			if id, err := strconv.ParseInt(line[4:], 10, 64); err == nil {
				cur.ID = id
			}
		case strings.HasPrefix(line, "event: "):
			cur.Type = line[7:]
		case strings.HasPrefix(line, "data: "):
			cur.Data = json.RawMessage(line[6:])
		}
	}
	return scanner.Err()
}

func receiveNextEvent(ch <-chan events.Record) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}

func fetchHealth(apiURL string) tea.Msg {
	var h api.HealthzResponse
	if err := getJSON(apiURL+"/healthz", "", &h); err != nil {
		return errMsg(err)
	}
	return healthMsg(h)
}

func fetchBots(apiURL, apiKey string) tea.Msg {
	var bots []api.BotInfo
	if err := getJSON(apiURL+"/bots", apiKey, &bots); err != nil {
		return errMsg(err)
	}
	return botsMsg(bots)
}

func getJSON(url, apiKey string, out any) error {
	client := &http.Client{Timeout: 2 * time.Second}
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", req.URL.Path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
