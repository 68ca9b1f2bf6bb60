package telegram

import (
	"encoding/json"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/mattjoyce/tgrelay/internal/event"
)

// Convert maps a polled update to an event. Updates other than text messages
// and inline queries, or without a sender, are reported as not ok.
//
// The event payload is a re-encoding of the tgbotapi struct, so fields the
// library does not model are absent. ParseUpdate keeps Telegram's bytes, which
// means json-input commands can see more fields in webhook mode than in polling.
func Convert(u tgbotapi.Update) (event.Event, bool) {
	switch {
	case u.Message != nil:
		raw, err := json.Marshal(u.Message)
		if err != nil {
			return nil, false
		}
		return fromMessage(u.UpdateID, u.Message, raw)
	case u.InlineQuery != nil:
		raw, err := json.Marshal(u.InlineQuery)
		if err != nil {
			return nil, false
		}
		return fromInlineQuery(u.UpdateID, u.InlineQuery, raw)
	default:
		return nil, false
	}
}

// rawUpdate keeps the payload bytes exactly as Telegram sent them.
type rawUpdate struct {
	UpdateID    int             `json:"update_id"`
	Message     json.RawMessage `json:"message"`
	InlineQuery json.RawMessage `json:"inline_query"`
}

// ParseUpdate decodes a webhook body. The event payload is the original
// message or inline_query object, not a re-encoding.
func ParseUpdate(data []byte) (event.Event, bool, error) {
	var raw rawUpdate
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, false, fmt.Errorf("decode update: %w", err)
	}

	switch {
	case len(raw.Message) > 0 && string(raw.Message) != "null":
		var msg tgbotapi.Message
		if err := json.Unmarshal(raw.Message, &msg); err != nil {
			return nil, false, fmt.Errorf("decode message: %w", err)
		}
		ev, ok := fromMessage(raw.UpdateID, &msg, raw.Message)
		return ev, ok, nil
	case len(raw.InlineQuery) > 0 && string(raw.InlineQuery) != "null":
		var q tgbotapi.InlineQuery
		if err := json.Unmarshal(raw.InlineQuery, &q); err != nil {
			return nil, false, fmt.Errorf("decode inline query: %w", err)
		}
		ev, ok := fromInlineQuery(raw.UpdateID, &q, raw.InlineQuery)
		return ev, ok, nil
	default:
		return nil, false, nil
	}
}

func fromMessage(updateID int, msg *tgbotapi.Message, raw []byte) (event.Event, bool) {
	if msg.Text == "" || msg.From == nil || msg.Chat == nil {
		return nil, false
	}
	return &event.Message{
		Update:  updateID,
		Sender:  msg.From.ID,
		ChatID:  msg.Chat.ID,
		Body:    msg.Text,
		Payload: raw,
	}, true
}

func fromInlineQuery(updateID int, q *tgbotapi.InlineQuery, raw []byte) (event.Event, bool) {
	if q.From == nil {
		return nil, false
	}
	return &event.InlineQuery{
		Update:  updateID,
		Sender:  q.From.ID,
		QueryID: q.ID,
		Query:   q.Query,
		Offset:  q.Offset,
		Payload: raw,
	}, true
}
