// Package event defines the transient updates consumed by a bot's dispatch loop.
package event

import "encoding/json"

// Event is either a *Message or an *InlineQuery.
type Event interface {
	// UpdateID is the transport's update identifier, used for log correlation.
	UpdateID() int
	// SenderID is the identifier of the user who produced the update.
	SenderID() int64
	// Text is the text matched against command patterns.
	Text() string
	// Raw is the update object as JSON, written to stdin for json input.
	Raw() json.RawMessage

	isEvent()
}

// Message is a chat message carrying text.
type Message struct {
	Update  int
	Sender  int64
	ChatID  int64
	Body    string
	Payload json.RawMessage
}

func (m *Message) UpdateID() int        { return m.Update }
func (m *Message) SenderID() int64      { return m.Sender }
func (m *Message) Text() string         { return m.Body }
func (m *Message) Raw() json.RawMessage { return m.Payload }
func (*Message) isEvent()               {}

// InlineQuery is an incremental inline query. Offset is the opaque cursor the
// client echoes back from the previous answer.
type InlineQuery struct {
	Update  int
	Sender  int64
	QueryID string
	Query   string
	Offset  string
	Payload json.RawMessage
}

func (q *InlineQuery) UpdateID() int        { return q.Update }
func (q *InlineQuery) SenderID() int64      { return q.Sender }
func (q *InlineQuery) Text() string         { return q.Query }
func (q *InlineQuery) Raw() json.RawMessage { return q.Payload }
func (*InlineQuery) isEvent()               {}
