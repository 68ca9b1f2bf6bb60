// Package reply turns command output into outbound Bot API requests.
package reply

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/mattjoyce/tgrelay/internal/command"
	"github.com/mattjoyce/tgrelay/internal/inline"
)

const (
	MethodSendMessage       = "sendMessage"
	MethodAnswerInlineQuery = "answerInlineQuery"

	parseModeMarkdown = "Markdown"
	parseModeHTML     = "HTML"

	monoFence = "```"
)

// ErrDecode is returned when json output cannot be parsed into a request object.
var ErrDecode = errors.New("invalid json output")

// Payload is one outbound API request: a method name and its JSON body.
type Payload struct {
	Method string
	Body   map[string]any
}

// Build converts the output of a message command into a reply for chatID.
func Build(kind command.OutputKind, chatID int64, out string) (Payload, error) {
	switch kind {
	case command.OutputText:
		return textMessage(chatID, out, ""), nil
	case command.OutputTextMono:
		return textMessage(chatID, fence(out), parseModeMarkdown), nil
	case command.OutputMarkdown:
		return textMessage(chatID, out, parseModeMarkdown), nil
	case command.OutputHTML:
		return textMessage(chatID, out, parseModeHTML), nil
	case command.OutputJSON:
		body, err := decodeObject(out)
		if err != nil {
			return Payload{}, err
		}
		method := MethodSendMessage
		if m, ok := body["method"].(string); ok && m != "" {
			method = m
			delete(body, "method")
		}
		return Payload{Method: method, Body: body}, nil
	default:
		return Payload{}, fmt.Errorf("unsupported output kind %v", kind)
	}
}

// BuildAnswer converts a pagination answer into an answerInlineQuery request.
func BuildAnswer(kind command.OutputKind, queryID string, ans inline.Answer) (Payload, error) {
	results := make([]any, 0, len(ans.Entries))
	for i, entry := range ans.Entries {
		result, err := inlineResult(kind, entry)
		if err != nil {
			return Payload{}, fmt.Errorf("result %d: %w", i, err)
		}
		results = append(results, result)
	}

	return Payload{
		Method: MethodAnswerInlineQuery,
		Body: map[string]any{
			"inline_query_id": queryID,
			"results":         results,
			"next_offset":     strconv.Itoa(ans.NextOffset),
		},
	}, nil
}

func inlineResult(kind command.OutputKind, entry string) (map[string]any, error) {
	var text, parseMode string
	switch kind {
	case command.OutputText:
		text = entry
	case command.OutputTextMono:
		text, parseMode = fence(entry), parseModeMarkdown
	case command.OutputMarkdown:
		text, parseMode = entry, parseModeMarkdown
	case command.OutputHTML:
		text, parseMode = entry, parseModeHTML
	case command.OutputJSON:
		obj, err := decodeObject(entry)
		if err != nil {
			return nil, err
		}
		if _, ok := obj["id"]; !ok {
			obj["id"] = uuid.NewString()
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("unsupported output kind %v", kind)
	}

	content := map[string]any{"message_text": text}
	if parseMode != "" {
		content["parse_mode"] = parseMode
	}
	return map[string]any{
		"type":                  "article",
		"id":                    uuid.NewString(),
		"title":                 title(entry),
		"input_message_content": content,
	}, nil
}

func textMessage(chatID int64, text, parseMode string) Payload {
	body := map[string]any{
		"chat_id": chatID,
		"text":    text,
	}
	if parseMode != "" {
		body["parse_mode"] = parseMode
	}
	return Payload{Method: MethodSendMessage, Body: body}
}

func fence(s string) string {
	return monoFence + s + monoFence
}

// title is the first non-blank line of entry.
func title(entry string) string {
	for _, line := range strings.Split(entry, "\n") {
		if t := strings.TrimSpace(line); t != "" {
			return t
		}
	}
	return strings.TrimSpace(entry)
}

func decodeObject(s string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()

	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after JSON object", ErrDecode)
	}
	if body == nil {
		return nil, fmt.Errorf("%w: expected a JSON object", ErrDecode)
	}
	return body, nil
}
