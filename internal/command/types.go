package command

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/mattjoyce/tgrelay/internal/acl"
)

// Mode selects which kind of update a command responds to.
type Mode int

const (
	ModeMessage Mode = iota
	ModeInline
)

func (m Mode) String() string {
	switch m {
	case ModeMessage:
		return "message"
	case ModeInline:
		return "inline"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode parses a config mode name. Empty defaults to message.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "message":
		return ModeMessage, nil
	case "inline":
		return ModeInline, nil
	default:
		return 0, fmt.Errorf("invalid mode %q (must be message or inline)", s)
	}
}

// InputKind selects what is written to the executable's stdin.
type InputKind int

const (
	// InputText writes the message text (or inline query text).
	InputText InputKind = iota
	// InputJSON writes the raw update object as JSON.
	InputJSON
)

func (k InputKind) String() string {
	switch k {
	case InputText:
		return "text"
	case InputJSON:
		return "json"
	default:
		return fmt.Sprintf("input(%d)", int(k))
	}
}

// ParseInputKind parses a config input name. Empty defaults to text.
func ParseInputKind(s string) (InputKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return InputText, nil
	case "json":
		return InputJSON, nil
	default:
		return 0, fmt.Errorf("invalid input %q (must be text or json)", s)
	}
}

// OutputKind selects how the executable's stdout becomes a reply.
type OutputKind int

const (
	OutputText OutputKind = iota
	OutputTextMono
	OutputMarkdown
	OutputHTML
	OutputJSON
)

func (k OutputKind) String() string {
	switch k {
	case OutputText:
		return "text"
	case OutputTextMono:
		return "textmono"
	case OutputMarkdown:
		return "markdown"
	case OutputHTML:
		return "html"
	case OutputJSON:
		return "json"
	default:
		return fmt.Sprintf("output(%d)", int(k))
	}
}

// ParseOutputKind parses a config output name. Empty defaults to text.
func ParseOutputKind(s string) (OutputKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return OutputText, nil
	case "textmono", "text_mono", "mono":
		return OutputTextMono, nil
	case "markdown":
		return OutputMarkdown, nil
	case "html":
		return OutputHTML, nil
	case "json":
		return OutputJSON, nil
	default:
		return 0, fmt.Errorf("invalid output %q (must be text, textmono, markdown, html or json)", s)
	}
}

// Command is a fully resolved routing rule. It is immutable once built.
type Command struct {
	Name       string
	Pattern    *regexp.Regexp
	Executable string
	Args       []string
	Dir        string
	Env        []string
	Input      InputKind
	Output     OutputKind
	Mode       Mode
	Timeout    time.Duration
	StrictExit bool
	Policy     acl.Policy
}
