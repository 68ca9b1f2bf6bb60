package command

// Captures holds the submatches of a pattern match.
// Index 0 is the whole match; groups that did not participate are empty.
type Captures struct {
	values []string
	names  []string
}

// NewCaptures builds Captures from submatch values and the pattern's group names
// (as returned by regexp.SubexpNames).
func NewCaptures(values, names []string) Captures {
	return Captures{values: values, names: names}
}

// Len returns the number of groups including the whole match.
func (c Captures) Len() int { return len(c.values) }

// Group returns the value of numbered group i.
func (c Captures) Group(i int) (string, bool) {
	if i < 0 || i >= len(c.values) {
		return "", false
	}
	return c.values[i], true
}

// Named returns the value of the named group.
func (c Captures) Named(name string) (string, bool) {
	if name == "" {
		return "", false
	}
	for i, n := range c.names {
		if n == name && i < len(c.values) {
			return c.values[i], true
		}
	}
	return "", false
}

// Match returns the first command in cmds that handles mode, admits the sender
// (and, for messages, the chat, using the same policy) and whose pattern
// matches text. Declaration order is the tie-break.
func Match(cmds []Command, mode Mode, senderID int64, chatID *int64, text string) (Command, Captures, bool) {
	for _, cmd := range cmds {
		if cmd.Mode != mode {
			continue
		}
		if !cmd.Policy.Admits(senderID) {
			continue
		}
		if mode == ModeMessage && chatID != nil && !cmd.Policy.Admits(*chatID) {
			continue
		}
		if cmd.Pattern == nil {
			continue
		}
		loc := cmd.Pattern.FindStringSubmatchIndex(text)
		if loc == nil {
			continue
		}
		return cmd, capturesFromIndex(text, loc, cmd.Pattern.SubexpNames()), true
	}
	return Command{}, Captures{}, false
}

func capturesFromIndex(text string, loc []int, names []string) Captures {
	values := make([]string, len(loc)/2)
	for i := range values {
		start, end := loc[2*i], loc[2*i+1]
		if start >= 0 && end >= 0 {
			values[i] = text[start:end]
		}
	}
	return NewCaptures(values, names)
}
