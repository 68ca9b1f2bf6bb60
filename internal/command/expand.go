package command

import (
	"strconv"
	"strings"
)

// OffsetPlaceholder is the reserved placeholder name substituted with the
// inline query offset.
const OffsetPlaceholder = "offset"

// Expand substitutes placeholders in each template and returns the argv.
//
// Placeholders are $name or ${name}; $$ is a literal dollar sign. A name
// resolves to the inline offset (when offset is non-nil and the name is
// "offset"), then a numbered group, then a named group, else the empty string.
// Templates are scanned once: substituted values are never expanded again.
func Expand(templates []string, caps Captures, offset *int) []string {
	argv := make([]string, len(templates))
	for i, tmpl := range templates {
		argv[i] = expandOne(tmpl, caps, offset)
	}
	return argv
}

func expandOne(tmpl string, caps Captures, offset *int) string {
	if !strings.Contains(tmpl, "$") {
		return tmpl
	}

	var b strings.Builder
	b.Grow(len(tmpl))
	for len(tmpl) > 0 {
		i := strings.IndexByte(tmpl, '$')
		if i < 0 {
			b.WriteString(tmpl)
			break
		}
		b.WriteString(tmpl[:i])
		tmpl = tmpl[i:]

		if len(tmpl) > 1 && tmpl[1] == '$' {
			b.WriteByte('$')
			tmpl = tmpl[2:]
			continue
		}

		name, rest, ok := extractName(tmpl)
		if !ok {
			// Not a placeholder; keep the dollar sign.
			b.WriteByte('$')
			tmpl = tmpl[1:]
			continue
		}
		b.WriteString(lookup(name, caps, offset))
		tmpl = rest
	}
	return b.String()
}

// extractName parses $name or ${name} at the start of s.
func extractName(s string) (name, rest string, ok bool) {
	if len(s) < 2 || s[0] != '$' {
		return "", "", false
	}
	braced := s[1] == '{'
	i := 1
	if braced {
		i = 2
	}
	start := i
	for i < len(s) && isNameByte(s[i]) {
		i++
	}
	if i == start {
		return "", "", false
	}
	name = s[start:i]
	if braced {
		if i >= len(s) || s[i] != '}' {
			return "", "", false
		}
		i++
	}
	return name, s[i:], true
}

func isNameByte(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func lookup(name string, caps Captures, offset *int) string {
	if offset != nil && name == OffsetPlaceholder {
		return strconv.Itoa(*offset)
	}
	if n, err := strconv.Atoi(name); err == nil {
		v, _ := caps.Group(n)
		return v
	}
	v, _ := caps.Named(name)
	return v
}
