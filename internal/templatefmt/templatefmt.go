package templatefmt

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

// Placeholder names accepted in runbook lines.
const (
	PlaceholderHost      = "host"
	PlaceholderService   = "service"
	PlaceholderContainer = "container"
	PlaceholderMonitor   = "monitor"
)

var allowedPlaceholders = map[string]struct{}{
	PlaceholderHost:      {},
	PlaceholderService:   {},
	PlaceholderContainer: {},
	PlaceholderMonitor:   {},
}

var (
	ansiEscapePattern = regexp.MustCompile(`\x1b\[[0-9;]*[A-Za-z]`)
	botTokenPattern   = regexp.MustCompile(`bot\d{6,}:[A-Za-z0-9_-]{20,}`)
	bearerPattern     = regexp.MustCompile(`(Bearer\s+)[A-Za-z0-9._-]+`)
)

type segment struct {
	literal string
	field   string
}

// Template is one parsed runbook line.
type Template struct {
	raw      string
	segments []segment
}

// Parse compiles one runbook line with {name} placeholders; "{{" and "}}" are literal braces.
// Params: raw runbook line.
// Returns: parsed template, or error on unknown placeholder or unbalanced braces.
func Parse(raw string) (Template, error) {
	var (
		segments []segment
		literal  strings.Builder
	)
	flush := func() {
		if literal.Len() > 0 {
			segments = append(segments, segment{literal: literal.String()})
			literal.Reset()
		}
	}

	for i := 0; i < len(raw); i++ {
		ch := raw[i]
		switch ch {
		case '{':
			if i+1 < len(raw) && raw[i+1] == '{' {
				literal.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexByte(raw[i+1:], '}')
			if end < 0 {
				return Template{}, fmt.Errorf("unclosed '{' at offset %d", i)
			}
			name := raw[i+1 : i+1+end]
			if strings.ContainsAny(name, "{") {
				return Template{}, fmt.Errorf("nested '{' at offset %d", i)
			}
			if _, ok := allowedPlaceholders[name]; !ok {
				return Template{}, fmt.Errorf("unknown placeholder '{%s}'", name)
			}
			flush()
			segments = append(segments, segment{field: name})
			i += end + 1
		case '}':
			if i+1 < len(raw) && raw[i+1] == '}' {
				literal.WriteByte('}')
				i++
				continue
			}
			return Template{}, fmt.Errorf("single '}' at offset %d", i)
		default:
			literal.WriteByte(ch)
		}
	}
	flush()
	return Template{raw: raw, segments: segments}, nil
}

// MustParse is Parse for lines already validated at config load.
func MustParse(raw string) Template {
	tpl, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return tpl
}

// Raw returns source line.
func (t Template) Raw() string {
	return t.raw
}

// Fields returns sorted distinct placeholder names used in template.
func (t Template) Fields() []string {
	seen := make(map[string]struct{})
	for _, seg := range t.segments {
		if seg.field != "" {
			seen[seg.field] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Render substitutes placeholder values; an empty value renders as "unknown <name>".
// Params: placeholder values keyed by name.
// Returns: rendered line.
func (t Template) Render(values map[string]string) string {
	var out strings.Builder
	for _, seg := range t.segments {
		if seg.field == "" {
			out.WriteString(seg.literal)
			continue
		}
		value := strings.TrimSpace(values[seg.field])
		if value == "" {
			value = "unknown " + seg.field
		}
		out.WriteString(value)
	}
	return out.String()
}

// Truncate bounds text to limit runes, marking the cut with an ellipsis.
// Params: text and rune limit.
// Returns: original or shortened text.
func Truncate(text string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return string(runes[:limit-1]) + "…"
}

// Redact masks bot tokens and bearer credentials.
func Redact(text string) string {
	if text == "" {
		return text
	}
	text = botTokenPattern.ReplaceAllString(text, "bot<redacted>")
	return bearerPattern.ReplaceAllString(text, "${1}<redacted>")
}

// SanitizeLine prepares one untrusted log line for an HTML message.
// Params: raw line and rune limit.
// Returns: ANSI-stripped, redacted, truncated, HTML-escaped text.
func SanitizeLine(text string, limit int) string {
	cleaned := ansiEscapePattern.ReplaceAllString(text, "")
	return EscapeHTML(Truncate(Redact(cleaned), limit))
}

// EscapeHTML escapes the characters the provider's HTML parse mode treats as markup.
func EscapeHTML(text string) string {
	return htmlReplacer.Replace(text)
}

var htmlReplacer = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// FormatWindowTime renders a window bound in minute precision UTC.
// Params: time value.
// Returns: "YYYY-MM-DD HH:MM UTC".
func FormatWindowTime(value time.Time) string {
	return value.UTC().Format("2006-01-02 15:04") + " UTC"
}

// FormatDuration renders duration in compact human form with one decimal precision.
// Params: duration value.
// Returns: formatted duration string.
func FormatDuration(duration time.Duration) string {
	if duration < 0 {
		duration = -duration
	}
	seconds := duration.Seconds()
	switch {
	case seconds >= 3600:
		return fmt.Sprintf("%.1fh", seconds/3600)
	case seconds >= 60:
		return fmt.Sprintf("%.1fm", seconds/60)
	default:
		return fmt.Sprintf("%.1fs", seconds)
	}
}
