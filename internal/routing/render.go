package routing

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"alertrelay/internal/domain"
	"alertrelay/internal/routes"
	"alertrelay/internal/templatefmt"
)

const (
	lineLimit    = 200
	runbookLimit = 300
	bodyLimit    = 1000

	// messageBudget stays under the gateway rune cap so its truncation never
	// lands inside a tag or entity.
	messageBudget = 3900
)

// render builds the HTML message for a decision.
// Params: alert, snapshot, decision tags, and selected runbook lines.
// Returns: message text.
func render(alert domain.Alert, cfg *routes.Config, decision Decision, runbook []string) string {
	var lines []string
	if alert.Source == domain.SourceLocal {
		lines = renderLocal(alert, decision)
	} else {
		lines = renderMonitor(alert, cfg, decision)
	}

	lines, remaining := fitLines(lines, messageBudget, true)

	if len(runbook) > 0 {
		values := map[string]string{
			templatefmt.PlaceholderHost:      alert.Host,
			templatefmt.PlaceholderService:   alert.Service,
			templatefmt.PlaceholderContainer: alert.Service,
			templatefmt.PlaceholderMonitor:   alert.Monitor,
		}
		rendered := make([]string, 0, len(runbook))
		for _, step := range runbook {
			rendered = append(rendered, templatefmt.SanitizeLine(cfg.Runbook(step).Render(values), runbookLimit))
		}
		frame := utf8.RuneCountInString("\nRunbook:\n<blockquote>\n</blockquote>")
		if steps, _ := fitLines(rendered, remaining-frame, false); len(steps) > 0 {
			lines = append(lines, "Runbook:", "<blockquote>")
			lines = append(lines, steps...)
			lines = append(lines, "</blockquote>")
		}
	}
	return strings.Join(lines, "\n")
}

// fitLines keeps whole lines while their newline-joined length fits budget.
// Params: candidate lines, rune budget, and whether the first line is kept regardless.
// Returns: kept lines and the unused budget.
func fitLines(lines []string, budget int, keepFirst bool) ([]string, int) {
	for i, line := range lines {
		cost := utf8.RuneCountInString(line)
		if i > 0 {
			cost++
		}
		if cost > budget && !(i == 0 && keepFirst) {
			return lines[:i], budget
		}
		budget -= cost
	}
	return lines, budget
}

func renderLocal(alert domain.Alert, decision Decision) []string {
	lines := []string{header(decision.Tags, "🔧", alert.Title)}
	if body := strings.TrimSpace(alert.Body); body != "" {
		lines = append(lines, "<code>"+templatefmt.SanitizeLine(body, bodyLimit)+"</code>")
	}
	return lines
}

func renderMonitor(alert domain.Alert, cfg *routes.Config, decision Decision) []string {
	icon := "🚨"
	if alert.Resolved() {
		icon = "✅"
	}
	name := alert.Monitor
	if name == "" {
		name = "Unknown monitor"
	}

	lines := []string{header(decision.Tags, icon, name)}
	if hostService := alert.HostService(); hostService != "" {
		lines = append(lines, "📍 "+templatefmt.EscapeHTML(hostService))
	}

	count := "?"
	if alert.MatchedCount != nil {
		count = strconv.FormatInt(*alert.MatchedCount, 10)
	}
	lines = append(lines, "📊 Events: <b>"+count+"</b>")
	if alert.HasWindow() {
		lines = append(lines, "🕐 "+templatefmt.FormatWindowTime(alert.WindowStart)+" → "+templatefmt.FormatWindowTime(alert.WindowEnd))
	}

	if cfg.TopErrorEnabled() {
		if top := mostCommon(alert.Messages); top != "" {
			lines = append(lines, "🧾 Top error: <code>"+templatefmt.SanitizeLine(top, lineLimit)+"</code>")
		}
	}
	samples := alert.Samples
	if limit := cfg.SampleCount(); len(samples) > limit {
		samples = samples[:limit]
	}
	if len(samples) > 0 {
		lines = append(lines, "🧾 Samples:")
		for _, sample := range samples {
			lines = append(lines, "<code>"+templatefmt.SanitizeLine(sample, lineLimit)+"</code>")
		}
	}
	return lines
}

func header(tags []string, icon, title string) string {
	parts := make([]string, 0, len(tags)+2)
	for _, tag := range tags {
		if tag != "" {
			parts = append(parts, templatefmt.EscapeHTML(tag))
		}
	}
	parts = append(parts, icon, "<b>"+templatefmt.EscapeHTML(title)+"</b>")
	return strings.Join(parts, " ")
}
