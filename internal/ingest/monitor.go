package ingest

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"alertrelay/internal/domain"
)

const (
	maxMatches = 10
	maxSamples = 10
)

var (
	messageKeys   = []string{"message", "msg", "log", "_raw"}
	statusKeys    = []string{"status", "status_code", "code"}
	userAgentKeys = []string{"user_agent", "userAgent", "ua"}
	pathKeys      = []string{"path", "url", "request_path", "requestPath"}
)

// payloadRoots holds the three places a monitor payload may keep its fields:
// the document root, its event object, and a JSON body nested in the event.
type payloadRoots struct {
	root  map[string]any
	event map[string]any
	body  map[string]any
}

func newPayloadRoots(root map[string]any) payloadRoots {
	roots := payloadRoots{root: root}
	roots.event, _ = root["event"].(map[string]any)
	if roots.event != nil {
		switch body := roots.event["body"].(type) {
		case map[string]any:
			roots.body = body
		case string:
			var parsed map[string]any
			if json.Unmarshal([]byte(body), &parsed) == nil {
				roots.body = parsed
			}
		}
	}
	return roots
}

// first returns the first non-empty value among candidate paths, each evaluated
// against the roots selected by its prefix: "" root, "event." event, "body." body.
func (p payloadRoots) first(paths ...string) any {
	for _, path := range paths {
		var (
			base = p.root
			rest = path
		)
		switch {
		case strings.HasPrefix(path, "event."):
			base, rest = p.event, strings.TrimPrefix(path, "event.")
		case strings.HasPrefix(path, "body."):
			base, rest = p.body, strings.TrimPrefix(path, "body.")
		}
		if value := lookup(base, strings.Split(rest, ".")...); !isBlank(value) {
			return value
		}
	}
	return nil
}

func lookup(node map[string]any, keys ...string) any {
	var current any = node
	for _, key := range keys {
		asMap, ok := current.(map[string]any)
		if !ok || asMap == nil {
			return nil
		}
		current, ok = asMap[key]
		if !ok {
			return nil
		}
	}
	return current
}

func isBlank(value any) bool {
	switch typed := value.(type) {
	case nil:
		return true
	case string:
		return typed == ""
	default:
		return false
	}
}

// NormalizeMonitor converts a log-platform monitor webhook into a canonical alert.
// Params: raw JSON body and receive time.
// Returns: alert or ValidationError on non-object JSON or missing monitor name.
func NormalizeMonitor(raw []byte, now time.Time) (domain.Alert, error) {
	var root map[string]any
	if err := json.Unmarshal(raw, &root); err != nil {
		return domain.Alert{}, domain.Invalid("bad_json", "invalid JSON: %v", err)
	}
	if root == nil {
		return domain.Alert{}, domain.Invalid("bad_json", "payload must be a JSON object")
	}
	roots := newPayloadRoots(root)

	name := stringify(roots.first(
		"name", "monitorName", "monitor.name", "alert.monitor.name", "alert.monitorName",
		"event.title", "event.monitor.name", "event.monitorName", "event.alert.monitor.name", "event.alert.monitorName",
		"body.name", "body.title", "body.monitor.name", "body.monitorName", "body.alert.monitor.name", "body.alert.monitorName",
	))
	if strings.TrimSpace(name) == "" {
		return domain.Alert{}, domain.Invalid("missing_name", "monitor name is required (keys=%s)", strings.Join(sortedKeys(root), ","))
	}
	description := stringify(roots.first(
		"description", "monitor.description", "alert.monitor.description",
		"event.description", "event.monitor.description", "event.alert.monitor.description",
		"body.description", "body.monitor.description", "body.alert.monitor.description",
	))
	countValue := roots.first(
		"matchedCount", "alert.matchedCount", "alert.matchCount", "matches.count", "result.count",
		"event.value", "event.valueString", "event.extraCount", "event.matchedCount", "event.alert.matchedCount",
		"event.alert.matchCount", "event.matches.count", "event.result.count",
		"body.matchedCount", "body.alert.matchedCount", "body.alert.matchCount", "body.matches.count", "body.result.count",
	)
	start := parseTime(stringify(roots.first(
		"queryStartTime", "alert.window.start", "window.start", "query.startTime", "startTime",
		"event.queryStartTime", "event.alert.window.start", "event.window.start", "event.query.startTime", "event.startTime",
		"body.queryStartTime", "body.alert.window.start", "body.window.start", "body.query.startTime", "body.startTime",
	)))
	end := parseTime(stringify(roots.first(
		"queryEndTime", "alert.window.end", "window.end", "query.endTime", "endTime",
		"event.queryEndTime", "event.alert.window.end", "event.window.end", "event.query.endTime", "event.endTime",
		"body.queryEndTime", "body.alert.window.end", "body.window.end", "body.query.endTime", "body.endTime",
	)))

	status, monitor := SplitStatus(strings.TrimSpace(name))
	matches := extractMatches(roots)
	alert := domain.Alert{
		Source:      domain.SourceMonitor,
		Status:      status,
		Monitor:     monitor,
		Description: description,
		ReceivedAt:  now,
	}
	if !start.IsZero() && !end.IsZero() && end.After(start) {
		alert.WindowStart, alert.WindowEnd = start, end
	}
	if count, ok := parseCount(countValue); ok {
		alert.MatchedCount = &count
	} else if len(matches) > 0 {
		count := int64(len(matches))
		alert.MatchedCount = &count
	}

	if len(matches) > maxMatches {
		matches = matches[:maxMatches]
	}
	MergeRecords(&alert, matches)
	if len(alert.Services) == 0 {
		if guess := GuessService(monitor); guess != "" {
			alert.Services = []string{guess}
		}
	}
	Finalize(&alert)
	return alert, nil
}

// extractMatches finds the first list of match records across known locations.
func extractMatches(roots payloadRoots) []map[string]any {
	for _, base := range []map[string]any{roots.root, roots.event, roots.body} {
		if base == nil {
			continue
		}
		candidates := []any{
			lookup(base, "queryResult", "matches"),
			lookup(base, "result", "matches"),
			lookup(base, "matches", "matches"),
			lookup(base, "alert", "matches"),
			base["matches"],
		}
		for _, candidate := range candidates {
			list, ok := candidate.([]any)
			if !ok {
				continue
			}
			records := make([]map[string]any, 0, len(list))
			for _, item := range list {
				if record, ok := item.(map[string]any); ok {
					if data, ok := record["data"].(map[string]any); ok {
						record = data
					}
					records = append(records, record)
				}
			}
			return records
		}
	}
	return nil
}

// MergeRecords folds log records (match data or query rows) into alert field sets.
// Params: alert to extend and records.
func MergeRecords(alert *domain.Alert, records []map[string]any) {
	for _, record := range records {
		if host := stringify(record["host"]); host != "" {
			alert.Hosts = append(alert.Hosts, host)
		}
		if service := stringify(record["service"]); service != "" {
			alert.Services = append(alert.Services, service)
		}
		if value := firstField(record, messageKeys, false); value != "" {
			alert.Messages = append(alert.Messages, value)
		}
		if value := firstField(record, statusKeys, true); value != "" {
			alert.Statuses = append(alert.Statuses, value)
		}
		if value := firstField(record, userAgentKeys, false); value != "" {
			alert.UserAgents = append(alert.UserAgents, value)
		}
		if value := firstField(record, pathKeys, false); value != "" {
			alert.Paths = append(alert.Paths, value)
		}
	}
}

// Finalize normalizes service names and derives title, body, and samples.
// Host and service come from the first record that carried them.
func Finalize(alert *domain.Alert) {
	services := make([]string, 0, len(alert.Services))
	for _, service := range alert.Services {
		services = append(services, NormalizeServiceName(service))
	}
	alert.Services = uniqueOrdered(services)
	alert.Hosts = uniqueOrdered(alert.Hosts)
	alert.Service, alert.Host = "", ""
	if len(alert.Services) > 0 {
		alert.Service = alert.Services[0]
	}
	if len(alert.Hosts) > 0 {
		alert.Host = alert.Hosts[0]
	}

	alert.Samples = alert.Samples[:0]
	seen := make(map[string]struct{})
	for _, message := range alert.Messages {
		if _, dup := seen[message]; dup {
			continue
		}
		seen[message] = struct{}{}
		alert.Samples = append(alert.Samples, message)
		if len(alert.Samples) == maxSamples {
			break
		}
	}

	alert.Title = alert.Monitor
	if alert.Description != "" {
		alert.Title += ": " + alert.Description
	}
	count := "?"
	if alert.MatchedCount != nil {
		count = strconv.FormatInt(*alert.MatchedCount, 10)
	}
	alert.Body = count + " matched events"
	if alert.HasWindow() {
		alert.Body += " between " + alert.WindowStart.Format(time.RFC3339) + " and " + alert.WindowEnd.Format(time.RFC3339)
	}
}

// SplitStatus strips a "Triggered: " or "Resolved: " prefix from a monitor name.
// Params: raw monitor name.
// Returns: lower-case status (empty when absent) and the remaining name.
func SplitStatus(name string) (string, string) {
	prefix, rest, found := strings.Cut(name, ": ")
	if !found {
		return "", name
	}
	switch status := strings.ToLower(prefix); status {
	case domain.StatusTriggered, domain.StatusResolved:
		return status, rest
	default:
		return "", name
	}
}

// GuessService takes the part of a monitor name before an em dash or " - ".
func GuessService(monitor string) string {
	if before, _, found := strings.Cut(monitor, "—"); found {
		return strings.TrimSpace(before)
	}
	if before, _, found := strings.Cut(monitor, " - "); found {
		return strings.TrimSpace(before)
	}
	return ""
}

// NormalizeServiceName strips status prefix and an em-dash suffix.
func NormalizeServiceName(service string) string {
	_, cleaned := SplitStatus(strings.TrimSpace(service))
	if before, _, found := strings.Cut(cleaned, "—"); found {
		cleaned = before
	}
	return strings.TrimSpace(cleaned)
}

// firstField returns the first present value among keys; zero values count when keepZero is set.
func firstField(record map[string]any, keys []string, keepZero bool) string {
	for _, key := range keys {
		value, ok := record[key]
		if !ok || value == nil {
			continue
		}
		text := stringify(value)
		if text == "" {
			continue
		}
		if !keepZero && (text == "0" || text == "false") {
			continue
		}
		return text
	}
	return ""
}

func stringify(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(typed)
	case json.Number:
		return typed.String()
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return ""
		}
		return string(encoded)
	}
}

// parseCount accepts numbers, numeric strings, and {"count": n} objects.
// Negative, non-finite, or out-of-range values are unparsable.
func parseCount(value any) (int64, bool) {
	switch typed := value.(type) {
	case float64:
		return countFromFloat(typed)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(typed), 64)
		if err != nil {
			return 0, false
		}
		return countFromFloat(parsed)
	case map[string]any:
		return parseCount(typed["count"])
	default:
		return 0, false
	}
}

func countFromFloat(value float64) (int64, bool) {
	// 2^63 is the first float64 past MaxInt64.
	if math.IsNaN(value) || value < 0 || value >= math.Exp2(63) {
		return 0, false
	}
	return int64(value), true
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05 UTC",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
}

func parseTime(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return parsed.UTC()
		}
	}
	return time.Time{}
}

func uniqueOrdered(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}

func sortedKeys(values map[string]any) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
