package routing

import (
	"sort"
	"strings"

	"alertrelay/internal/domain"
	"alertrelay/internal/routes"
)

// matchContext is the flattened view of an alert that predicates evaluate against.
type matchContext struct {
	services []string
	hosts    []string
	monitor  string
	fields   map[string][]string
}

// newMatchContext flattens alert fields into predicate inputs.
// Params: canonical alert.
// Returns: context with substring sets and named fields.
func newMatchContext(alert domain.Alert) matchContext {
	services := distinct(append([]string{alert.Service}, alert.Services...))
	hosts := distinct(append([]string{alert.Host}, alert.Hosts...))

	title := alert.Monitor
	message := mostCommon(alert.Messages)
	if alert.Source == domain.SourceLocal {
		title = alert.Title
		if message == "" {
			message = alert.Body
		}
	}

	return matchContext{
		services: services,
		hosts:    hosts,
		monitor:  alert.Monitor,
		fields: map[string][]string{
			routes.FieldTitle:     nonEmpty(title),
			routes.FieldMessage:   nonEmpty(message),
			routes.FieldStatus:    nonEmpty(mostCommon(alert.Statuses)),
			routes.FieldUserAgent: nonEmpty(mostCommon(alert.UserAgents)),
			routes.FieldPath:      nonEmpty(mostCommon(alert.Paths)),
			routes.FieldHost:      hosts,
			routes.FieldService:   services,
			routes.FieldMonitor:   nonEmpty(alert.Monitor),
		},
	}
}

// matches evaluates one predicate; every condition present in it must hold.
// Params: predicate from a validated snapshot.
// Returns: true when alert context satisfies the predicate.
func (c matchContext) matches(match routes.Match) bool {
	if match.Service != "" && !anyContainsFold(c.services, match.Service) {
		return false
	}
	if match.Host != "" && !anyContainsFold(c.hosts, match.Host) {
		return false
	}
	if match.Monitor != "" && !containsFold(c.monitor, match.Monitor) {
		return false
	}
	if match.Field != "" {
		return c.matchField(match)
	}
	return true
}

// matchField evaluates a {field, op, value} predicate; ops are case-sensitive.
func (c matchContext) matchField(match routes.Match) bool {
	actual := c.fields[match.Field]
	if len(actual) == 0 {
		return false
	}
	expected := match.Value.Values
	first := ""
	if len(expected) > 0 {
		first = expected[0]
	}

	switch match.Op {
	case routes.OpEq:
		for _, value := range actual {
			if value == first {
				return true
			}
		}
	case routes.OpContains:
		for _, value := range actual {
			if strings.Contains(value, first) {
				return true
			}
		}
	case routes.OpContainsAny:
		for _, value := range actual {
			for _, needle := range expected {
				if strings.Contains(value, needle) {
					return true
				}
			}
		}
	case routes.OpRegex:
		pattern := match.Regexp()
		if pattern == nil {
			return false
		}
		for _, value := range actual {
			if pattern.MatchString(value) {
				return true
			}
		}
	case routes.OpIn:
		for _, value := range actual {
			for _, candidate := range expected {
				if value == candidate {
					return true
				}
			}
		}
	case routes.OpPrefixIn:
		for _, value := range actual {
			for _, prefix := range expected {
				if strings.HasPrefix(value, prefix) {
					return true
				}
			}
		}
	}
	return false
}

func containsFold(value, needle string) bool {
	return strings.Contains(strings.ToLower(value), strings.ToLower(needle))
}

func anyContainsFold(values []string, needle string) bool {
	for _, value := range values {
		if containsFold(value, needle) {
			return true
		}
	}
	return false
}

// mostCommon returns the most frequent value; ties go to the value seen first.
func mostCommon(values []string) string {
	counts := make(map[string]int, len(values))
	best, bestCount := "", 0
	for _, value := range values {
		counts[value]++
	}
	for _, value := range values {
		if counts[value] > bestCount {
			best, bestCount = value, counts[value]
		}
	}
	return best
}

// distinct returns sorted unique non-empty values.
func distinct(values []string) []string {
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
	sort.Strings(out)
	return out
}

func nonEmpty(value string) []string {
	if value == "" {
		return nil
	}
	return []string{value}
}
