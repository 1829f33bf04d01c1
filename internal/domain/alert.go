package domain

import (
	"strings"
	"time"
)

// Source identifies which producer an alert came from.
// Params: constants "monitor" or "local".
// Returns: source tag used by routing, rendering, and metrics labels.
type Source string

const (
	// SourceMonitor marks alerts posted by the external log-analysis monitor.
	SourceMonitor Source = "monitor"
	// SourceLocal marks alerts posted by the health watcher or other local services.
	SourceLocal Source = "local"
)

const (
	// StatusTriggered is the monitor status for a firing alert.
	StatusTriggered = "triggered"
	// StatusResolved is the monitor status for a closing alert.
	StatusResolved = "resolved"
)

// Alert is the canonical record both alert sources are normalized into.
// Params: source tag, mandatory title/body, and optional structured fields.
// Returns: routing input; structured fields may be empty.
type Alert struct {
	ID     string
	Source Source
	Title  string
	Body   string

	// Status is "triggered", "resolved", or empty when the source does not say.
	Status      string
	Monitor     string
	Description string
	Host        string
	Service     string
	Hosts       []string
	Services    []string

	MatchedCount *int64
	WindowStart  time.Time
	WindowEnd    time.Time

	// Messages holds every extracted log line; Samples the first unique few.
	Messages   []string
	Samples    []string
	Statuses   []string
	UserAgents []string
	Paths      []string

	ReceivedAt time.Time
}

// HasWindow reports whether both window bounds are known.
func (a Alert) HasWindow() bool {
	return !a.WindowStart.IsZero() && !a.WindowEnd.IsZero()
}

// Resolved reports whether the alert closes a previously triggered monitor.
func (a Alert) Resolved() bool {
	return a.Status == StatusResolved
}

// HostService renders "host:service" display label for the alert.
// Params: alert host/service sets.
// Returns: display label, "(multiple)" suffix when sets hold more than one value, or empty.
func (a Alert) HostService() string {
	var display string
	switch {
	case a.Host != "" && a.Service != "":
		display = a.Host + ":" + a.Service
	case a.Service != "":
		display = a.Service
	case a.Host != "":
		display = a.Host
	default:
		return ""
	}
	if len(a.Hosts) > 1 || len(a.Services) > 1 {
		display += " (multiple)"
	}
	return display
}

// Destination is one resolved messaging target.
// Params: chat (group) identifier and optional topic (thread) identifier, 0 means none.
// Returns: gateway addressing.
type Destination struct {
	ChatID  string
	TopicID int
}

// Empty reports whether destination has no chat.
func (d Destination) Empty() bool {
	return strings.TrimSpace(d.ChatID) == ""
}
