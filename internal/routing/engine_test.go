package routing

import (
	"reflect"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"alertrelay/internal/domain"
	"alertrelay/internal/routes"
)

const testRoutes = `
groups:
  g0: "-100"
  g1: "-101"
  g2: "-102"
topics:
  t0: 1
  t1: 11
  t2: 22
default_group: g0
default_topic: t0
routes:
  - match: {service: payments-api}
    group: g1
    topic: t1
  - match: {service: payments}
    group: g2
    topic: t2
  - match: {monitor: Nginx 5xx, host: edge}
    group: g2
drop:
  - match: {service: checkout-canary}
  - match: {field: user_agent, op: contains_any, value: [Googlebot, bingbot]}
profiles:
  critical:
    high: true
    runbook:
      - "docker restart {container} on {host}"
  web:
    p1:
      - match: {field: path, op: prefix_in, value: [/checkout, /pay]}
services:
  payments-api:
    profiles: [critical]
  checkout:
    profiles: [web]
defaults:
  sample_count: 1
  runbook:
    - "open dashboard for {monitor}"
`

func loadRoutes(t *testing.T, body string, opts routes.LoadOptions) *routes.Config {
	t.Helper()
	cfg, err := routes.Parse("routes.yml", []byte(body), opts)
	if err != nil {
		t.Fatalf("parse routes: %v", err)
	}
	return cfg
}

func count(n int64) *int64 {
	return &n
}

func localAlert(title, body, service string) domain.Alert {
	return domain.Alert{Source: domain.SourceLocal, Title: title, Body: body, Service: service}
}

func TestRouteLocalUnhealthyEntityUsesMatchingRoute(t *testing.T) {
	t.Parallel()

	cfg := loadRoutes(t, testRoutes, routes.LoadOptions{})
	decision := Route(localAlert("Container unhealthy: payments-api", "unhealthy for 2.0m", "payments-api"), cfg)

	if decision.Dropped() {
		t.Fatalf("unexpected drop: %+v", decision)
	}
	if decision.Group != "g1" || decision.Topic != "t1" || decision.Route != 0 {
		t.Fatalf("expected g1/t1 via route 0, got %s/%s route=%d", decision.Group, decision.Topic, decision.Route)
	}
	if decision.Destination != (domain.Destination{ChatID: "-101", TopicID: 11}) {
		t.Fatalf("unexpected destination %+v", decision.Destination)
	}
	if !decision.High || !reflect.DeepEqual(decision.Tags, []string{"#user-impact"}) {
		t.Fatalf("expected high severity tag, got %+v", decision)
	}
	if !strings.Contains(decision.Text, "payments-api") || !strings.Contains(decision.Text, "🔧") {
		t.Fatalf("unexpected text %q", decision.Text)
	}
	if !strings.Contains(decision.Text, "docker restart payments-api on unknown host") {
		t.Fatalf("profile runbook not rendered: %q", decision.Text)
	}
}

func TestRouteSubstringDropDoesNotCatchShorterName(t *testing.T) {
	t.Parallel()

	cfg := loadRoutes(t, testRoutes, routes.LoadOptions{})
	alert := domain.Alert{
		Source:       domain.SourceMonitor,
		Title:        "checkout errors",
		Body:         "1000 events",
		Monitor:      "checkout errors",
		Service:      "checkout",
		Services:     []string{"checkout"},
		MatchedCount: count(1000),
		WindowStart:  time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
		WindowEnd:    time.Date(2024, 1, 1, 10, 5, 0, 0, time.UTC),
	}
	decision := Route(alert, cfg)
	if decision.Dropped() {
		t.Fatalf("checkout must not match checkout-canary drop: %+v", decision)
	}
	if decision.Group != "g0" || decision.Topic != "t0" || decision.Route != -1 {
		t.Fatalf("expected defaults, got %+v", decision)
	}
	for _, fragment := range []string{"#service-errors 🚨 <b>checkout errors</b>", "📍 checkout", "📊 Events: <b>1000</b>", "2024-01-01 10:00 UTC → 2024-01-01 10:05 UTC"} {
		if !strings.Contains(decision.Text, fragment) {
			t.Fatalf("missing %q in %q", fragment, decision.Text)
		}
	}

	alert.Service = "checkout-canary-2"
	alert.Services = []string{"checkout-canary-2"}
	if decision := Route(alert, cfg); decision.DropReason != DropRule {
		t.Fatalf("expected drop for canary, got %+v", decision)
	}
}

func TestRouteDropTakesPrecedenceOverRoutes(t *testing.T) {
	t.Parallel()

	cfg := loadRoutes(t, testRoutes, routes.LoadOptions{})
	alert := localAlert("Container unhealthy: payments-api", "x", "payments-api")
	alert.UserAgents = []string{"Mozilla/5.0 (compatible; Googlebot/2.1)"}

	decision := Route(alert, cfg)
	if !decision.Dropped() || decision.DropReason != DropRule {
		t.Fatalf("expected drop, got %+v", decision)
	}
	if decision.Text != "" || !decision.Destination.Empty() {
		t.Fatalf("dropped decision must carry no delivery data: %+v", decision)
	}
}

func TestRouteFirstMatchWins(t *testing.T) {
	t.Parallel()

	cfg := loadRoutes(t, testRoutes, routes.LoadOptions{})
	// "payments-api" matches both route 0 and route 1.
	decision := Route(localAlert("t", "b", "PAYMENTS-API"), cfg)
	if decision.Route != 0 || decision.Group != "g1" {
		t.Fatalf("expected first route with case-insensitive match, got %+v", decision)
	}

	decision = Route(localAlert("t", "b", "payments-worker"), cfg)
	if decision.Route != 1 || decision.Group != "g2" || decision.Topic != "t2" {
		t.Fatalf("expected second route, got %+v", decision)
	}
}

func TestRouteMultiKeyPredicateRequiresAllKeys(t *testing.T) {
	t.Parallel()

	cfg := loadRoutes(t, testRoutes, routes.LoadOptions{})
	alert := domain.Alert{Source: domain.SourceMonitor, Title: "x", Body: "y", Monitor: "Nginx 5xx spike", Host: "edge-1"}
	decision := Route(alert, cfg)
	if decision.Route != 2 || decision.Group != "g2" || decision.Topic != "t0" {
		t.Fatalf("expected route 2 with default topic, got %+v", decision)
	}

	alert.Host = "core-1"
	if decision := Route(alert, cfg); decision.Route != -1 {
		t.Fatalf("host mismatch must fall through, got %+v", decision)
	}
}

func TestRouteAlertWithoutFieldsFallsToDefault(t *testing.T) {
	t.Parallel()

	cfg := loadRoutes(t, testRoutes, routes.LoadOptions{})
	decision := Route(domain.Alert{Source: domain.SourceLocal, Title: "disk full", Body: "/var 99%"}, cfg)
	if decision.Dropped() || decision.Route != -1 || decision.Destination.ChatID != "-100" {
		t.Fatalf("expected default destination, got %+v", decision)
	}
	if !strings.Contains(decision.Text, "open dashboard for unknown monitor") {
		t.Fatalf("default runbook missing: %q", decision.Text)
	}
}

func TestRouteIsDeterministic(t *testing.T) {
	t.Parallel()

	cfg := loadRoutes(t, testRoutes, routes.LoadOptions{})
	alert := domain.Alert{
		Source:   domain.SourceMonitor,
		Title:    "checkout 5xx",
		Body:     "b",
		Monitor:  "checkout 5xx",
		Services: []string{"checkout", "payments-api"},
		Service:  "checkout",
		Hosts:    []string{"web-2", "web-1"},
		Host:     "web-1",
		Messages: []string{"a", "b", "b"},
		Samples:  []string{"a", "b"},
	}
	first := Route(alert, cfg)
	for i := 0; i < 5; i++ {
		if next := Route(alert, cfg); !reflect.DeepEqual(first, next) {
			t.Fatalf("decision changed between runs:\n%+v\n%+v", first, next)
		}
	}
}

func TestRouteResolvedAlerts(t *testing.T) {
	t.Parallel()

	alert := domain.Alert{Source: domain.SourceMonitor, Title: "m", Body: "b", Monitor: "m", Status: domain.StatusResolved}

	cfg := loadRoutes(t, testRoutes, routes.LoadOptions{})
	if decision := Route(alert, cfg); decision.DropReason != DropResolved {
		t.Fatalf("resolved alert must be skipped by default, got %+v", decision)
	}

	cfg = loadRoutes(t, testRoutes, routes.LoadOptions{IncludeResolved: true})
	decision := Route(alert, cfg)
	if decision.Dropped() || !strings.Contains(decision.Text, "✅") {
		t.Fatalf("resolved alert must be delivered when included, got %+v", decision)
	}
}

func TestRouteP1RuleRaisesSeverity(t *testing.T) {
	t.Parallel()

	cfg := loadRoutes(t, testRoutes, routes.LoadOptions{})
	alert := domain.Alert{Source: domain.SourceMonitor, Title: "m", Body: "b", Monitor: "m", Service: "checkout", Services: []string{"checkout"}}

	if decision := Route(alert, cfg); decision.High {
		t.Fatalf("no p1 path yet, got high")
	}
	alert.Paths = []string{"/checkout/confirm", "/checkout/confirm", "/static"}
	decision := Route(alert, cfg)
	if !decision.High || decision.Tags[0] != "#user-impact" || !reflect.DeepEqual(decision.Profiles, []string{"web"}) {
		t.Fatalf("expected p1 via path prefix, got %+v", decision)
	}
}

func TestRouteRendersTopErrorAndBoundedSamples(t *testing.T) {
	t.Parallel()

	cfg := loadRoutes(t, testRoutes, routes.LoadOptions{})
	alert := domain.Alert{
		Source:   domain.SourceMonitor,
		Title:    "m",
		Body:     "b",
		Monitor:  "api errors",
		Messages: []string{"timeout <db>", "refused", "timeout <db>"},
		Samples:  []string{"timeout <db>", "refused"},
	}
	text := Route(alert, cfg).Text
	if !strings.Contains(text, "Top error: <code>timeout &lt;db&gt;</code>") {
		t.Fatalf("top error missing: %q", text)
	}
	if strings.Contains(text, "refused") {
		t.Fatalf("sample_count=1 must bound samples: %q", text)
	}
	if !strings.Contains(text, "📊 Events: <b>?</b>") {
		t.Fatalf("unknown count must render as ?: %q", text)
	}
}

func TestRouteLongRunbookKeepsMessageWellFormed(t *testing.T) {
	t.Parallel()

	var doc strings.Builder
	doc.WriteString("groups: {g0: '-100'}\ndefault_group: g0\ndefaults:\n  runbook:\n")
	for i := 0; i < 40; i++ {
		doc.WriteString("    - \"restart {container} " + strings.Repeat("a<b ", 70) + "\"\n")
	}
	cfg := loadRoutes(t, doc.String(), routes.LoadOptions{})

	text := Route(localAlert("Container unhealthy: api", "down", "api"), cfg).Text
	if runes := utf8.RuneCountInString(text); runes > messageBudget {
		t.Fatalf("rendered %d runes, budget %d", runes, messageBudget)
	}
	if strings.Count(text, "<blockquote>") != 1 || !strings.HasSuffix(text, "</blockquote>") {
		t.Fatalf("runbook block not closed: %q", text[len(text)-80:])
	}
	if !strings.Contains(text, "restart api a&lt;b") {
		t.Fatalf("expected leading runbook steps rendered: %q", text[:200])
	}
}

func TestRouteFallbackSnapshot(t *testing.T) {
	t.Parallel()

	cfg := routes.Fallback(routes.LoadOptions{FallbackChatID: "-9", FallbackTopicID: 3})
	decision := Route(localAlert("Container unhealthy: x", "b", "x"), cfg)
	if decision.Destination != (domain.Destination{ChatID: "-9", TopicID: 3}) {
		t.Fatalf("unexpected fallback destination %+v", decision.Destination)
	}
	if decision.Tags[0] != "#service-errors" {
		t.Fatalf("unexpected tag %v", decision.Tags)
	}
}
