package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestParseState(t *testing.T) {
	t.Parallel()

	cases := map[string]State{
		"unhealthy":                 StateUnhealthy,
		"health_status: healthy":    StateHealthy,
		" Health_Status: UNHEALTHY": StateUnhealthy,
		"starting":                  StateUnknown,
		"":                          StateUnknown,
	}
	for raw, want := range cases {
		if got := ParseState(raw); got != want {
			t.Fatalf("ParseState(%q)=%q want %q", raw, got, want)
		}
	}
}

func TestDecodeTransition(t *testing.T) {
	t.Parallel()

	transition, err := DecodeTransition([]byte(`{"entity":"payments-api","state":"unhealthy","at":"2026-01-02T03:04:05Z"}`))
	if err != nil {
		t.Fatalf("decode transition: %v", err)
	}
	if transition.Entity != "payments-api" || transition.State != StateUnhealthy {
		t.Fatalf("unexpected transition %+v", transition)
	}
	if transition.At.IsZero() {
		t.Fatalf("expected transition time")
	}
}

func TestDecodeTransitionRejectsMissingEntity(t *testing.T) {
	t.Parallel()

	if _, err := DecodeTransition([]byte(`{"state":"unhealthy"}`)); err == nil {
		t.Fatalf("expected error for missing entity")
	}
}

func TestDeliveryErrorMatchesKind(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("send: %w", Delivery(errors.New("timeout")))
	if !errors.Is(err, ErrDelivery) {
		t.Fatalf("expected ErrDelivery, got %v", err)
	}
	if Delivery(nil) != nil {
		t.Fatalf("expected nil for nil cause")
	}
}

func TestAlertHostService(t *testing.T) {
	t.Parallel()

	alert := Alert{Host: "h1", Service: "api", Hosts: []string{"h1", "h2"}, Services: []string{"api"}}
	if got := alert.HostService(); got != "h1:api (multiple)" {
		t.Fatalf("unexpected display %q", got)
	}
	if got := (Alert{}).HostService(); got != "" {
		t.Fatalf("expected empty display, got %q", got)
	}
}
