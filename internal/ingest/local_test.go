package ingest

import (
	"testing"

	"alertrelay/internal/domain"
)

func TestNormalizeLocal(t *testing.T) {
	t.Parallel()

	alert, err := NormalizeLocal([]byte(`{"title":"Container unhealthy: payments-api","body":"health check failing"}`), testNow)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if alert.Source != domain.SourceLocal || alert.Service != "payments-api" {
		t.Fatalf("unexpected alert %+v", alert)
	}
	if alert.Body != "health check failing" {
		t.Fatalf("unexpected body %q", alert.Body)
	}
}

func TestNormalizeLocalEmptyBodyAllowed(t *testing.T) {
	t.Parallel()

	alert, err := NormalizeLocal([]byte(`{"title":"disk almost full","body":""}`), testNow)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if alert.Service != "" {
		t.Fatalf("expected no inferred service, got %q", alert.Service)
	}
}

func TestNormalizeLocalRejects(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		`{"body":"x"}`:              "missing_title",
		`{"title":"  ","body":"x"}`: "missing_title",
		`{"title":"x"}`:             "missing_body",
		`not json`:                  "bad_json",
	}
	for raw, reason := range cases {
		_, err := NormalizeLocal([]byte(raw), testNow)
		validation, ok := domain.AsValidation(err)
		if !ok || validation.Reason != reason {
			t.Fatalf("NormalizeLocal(%s) err=%v want reason %q", raw, err, reason)
		}
	}
}

func TestEntityFromTitleSplitsAtFirstColon(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"Backup failed: db: disk full":      "db: disk full",
		"Container unhealthy: payments-api": "payments-api",
		"no separator":                      "",
	}
	for title, want := range cases {
		if got := EntityFromTitle(title); got != want {
			t.Fatalf("EntityFromTitle(%q) = %q want %q", title, got, want)
		}
	}
}
