package ingest

import (
	"encoding/json"
	"strings"
	"time"

	"alertrelay/internal/domain"
)

type localPayload struct {
	Title *string `json:"title"`
	Body  *string `json:"body"`
}

// NormalizeLocal converts a {"title","body"} payload into a canonical alert.
// Params: raw JSON body and receive time.
// Returns: alert or ValidationError when title is empty or body is absent.
func NormalizeLocal(raw []byte, now time.Time) (domain.Alert, error) {
	var payload localPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return domain.Alert{}, domain.Invalid("bad_json", "invalid JSON: %v", err)
	}
	if payload.Title == nil || strings.TrimSpace(*payload.Title) == "" {
		return domain.Alert{}, domain.Invalid("missing_title", "title is required")
	}
	if payload.Body == nil {
		return domain.Alert{}, domain.Invalid("missing_body", "body is required")
	}

	alert := domain.Alert{
		Source:     domain.SourceLocal,
		Title:      strings.TrimSpace(*payload.Title),
		Body:       *payload.Body,
		ReceivedAt: now,
	}
	if entity := EntityFromTitle(alert.Title); entity != "" {
		alert.Service = entity
		alert.Services = []string{entity}
	}
	return alert, nil
}

// EntityFromTitle returns the text after the first ':' in a title such as
// "Container unhealthy: payments-api", or empty when there is none.
func EntityFromTitle(title string) string {
	_, after, found := strings.Cut(title, ":")
	if !found {
		return ""
	}
	return strings.TrimSpace(after)
}
