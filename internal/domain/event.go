package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// State is the reported health of a monitored entity.
// Params: healthy/unhealthy/unknown constants.
// Returns: debouncer input and re-check result.
type State string

const (
	// StateHealthy marks an entity passing its health check.
	StateHealthy State = "healthy"
	// StateUnhealthy marks an entity failing its health check.
	StateUnhealthy State = "unhealthy"
	// StateUnknown marks missing, starting, or unparsable health.
	StateUnknown State = "unknown"
)

// ParseState normalizes raw health strings from container events and inspections.
// Params: raw value such as "unhealthy" or "health_status: healthy".
// Returns: normalized state, unknown for anything else.
func ParseState(raw string) State {
	value := strings.ToLower(strings.TrimSpace(raw))
	if idx := strings.LastIndex(value, ":"); idx >= 0 {
		value = strings.TrimSpace(value[idx+1:])
	}
	switch value {
	case string(StateHealthy):
		return StateHealthy
	case string(StateUnhealthy):
		return StateUnhealthy
	default:
		return StateUnknown
	}
}

// Transition is one raw health-transition event for an entity.
// Params: entity name, new state, and transition time.
// Returns: debouncer input record.
type Transition struct {
	Entity string    `json:"entity"`
	State  State     `json:"state"`
	At     time.Time `json:"at"`
}

// DecodeTransition decodes and validates one transition payload.
// Params: JSON document bytes.
// Returns: validated transition or decode/validation error.
func DecodeTransition(raw []byte) (Transition, error) {
	var transition Transition
	if err := json.Unmarshal(raw, &transition); err != nil {
		return Transition{}, fmt.Errorf("decode transition: %w", err)
	}
	transition.State = ParseState(string(transition.State))
	if err := transition.Validate(); err != nil {
		return Transition{}, err
	}
	return transition, nil
}

// Validate checks the transition contract.
// Params: decoded transition.
// Returns: validation error when entity is missing.
func (t Transition) Validate() error {
	if strings.TrimSpace(t.Entity) == "" {
		return errors.New("entity is required")
	}
	return nil
}
