package health

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"alertrelay/internal/domain"
)

// dockerEvent is the subset of `docker events --format '{{json .}}'` output used here.
type dockerEvent struct {
	Status string `json:"status"`
	Action string `json:"Action"`
	Time   int64  `json:"time"`
	Actor  struct {
		Attributes map[string]string `json:"Attributes"`
	} `json:"Actor"`
}

// DockerSource streams health_status events from the Docker CLI.
type DockerSource struct {
	binary string
	logger *slog.Logger
}

// NewDockerSource creates event source.
// Params: docker binary path and logger.
// Returns: source.
func NewDockerSource(binary string, logger *slog.Logger) *DockerSource {
	return &DockerSource{binary: binary, logger: logger}
}

// Run starts `docker events` and forwards transitions until ctx ends or the stream closes.
// Params: lifecycle context and output channel.
// Returns: process start/exit error.
func (s *DockerSource) Run(ctx context.Context, out chan<- domain.Transition) error {
	cmd := exec.CommandContext(ctx, s.binary, "events",
		"--filter", "event=health_status",
		"--format", "{{json .}}",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("docker events pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start docker events: %w", err)
	}

	scanErr := ReadDockerEvents(ctx, stdout, out, s.logger)
	waitErr := cmd.Wait()
	if ctx.Err() != nil {
		return nil
	}
	if scanErr != nil {
		return scanErr
	}
	if waitErr != nil {
		return fmt.Errorf("docker events exited: %w", waitErr)
	}
	return nil
}

// ReadDockerEvents parses newline-delimited event JSON into transitions.
// Malformed lines are logged and skipped.
// Params: context, event stream, output channel, and logger.
// Returns: read error.
func ReadDockerEvents(ctx context.Context, r io.Reader, out chan<- domain.Transition, logger *slog.Logger) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		transition, err := parseDockerEvent([]byte(line))
		if err != nil {
			logger.Warn("skip docker event", "error", err)
			continue
		}
		select {
		case out <- transition:
		case <-ctx.Done():
			return nil
		}
	}
	return scanner.Err()
}

func parseDockerEvent(raw []byte) (domain.Transition, error) {
	var event dockerEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return domain.Transition{}, fmt.Errorf("decode docker event: %w", err)
	}
	status := event.Status
	if status == "" {
		status = event.Action
	}
	transition := domain.Transition{
		Entity: strings.TrimPrefix(event.Actor.Attributes["name"], "/"),
		State:  domain.ParseState(status),
	}
	if event.Time > 0 {
		transition.At = time.Unix(event.Time, 0).UTC()
	}
	if err := transition.Validate(); err != nil {
		return domain.Transition{}, err
	}
	return transition, nil
}

// commandOutput runs one command and returns its stdout.
type commandOutput func(ctx context.Context, name string, args ...string) ([]byte, error)

func execOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// DockerInspector queries current health through `docker inspect`.
type DockerInspector struct {
	binary string
	run    commandOutput
}

// NewDockerInspector creates inspector.
func NewDockerInspector(binary string) *DockerInspector {
	return &DockerInspector{binary: binary, run: execOutput}
}

// Status returns entity health; containers without a health check report unknown.
func (i *DockerInspector) Status(ctx context.Context, entity string) (domain.State, error) {
	output, err := i.run(ctx, i.binary, "inspect", "--format", "{{if .State.Health}}{{.State.Health.Status}}{{end}}", entity)
	if err != nil {
		return domain.StateUnknown, fmt.Errorf("docker inspect %s: %w", entity, err)
	}
	return domain.ParseState(string(output)), nil
}
