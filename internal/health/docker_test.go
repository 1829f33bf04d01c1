package health

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"alertrelay/internal/domain"
)

func TestReadDockerEvents(t *testing.T) {
	t.Parallel()

	stream := strings.Join([]string{
		`{"status":"health_status: unhealthy","id":"abc","Type":"container","Action":"health_status: unhealthy","Actor":{"ID":"abc","Attributes":{"name":"payments-api","image":"x"}},"time":1700000000}`,
		`not json`,
		`{"Action":"health_status: healthy","Actor":{"Attributes":{"name":"/vector"}}}`,
		`{"status":"health_status: unhealthy","Actor":{"Attributes":{}}}`,
		``,
	}, "\n")

	out := make(chan domain.Transition, 8)
	if err := ReadDockerEvents(context.Background(), strings.NewReader(stream), out, slog.New(slog.NewTextHandler(io.Discard, nil))); err != nil {
		t.Fatalf("read: %v", err)
	}
	close(out)

	var got []domain.Transition
	for transition := range out {
		got = append(got, transition)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 valid transitions, got %+v", got)
	}
	if got[0].Entity != "payments-api" || got[0].State != domain.StateUnhealthy || !got[0].At.Equal(time.Unix(1700000000, 0)) {
		t.Fatalf("unexpected first transition %+v", got[0])
	}
	if got[1].Entity != "vector" || got[1].State != domain.StateHealthy || !got[1].At.IsZero() {
		t.Fatalf("unexpected second transition %+v", got[1])
	}
}

func TestDockerInspectorStatus(t *testing.T) {
	t.Parallel()

	var gotArgs []string
	inspector := &DockerInspector{binary: "docker", run: func(_ context.Context, name string, args ...string) ([]byte, error) {
		gotArgs = append([]string{name}, args...)
		return []byte("unhealthy\n"), nil
	}}
	state, err := inspector.Status(context.Background(), "payments-api")
	if err != nil || state != domain.StateUnhealthy {
		t.Fatalf("unexpected status %s %v", state, err)
	}
	if gotArgs[0] != "docker" || gotArgs[1] != "inspect" || gotArgs[len(gotArgs)-1] != "payments-api" {
		t.Fatalf("unexpected command %v", gotArgs)
	}

	inspector.run = func(context.Context, string, ...string) ([]byte, error) {
		return []byte("\n"), nil
	}
	if state, _ := inspector.Status(context.Background(), "no-healthcheck"); state != domain.StateUnknown {
		t.Fatalf("missing health must be unknown, got %s", state)
	}

	inspector.run = func(context.Context, string, ...string) ([]byte, error) {
		return nil, errors.New("No such object")
	}
	if _, err := inspector.Status(context.Background(), "gone"); err == nil {
		t.Fatalf("expected inspect error")
	}
}
