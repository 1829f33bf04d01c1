package app

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"alertrelay/internal/clock"
	"alertrelay/internal/config"
	"alertrelay/internal/routes"
)

type telegramMessage struct {
	ChatID   string
	ThreadID string
	Text     string
}

type fakeTelegram struct {
	mu       sync.Mutex
	messages []telegramMessage
	fail     bool
}

func newFakeTelegram(t *testing.T) (*fakeTelegram, *httptest.Server) {
	t.Helper()
	fake := &fakeTelegram{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(2 << 20); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		fake.mu.Lock()
		defer fake.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if fake.fail {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = fmt.Fprint(w, `{"ok":false,"error_code":500,"description":"Internal Server Error"}`)
			return
		}
		fake.messages = append(fake.messages, telegramMessage{
			ChatID:   r.FormValue("chat_id"),
			ThreadID: r.FormValue("message_thread_id"),
			Text:     r.FormValue("text"),
		})
		_, _ = fmt.Fprintf(w, `{"ok":true,"result":{"message_id":%d,"date":1,"chat":{"id":1,"type":"supergroup"}}}`, len(fake.messages))
	}))
	t.Cleanup(server.Close)
	return fake, server
}

func (f *fakeTelegram) sent() []telegramMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]telegramMessage(nil), f.messages...)
}

func (f *fakeTelegram) setFail(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = fail
}

const relayRoutes = `
groups:
  ops: "-1001"
  g1: "-1002"
topics:
  t1: 7
default_group: ops
routes:
  - match: {service: payments-api}
    group: g1
    topic: t1
drop:
  - match: {service: checkout-canary}
`

func writeRelayConfig(t *testing.T, apiBase, routesBody, extra string) config.ConfigSource {
	t.Helper()
	dir := t.TempDir()
	routesPath := filepath.Join(dir, "routes.yml")
	if err := os.WriteFile(routesPath, []byte(routesBody), 0o600); err != nil {
		t.Fatalf("write routes: %v", err)
	}
	body := fmt.Sprintf(`
[log.console]
enabled = true
level = "error"

[routing]
file = %q

[notify.telegram]
bot_token = "token"
chat_id = "-1999"
api_base = %q
timeout_sec = 2
%s
`, routesPath, apiBase, extra)
	configPath := filepath.Join(dir, "relay.toml")
	if err := os.WriteFile(configPath, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return config.ConfigSource{File: configPath}
}

func newTestService(t *testing.T, routesBody, extra string) (*Service, *fakeTelegram) {
	t.Helper()
	fake, server := newFakeTelegram(t)
	service, err := NewService(writeRelayConfig(t, server.URL, routesBody, extra), clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	t.Cleanup(func() {
		if service.closeLog != nil {
			service.closeLog()
		}
	})
	return service, fake
}

func serve(service *Service, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	request := httptest.NewRequest(method, path, strings.NewReader(body))
	for key, value := range headers {
		request.Header.Set(key, value)
	}
	recorder := httptest.NewRecorder()
	service.Handler().ServeHTTP(recorder, request)
	return recorder
}

func TestServiceLocalAlertRoutesByEntity(t *testing.T) {
	t.Parallel()

	service, fake := newTestService(t, relayRoutes, "")
	recorder := serve(service, http.MethodPost, "/alert/local", `{"title":"Container unhealthy: payments-api","body":"unhealthy for more than 2m"}`, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	sent := fake.sent()
	if len(sent) != 1 {
		t.Fatalf("expected one message, got %d", len(sent))
	}
	if sent[0].ChatID != "-1002" || sent[0].ThreadID != "7" {
		t.Fatalf("expected g1/t1 destination, got %+v", sent[0])
	}
	if !strings.Contains(sent[0].Text, "payments-api") {
		t.Fatalf("expected entity in text, got %q", sent[0].Text)
	}
}

func TestServiceMonitorSubstringDrop(t *testing.T) {
	t.Parallel()

	service, fake := newTestService(t, relayRoutes, "")
	payload := `{"name":"checkout errors","matchedCount":1000,"queryStartTime":"2026-03-01T11:55:00Z","queryEndTime":"2026-03-01T12:00:00Z","matches":[{"service":"checkout","message":"boom"}]}`
	recorder := serve(service, http.MethodPost, "/webhook/monitor", payload, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if sent := fake.sent(); len(sent) != 1 || sent[0].ChatID != "-1001" {
		t.Fatalf("expected checkout routed to default group, got %+v", sent)
	}

	canary := strings.Replace(payload, `"service":"checkout"`, `"service":"checkout-canary-2"`, 1)
	recorder = serve(service, http.MethodPost, "/webhook/axiom", canary, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected dropped alert to return 200, got %d", recorder.Code)
	}
	if sent := fake.sent(); len(sent) != 1 {
		t.Fatalf("expected no delivery for dropped alert, got %d messages", len(sent))
	}
}

func TestServiceDeliveryFailure(t *testing.T) {
	t.Parallel()

	service, fake := newTestService(t, relayRoutes, "")
	fake.setFail(true)

	recorder := serve(service, http.MethodPost, "/alert/local", `{"title":"disk full","body":"/var"}`, nil)
	if recorder.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", recorder.Code)
	}
	recorder = serve(service, http.MethodPost, "/webhook/monitor", `{"name":"x"}`, nil)
	if recorder.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 on monitor path, got %d", recorder.Code)
	}
}

func TestServiceSecretAndHealth(t *testing.T) {
	t.Parallel()

	service, _ := newTestService(t, relayRoutes, "\n[http]\nwebhook_secret = \"s3cret\"\n")
	if recorder := serve(service, http.MethodPost, "/webhook/monitor", `{"name":"x"}`, nil); recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", recorder.Code)
	}
	if recorder := serve(service, http.MethodGet, "/health", "", nil); recorder.Code != http.StatusOK {
		t.Fatalf("expected health 200, got %d", recorder.Code)
	}
	if recorder := serve(service, http.MethodGet, "/readyz", "", nil); recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected not ready before Run, got %d", recorder.Code)
	}
	service.readyFlag.Store(true)
	if recorder := serve(service, http.MethodGet, "/readyz", "", nil); recorder.Code != http.StatusOK {
		t.Fatalf("expected ready, got %d", recorder.Code)
	}
	recorder := serve(service, http.MethodGet, "/metrics", "", nil)
	if recorder.Code != http.StatusOK || !strings.Contains(recorder.Body.String(), "alertrelay_alerts_rejected_total") {
		t.Fatalf("expected metrics exposition, got %d", recorder.Code)
	}
}

func TestServiceRejectsUndeclaredGroup(t *testing.T) {
	t.Parallel()

	_, server := newFakeTelegram(t)
	broken := strings.Replace(relayRoutes, "group: g1", "group: nowhere", 1)
	_, err := NewService(writeRelayConfig(t, server.URL, broken, ""), clock.RealClock{})
	var configErr *routes.ConfigError
	if !errors.As(err, &configErr) {
		t.Fatalf("expected routes config error, got %v", err)
	}
}

func TestServiceFallbackWithoutRoutesFile(t *testing.T) {
	t.Parallel()

	fake, server := newFakeTelegram(t)
	source := writeRelayConfig(t, server.URL, relayRoutes, "")
	if err := os.Remove(filepath.Join(filepath.Dir(source.File), "routes.yml")); err != nil {
		t.Fatalf("remove routes: %v", err)
	}
	service, err := NewService(source, clock.RealClock{})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	defer service.closeLog()

	if recorder := serve(service, http.MethodPost, "/alert/local", `{"title":"x","body":"y"}`, nil); recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if sent := fake.sent(); len(sent) != 1 || sent[0].ChatID != "-1999" {
		t.Fatalf("expected fallback chat, got %+v", sent)
	}
}
