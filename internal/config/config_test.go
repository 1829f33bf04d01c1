package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func noEnv(string) (string, bool) { return "", false }

func envMap(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadSnapshotDefaultsWithoutSource(t *testing.T) {
	t.Parallel()

	cfg, err := loadSnapshot(ConfigSource{}, noEnv)
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.Service.Name != "alertrelay" {
		t.Fatalf("unexpected service name %q", cfg.Service.Name)
	}
	if cfg.HTTP.MonitorPath != "/webhook/monitor" || cfg.HTTP.LocalPath != "/alert/local" {
		t.Fatalf("unexpected paths: %+v", cfg.HTTP)
	}
	if cfg.Watch.Delay() != 120*time.Second {
		t.Fatalf("unexpected delay %s", cfg.Watch.Delay())
	}
	if cfg.Cascade.PrimaryTimeout() != 3*time.Second || cfg.Cascade.FallbackTimeout() != 5*time.Second {
		t.Fatalf("unexpected cascade timeouts: %+v", cfg.Cascade)
	}
	if !cfg.Log.Console.Enabled {
		t.Fatalf("console sink must be enabled when no sink configured")
	}
	if cfg.Axiom.AttachEnabled() {
		t.Fatalf("attach must be disabled without token")
	}
	if len(cfg.Watch.SelfPrefixes) != 1 || cfg.Watch.SelfPrefixes[0] != "alertrelay" {
		t.Fatalf("expected relay self prefix by default, got %v", cfg.Watch.SelfPrefixes)
	}
}

func TestExplicitEmptySelfPrefixesKept(t *testing.T) {
	t.Parallel()

	path := writeFile(t, t.TempDir(), "watch.toml", "[watch]\nself_prefixes = []\n")
	cfg, err := loadSnapshot(ConfigSource{File: path}, noEnv)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Watch.SelfPrefixes == nil || len(cfg.Watch.SelfPrefixes) != 0 {
		t.Fatalf("explicit empty list must disable self prefixes, got %#v", cfg.Watch.SelfPrefixes)
	}
}

func TestLoadSnapshotFromFile(t *testing.T) {
	t.Parallel()

	path := writeFile(t, t.TempDir(), "relay.toml", `
[service]
name = "edge-relay"

[http]
listen = "127.0.0.1:9000"
webhook_secret = "s3"
rate_per_sec = 5

[notify.telegram]
bot_token = "token"
chat_id = "-100"
topic_id = 7

[watch]
source = "NATS"
delay_sec = 30
self_prefixes = ["alertrelay"]
`)

	cfg, err := loadSnapshot(ConfigSource{File: path}, noEnv)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Service.Name != "edge-relay" || cfg.HTTP.Listen != "127.0.0.1:9000" {
		t.Fatalf("unexpected decoded config: %+v", cfg)
	}
	if cfg.HTTP.RateBurst != 1 {
		t.Fatalf("expected default burst 1, got %d", cfg.HTTP.RateBurst)
	}
	if cfg.Watch.Source != WatchSourceNATS || len(cfg.Watch.NATS.URL) != 1 {
		t.Fatalf("unexpected watch config: %+v", cfg.Watch)
	}
	if cfg.Cascade.FallbackBotToken != "token" || cfg.Cascade.FallbackChatID != "-100" || cfg.Cascade.FallbackTopicID != 7 {
		t.Fatalf("direct rung must inherit telegram credentials: %+v", cfg.Cascade)
	}
	if err := ValidateRelay(cfg); err != nil {
		t.Fatalf("validate relay: %v", err)
	}
}

func TestLoadSnapshotRejectsUnknownKeys(t *testing.T) {
	t.Parallel()

	path := writeFile(t, t.TempDir(), "bad.toml", `
[http]
listen = ":1"
lissen = ":2"
`)
	_, err := loadSnapshot(ConfigSource{File: path}, noEnv)
	if err == nil || !strings.Contains(err.Error(), "unknown keys") {
		t.Fatalf("expected unknown keys error, got %v", err)
	}
}

func TestLoadSnapshotFromDirOverlaysInLexicalOrder(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "10-base.toml", `
[service]
name = "base"

[notify.telegram]
bot_token = "a"
chat_id = "1"
`)
	writeFile(t, dir, "20-override.toml", `
[notify.telegram]
chat_id = "2"
`)
	writeFile(t, dir, "README.md", "ignored")

	cfg, err := loadSnapshot(ConfigSource{Dir: dir}, noEnv)
	if err != nil {
		t.Fatalf("load dir: %v", err)
	}
	if cfg.Service.Name != "base" {
		t.Fatalf("earlier fragment value lost: %q", cfg.Service.Name)
	}
	if cfg.Notify.Telegram.BotToken != "a" || cfg.Notify.Telegram.ChatID != "2" {
		t.Fatalf("unexpected telegram overlay: %+v", cfg.Notify.Telegram)
	}
}

func TestLoadSnapshotFromEmptyDirFails(t *testing.T) {
	t.Parallel()

	if _, err := loadSnapshot(ConfigSource{Dir: t.TempDir()}, noEnv); err == nil {
		t.Fatalf("expected error for dir without toml files")
	}
}

func TestEnvOverridesFileValues(t *testing.T) {
	t.Parallel()

	path := writeFile(t, t.TempDir(), "relay.toml", `
[notify.telegram]
bot_token = "file"
chat_id = "file-chat"
`)
	cfg, err := loadSnapshot(ConfigSource{File: path}, envMap(map[string]string{
		"TELEGRAM_BOT_TOKEN":            "env",
		"TELEGRAM_TOPIC_ID":             "42",
		"ALERTBOT_INCLUDE_RESOLVED":     "yes",
		"ALERTBOT_URL":                  "http://relay:8080/alert/local",
		"HEALTH_RECHECK_DELAY":          "5",
		"AXIOM_MGMT_TOKEN":              "mgmt",
		"AXIOM_ATTACH_INTERVAL_SECONDS": "60",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Notify.Telegram.BotToken != "env" || cfg.Notify.Telegram.ChatID != "file-chat" || cfg.Notify.Telegram.TopicID != 42 {
		t.Fatalf("unexpected telegram config: %+v", cfg.Notify.Telegram)
	}
	if !cfg.Routing.IncludeResolved {
		t.Fatalf("expected include_resolved from env")
	}
	if cfg.Cascade.PrimaryURL != "http://relay:8080/alert/local" || cfg.Watch.DelaySec != 5 {
		t.Fatalf("unexpected env overrides: %+v %+v", cfg.Cascade, cfg.Watch)
	}
	if !cfg.Axiom.AttachEnabled() || cfg.Axiom.AttachIntervalSec != 60 {
		t.Fatalf("unexpected axiom config: %+v", cfg.Axiom)
	}
}

func TestEnvRejectsMalformedValues(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"TELEGRAM_TOPIC_ID":         "abc",
		"HEALTH_RECHECK_DELAY":      "2m",
		"ALERTBOT_INCLUDE_RESOLVED": "maybe",
	}
	for key, value := range cases {
		key, value := key, value
		t.Run(key, func(t *testing.T) {
			t.Parallel()
			if _, err := loadSnapshot(ConfigSource{}, envMap(map[string]string{key: value})); err == nil {
				t.Fatalf("expected error for %s=%q", key, value)
			}
		})
	}
}

func TestValidateConfigErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
		want string
	}{
		{name: "bad path", body: "[http]\nhealth_path = \"health\"", want: "must start with '/'"},
		{name: "dup path", body: "[http]\nready_path = \"/health\"", want: "duplicates"},
		{name: "bad source", body: "[watch]\nsource = \"kafka\"", want: "unsupported value"},
		{name: "bad primary url", body: "[cascade]\nprimary_url = \"relay:8080\"", want: "cascade.primary_url"},
		{name: "file sink path", body: "[log.file]\nenabled = true", want: "log.file.path"},
		{name: "bad level", body: "[log.console]\nenabled = true\nlevel = \"trace\"", want: "log.console.level"},
		{name: "empty prefix", body: "[watch]\nself_prefixes = [\"\"]", want: "self_prefixes"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			path := writeFile(t, t.TempDir(), "c.toml", tc.body)
			_, err := loadSnapshot(ConfigSource{File: path}, noEnv)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestValidateRelayRequiresToken(t *testing.T) {
	t.Parallel()

	cfg, err := loadSnapshot(ConfigSource{}, noEnv)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := ValidateRelay(cfg); err == nil {
		t.Fatalf("expected missing token error")
	}
}

func TestFromCLIRejectsBothSources(t *testing.T) {
	t.Parallel()

	if _, err := FromCLI("a.toml", "conf.d"); err == nil {
		t.Fatalf("expected error")
	}
	src, err := FromCLI(" ", "")
	if err != nil || src.File != "" || src.Dir != "" {
		t.Fatalf("unexpected empty source result: %+v %v", src, err)
	}
}

func TestParseBool(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"true", "1", "YES"} {
		if value, ok := ParseBool(raw); !ok || !value {
			t.Fatalf("ParseBool(%q) = %v,%v", raw, value, ok)
		}
	}
	for _, raw := range []string{"false", "0", "No"} {
		if value, ok := ParseBool(raw); !ok || value {
			t.Fatalf("ParseBool(%q) = %v,%v", raw, value, ok)
		}
	}
	if _, ok := ParseBool("on"); ok {
		t.Fatalf("unexpected valid result for on")
	}
}
