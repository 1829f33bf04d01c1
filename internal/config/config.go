package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultServiceName        = "alertrelay"
	defaultHTTPListen         = ":8080"
	defaultHealthPath         = "/health"
	defaultReadyPath          = "/readyz"
	defaultMetricsPath        = "/metrics"
	defaultMonitorPath        = "/webhook/monitor"
	defaultLocalPath          = "/alert/local"
	defaultMaxBodyBytes       = 1 << 20
	defaultRoutesFile         = "routes.yml"
	defaultTelegramAPIBase    = "https://api.telegram.org"
	defaultTelegramTimeoutSec = 10
	defaultPrimaryURL         = "http://127.0.0.1:8080/alert/local"
	defaultPrimaryTimeoutMS   = 3000
	defaultFallbackTimeoutMS  = 5000
	defaultDebounceDelaySec   = 120
	defaultDockerBinary       = "docker"
	defaultNATSURL            = "nats://127.0.0.1:4222"
	defaultNATSSubject        = "health.transitions"
	defaultNATSBucket         = "entity_health"
	defaultAxiomAPIBase       = "https://api.axiom.co"
	defaultAxiomQueryBase     = "https://cloud.axiom.co"
	defaultAttachIntervalSec  = 300
	defaultAxiomTimeoutSec    = 10

	// WatchSourceDocker reads transitions from the container host event stream.
	WatchSourceDocker = "docker"
	// WatchSourceNATS reads transitions from a NATS subject and state from JetStream KV.
	WatchSourceNATS = "nats"
)

// Config holds process settings shared by the relay and the health watcher.
// Params: TOML sections from file or merged directory snapshot, then environment overrides.
// Returns: validated runtime configuration.
type Config struct {
	Service ServiceConfig `toml:"service"`
	Log     LogConfig     `toml:"log"`
	HTTP    HTTPConfig    `toml:"http"`
	Routing RoutingConfig `toml:"routing"`
	Notify  NotifyConfig  `toml:"notify"`
	Cascade CascadeConfig `toml:"cascade"`
	Watch   WatchConfig   `toml:"watch"`
	Axiom   AxiomConfig   `toml:"axiom"`
}

// ServiceConfig contains process-level settings.
type ServiceConfig struct {
	Name string `toml:"name"`
}

// LogConfig contains console/file logging sinks.
// Params: sink settings for each output target.
// Returns: logger setup options.
type LogConfig struct {
	Console LogSinkConfig `toml:"console"`
	File    LogSinkConfig `toml:"file"`
}

// LogSinkConfig defines one logging sink.
// Params: sink enable flag, level, format, and path.
// Returns: sink-specific behavior.
type LogSinkConfig struct {
	Enabled bool   `toml:"enabled"`
	Level   string `toml:"level"`
	Format  string `toml:"format"`
	Path    string `toml:"path"`
}

// HTTPConfig configures the relay HTTP surface.
// Params: listen address, endpoint paths, body limit, shared secret, and webhook rate limit.
// Returns: HTTP server behavior.
type HTTPConfig struct {
	Listen        string  `toml:"listen"`
	HealthPath    string  `toml:"health_path"`
	ReadyPath     string  `toml:"ready_path"`
	MetricsPath   string  `toml:"metrics_path"`
	MonitorPath   string  `toml:"monitor_path"`
	LocalPath     string  `toml:"local_path"`
	MaxBodyBytes  int64   `toml:"max_body_bytes"`
	WebhookSecret string  `toml:"webhook_secret"`
	RatePerSec    float64 `toml:"rate_per_sec"`
	RateBurst     int     `toml:"rate_burst"`
}

// RoutingConfig locates the routes document.
// Params: file path, hot-reload toggle, and include-resolved fallback.
// Returns: routing loader options.
type RoutingConfig struct {
	File            string `toml:"file"`
	Reload          bool   `toml:"reload"`
	IncludeResolved bool   `toml:"include_resolved"`
}

// NotifyConfig defines outbound messaging provider settings.
type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

// TelegramConfig defines Telegram Bot API settings.
// Params: bot token, fallback chat/topic, API base URL, and send timeout.
// Returns: gateway configuration.
type TelegramConfig struct {
	BotToken   string `toml:"bot_token"`
	ChatID     string `toml:"chat_id"`
	TopicID    int    `toml:"topic_id"`
	APIBase    string `toml:"api_base"`
	TimeoutSec int    `toml:"timeout_sec"`
}

// Timeout returns gateway send timeout.
func (c TelegramConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// CascadeConfig defines the three delivery rungs used by the health watcher.
// Params: primary relay URL/timeout and direct-provider credentials/timeout.
// Returns: cascade configuration.
type CascadeConfig struct {
	PrimaryURL        string `toml:"primary_url"`
	PrimaryTimeoutMS  int    `toml:"primary_timeout_ms"`
	FallbackTimeoutMS int    `toml:"fallback_timeout_ms"`
	FallbackBotToken  string `toml:"fallback_bot_token"`
	FallbackChatID    string `toml:"fallback_chat_id"`
	FallbackTopicID   int    `toml:"fallback_topic_id"`
}

// PrimaryTimeout returns timeout of the relay rung.
func (c CascadeConfig) PrimaryTimeout() time.Duration {
	return time.Duration(c.PrimaryTimeoutMS) * time.Millisecond
}

// FallbackTimeout returns timeout of the direct provider rung.
func (c CascadeConfig) FallbackTimeout() time.Duration {
	return time.Duration(c.FallbackTimeoutMS) * time.Millisecond
}

// WatchConfig configures the entity health debouncer.
// Params: event source, re-check delay, self namespace prefixes, and source-specific options.
// Returns: health watcher behavior.
type WatchConfig struct {
	Source        string          `toml:"source"`
	DelaySec      int             `toml:"delay_sec"`
	SelfPrefixes  []string        `toml:"self_prefixes"`
	DockerBinary  string          `toml:"docker_binary"`
	MetricsListen string          `toml:"metrics_listen"`
	NATS          WatchNATSConfig `toml:"nats"`
}

// Delay returns re-check delay.
func (c WatchConfig) Delay() time.Duration {
	return time.Duration(c.DelaySec) * time.Second
}

// WatchNATSConfig configures NATS transition subject and health KV bucket.
type WatchNATSConfig struct {
	URL     []string `toml:"url"`
	Subject string   `toml:"subject"`
	Bucket  string   `toml:"bucket"`
}

// AxiomConfig configures log platform management and enrichment calls.
// Params: management token, API endpoints, dataset, attach schedule, and request timeout.
// Returns: log platform client configuration.
type AxiomConfig struct {
	MgmtToken         string `toml:"mgmt_token"`
	APIBase           string `toml:"api_base"`
	QueryBase         string `toml:"query_base"`
	Dataset           string `toml:"dataset"`
	AttachIntervalSec int    `toml:"attach_interval_sec"`
	TimeoutSec        int    `toml:"timeout_sec"`
}

// AttachEnabled reports whether notifier auto-attach should run.
func (c AxiomConfig) AttachEnabled() bool {
	return strings.TrimSpace(c.MgmtToken) != ""
}

// EnrichEnabled reports whether enrichment queries can run.
func (c AxiomConfig) EnrichEnabled() bool {
	return strings.TrimSpace(c.MgmtToken) != "" && strings.TrimSpace(c.Dataset) != ""
}

// ConfigSource describes file, directory, or environment-only config source.
// Params: at most one of file path or directory path.
// Returns: normalized source descriptor.
type ConfigSource struct {
	File string
	Dir  string
}

// FromCLI builds normalized source configuration from input paths.
// Params: optional file and directory arguments.
// Returns: source descriptor or validation error.
func FromCLI(filePath, dirPath string) (ConfigSource, error) {
	filePath = strings.TrimSpace(filePath)
	dirPath = strings.TrimSpace(dirPath)

	if filePath != "" && dirPath != "" {
		return ConfigSource{}, errors.New("config source must be either file or dir")
	}
	return ConfigSource{File: filePath, Dir: dirPath}, nil
}

// LoadSnapshot loads configuration, applies process environment overrides, and validates it.
// Params: source selects file, directory, or defaults-only mode.
// Returns: validated config or load/validation error.
func LoadSnapshot(src ConfigSource) (Config, error) {
	return loadSnapshot(src, os.LookupEnv)
}

func loadSnapshot(src ConfigSource, lookup func(string) (string, bool)) (Config, error) {
	var cfg Config
	var err error
	switch {
	case src.File != "":
		err = decodeFile(src.File, &cfg)
	case src.Dir != "":
		err = decodeDir(src.Dir, &cfg)
	}
	if err != nil {
		return Config{}, err
	}
	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decodeFile decodes one TOML file on top of dst, rejecting unknown keys.
// Params: file path and destination config.
// Returns: read/decode error.
func decodeFile(path string, dst *Config) error {
	body, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %q: %w", path, err)
	}
	decoder := toml.NewDecoder(bytes.NewReader(body))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return fmt.Errorf("decode config file %q: unknown keys:\n%s", path, strict.String())
		}
		return fmt.Errorf("decode config file %q: %w", path, err)
	}
	return nil
}

// decodeDir overlays every TOML fragment from one directory in lexical order.
// Params: directory containing config fragments and destination config.
// Returns: read/decode error.
func decodeDir(dir string, dst *Config) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read config dir %q: %w", dir, err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.ToLower(filepath.Ext(entry.Name())) != ".toml" {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	if len(files) == 0 {
		return fmt.Errorf("no .toml files found in %q", dir)
	}
	sort.Strings(files)

	for _, file := range files {
		if err := decodeFile(file, dst); err != nil {
			return err
		}
	}
	return nil
}

// applyEnv overlays deployment environment variables onto decoded config.
// Params: cfg pointer and env lookup function.
// Returns: parse error for malformed numeric/bool values.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
			*dst = strings.TrimSpace(value)
		}
	}
	num := func(key string, dst *int) error {
		value, ok := lookup(key)
		if !ok || strings.TrimSpace(value) == "" {
			return nil
		}
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("env %s: %w", key, err)
		}
		*dst = parsed
		return nil
	}

	str("TELEGRAM_BOT_TOKEN", &cfg.Notify.Telegram.BotToken)
	str("TELEGRAM_CHAT_ID", &cfg.Notify.Telegram.ChatID)
	if err := num("TELEGRAM_TOPIC_ID", &cfg.Notify.Telegram.TopicID); err != nil {
		return err
	}
	str("WEBHOOK_SECRET", &cfg.HTTP.WebhookSecret)
	str("ROUTES_FILE", &cfg.Routing.File)
	if value, ok := lookup("ALERTBOT_INCLUDE_RESOLVED"); ok && strings.TrimSpace(value) != "" {
		parsed, valid := ParseBool(value)
		if !valid {
			return fmt.Errorf("env ALERTBOT_INCLUDE_RESOLVED: invalid bool %q", value)
		}
		cfg.Routing.IncludeResolved = parsed
	}
	str("ALERTBOT_URL", &cfg.Cascade.PrimaryURL)
	if err := num("HEALTH_RECHECK_DELAY", &cfg.Watch.DelaySec); err != nil {
		return err
	}
	str("AXIOM_MGMT_TOKEN", &cfg.Axiom.MgmtToken)
	str("AXIOM_API_BASE", &cfg.Axiom.APIBase)
	str("AXIOM_QUERY_BASE", &cfg.Axiom.QueryBase)
	str("AXIOM_DATASET", &cfg.Axiom.Dataset)
	return num("AXIOM_ATTACH_INTERVAL_SECONDS", &cfg.Axiom.AttachIntervalSec)
}

// ParseBool accepts the loose boolean spellings used in env files and routes documents.
// Params: raw value.
// Returns: parsed value and validity flag.
func ParseBool(raw string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "yes":
		return true, true
	case "false", "0", "no":
		return false, true
	default:
		return false, false
	}
}

// applyDefaults fills omitted config fields with safe defaults.
// Params: cfg pointer to decoded snapshot.
// Returns: defaults applied in place.
func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Service.Name) == "" {
		cfg.Service.Name = defaultServiceName
	}

	if cfg.Log.Console.Level == "" {
		cfg.Log.Console.Level = "info"
	}
	if cfg.Log.Console.Format == "" {
		cfg.Log.Console.Format = "line"
	}
	if cfg.Log.File.Level == "" {
		cfg.Log.File.Level = "info"
	}
	if cfg.Log.File.Format == "" {
		cfg.Log.File.Format = "json"
	}
	if !cfg.Log.Console.Enabled && !cfg.Log.File.Enabled {
		cfg.Log.Console.Enabled = true
	}

	setString(&cfg.HTTP.Listen, defaultHTTPListen)
	setString(&cfg.HTTP.HealthPath, defaultHealthPath)
	setString(&cfg.HTTP.ReadyPath, defaultReadyPath)
	setString(&cfg.HTTP.MetricsPath, defaultMetricsPath)
	setString(&cfg.HTTP.MonitorPath, defaultMonitorPath)
	setString(&cfg.HTTP.LocalPath, defaultLocalPath)
	if cfg.HTTP.MaxBodyBytes <= 0 {
		cfg.HTTP.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.HTTP.RatePerSec > 0 && cfg.HTTP.RateBurst <= 0 {
		cfg.HTTP.RateBurst = 1
	}

	setString(&cfg.Routing.File, defaultRoutesFile)

	setString(&cfg.Notify.Telegram.APIBase, defaultTelegramAPIBase)
	cfg.Notify.Telegram.APIBase = strings.TrimRight(cfg.Notify.Telegram.APIBase, "/")
	if cfg.Notify.Telegram.TimeoutSec <= 0 {
		cfg.Notify.Telegram.TimeoutSec = defaultTelegramTimeoutSec
	}

	setString(&cfg.Cascade.PrimaryURL, defaultPrimaryURL)
	if cfg.Cascade.PrimaryTimeoutMS <= 0 {
		cfg.Cascade.PrimaryTimeoutMS = defaultPrimaryTimeoutMS
	}
	if cfg.Cascade.FallbackTimeoutMS <= 0 {
		cfg.Cascade.FallbackTimeoutMS = defaultFallbackTimeoutMS
	}
	// Direct rung reuses the relay bot credentials unless dedicated ones are set.
	setString(&cfg.Cascade.FallbackBotToken, cfg.Notify.Telegram.BotToken)
	setString(&cfg.Cascade.FallbackChatID, cfg.Notify.Telegram.ChatID)
	if cfg.Cascade.FallbackTopicID == 0 {
		cfg.Cascade.FallbackTopicID = cfg.Notify.Telegram.TopicID
	}

	cfg.Watch.Source = strings.ToLower(strings.TrimSpace(cfg.Watch.Source))
	setString(&cfg.Watch.Source, WatchSourceDocker)
	if cfg.Watch.DelaySec <= 0 {
		cfg.Watch.DelaySec = defaultDebounceDelaySec
	}
	setString(&cfg.Watch.DockerBinary, defaultDockerBinary)
	if cfg.Watch.Source == WatchSourceNATS && len(cfg.Watch.NATS.URL) == 0 {
		cfg.Watch.NATS.URL = []string{defaultNATSURL}
	}
	setString(&cfg.Watch.NATS.Subject, defaultNATSSubject)
	setString(&cfg.Watch.NATS.Bucket, defaultNATSBucket)
	// Unset means the relay's own containers; an explicit empty list disables the cascade.
	if cfg.Watch.SelfPrefixes == nil {
		cfg.Watch.SelfPrefixes = []string{defaultServiceName}
	}

	setString(&cfg.Axiom.APIBase, defaultAxiomAPIBase)
	setString(&cfg.Axiom.QueryBase, defaultAxiomQueryBase)
	cfg.Axiom.APIBase = strings.TrimRight(cfg.Axiom.APIBase, "/")
	cfg.Axiom.QueryBase = strings.TrimRight(cfg.Axiom.QueryBase, "/")
	if cfg.Axiom.AttachIntervalSec <= 0 {
		cfg.Axiom.AttachIntervalSec = defaultAttachIntervalSec
	}
	if cfg.Axiom.TimeoutSec <= 0 {
		cfg.Axiom.TimeoutSec = defaultAxiomTimeoutSec
	}
}

func setString(dst *string, fallback string) {
	if strings.TrimSpace(*dst) == "" {
		*dst = fallback
	}
}

// validateConfig validates full runtime configuration.
// Params: cfg snapshot to validate.
// Returns: first failing constraint.
func validateConfig(cfg Config) error {
	if err := validateLogSink("log.console", cfg.Log.Console, false); err != nil {
		return err
	}
	if err := validateLogSink("log.file", cfg.Log.File, true); err != nil {
		return err
	}

	paths := map[string]string{
		"http.health_path":  cfg.HTTP.HealthPath,
		"http.ready_path":   cfg.HTTP.ReadyPath,
		"http.metrics_path": cfg.HTTP.MetricsPath,
		"http.monitor_path": cfg.HTTP.MonitorPath,
		"http.local_path":   cfg.HTTP.LocalPath,
	}
	keys := make([]string, 0, len(paths))
	for key := range paths {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	seen := make(map[string]string, len(paths))
	for _, key := range keys {
		path := paths[key]
		if !strings.HasPrefix(path, "/") {
			return fmt.Errorf("%s must start with '/'", key)
		}
		if other, dup := seen[path]; dup {
			return fmt.Errorf("%s duplicates %s (%q)", key, other, path)
		}
		seen[path] = key
	}
	if cfg.HTTP.RatePerSec < 0 {
		return errors.New("http.rate_per_sec must be >=0")
	}

	if cfg.Notify.Telegram.TopicID < 0 {
		return errors.New("notify.telegram.topic_id must be >=0")
	}
	if err := validateURL("notify.telegram.api_base", cfg.Notify.Telegram.APIBase); err != nil {
		return err
	}
	if err := validateURL("cascade.primary_url", cfg.Cascade.PrimaryURL); err != nil {
		return err
	}
	if cfg.Cascade.FallbackTopicID < 0 {
		return errors.New("cascade.fallback_topic_id must be >=0")
	}

	switch cfg.Watch.Source {
	case WatchSourceDocker:
	case WatchSourceNATS:
		for i, raw := range cfg.Watch.NATS.URL {
			if strings.TrimSpace(raw) == "" {
				return fmt.Errorf("watch.nats.url[%d] is empty", i)
			}
		}
	default:
		return fmt.Errorf("watch.source has unsupported value %q", cfg.Watch.Source)
	}
	for i, prefix := range cfg.Watch.SelfPrefixes {
		if strings.TrimSpace(prefix) == "" {
			return fmt.Errorf("watch.self_prefixes[%d] is empty", i)
		}
	}

	if err := validateURL("axiom.api_base", cfg.Axiom.APIBase); err != nil {
		return err
	}
	return validateURL("axiom.query_base", cfg.Axiom.QueryBase)
}

// ValidateRelay checks settings the relay process cannot start without.
// Params: loaded config snapshot.
// Returns: validation error.
func ValidateRelay(cfg Config) error {
	if strings.TrimSpace(cfg.Notify.Telegram.BotToken) == "" {
		return errors.New("notify.telegram.bot_token (TELEGRAM_BOT_TOKEN) is required")
	}
	return nil
}

// validateLogSink validates one log sink section.
// Params: path prefix, sink settings, and whether a file path is required.
// Returns: validation error.
func validateLogSink(prefix string, sink LogSinkConfig, needsPath bool) error {
	if !sink.Enabled {
		return nil
	}
	switch strings.ToLower(strings.TrimSpace(sink.Level)) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%s.level has unsupported value %q", prefix, sink.Level)
	}
	switch sink.Format {
	case "line", "json":
	default:
		return fmt.Errorf("%s.format has unsupported value %q", prefix, sink.Format)
	}
	if needsPath && strings.TrimSpace(sink.Path) == "" {
		return fmt.Errorf("%s.path is required when %s.enabled=true", prefix, prefix)
	}
	return nil
}

func validateURL(key, raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%s must be an http(s) URL, got %q", key, raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%s has no host: %q", key, raw)
	}
	return nil
}
