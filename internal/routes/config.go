package routes

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"alertrelay/internal/domain"
	"alertrelay/internal/templatefmt"
)

const (
	defaultUserImpactTag    = "#user-impact"
	defaultServiceErrorsTag = "#service-errors"
	defaultSampleCount      = 2

	fallbackName = "default"
)

// Predicate operators over context fields.
const (
	OpEq          = "eq"
	OpContains    = "contains"
	OpContainsAny = "contains_any"
	OpRegex       = "regex"
	OpIn          = "in"
	OpPrefixIn    = "prefix_in"
)

// Context field names a {field, op, value} predicate may reference.
const (
	FieldTitle     = "title"
	FieldMessage   = "message"
	FieldStatus    = "status"
	FieldUserAgent = "user_agent"
	FieldPath      = "path"
	FieldHost      = "host"
	FieldService   = "service"
	FieldMonitor   = "monitor"
)

var (
	knownOps = map[string]bool{
		OpEq: false, OpContains: false, OpRegex: false,
		OpContainsAny: true, OpIn: true, OpPrefixIn: true,
	}
	knownFields = map[string]struct{}{
		FieldTitle: {}, FieldMessage: {}, FieldStatus: {}, FieldUserAgent: {},
		FieldPath: {}, FieldHost: {}, FieldService: {}, FieldMonitor: {},
	}
)

// Config is one immutable routing rules snapshot.
// Params: decoded routes document plus compiled runbooks and regexes.
// Returns: read-only value shared by every routing evaluation.
type Config struct {
	Groups       map[string]ChatRef `yaml:"groups"`
	Topics       map[string]int     `yaml:"topics"`
	Routes       []Route            `yaml:"routes"`
	DefaultGroup string             `yaml:"default_group"`
	DefaultTopic string             `yaml:"default_topic"`
	Tags         Tags               `yaml:"tags"`
	Defaults     Defaults           `yaml:"defaults"`
	Drop         []Rule             `yaml:"drop"`
	Profiles     map[string]Profile `yaml:"profiles"`
	Services     map[string]Service `yaml:"services"`

	source          string
	includeResolved bool
	runbooks        map[string]templatefmt.Template
}

// ChatRef is a group destination identifier; YAML may spell it as number or string.
type ChatRef string

// UnmarshalYAML accepts any scalar.
func (c *ChatRef) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: group id must be a scalar", node.Line)
	}
	*c = ChatRef(strings.TrimSpace(node.Value))
	return nil
}

// Route is one ordered routing entry.
type Route struct {
	Match Match  `yaml:"match"`
	Group string `yaml:"group"`
	Topic string `yaml:"topic"`
}

// Rule wraps one predicate used by drop and p1 lists.
type Rule struct {
	Match Match `yaml:"match"`
}

// Match is a predicate: substring keys service/host/monitor (case-insensitive) and
// an optional {field, op, value} check. Every present condition must hold.
type Match struct {
	Service string     `yaml:"service"`
	Host    string     `yaml:"host"`
	Monitor string     `yaml:"monitor"`
	Field   string     `yaml:"field"`
	Op      string     `yaml:"op"`
	Value   StringList `yaml:"value"`

	regex *regexp.Regexp
}

// Empty reports whether predicate has no conditions.
func (m Match) Empty() bool {
	return m.Service == "" && m.Host == "" && m.Monitor == "" && m.Field == "" && m.Op == ""
}

// Regexp returns pattern compiled at load for regex predicates.
func (m Match) Regexp() *regexp.Regexp {
	return m.regex
}

// String renders predicate for diagnostics.
func (m Match) String() string {
	var parts []string
	if m.Service != "" {
		parts = append(parts, "service="+m.Service)
	}
	if m.Host != "" {
		parts = append(parts, "host="+m.Host)
	}
	if m.Monitor != "" {
		parts = append(parts, "monitor="+m.Monitor)
	}
	if m.Field != "" || m.Op != "" {
		parts = append(parts, fmt.Sprintf("%s %s %v", m.Field, m.Op, m.Value.Values))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// StringList is a predicate value given either as scalar or as sequence.
type StringList struct {
	Values []string
	IsList bool
}

// UnmarshalYAML decodes scalar or sequence of scalars.
func (l *StringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		l.Values = []string{node.Value}
		l.IsList = false
		return nil
	case yaml.SequenceNode:
		values := make([]string, 0, len(node.Content))
		for _, item := range node.Content {
			if item.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: predicate list items must be scalars", item.Line)
			}
			values = append(values, item.Value)
		}
		l.Values = values
		l.IsList = true
		return nil
	default:
		return fmt.Errorf("line %d: predicate value must be scalar or list", node.Line)
	}
}

// Tags holds severity tag strings.
type Tags struct {
	UserImpact    string `yaml:"user_impact"`
	ServiceErrors string `yaml:"service_errors"`
}

// Defaults holds rendering and suppression defaults.
type Defaults struct {
	IncludeResolved *bool    `yaml:"include_resolved"`
	TopError        *bool    `yaml:"top_error"`
	SampleCount     *int     `yaml:"sample_count"`
	Runbook         []string `yaml:"runbook"`
}

// Profile is a named severity bucket.
type Profile struct {
	High    bool     `yaml:"high"`
	P1      []Rule   `yaml:"p1"`
	Runbook []string `yaml:"runbook"`
}

// Service assigns profiles and an optional runbook to one entity name.
type Service struct {
	Profiles []string `yaml:"profiles"`
	Runbook  []string `yaml:"runbook"`
}

// LoadOptions carries process settings merged into each snapshot.
type LoadOptions struct {
	// IncludeResolved is used when the document has no defaults.include_resolved.
	IncludeResolved bool
	// FallbackChatID and FallbackTopicID build the snapshot used when the file is absent.
	FallbackChatID  string
	FallbackTopicID int
}

// Load reads and validates a routes document; a missing file yields the fallback snapshot.
// Params: file path and process-level options.
// Returns: compiled snapshot or *ConfigError / read error.
func Load(path string, opts LoadOptions) (*Config, error) {
	body, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Fallback(opts), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read routes file %q: %w", path, err)
	}
	return Parse(path, body, opts)
}

// LoadStrict is Load without fallback; used by the validator CLI.
func LoadStrict(path string, opts LoadOptions) (*Config, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read routes file %q: %w", path, err)
	}
	return Parse(path, body, opts)
}

// Parse decodes, validates, and compiles a routes document; an empty document is
// treated like a missing file.
// Params: source name for messages, YAML body, and options.
// Returns: compiled snapshot or *ConfigError.
func Parse(source string, body []byte, opts LoadOptions) (*Config, error) {
	cfg := &Config{}
	decoder := yaml.NewDecoder(bytes.NewReader(body))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return Fallback(opts), nil
		}
		return nil, &ConfigError{Source: source, Problems: []string{err.Error()}}
	}

	cfg.source = source
	problems := validate(cfg)
	if len(problems) > 0 {
		return nil, &ConfigError{Source: source, Problems: problems}
	}

	cfg.includeResolved = opts.IncludeResolved
	if cfg.Defaults.IncludeResolved != nil {
		cfg.includeResolved = *cfg.Defaults.IncludeResolved
	}
	return cfg, nil
}

// Fallback builds the snapshot used when no routes document exists: every alert goes
// to the configured chat and topic.
// Params: options with fallback destination.
// Returns: minimal snapshot.
func Fallback(opts LoadOptions) *Config {
	cfg := &Config{
		Groups:          map[string]ChatRef{fallbackName: ChatRef(opts.FallbackChatID)},
		Topics:          map[string]int{},
		DefaultGroup:    fallbackName,
		source:          "fallback",
		includeResolved: opts.IncludeResolved,
		runbooks:        map[string]templatefmt.Template{},
	}
	if opts.FallbackTopicID > 0 {
		cfg.Topics[fallbackName] = opts.FallbackTopicID
		cfg.DefaultTopic = fallbackName
	}
	return cfg
}

// Source returns file path (or "fallback") the snapshot came from.
func (c *Config) Source() string {
	return c.source
}

// IsFallback reports whether snapshot was built without a routes document.
func (c *Config) IsFallback() bool {
	return c.source == "fallback"
}

// IncludeResolved reports whether resolved monitor alerts should be delivered.
func (c *Config) IncludeResolved() bool {
	return c.includeResolved
}

// TopErrorEnabled reports whether the most frequent message is rendered.
func (c *Config) TopErrorEnabled() bool {
	if c.Defaults.TopError == nil {
		return true
	}
	return *c.Defaults.TopError
}

// SampleCount returns number of unique sample lines to render.
func (c *Config) SampleCount() int {
	if c.Defaults.SampleCount == nil {
		return defaultSampleCount
	}
	return *c.Defaults.SampleCount
}

// UserImpactTag returns tag for high-severity alerts.
func (c *Config) UserImpactTag() string {
	if c.Tags.UserImpact == "" {
		return defaultUserImpactTag
	}
	return c.Tags.UserImpact
}

// ServiceErrorsTag returns tag for ordinary alerts.
func (c *Config) ServiceErrorsTag() string {
	if c.Tags.ServiceErrors == "" {
		return defaultServiceErrorsTag
	}
	return c.Tags.ServiceErrors
}

// Destination resolves group/topic names into a messaging target; an empty name falls
// back to the document default.
// Params: group and topic names.
// Returns: resolved destination, empty chat when unresolvable.
func (c *Config) Destination(group, topic string) domain.Destination {
	if group == "" {
		group = c.DefaultGroup
	}
	if topic == "" {
		topic = c.DefaultTopic
	}
	return domain.Destination{
		ChatID:  string(c.Groups[group]),
		TopicID: c.Topics[topic],
	}
}

// Runbook returns the compiled template for a runbook line validated at load.
func (c *Config) Runbook(line string) templatefmt.Template {
	if tpl, ok := c.runbooks[line]; ok {
		return tpl
	}
	return templatefmt.MustParse(line)
}

// ConfigError collects every violation found in one routes document.
type ConfigError struct {
	Source   string
	Problems []string
}

// Error renders all violations, one per line.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid routes config %q:\n  %s", e.Source, strings.Join(e.Problems, "\n  "))
}
