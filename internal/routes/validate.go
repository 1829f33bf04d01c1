package routes

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"alertrelay/internal/templatefmt"
)

// validate checks references, predicates, and runbook placeholders, compiling
// regexes and runbook templates into cfg as it goes.
// Params: decoded snapshot.
// Returns: every violation found, empty when valid.
func validate(cfg *Config) []string {
	var problems []string
	addf := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	for _, name := range sortedKeys(cfg.Groups) {
		if strings.TrimSpace(string(cfg.Groups[name])) == "" {
			addf("groups.%s: empty group id", name)
		}
	}
	for _, name := range sortedKeys(cfg.Topics) {
		if cfg.Topics[name] < 0 {
			addf("topics.%s: topic id must be >=0", name)
		}
	}
	if cfg.DefaultGroup != "" {
		if _, ok := cfg.Groups[cfg.DefaultGroup]; !ok {
			addf("default_group not found in groups: %s", cfg.DefaultGroup)
		}
	}
	if cfg.DefaultTopic != "" {
		if _, ok := cfg.Topics[cfg.DefaultTopic]; !ok {
			addf("default_topic not found in topics: %s", cfg.DefaultTopic)
		}
	}

	for i := range cfg.Routes {
		route := &cfg.Routes[i]
		prefix := fmt.Sprintf("routes[%d]", i)
		if route.Group != "" {
			if _, ok := cfg.Groups[route.Group]; !ok {
				addf("%s: route group not found in groups: %s", prefix, route.Group)
			}
		} else if cfg.DefaultGroup == "" {
			addf("%s: no group and no default_group", prefix)
		}
		if route.Topic != "" {
			if _, ok := cfg.Topics[route.Topic]; !ok {
				addf("%s: route topic not found in topics: %s", prefix, route.Topic)
			}
		}
		problems = append(problems, compileMatch(prefix+".match", &route.Match, true)...)
	}

	for i := range cfg.Drop {
		problems = append(problems, compileMatch(fmt.Sprintf("drop[%d].match", i), &cfg.Drop[i].Match, false)...)
	}

	for _, name := range sortedKeys(cfg.Profiles) {
		profile := cfg.Profiles[name]
		rules := make([]Rule, len(profile.P1))
		copy(rules, profile.P1)
		for i := range rules {
			problems = append(problems, compileMatch(fmt.Sprintf("profiles.%s.p1[%d].match", name, i), &rules[i].Match, false)...)
		}
		profile.P1 = rules
		cfg.Profiles[name] = profile
	}

	for _, name := range sortedKeys(cfg.Services) {
		for _, profile := range cfg.Services[name].Profiles {
			if _, ok := cfg.Profiles[profile]; !ok {
				addf("service '%s' references missing profile '%s'", name, profile)
			}
		}
	}

	if cfg.Defaults.SampleCount != nil && *cfg.Defaults.SampleCount < 0 {
		addf("defaults.sample_count must be >=0")
	}

	cfg.runbooks = make(map[string]templatefmt.Template)
	compileRunbook := func(path string, lines []string) {
		for i, line := range lines {
			tpl, err := templatefmt.Parse(line)
			if err != nil {
				addf("%s[%d]: %v in runbook: %s", path, i, err, line)
				continue
			}
			cfg.runbooks[line] = tpl
		}
	}
	compileRunbook("defaults.runbook", cfg.Defaults.Runbook)
	for _, name := range sortedKeys(cfg.Profiles) {
		compileRunbook("profiles."+name+".runbook", cfg.Profiles[name].Runbook)
	}
	for _, name := range sortedKeys(cfg.Services) {
		compileRunbook("services."+name+".runbook", cfg.Services[name].Runbook)
	}

	return problems
}

// compileMatch validates one predicate and compiles its regex.
// Params: diagnostic path, predicate, and whether an empty predicate is allowed (catch-all).
// Returns: violations.
func compileMatch(path string, match *Match, allowEmpty bool) []string {
	var problems []string
	if match.Empty() {
		if !allowEmpty {
			problems = append(problems, path+": empty predicate would match every alert")
		}
		return problems
	}

	substrings := [...]struct{ key, value string }{
		{"service", match.Service},
		{"host", match.Host},
		{"monitor", match.Monitor},
	}
	for _, sub := range substrings {
		if sub.value != "" && strings.TrimSpace(sub.value) == "" {
			problems = append(problems, fmt.Sprintf("%s.%s: blank substring", path, sub.key))
		}
	}

	if match.Field == "" && match.Op == "" {
		if len(match.Value.Values) > 0 {
			problems = append(problems, path+": value given without field/op")
		}
		return problems
	}
	if match.Field == "" || match.Op == "" {
		problems = append(problems, path+": field and op must be set together")
		return problems
	}
	if _, ok := knownFields[match.Field]; !ok {
		problems = append(problems, fmt.Sprintf("%s: unknown field %q", path, match.Field))
	}
	needsList, ok := knownOps[match.Op]
	if !ok {
		problems = append(problems, fmt.Sprintf("%s: unknown op %q", path, match.Op))
		return problems
	}
	if needsList && !match.Value.IsList {
		problems = append(problems, fmt.Sprintf("%s: rule op '%s' requires list value", path, match.Op))
	}
	if !needsList && match.Value.IsList {
		problems = append(problems, fmt.Sprintf("%s: rule op '%s' requires scalar value", path, match.Op))
	}
	if match.Op == OpRegex && len(match.Value.Values) == 1 {
		compiled, err := regexp.Compile(match.Value.Values[0])
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: invalid regex: %v", path, err))
		} else {
			match.regex = compiled
		}
	}
	if len(match.Value.Values) == 0 && match.Op != OpEq {
		problems = append(problems, fmt.Sprintf("%s: op '%s' requires a value", path, match.Op))
	}
	return problems
}

func sortedKeys[V any](values map[string]V) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
