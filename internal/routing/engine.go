package routing

import (
	"alertrelay/internal/domain"
	"alertrelay/internal/routes"
)

// Drop reasons carried by suppressed decisions.
const (
	DropResolved = "resolved"
	DropRule     = "drop_rule"
)

// Decision is the result of routing one alert.
// Params: resolved destination, tags, rendered text, or a drop reason.
// Returns: per-request value discarded after delivery.
type Decision struct {
	Destination domain.Destination
	Group       string
	Topic       string
	// Route is the index of the matched route entry, -1 for defaults.
	Route    int
	Tags     []string
	Profiles []string
	High     bool
	Text     string

	DropReason string
	// DropMatch describes the drop predicate that fired.
	DropMatch string
}

// Dropped reports whether delivery is suppressed by policy.
func (d Decision) Dropped() bool {
	return d.DropReason != ""
}

// Route evaluates a snapshot against one alert. It reads nothing but its arguments,
// so equal inputs always give equal decisions.
// Params: canonical alert and routing snapshot.
// Returns: delivery decision or drop verdict.
func Route(alert domain.Alert, cfg *routes.Config) Decision {
	if alert.Resolved() && !cfg.IncludeResolved() {
		return Decision{Route: -1, DropReason: DropResolved}
	}

	ctx := newMatchContext(alert)
	for _, rule := range cfg.Drop {
		if ctx.matches(rule.Match) {
			return Decision{Route: -1, DropReason: DropRule, DropMatch: rule.Match.String()}
		}
	}

	profiles := serviceProfiles(cfg, ctx.services)
	high := isHigh(cfg, profiles, ctx)
	tag := cfg.ServiceErrorsTag()
	if high {
		tag = cfg.UserImpactTag()
	}

	decision := Decision{
		Route:    -1,
		Tags:     []string{tag},
		Profiles: profiles,
		High:     high,
	}
	for i, route := range cfg.Routes {
		if !ctx.matches(route.Match) {
			continue
		}
		decision.Route = i
		decision.Group = route.Group
		decision.Topic = route.Topic
		break
	}
	if decision.Group == "" {
		decision.Group = cfg.DefaultGroup
	}
	if decision.Topic == "" {
		decision.Topic = cfg.DefaultTopic
	}
	decision.Destination = cfg.Destination(decision.Group, decision.Topic)
	decision.Text = render(alert, cfg, decision, resolveRunbook(cfg, ctx.services, profiles))
	return decision
}

// serviceProfiles collects profile names assigned to the alert services in stable order.
func serviceProfiles(cfg *routes.Config, services []string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, service := range services {
		assigned, ok := cfg.Services[service]
		if !ok {
			continue
		}
		for _, name := range assigned.Profiles {
			if _, dup := seen[name]; dup || name == "" {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	return out
}

// isHigh reports whether any assigned profile is high severity outright or through a p1 rule.
func isHigh(cfg *routes.Config, profiles []string, ctx matchContext) bool {
	for _, name := range profiles {
		profile := cfg.Profiles[name]
		if profile.High {
			return true
		}
		for _, rule := range profile.P1 {
			if ctx.matches(rule.Match) {
				return true
			}
		}
	}
	return false
}

// resolveRunbook picks service runbook, then first profile runbook, then defaults.
func resolveRunbook(cfg *routes.Config, services, profiles []string) []string {
	for _, service := range services {
		if assigned, ok := cfg.Services[service]; ok && len(assigned.Runbook) > 0 {
			return assigned.Runbook
		}
	}
	for _, name := range profiles {
		if runbook := cfg.Profiles[name].Runbook; len(runbook) > 0 {
			return runbook
		}
	}
	return cfg.Defaults.Runbook
}
