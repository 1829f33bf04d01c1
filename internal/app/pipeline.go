package app

import (
	"context"
	"fmt"

	"alertrelay/internal/domain"
	"alertrelay/internal/notify"
	"alertrelay/internal/routes"
	"alertrelay/internal/routing"
)

// Pipeline routes a normalized alert against the active snapshot and sends it.
// Params: routes holder read once per alert and messaging gateway.
// Returns: ingest.Sink implementation.
type Pipeline struct {
	holder  *routes.Holder
	gateway notify.Gateway
}

// NewPipeline creates routing+delivery pipeline.
func NewPipeline(holder *routes.Holder, gateway notify.Gateway) *Pipeline {
	return &Pipeline{holder: holder, gateway: gateway}
}

// Handle evaluates routing and delivers the rendered message once.
// Params: request context and canonical alert.
// Returns: decision (dropped decisions are not sent) and delivery error.
func (p *Pipeline) Handle(ctx context.Context, alert domain.Alert) (routing.Decision, error) {
	// One snapshot per alert so a concurrent reload never mixes two configs.
	snapshot := p.holder.Current()
	decision := routing.Route(alert, snapshot)
	if decision.Dropped() {
		return decision, nil
	}
	if err := p.gateway.Send(ctx, decision.Destination, decision.Text); err != nil {
		return decision, fmt.Errorf("send to %s: %w", decision.Group, err)
	}
	return decision, nil
}
