package axiom

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
)

type notifier struct {
	ID string `json:"id"`
}

type monitorSummary struct {
	ID          string   `json:"id"`
	NotifierIDs []string `json:"notifierIds"`
}

// AttachNotifiers attaches the first notifier to every monitor that has none.
// Params: context bounding the whole pass.
// Returns: number of updated monitors or first API error.
func (c *Client) AttachNotifiers(ctx context.Context) (int, error) {
	var notifiers []notifier
	if err := c.do(ctx, http.MethodGet, c.apiURL("notifiers"), nil, &notifiers); err != nil {
		return 0, err
	}
	if len(notifiers) == 0 {
		return 0, nil
	}
	notifierID := notifiers[0].ID

	var monitors []monitorSummary
	if err := c.do(ctx, http.MethodGet, c.apiURL("monitors"), nil, &monitors); err != nil {
		return 0, err
	}

	updated := 0
	for _, monitor := range monitors {
		if len(monitor.NotifierIDs) > 0 {
			continue
		}
		// Unknown detail fields must survive the PUT.
		var detail map[string]any
		if err := c.do(ctx, http.MethodGet, c.apiURL("monitors", monitor.ID), nil, &detail); err != nil {
			return updated, err
		}
		if detail == nil {
			detail = map[string]any{}
		}
		delete(detail, "id")
		delete(detail, "createdAt")
		detail["notifierIds"] = []string{notifierID}
		if err := c.do(ctx, http.MethodPut, c.apiURL("monitors", monitor.ID), detail, nil); err != nil {
			return updated, fmt.Errorf("attach notifier to monitor %s: %w", monitor.ID, err)
		}
		updated++
	}
	return updated, nil
}

// AttachJob runs AttachNotifiers on a fixed interval.
type AttachJob struct {
	client   *Client
	interval time.Duration
	logger   *slog.Logger
	cron     *cron.Cron
}

// NewAttachJob creates periodic notifier auto-attach job.
// Params: API client, run interval, and logger.
// Returns: job ready for Start.
func NewAttachJob(client *Client, interval time.Duration, logger *slog.Logger) *AttachJob {
	return &AttachJob{
		client:   client,
		interval: interval,
		logger:   logger,
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
}

// RunOnce performs one attach pass and logs its outcome.
func (j *AttachJob) RunOnce(ctx context.Context) {
	updated, err := j.client.AttachNotifiers(ctx)
	if err != nil {
		j.logger.Error("notifier auto-attach failed", "error", err.Error())
		return
	}
	if updated > 0 {
		j.logger.Info("notifier auto-attach updated monitors", "count", updated)
	}
}

// Start runs one pass immediately and schedules the rest; passes stop with ctx.
// Params: lifecycle context.
// Returns: schedule error.
func (j *AttachJob) Start(ctx context.Context) error {
	spec := fmt.Sprintf("@every %s", j.interval)
	if _, err := j.cron.AddFunc(spec, func() { j.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("schedule notifier auto-attach: %w", err)
	}
	go j.RunOnce(ctx)
	j.cron.Start()
	return nil
}

// Stop halts scheduling and waits for a running pass.
func (j *AttachJob) Stop() {
	<-j.cron.Stop().Done()
}
