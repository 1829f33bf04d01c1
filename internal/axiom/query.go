package axiom

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"alertrelay/internal/domain"
	"alertrelay/internal/ingest"
)

const (
	defaultLookback = 5 * time.Minute
	queryRowLimit   = 50
)

// Query selects recent error lines for one service, optionally on one host.
type Query struct {
	Dataset string
	Service string
	Host    string
	Start   time.Time
	End     time.Time
}

type queryRequest struct {
	APL       string `json:"apl"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

type queryResponse struct {
	Tables []struct {
		Fields []struct {
			Name string `json:"name"`
		} `json:"fields"`
		Columns [][]any `json:"columns"`
	} `json:"tables"`
	Matches []struct {
		Data map[string]any `json:"data"`
	} `json:"matches"`
}

// APL renders the query text.
func (q Query) APL() string {
	parts := []string{fmt.Sprintf(`| where service contains "%s"`, quote(q.Service))}
	if q.Host != "" {
		parts = append(parts, fmt.Sprintf(`| where host == "%s"`, quote(q.Host)))
	}
	parts = append(parts,
		`| where message contains "ERROR" or message contains "error" or message contains "Traceback" or message contains "Exception" or message contains "CRITICAL"`,
		"| project _time, host, service, message, msg, log, _raw, status, status_code, code, user_agent, path, url, request_path, requestPath",
		fmt.Sprintf("| limit %d", queryRowLimit),
	)
	return strings.Join(parts, " ")
}

func quote(value string) string {
	return strings.ReplaceAll(value, `"`, `\"`)
}

// QueryRows runs one APL query and flattens the result into records.
// Params: context and query; a missing or inverted window uses the last five minutes before now.
// Returns: rows from tabular or match-shaped responses.
func (c *Client) QueryRows(ctx context.Context, query Query, now time.Time) ([]map[string]any, error) {
	start, end := query.Start, query.End
	if start.IsZero() || end.IsZero() || !end.After(start) {
		end = now.UTC()
		start = end.Add(-defaultLookback)
	}
	request := queryRequest{
		APL:       query.APL(),
		StartTime: start.UTC().Format(time.RFC3339),
		EndTime:   end.UTC().Format(time.RFC3339),
	}
	endpoint := c.queryBase + "/api/v1/datasets/" + url.PathEscape(query.Dataset) + "/query"

	var response queryResponse
	if err := c.do(ctx, http.MethodPost, endpoint, request, &response); err != nil {
		return nil, err
	}
	if rows := response.tabularRows(); len(rows) > 0 {
		return rows, nil
	}
	rows := make([]map[string]any, 0, len(response.Matches))
	for _, match := range response.Matches {
		if match.Data != nil {
			rows = append(rows, match.Data)
		}
	}
	return rows, nil
}

// tabularRows pivots the first table's column arrays into row maps.
func (r queryResponse) tabularRows() []map[string]any {
	if len(r.Tables) == 0 {
		return nil
	}
	table := r.Tables[0]
	if len(table.Fields) == 0 || len(table.Columns) == 0 {
		return nil
	}
	rowCount := len(table.Columns[0])
	rows := make([]map[string]any, 0, rowCount)
	for rowIndex := 0; rowIndex < rowCount; rowIndex++ {
		row := make(map[string]any, len(table.Fields))
		for colIndex, field := range table.Fields {
			if colIndex >= len(table.Columns) || field.Name == "" {
				continue
			}
			column := table.Columns[colIndex]
			if rowIndex < len(column) {
				row[field.Name] = column[rowIndex]
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// Enricher fills message-less monitor alerts with recent error lines.
type Enricher struct {
	client  *Client
	dataset string
	timeout time.Duration
	now     func() time.Time
}

// NewEnricher creates query-backed alert enricher.
// Params: API client, dataset name, and query timeout.
// Returns: enricher usable as ingest.Enricher.
func NewEnricher(client *Client, dataset string, timeout time.Duration) *Enricher {
	return &Enricher{client: client, dataset: dataset, timeout: timeout, now: time.Now}
}

// Enrich queries rows for alert service/host window and merges them into alert.
func (e *Enricher) Enrich(ctx context.Context, alert *domain.Alert) error {
	if alert.Service == "" {
		return nil
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	rows, err := e.client.QueryRows(ctx, Query{
		Dataset: e.dataset,
		Service: alert.Service,
		Host:    alert.Host,
		Start:   alert.WindowStart,
		End:     alert.WindowEnd,
	}, e.now())
	if err != nil {
		return fmt.Errorf("enrichment query: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}
	ingest.MergeRecords(alert, rows)
	ingest.Finalize(alert)
	return nil
}
