// VitalSync - Incremental Health Metrics Mirror
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vitalsync/vitalsync

package remote

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"

	"github.com/vitalsync/vitalsync/internal/models"
)

// maxResponseBytes caps a single metric-day payload.
const maxResponseBytes = 8 << 20 // 8 MiB

// HTTPAccessor fetches one metric's daily data from an HTTP API:
//
//	GET {base}/api/metrics/{metric}/{date}
//
// Responses map onto the engine's error taxonomy: 404 and 204 mean the
// remote has no data for the day (absence, not an error); other 4xx
// responses and invalid JSON are shape errors; 5xx and transport failures
// are transient and get retried by the executor.
type HTTPAccessor struct {
	base   *url.URL
	metric string
	client *http.Client
}

// NewHTTPAccessor creates an accessor for a single metric.
func NewHTTPAccessor(baseURL, metric string, timeout time.Duration) (*HTTPAccessor, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPAccessor{
		base:   u,
		metric: metric,
		client: &http.Client{Timeout: timeout},
	}, nil
}

// Fetch implements Accessor.
func (a *HTTPAccessor) Fetch(ctx context.Context, day time.Time) (json.RawMessage, error) {
	endpoint := a.base.JoinPath("api", "metrics", a.metric, models.DateKey(day))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		// Transport errors are transient by classification.
		return nil, fmt.Errorf("fetch %s %s: %w", a.metric, models.DateKey(day), err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusNoContent:
		return nil, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, Shape(a.metric, fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("fetch %s %s: status %d", a.metric, models.DateKey(day), resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(body) == 0 || string(body) == "null" {
		return nil, nil
	}
	if !json.Valid(body) {
		return nil, Shape(a.metric, "response is not valid JSON", nil)
	}
	return json.RawMessage(body), nil
}
