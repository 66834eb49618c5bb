package usage

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/tidwall/gjson"
)

const (
	// betaHeader is required by the OAuth usage endpoint.
	betaHeader   = "oauth-2025-04-20"
	maxBodyBytes = 1 << 20
)

// fetchAPI performs the direct metrics request with a bearer token.
func fetchAPI(ctx context.Context, client *http.Client, endpoint, token string) (*Metrics, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build usage request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("anthropic-beta", betaHeader)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("usage request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read usage response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("usage request: status %d", resp.StatusCode)
	}
	return parseAPI(body)
}

// parseAPI reads utilization and reset times from the endpoint's JSON body.
func parseAPI(body []byte) (*Metrics, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("parse usage response: invalid json")
	}
	res := gjson.GetManyBytes(body,
		"five_hour.utilization",
		"seven_day.utilization",
		"seven_day_opus.utilization",
		"seven_day_sonnet.utilization",
		"five_hour.resets_at",
		"seven_day.resets_at",
	)
	m := &Metrics{Source: SourceAPI}
	if res[0].Type == gjson.Number {
		m.Session = pct(res[0].Float())
	}
	if res[1].Type == gjson.Number {
		m.Weekly = pct(res[1].Float())
	}
	if res[2].Type == gjson.Number {
		m.Tier = pct(res[2].Float())
	} else if res[3].Type == gjson.Number {
		m.Tier = pct(res[3].Float())
	}
	m.SessionResetsAt = res[4].String()
	m.WeeklyResetsAt = res[5].String()
	if m.Empty() {
		return nil, fmt.Errorf("parse usage response: %w", ErrNoMetrics)
	}
	return m, nil
}
