package logsource

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// defaultQuery selects error-level lines via LogQL.
const defaultQuery = `{level="ERROR"}`

// Loki fetches error events from a Loki query endpoint.
type Loki struct {
	baseURL string
	query   string
	client  *http.Client
	logger  *zap.Logger
}

// LokiConfig configures the Loki source.
type LokiConfig struct {
	// URL is the Loki base URL, e.g. http://loki:3100.
	URL string

	// Query overrides the LogQL selector. Default: {level="ERROR"}.
	Query string

	// Timeout bounds each query round-trip. Default: 10s.
	Timeout time.Duration
}

// NewLoki creates a Loki-backed source.
func NewLoki(cfg LokiConfig, logger *zap.Logger) (*Loki, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("loki URL is required")
	}
	if cfg.Query == "" {
		cfg.Query = defaultQuery
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Loki{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		query:   cfg.Query,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  logger,
	}, nil
}

func (l *Loki) Enabled() bool { return true }

// lokiResponse mirrors the subset of Loki's query_range payload we consume.
type lokiResponse struct {
	Data struct {
		Result []struct {
			Values [][2]string `json:"values"`
		} `json:"result"`
	} `json:"data"`
}

// Fetch queries Loki's query_range API for error-level lines within the
// window. Log lines are expected to be structured JSON; lines that are not
// parseable JSON become bare-message events rather than being dropped.
func (l *Loki) Fetch(ctx context.Context, window time.Duration, limit int) ([]Event, error) {
	now := time.Now()
	params := url.Values{}
	params.Set("query", l.query)
	params.Set("limit", strconv.Itoa(limit))
	params.Set("direction", "backward")
	params.Set("start", strconv.FormatInt(now.Add(-window).UnixNano(), 10))
	params.Set("end", strconv.FormatInt(now.UnixNano(), 10))

	endpoint := l.baseURL + "/loki/api/v1/query_range?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building loki request: %w", err)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		l.logger.Warn("loki fetch failed", zap.Error(err))
		return nil, fmt.Errorf("querying loki: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		l.logger.Warn("loki returned non-200", zap.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("loki query returned status %d", resp.StatusCode)
	}

	var payload lokiResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding loki response: %w", err)
	}

	var events []Event
	for _, stream := range payload.Data.Result {
		for _, value := range stream.Values {
			ts, line := value[0], value[1]
			events = append(events, parseLine(ts, line))
			if len(events) >= limit {
				return events, nil
			}
		}
	}

	return events, nil
}

// parseLine decodes a structured log line, falling back to a raw-message
// event when the line is not JSON.
func parseLine(ts, line string) Event {
	var ev Event
	if err := json.Unmarshal([]byte(line), &ev); err == nil && ev.Message != "" {
		if ev.Timestamp.IsZero() {
			ev.Timestamp = timestampFromNanos(ts)
		}
		return ev
	}
	return Event{
		Message:   line,
		Timestamp: timestampFromNanos(ts),
	}
}

func timestampFromNanos(ts string) time.Time {
	nanos, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return time.Now().UTC()
	}
	return time.Unix(0, nanos).UTC()
}
