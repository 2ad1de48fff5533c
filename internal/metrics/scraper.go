package metrics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// Snapshot is a decoded Prometheus text exposition, keyed by family name.
type Snapshot struct {
	families map[string]*dto.MetricFamily
}

// Client reads a running channel's HTTP surface.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the server at addr (host:port or URL).
func NewClient(addr string, timeout time.Duration) *Client {
	base := addr
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		baseURL:    strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Scrape fetches and decodes /metrics.
func (c *Client) Scrape(ctx context.Context) (*Snapshot, error) {
	resp, err := c.get(ctx, "/metrics")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return ParseExposition(resp.Body)
}

// FetchJSON decodes the JSON document at path into v.
func (c *Client) FetchJSON(ctx context.Context, path string, v any) error {
	resp, err := c.get(ctx, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// PostJSON sends body as JSON to path and decodes the response into v when
// v is non-nil. Any 2xx status is success; otherwise the server's error
// message is returned.
func (c *Client) PostJSON(ctx context.Context, path string, body, v any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s: http status %d: %s", path, resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("%s: http status %d", path, resp.StatusCode)
	}
	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%s: http status %d", path, resp.StatusCode)
	}
	return resp, nil
}

// ParseExposition decodes Prometheus text format.
func ParseExposition(r io.Reader) (*Snapshot, error) {
	decoder := expfmt.NewDecoder(r, expfmt.FmtText)
	s := &Snapshot{families: make(map[string]*dto.MetricFamily)}

	for {
		var mf dto.MetricFamily
		if err := decoder.Decode(&mf); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("decode error: %w", err)
		}
		s.families[mf.GetName()] = &mf
	}
	return s, nil
}

// Has reports whether the family was present.
func (s *Snapshot) Has(name string) bool {
	_, ok := s.families[name]
	return ok
}

// Value returns the value of the first sample of a gauge, counter or
// untyped family.
func (s *Snapshot) Value(name string) (float64, bool) {
	mf, ok := s.families[name]
	if !ok || len(mf.GetMetric()) == 0 {
		return 0, false
	}
	return metricValue(mf.GetMetric()[0]), true
}

// Sum adds the values of every sample in the family.
func (s *Snapshot) Sum(name string) float64 {
	mf, ok := s.families[name]
	if !ok {
		return 0
	}
	var total float64
	for _, m := range mf.GetMetric() {
		total += metricValue(m)
	}
	return total
}

// ByLabel sums the family's samples grouped by one label.
func (s *Snapshot) ByLabel(name, label string) map[string]float64 {
	out := make(map[string]float64)
	mf, ok := s.families[name]
	if !ok {
		return out
	}
	for _, m := range mf.GetMetric() {
		for _, lp := range m.GetLabel() {
			if lp.GetName() == label {
				out[lp.GetValue()] += metricValue(m)
			}
		}
	}
	return out
}

// ActiveLabel returns the label value of the sample set to 1, as used by
// the state and track gauges.
func (s *Snapshot) ActiveLabel(name, label string) (string, bool) {
	for value, v := range s.ByLabel(name, label) {
		if v == 1 {
			return value, true
		}
	}
	return "", false
}

func metricValue(m *dto.Metric) float64 {
	switch {
	case m.GetGauge() != nil:
		return m.GetGauge().GetValue()
	case m.GetCounter() != nil:
		return m.GetCounter().GetValue()
	case m.GetUntyped() != nil:
		return m.GetUntyped().GetValue()
	case m.GetHistogram() != nil:
		return float64(m.GetHistogram().GetSampleCount())
	}
	return 0
}
