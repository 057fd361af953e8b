package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/miradorstack/mirador-selfheal/internal/models"
)

// CoreClient reads log lines and host metrics from a remote aggregation API.
type CoreClient struct {
	baseURL     string
	logsPath    string
	metricsPath string
	httpClient  *http.Client
}

// NewCoreClient constructs a client targeting baseURL.
func NewCoreClient(baseURL, logsPath, metricsPath string, timeout time.Duration) *CoreClient {
	return &CoreClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		logsPath:    logsPath,
		metricsPath: metricsPath,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// FetchLogLines returns the lines a service logged since the given instant.
func (c *CoreClient) FetchLogLines(ctx context.Context, service string, since time.Time) ([]models.RawSignal, error) {
	if c == nil {
		return nil, fmt.Errorf("core client not initialised")
	}
	if c.baseURL == "" {
		return nil, fmt.Errorf("core base URL not configured")
	}

	payload := map[string]interface{}{
		"service": service,
		"since":   since.UTC().Format(time.RFC3339),
	}

	var response struct {
		Lines []struct {
			Timestamp time.Time `json:"timestamp"`
			Line      string    `json:"line"`
		} `json:"lines"`
	}

	if err := c.postJSON(ctx, c.resolvePath(c.logsPath), payload, &response); err != nil {
		return nil, fmt.Errorf("core logs request failed: %w", err)
	}

	signals := make([]models.RawSignal, 0, len(response.Lines))
	for _, l := range response.Lines {
		if strings.TrimSpace(l.Line) == "" {
			continue
		}
		signals = append(signals, models.RawSignal{Source: service, Timestamp: l.Timestamp, Line: l.Line})
	}
	return signals, nil
}

// Sample fetches the host utilisation snapshot.
func (c *CoreClient) Sample(ctx context.Context) (models.MetricsSnapshot, error) {
	if c == nil {
		return models.MetricsSnapshot{}, fmt.Errorf("core client not initialised")
	}
	if c.baseURL == "" {
		return models.MetricsSnapshot{}, fmt.Errorf("core base URL not configured")
	}

	var response struct {
		CPUPercent    float64   `json:"cpu_percent"`
		MemoryPercent float64   `json:"memory_percent"`
		DiskPercent   float64   `json:"disk_percent"`
		SampledAt     time.Time `json:"sampled_at"`
	}
	if err := c.postJSON(ctx, c.resolvePath(c.metricsPath), map[string]interface{}{}, &response); err != nil {
		return models.MetricsSnapshot{}, fmt.Errorf("core metrics request failed: %w", err)
	}
	for _, v := range []float64{response.CPUPercent, response.MemoryPercent, response.DiskPercent} {
		if v < 0 || v > 100 {
			return models.MetricsSnapshot{}, fmt.Errorf("core metrics returned out-of-range percentage %.2f", v)
		}
	}
	return models.MetricsSnapshot{
		CPUPercent:    response.CPUPercent,
		MemoryPercent: response.MemoryPercent,
		DiskPercent:   response.DiskPercent,
		SampledAt:     response.SampledAt,
	}, nil
}

// LogSource adapts the client to a single service's log stream.
func (c *CoreClient) LogSource(service string) *CoreLogSource {
	return &CoreLogSource{client: c, service: service}
}

// CoreLogSource is one service's logs read through a CoreClient.
type CoreLogSource struct {
	client  *CoreClient
	service string
}

// Name identifies the source in degraded-source reports.
func (s *CoreLogSource) Name() string { return "core:" + s.service }

// FetchLines returns the service's lines since the given instant.
func (s *CoreLogSource) FetchLines(ctx context.Context, since time.Time) ([]models.RawSignal, error) {
	return s.client.FetchLogLines(ctx, s.service, since)
}

func (c *CoreClient) resolvePath(p string) string {
	if c.baseURL == "" {
		return ""
	}
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

func (c *CoreClient) postJSON(ctx context.Context, endpoint string, payload any, out any) error {
	if endpoint == "" {
		return fmt.Errorf("empty endpoint")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("core returned %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
