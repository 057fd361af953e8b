package collector

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/miradorstack/mirador-selfheal/internal/models"
)

// HealthProbe checks one dependency.
type HealthProbe interface {
	Name() string
	Critical() bool
	Check(ctx context.Context) models.ProbeResult
}

// ProbeFunc adapts a function to HealthProbe.
type ProbeFunc struct {
	ProbeName  string
	IsCritical bool
	Fn         func(ctx context.Context) error
}

// Name implements HealthProbe.
func (p ProbeFunc) Name() string { return p.ProbeName }

// Critical implements HealthProbe.
func (p ProbeFunc) Critical() bool { return p.IsCritical }

// Check implements HealthProbe.
func (p ProbeFunc) Check(ctx context.Context) models.ProbeResult {
	return timed(p.ProbeName, p.IsCritical, func() error { return p.Fn(ctx) })
}

// HTTPProbe treats any response below 500 as healthy.
type HTTPProbe struct {
	name     string
	url      string
	critical bool
	client   *http.Client
}

// NewHTTPProbe builds an HTTP probe; the request timeout comes from the caller's context.
func NewHTTPProbe(name, url string, critical bool) *HTTPProbe {
	return &HTTPProbe{name: name, url: url, critical: critical, client: &http.Client{}}
}

// Name implements HealthProbe.
func (p *HTTPProbe) Name() string { return p.name }

// Critical implements HealthProbe.
func (p *HTTPProbe) Critical() bool { return p.critical }

// Check implements HealthProbe.
func (p *HTTPProbe) Check(ctx context.Context) models.ProbeResult {
	return timed(p.name, p.critical, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
		if err != nil {
			return err
		}
		resp, err := p.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("status %d", resp.StatusCode)
		}
		return nil
	})
}

// PostgresProbe connects, pings and runs a trivial query.
type PostgresProbe struct {
	dsn      string
	critical bool
}

// NewPostgresProbe builds a database probe for dsn.
func NewPostgresProbe(dsn string, critical bool) *PostgresProbe {
	return &PostgresProbe{dsn: dsn, critical: critical}
}

// Name implements HealthProbe.
func (p *PostgresProbe) Name() string { return "database" }

// Critical implements HealthProbe.
func (p *PostgresProbe) Critical() bool { return p.critical }

// Check implements HealthProbe.
func (p *PostgresProbe) Check(ctx context.Context) models.ProbeResult {
	return timed(p.Name(), p.critical, func() error {
		conn, err := pgx.Connect(ctx, p.dsn)
		if err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		defer conn.Close(context.Background())
		if err := conn.Ping(ctx); err != nil {
			return fmt.Errorf("ping: %w", err)
		}
		var one int
		if err := conn.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
			return fmt.Errorf("select: %w", err)
		}
		return nil
	})
}

// Pinger is satisfied by cache providers that can answer a PING.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CacheProbe checks cache reachability through a Pinger.
type CacheProbe struct {
	pinger   Pinger
	critical bool
}

// NewCacheProbe wraps pinger.
func NewCacheProbe(pinger Pinger, critical bool) *CacheProbe {
	return &CacheProbe{pinger: pinger, critical: critical}
}

// Name implements HealthProbe.
func (p *CacheProbe) Name() string { return "cache" }

// Critical implements HealthProbe.
func (p *CacheProbe) Critical() bool { return p.critical }

// Check implements HealthProbe.
func (p *CacheProbe) Check(ctx context.Context) models.ProbeResult {
	return timed(p.Name(), p.critical, func() error { return p.pinger.Ping(ctx) })
}

func timed(name string, critical bool, fn func() error) models.ProbeResult {
	start := time.Now()
	err := fn()
	result := models.ProbeResult{Name: name, Critical: critical, Status: models.HealthHealthy, Latency: time.Since(start)}
	if err != nil {
		result.Status = failedStatus(critical)
		result.Detail = err.Error()
	}
	return result
}

func failedStatus(critical bool) models.HealthStatus {
	if critical {
		return models.HealthCritical
	}
	return models.HealthWarning
}
