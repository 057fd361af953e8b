// Package collector aggregates health probes, host metrics and parsed log errors into a
// point-in-time SignalReport. Collection never fails: broken probes and sources degrade
// the report instead.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/miradorstack/mirador-selfheal/internal/models"
)

// Thresholds decide when a report requires action.
type Thresholds struct {
	MaxErrors       int
	MaxRecentErrors int
	RecentWindow    time.Duration
	CPUWarning      float64
	CPUCritical     float64
	MemoryWarning   float64
	MemoryCritical  float64
	DiskWarning     float64
	DiskCritical    float64
}

// DefaultThresholds returns the stock limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxErrors:       50,
		MaxRecentErrors: 20,
		RecentWindow:    time.Minute,
		CPUWarning:      70,
		CPUCritical:     90,
		MemoryWarning:   70,
		MemoryCritical:  90,
		DiskWarning:     80,
		DiskCritical:    90,
	}
}

// Options wires a Collector.
type Options struct {
	LogSources []LogSource
	Metrics    MetricSource
	Probes     []HealthProbe
	Parser     *LogParser
	Thresholds Thresholds
	Lookback   time.Duration
	Timeout    time.Duration
}

// Collector produces SignalReports.
type Collector struct {
	logger     *slog.Logger
	logs       []LogSource
	metrics    MetricSource
	probes     []HealthProbe
	parser     *LogParser
	thresholds Thresholds
	lookback   time.Duration
	timeout    time.Duration
	now        func() time.Time
}

// New constructs a Collector, filling unset options with defaults.
func New(logger *slog.Logger, opts Options) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Parser == nil {
		opts.Parser = NewLogParser()
	}
	if opts.Thresholds == (Thresholds{}) {
		opts.Thresholds = DefaultThresholds()
	}
	if opts.Lookback <= 0 {
		opts.Lookback = 5 * time.Minute
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Collector{
		logger:     logger,
		logs:       opts.LogSources,
		metrics:    opts.Metrics,
		probes:     opts.Probes,
		parser:     opts.Parser,
		thresholds: opts.Thresholds,
		lookback:   opts.Lookback,
		timeout:    opts.Timeout,
		now:        time.Now,
	}
}

// Collect gathers health, metrics and errors for the lookback window.
func (c *Collector) Collect(ctx context.Context) models.SignalReport {
	now := c.now()
	report := models.SignalReport{CollectedAt: now}

	report.Health = c.checkHealth(ctx)

	if c.metrics != nil {
		snapshot, err := callWithTimeout(ctx, c.timeout, c.metrics.Sample)
		if err != nil {
			c.logger.Warn("metric sampling failed", slog.Any("error", err))
			report.Degraded = append(report.Degraded, fmt.Sprintf("metrics: %v", err))
		} else {
			report.Metrics = snapshot
			report.Alerts = c.evaluateMetrics(snapshot)
		}
	}

	since := now.Add(-c.lookback)
	var signals []models.RawSignal
	for _, source := range c.logs {
		source := source
		lines, err := callWithTimeout(ctx, c.timeout, func(ctx context.Context) ([]models.RawSignal, error) {
			return source.FetchLines(ctx, since)
		})
		if err != nil {
			c.logger.Warn("log source unavailable", slog.String("source", source.Name()), slog.Any("error", err))
			report.Degraded = append(report.Degraded, fmt.Sprintf("logs %s: %v", source.Name(), err))
			continue
		}
		signals = append(signals, lines...)
	}

	for _, e := range c.parser.Parse(signals) {
		if !e.Timestamp.IsZero() && e.Timestamp.Before(since) {
			continue
		}
		report.Errors = append(report.Errors, e)
	}
	report.Analysis = analyse(report.Errors, now.Add(-c.thresholds.RecentWindow))

	report.Reasons = c.reasons(report)
	report.RequiresAction = len(report.Reasons) > 0

	c.logger.Info("signals collected",
		slog.String("health", string(report.Health.Status)),
		slog.Int("errors", report.Analysis.TotalErrors),
		slog.Int("recent_errors", report.Analysis.RecentErrors),
		slog.Int("alerts", len(report.Alerts)),
		slog.Bool("requires_action", report.RequiresAction),
	)
	return report
}

func (c *Collector) checkHealth(ctx context.Context) models.HealthReport {
	report := models.HealthReport{Status: models.HealthHealthy}
	for _, probe := range c.probes {
		probe := probe
		result, err := callWithTimeout(ctx, c.timeout, func(ctx context.Context) (models.ProbeResult, error) {
			return probe.Check(ctx), nil
		})
		if err != nil {
			result = models.ProbeResult{Name: probe.Name(), Critical: probe.Critical(), Detail: err.Error()}
			result.Status = models.HealthUnknown
			if probe.Critical() {
				result.Status = models.HealthCritical
			}
		}
		if result.Name == "" {
			result.Name = probe.Name()
		}
		report.Checks = append(report.Checks, result)

		switch {
		case result.Status == models.HealthCritical:
			report.Status = models.HealthCritical
		case result.Status != models.HealthHealthy && report.Status == models.HealthHealthy:
			report.Status = models.HealthWarning
		}
	}
	return report
}

func (c *Collector) evaluateMetrics(s models.MetricsSnapshot) []models.MetricAlert {
	var alerts []models.MetricAlert
	check := func(alertType string, value, warning, critical float64) {
		switch {
		case critical > 0 && value > critical:
			alerts = append(alerts, models.MetricAlert{Type: alertType, Status: models.HealthCritical, Value: value, Threshold: critical})
		case warning > 0 && value > warning:
			alerts = append(alerts, models.MetricAlert{Type: alertType, Status: models.HealthWarning, Value: value, Threshold: warning})
		}
	}
	t := c.thresholds
	check("high_cpu", s.CPUPercent, t.CPUWarning, t.CPUCritical)
	check("high_memory", s.MemoryPercent, t.MemoryWarning, t.MemoryCritical)
	check("disk_space", s.DiskPercent, t.DiskWarning, t.DiskCritical)
	return alerts
}

func (c *Collector) reasons(r models.SignalReport) []string {
	var reasons []string
	var failed []string
	for _, check := range r.Health.Checks {
		if check.Critical && check.Status != models.HealthHealthy {
			failed = append(failed, check.Name)
		}
	}
	if len(failed) > 0 {
		sort.Strings(failed)
		reasons = append(reasons, "critical health check failed: "+strings.Join(failed, ", "))
	}
	if r.Analysis.TotalErrors > c.thresholds.MaxErrors {
		reasons = append(reasons, fmt.Sprintf("%d errors in window exceed %d", r.Analysis.TotalErrors, c.thresholds.MaxErrors))
	}
	if r.Analysis.RecentErrors > c.thresholds.MaxRecentErrors {
		reasons = append(reasons, fmt.Sprintf("%d recent errors exceed %d", r.Analysis.RecentErrors, c.thresholds.MaxRecentErrors))
	}
	for _, alert := range r.Alerts {
		reasons = append(reasons, fmt.Sprintf("%s %s at %.1f%%", alert.Type, alert.Status, alert.Value))
	}
	if n := r.Analysis.BySeverity[models.ErrorSeverityCritical]; n > 0 {
		reasons = append(reasons, fmt.Sprintf("%d critical errors", n))
	}
	return reasons
}

var errPanicked = errors.New("collaborator panicked")

// callWithTimeout bounds fn by timeout even when fn ignores its context.
func callWithTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("%w: %v", errPanicked, r)}
			}
		}()
		v, err := fn(ctx)
		done <- outcome{value: v, err: err}
	}()

	select {
	case o := <-done:
		return o.value, o.err
	case <-ctx.Done():
		var zero T
		return zero, fmt.Errorf("timed out after %s: %w", timeout, ctx.Err())
	}
}
