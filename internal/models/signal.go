package models

import "time"

// RawSignal is a single timestamped log line or metric sample from a source.
type RawSignal struct {
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	Line      string    `json:"line"`
}

// ErrorSeverity classifies a parsed log error.
type ErrorSeverity string

const (
	ErrorSeverityCritical ErrorSeverity = "critical"
	ErrorSeverityError    ErrorSeverity = "error"
	ErrorSeverityWarning  ErrorSeverity = "warning"
)

// Error is a log line that matched one of the error patterns.
type Error struct {
	Type      string        `json:"type"`
	Message   string        `json:"message"`
	Source    string        `json:"source"`
	Timestamp time.Time     `json:"timestamp"`
	Severity  ErrorSeverity `json:"severity"`
	Line      int           `json:"line,omitempty"`
	Context   []string      `json:"context,omitempty"`
}

// HealthStatus is the outcome of a probe or of the whole health check.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthWarning  HealthStatus = "warning"
	HealthCritical HealthStatus = "critical"
	HealthUnknown  HealthStatus = "unknown"
)

// ProbeResult is the result of one dependency probe.
type ProbeResult struct {
	Name     string        `json:"name"`
	Status   HealthStatus  `json:"status"`
	Critical bool          `json:"critical"`
	Detail   string        `json:"detail,omitempty"`
	Latency  time.Duration `json:"latency"`
}

// HealthReport aggregates every probe of one collection pass.
type HealthReport struct {
	Status HealthStatus  `json:"status"`
	Checks []ProbeResult `json:"checks"`
}

// MetricsSnapshot holds host utilisation percentages.
type MetricsSnapshot struct {
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	DiskPercent   float64   `json:"disk_percent"`
	SampledAt     time.Time `json:"sampled_at"`
}

// MetricAlert is raised when a snapshot value crosses a threshold.
type MetricAlert struct {
	Type      string       `json:"type"`
	Status    HealthStatus `json:"status"`
	Value     float64      `json:"value"`
	Threshold float64      `json:"threshold"`
}

// LogAnalysis summarises the errors of one collection window.
type LogAnalysis struct {
	TotalErrors     int                   `json:"total_errors"`
	RecentErrors    int                   `json:"recent_errors"`
	MostCommonType  string                `json:"most_common_type,omitempty"`
	MostCommonCount int                   `json:"most_common_count"`
	Distribution    map[string]int        `json:"distribution"`
	BySeverity      map[ErrorSeverity]int `json:"by_severity"`
}

// SignalReport is the point-in-time view produced by the collector.
type SignalReport struct {
	CollectedAt    time.Time       `json:"collected_at"`
	Health         HealthReport    `json:"health"`
	Metrics        MetricsSnapshot `json:"metrics"`
	Alerts         []MetricAlert   `json:"alerts,omitempty"`
	Errors         []Error         `json:"errors"`
	Analysis       LogAnalysis     `json:"analysis"`
	Degraded       []string        `json:"degraded,omitempty"`
	RequiresAction bool            `json:"requires_action"`
	Reasons        []string        `json:"reasons,omitempty"`
}
