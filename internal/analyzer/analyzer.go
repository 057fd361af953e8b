// Package analyzer turns prioritised issues into root-cause diagnoses.
package analyzer

import (
	"fmt"
	"log/slog"

	"github.com/miradorstack/mirador-selfheal/internal/models"
)

// SettingsReader exposes numeric application settings.
type SettingsReader interface {
	Float(key string) (float64, bool)
}

// RequestDelayKey is the settings key holding the delay between AI requests.
const RequestDelayKey = "ai.request_delay_seconds"

// sequentialDelay is the request delay at or above which calls are considered paced.
const sequentialDelay = 1.0

const evidenceSamples = 2

// Diagnosis is a static registry entry.
type Diagnosis struct {
	RootCause         string
	Evidence          []string
	Confidence        int
	FixCategory       string
	AffectedComponent string
	Priority          models.Severity
	EstimatedMinutes  int
}

// DiagnoseFunc builds a root cause for one issue.
type DiagnoseFunc func(issue models.PriorityIssue) models.RootCause

// Analyzer diagnoses issues through a registry keyed by issue type.
type Analyzer struct {
	registry map[models.IssueType]DiagnoseFunc
	settings SettingsReader
	logger   *slog.Logger
}

// New constructs an Analyzer. settings may be nil, in which case the request delay is
// treated as unknown.
func New(settings SettingsReader, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Analyzer{
		registry: make(map[models.IssueType]DiagnoseFunc, len(staticDiagnoses)+1),
		settings: settings,
		logger:   logger,
	}
	for issueType, d := range staticDiagnoses {
		a.registry[issueType] = fromStatic(d)
	}
	a.registry[models.IssueRateLimiting] = a.diagnoseRateLimiting
	return a
}

// Register adds or replaces a registry entry.
func (a *Analyzer) Register(issueType models.IssueType, fn DiagnoseFunc) {
	a.registry[issueType] = fn
}

// Diagnose returns the root cause of one issue. Unknown types get a generic low
// confidence diagnosis.
func (a *Analyzer) Diagnose(issue models.PriorityIssue) models.RootCause {
	fn, ok := a.registry[issue.Type]
	if !ok {
		fn = fromStatic(genericDiagnosis)
	}
	rc := fn(issue)
	rc.IssueType = issue.Type
	rc.FixType = issue.FixTypeHint
	rc.Count = issue.Count
	rc.Samples = issue.Samples
	rc.Locations = issue.Locations

	a.logger.Debug("issue diagnosed",
		slog.String("issue_type", string(issue.Type)),
		slog.String("root_cause", rc.RootCause),
		slog.Int("confidence", rc.Confidence),
	)
	return rc
}

// OverallConfidence is the truncated arithmetic mean of the diagnoses' confidences.
func OverallConfidence(causes []models.RootCause) int {
	if len(causes) == 0 {
		return 0
	}
	total := 0
	for _, rc := range causes {
		total += rc.Confidence
	}
	return total / len(causes)
}

func (a *Analyzer) diagnoseRateLimiting(issue models.PriorityIssue) models.RootCause {
	delay, known := 0.0, false
	if a.settings != nil {
		delay, known = a.settings.Float(RequestDelayKey)
	}
	if known && delay >= sequentialDelay {
		return build(Diagnosis{
			RootCause: "Request pacing too aggressive for the provider quota",
			Evidence: []string{
				fmt.Sprintf("Requests already delayed by %.1fs but still hitting limits", delay),
				"Batch size may be too large",
			},
			Confidence:        85,
			FixCategory:       "configuration_tuning",
			AffectedComponent: "AI request scheduler",
			Priority:          models.SeverityMedium,
			EstimatedMinutes:  5,
		}, issue)
	}
	return build(Diagnosis{
		RootCause: "Concurrent API calls overwhelming provider rate limits",
		Evidence: []string{
			"High volume of 429 responses",
			"Requests are not paced sequentially",
		},
		Confidence:        95,
		FixCategory:       "configuration",
		AffectedComponent: "AI request scheduler",
		Priority:          models.SeverityHigh,
		EstimatedMinutes:  10,
	}, issue)
}

func fromStatic(d Diagnosis) DiagnoseFunc {
	return func(issue models.PriorityIssue) models.RootCause {
		return build(d, issue)
	}
}

func build(d Diagnosis, issue models.PriorityIssue) models.RootCause {
	evidence := make([]string, 0, len(d.Evidence)+1+evidenceSamples)
	evidence = append(evidence, fmt.Sprintf("%d occurrences of %s", issue.Count, issue.Type))
	evidence = append(evidence, d.Evidence...)
	for i, sample := range issue.Samples {
		if i == evidenceSamples {
			break
		}
		evidence = append(evidence, "Sample: "+truncate(sample, 200))
	}
	return models.RootCause{
		RootCause:           d.RootCause,
		Evidence:            evidence,
		Confidence:          d.Confidence,
		FixCategory:         d.FixCategory,
		AffectedComponent:   d.AffectedComponent,
		Priority:            d.Priority,
		EstimatedFixMinutes: d.EstimatedMinutes,
	}
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
