package models

import "time"

// RunStatus is the terminal state of a coordinator run.
type RunStatus string

const (
	RunHealthy    RunStatus = "healthy"
	RunMonitoring RunStatus = "monitoring"
	RunCompleted  RunStatus = "completed"
)

// IssueState is the terminal state of one priority issue within a run.
type IssueState string

const (
	IssueMonitoring     IssueState = "monitoring"
	IssuePendingReview  IssueState = "pending_review"
	IssueAppliedSuccess IssueState = "applied_success"
	IssueAppliedFailed  IssueState = "applied_failed"
)

// IssueOutcome records what happened to one priority issue.
type IssueOutcome struct {
	IssueType          IssueType         `json:"issue_type"`
	State              IssueState        `json:"state"`
	OriginalConfidence int               `json:"original_confidence"`
	AdjustedConfidence int               `json:"adjusted_confidence"`
	RootCause          *RootCause        `json:"root_cause,omitempty"`
	Plan               *FixPlan          `json:"plan,omitempty"`
	Apply              *ApplyResult      `json:"apply,omitempty"`
	Validation         *ValidationResult `json:"validation,omitempty"`
	RolledBack         bool              `json:"rolled_back"`
	Error              string            `json:"error,omitempty"`
}

// RunSummary is returned by every coordinator run.
type RunSummary struct {
	RunID             string         `json:"run_id"`
	Status            RunStatus      `json:"status"`
	StartedAt         time.Time      `json:"started_at"`
	Duration          time.Duration  `json:"duration"`
	HealthStatus      HealthStatus   `json:"health_status"`
	TotalErrors       int            `json:"total_errors"`
	IssuesFound       int            `json:"issues_found"`
	Applied           int            `json:"applied"`
	Failed            int            `json:"failed"`
	PendingReview     int            `json:"pending_review"`
	Monitoring        int            `json:"monitoring"`
	OverallConfidence int            `json:"overall_confidence"`
	Reasons           []string       `json:"reasons,omitempty"`
	Outcomes          []IssueOutcome `json:"outcomes,omitempty"`
}

// Tally recomputes the per-state counters from Outcomes.
func (s *RunSummary) Tally() {
	s.Applied, s.Failed, s.PendingReview, s.Monitoring = 0, 0, 0, 0
	for _, outcome := range s.Outcomes {
		switch outcome.State {
		case IssueAppliedSuccess:
			s.Applied++
		case IssueAppliedFailed:
			s.Failed++
		case IssuePendingReview:
			s.PendingReview++
		default:
			s.Monitoring++
		}
	}
}

// StatusReport is the operator-facing snapshot of the engine.
type StatusReport struct {
	Learning        LearningStats `json:"learning"`
	RecentBackups   []BackupRef   `json:"recent_backups"`
	LastRun         *RunSummary   `json:"last_run,omitempty"`
	PendingRestarts []RestartRef  `json:"pending_restarts"`
}
