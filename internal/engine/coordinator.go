package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-selfheal/internal/analyzer"
	"github.com/miradorstack/mirador-selfheal/internal/metrics"
	"github.com/miradorstack/mirador-selfheal/internal/models"
)

// SignalSource produces a point-in-time signal report.
type SignalSource interface {
	Collect(ctx context.Context) models.SignalReport
}

// Classifier groups errors into prioritised issues.
type Classifier interface {
	Classify(errs []models.Error) models.ClassificationResult
}

// Diagnoser explains one prioritised issue.
type Diagnoser interface {
	Diagnose(issue models.PriorityIssue) models.RootCause
}

// FixEngineer plans and applies fixes.
type FixEngineer interface {
	Plan(ctx context.Context, rc models.RootCause) models.FixPlan
	Apply(ctx context.Context, plan models.FixPlan) models.ApplyResult
}

// Learner recalibrates confidence and records outcomes.
type Learner interface {
	AdjustConfidence(original int, issueType models.IssueType, fixType models.FixType) int
	Record(rec models.LearningRecord) error
}

// Rollbacker restores a backup.
type Rollbacker interface {
	Rollback(id string) (bool, error)
}

// Journal persists run summaries.
type Journal interface {
	Append(summary models.RunSummary) error
}

// Options tune the coordinator's decisions.
type Options struct {
	AutoApplyThreshold int
	ValidationCooldown time.Duration
	ValidationFailAt   int
}

// Coordinator drives one collect, classify, diagnose, fix and validate cycle per run.
// Callers must not run it concurrently; see the trigger package.
type Coordinator struct {
	opts      Options
	source    SignalSource
	classify  Classifier
	diagnoser Diagnoser
	engineer  FixEngineer
	learner   Learner
	backups   Rollbacker
	journal   Journal
	logger    *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	newID func() string

	mu      sync.RWMutex
	lastRun *models.RunSummary
}

// NewCoordinator wires the pipeline. journal may be nil.
func NewCoordinator(
	logger *slog.Logger,
	opts Options,
	source SignalSource,
	classify Classifier,
	diagnoser Diagnoser,
	engineer FixEngineer,
	learner Learner,
	backups Rollbacker,
	journal Journal,
) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ValidationFailAt <= 0 {
		opts.ValidationFailAt = 5
	}
	return &Coordinator{
		opts:      opts,
		source:    source,
		classify:  classify,
		diagnoser: diagnoser,
		engineer:  engineer,
		learner:   learner,
		backups:   backups,
		journal:   journal,
		logger:    logger,
		now:       time.Now,
		sleep:     sleepContext,
		newID:     uuid.NewString,
	}
}

// LastRun returns the most recent summary, if any.
func (c *Coordinator) LastRun() (models.RunSummary, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.lastRun == nil {
		return models.RunSummary{}, false
	}
	return *c.lastRun, true
}

// Resume seeds LastRun with a summary journaled by an earlier process. It does nothing
// once this process has completed a run.
func (c *Coordinator) Resume(summary models.RunSummary) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastRun == nil {
		c.lastRun = &summary
	}
}

// Run executes one pass of the pipeline. Per-issue failures are isolated and reported in
// the summary's outcomes.
func (c *Coordinator) Run(ctx context.Context) models.RunSummary {
	summary := models.RunSummary{RunID: c.newID(), StartedAt: c.now()}
	logger := c.logger.With(slog.String("run_id", summary.RunID))
	defer c.finish(logger, &summary)

	report := c.source.Collect(ctx)
	summary.HealthStatus = report.Health.Status
	summary.TotalErrors = report.Analysis.TotalErrors
	summary.Reasons = report.Reasons
	if !report.RequiresAction {
		summary.Status = models.RunHealthy
		return summary
	}

	result := c.classify.Classify(report.Errors)
	summary.IssuesFound = len(result.PriorityIssues)
	if !result.RequiresImmediateFix() {
		summary.Status = models.RunMonitoring
		return summary
	}

	causes := make([]models.RootCause, 0, len(result.PriorityIssues))
	for _, issue := range result.PriorityIssues {
		causes = append(causes, c.diagnose(logger, issue))
	}
	summary.OverallConfidence = analyzer.OverallConfidence(causes)

	for _, rc := range causes {
		outcome := c.processIssue(ctx, logger, rc)
		metrics.ObserveIssue(string(outcome.IssueType), string(outcome.State))
		summary.Outcomes = append(summary.Outcomes, outcome)
	}
	summary.Status = models.RunCompleted
	summary.Tally()
	return summary
}

func (c *Coordinator) finish(logger *slog.Logger, summary *models.RunSummary) {
	summary.Duration = c.now().Sub(summary.StartedAt)
	metrics.ObserveRun(summary.Duration, string(summary.Status))

	logger.Info("run complete",
		slog.String("status", string(summary.Status)),
		slog.Int("issues", summary.IssuesFound),
		slog.Int("applied", summary.Applied),
		slog.Int("failed", summary.Failed),
		slog.Int("pending_review", summary.PendingReview),
		slog.Int("monitoring", summary.Monitoring),
		slog.Duration("duration", summary.Duration),
	)

	if c.journal != nil {
		if err := c.journal.Append(*summary); err != nil {
			logger.Error("report journal append failed", slog.Any("error", err))
		}
	}

	c.mu.Lock()
	last := *summary
	c.lastRun = &last
	c.mu.Unlock()
}

func (c *Coordinator) diagnose(logger *slog.Logger, issue models.PriorityIssue) (rc models.RootCause) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("diagnosis panicked", slog.String("issue_type", string(issue.Type)), slog.Any("panic", r))
			rc = models.RootCause{
				IssueType:         issue.Type,
				RootCause:         "Issue requires further investigation",
				Confidence:        60,
				FixCategory:       "investigation_needed",
				FixType:           issue.FixTypeHint,
				AffectedComponent: "Unknown",
				Priority:          models.SeverityLow,
				Count:             issue.Count,
			}
		}
	}()
	return c.diagnoser.Diagnose(issue)
}

func (c *Coordinator) processIssue(ctx context.Context, logger *slog.Logger, rc models.RootCause) (outcome models.IssueOutcome) {
	cause := rc
	outcome = models.IssueOutcome{
		IssueType:          rc.IssueType,
		OriginalConfidence: rc.Confidence,
		AdjustedConfidence: rc.Confidence,
		RootCause:          &cause,
	}
	logger = logger.With(slog.String("issue_type", string(rc.IssueType)))

	defer func() {
		if r := recover(); r != nil {
			logger.Error("issue processing panicked", slog.Any("panic", r))
			outcome.State = models.IssueAppliedFailed
			outcome.Error = fmt.Sprintf("panic: %v", r)
		}
		logger.Info("fix log",
			slog.String("state", string(outcome.State)),
			slog.String("root_cause", rc.RootCause),
			slog.Int("original_confidence", outcome.OriginalConfidence),
			slog.Int("adjusted_confidence", outcome.AdjustedConfidence),
			slog.Bool("rolled_back", outcome.RolledBack),
		)
	}()

	adjusted := c.learner.AdjustConfidence(rc.Confidence, rc.IssueType, rc.FixType)
	outcome.AdjustedConfidence = adjusted
	if adjusted < c.opts.AutoApplyThreshold {
		outcome.State = models.IssueMonitoring
		return outcome
	}

	plan := c.engineer.Plan(ctx, rc)
	outcome.Plan = &plan
	if !plan.AutoApply {
		outcome.State = models.IssuePendingReview
		outcome.Error = plan.Reason
		return outcome
	}

	apply := c.engineer.Apply(ctx, plan)
	outcome.Apply = &apply
	metrics.ObserveApply(string(plan.FixType), string(apply.Status))
	if apply.Status != models.ApplySuccess {
		outcome.State = models.IssueAppliedFailed
		outcome.Error = apply.Error
		c.record(logger, rc, plan, adjusted, false, nil)
		return outcome
	}

	validation, err := c.validate(ctx, apply.AppliedAt)
	if err != nil {
		outcome.State = models.IssueAppliedSuccess
		outcome.Error = fmt.Sprintf("validation interrupted: %v", err)
		return outcome
	}
	outcome.Validation = &validation
	metrics.ObserveValidation(string(validation.Status))

	if validation.Succeeded() {
		outcome.State = models.IssueAppliedSuccess
	} else {
		outcome.State = models.IssueAppliedFailed
		outcome.RolledBack, outcome.Error = c.rollback(logger, apply.Backups)
	}
	c.record(logger, rc, plan, adjusted, validation.Succeeded(), &validation)
	return outcome
}

// validate waits for the cooldown and counts errors observed since the fix was applied.
// Errors without a timestamp are counted.
func (c *Coordinator) validate(ctx context.Context, appliedAt time.Time) (models.ValidationResult, error) {
	started := c.now()
	if err := c.sleep(ctx, c.opts.ValidationCooldown); err != nil {
		return models.ValidationResult{}, err
	}

	report := c.source.Collect(ctx)
	count := 0
	for _, e := range report.Errors {
		if e.Timestamp.IsZero() || !e.Timestamp.Before(appliedAt) {
			count++
		}
	}

	status := models.ValidationSuccess
	switch {
	case count >= c.opts.ValidationFailAt:
		status = models.ValidationFailed
	case count > 0:
		status = models.ValidationWarning
	}
	return models.ValidationResult{
		Status:          status,
		ErrorCountAfter: count,
		Duration:        c.now().Sub(started),
	}, nil
}

func (c *Coordinator) rollback(logger *slog.Logger, backupIDs []string) (bool, string) {
	if len(backupIDs) == 0 {
		logger.Error("rollback failed, manual intervention required", slog.String("reason", "no backups recorded"))
		return false, "rollback failed, manual intervention required: no backups recorded"
	}
	all := true
	var msg string
	for i := len(backupIDs) - 1; i >= 0; i-- {
		id := backupIDs[i]
		ok, err := c.backups.Rollback(id)
		metrics.ObserveRollback(ok && err == nil)
		if ok && err == nil {
			logger.Info("rolled back", slog.String("backup_id", id))
			continue
		}
		all = false
		msg = fmt.Sprintf("rollback failed, manual intervention required: backup %s", id)
		if err != nil {
			msg = fmt.Sprintf("%s: %v", msg, err)
		}
		logger.Error("rollback failed, manual intervention required", slog.String("backup_id", id), slog.Any("error", err))
	}
	return all, msg
}

func (c *Coordinator) record(logger *slog.Logger, rc models.RootCause, plan models.FixPlan, adjusted int, success bool, v *models.ValidationResult) {
	if plan.FixType == models.FixManualReview {
		return
	}
	rec := models.LearningRecord{
		Timestamp:          c.now().UTC(),
		IssueType:          rc.IssueType,
		FixType:            plan.FixType,
		OriginalConfidence: rc.Confidence,
		AdjustedConfidence: adjusted,
		Success:            success,
	}
	if v != nil {
		rec.ValidationStatus = v.Status
		rec.ErrorCountAfter = v.ErrorCountAfter
	}
	if err := c.learner.Record(rec); err != nil {
		logger.Error("learning record failed", slog.Any("error", err))
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
