// Package fixer turns root causes into concrete fix plans and applies them behind a backup.
package fixer

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/miradorstack/mirador-selfheal/internal/models"
	"github.com/miradorstack/mirador-selfheal/internal/restart"
	"github.com/miradorstack/mirador-selfheal/internal/settings"
)

const (
	manualConfidence = 60
	reasonApproval   = "plan requires manual approval"
	reasonSource     = "source patches require manual approval"
)

// Options locate the managed application's files.
type Options struct {
	AppRoot            string
	ContainerRoot      string
	SettingsFile       string
	MigrationsDir      string
	RequirementsFile   string
	ModelReplacements  map[string]string
	RestartService     string
	RestartDelay       time.Duration
	AllowSourcePatches bool
}

// BackupStore snapshots files before mutation.
type BackupStore interface {
	Snapshot(files []string, metadata map[string]string) (string, error)
}

// RestartScheduler defers service restarts.
type RestartScheduler interface {
	Schedule(service string, delay time.Duration) *restart.Task
}

// Engineer plans and applies fixes. It never panics or returns errors to its caller;
// failures are folded into the returned plan or result.
type Engineer struct {
	opts      Options
	backups   BackupStore
	restarts  RestartScheduler
	inspector ColumnInspector
	builders  map[models.IssueType]Builder
	runners   map[models.ActionKind]ActionRunner
	logger    *slog.Logger
	now       func() time.Time
}

// New constructs an Engineer. restarts and inspector may be nil.
func New(opts Options, backups BackupStore, restarts RestartScheduler, inspector ColumnInspector, logger *slog.Logger) *Engineer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engineer{
		opts:      opts,
		backups:   backups,
		restarts:  restarts,
		inspector: inspector,
		builders:  DefaultBuilders(),
		runners:   DefaultRunners(),
		logger:    logger,
		now:       time.Now,
	}
}

// RegisterBuilder adds or replaces the builder for an issue type.
func (e *Engineer) RegisterBuilder(issueType models.IssueType, b Builder) {
	e.builders[issueType] = b
}

// RegisterRunner adds or replaces the runner for an action kind.
func (e *Engineer) RegisterRunner(kind models.ActionKind, r ActionRunner) {
	e.runners[kind] = r
}

// Plan builds a fix plan for rc. Missing builders, extraction failures, invalid plans
// and panics all yield a manual-review plan.
func (e *Engineer) Plan(ctx context.Context, rc models.RootCause) (plan models.FixPlan) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("fix planning panicked", slog.String("issue_type", string(rc.IssueType)), slog.Any("panic", r))
			plan = manualPlan(rc, fmt.Sprintf("planning panicked: %v", r))
		}
	}()

	builder, ok := e.builders[rc.IssueType]
	if !ok {
		return manualPlan(rc, "no automated fix for "+string(rc.IssueType))
	}

	env := BuildEnv{
		Ctx:       ctx,
		Options:   e.opts,
		Settings:  e.loadSettings(),
		Inspector: e.inspector,
		Now:       e.now(),
	}
	built, err := builder(env, rc)
	if err != nil {
		e.logger.Warn("fix parameters unavailable", slog.String("issue_type", string(rc.IssueType)), slog.Any("error", err))
		return manualPlan(rc, err.Error())
	}

	built.IssueType = rc.IssueType
	if rc.FixType != "" {
		built.FixType = rc.FixType
	}
	if built.HasKind(models.ActionPatchSource) && !e.opts.AllowSourcePatches {
		built.AutoApply = false
		built.Reason = reasonSource
	}
	if err := built.Validate(); err != nil {
		e.logger.Error("built plan invalid", slog.String("issue_type", string(rc.IssueType)), slog.Any("error", err))
		return manualPlan(rc, "invalid plan: "+err.Error())
	}
	return built
}

// Apply executes an auto-apply plan: snapshot every target, run every action in order and
// schedule a deferred restart when a succeeded action needs one. Failed actions mark the
// result failed and succeeded ones are left in place. ActionResults always holds one
// entry per plan action, in plan order.
func (e *Engineer) Apply(ctx context.Context, plan models.FixPlan) (result models.ApplyResult) {
	running := -1
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("fix apply panicked", slog.String("issue_type", string(plan.IssueType)), slog.Any("panic", r))
			result.Status = models.ApplyFailed
			result.Error = fmt.Sprintf("apply panicked: %v", r)
			for i := len(result.ActionResults); i < len(plan.Actions); i++ {
				ar := pendingResult(plan.Actions[i], "apply aborted")
				if i == running {
					ar.Status = models.ActionFailed
					ar.Error = result.Error
				}
				result.ActionResults = append(result.ActionResults, ar)
			}
		}
	}()

	result.AppliedAt = e.now()
	if !plan.AutoApply {
		result.Status = models.ApplySkipped
		result.Error = reasonApproval
		if plan.Reason != "" {
			result.Error = plan.Reason
		}
		return result
	}

	targets := make([]string, 0, len(plan.Actions))
	for _, t := range plan.Targets() {
		targets = append(targets, e.resolve(t))
	}
	backupID, err := e.backups.Snapshot(targets, map[string]string{
		"issue_type": string(plan.IssueType),
		"fix_type":   string(plan.FixType),
	})
	if err != nil {
		result.Status = models.ApplyFailed
		result.Error = fmt.Sprintf("backup: %v", err)
		result.ActionResults = make([]models.ActionResult, 0, len(plan.Actions))
		for _, action := range plan.Actions {
			result.ActionResults = append(result.ActionResults, pendingResult(action, "backup failed"))
		}
		return result
	}
	result.Backups = []string{backupID}

	// Every action runs; a failure does not stop later, independent actions.
	restartNeeded := false
	var failures []string
	result.ActionResults = make([]models.ActionResult, 0, len(plan.Actions))
	for i, action := range plan.Actions {
		running = i
		ar := models.ActionResult{Kind: action.Kind, Target: action.Target, RestartRequired: action.RestartRequired}
		if err := e.run(ctx, action); err != nil {
			ar.Status = models.ActionFailed
			ar.Error = err.Error()
			failures = append(failures, err.Error())
			e.logger.Error("fix action failed",
				slog.String("kind", string(action.Kind)),
				slog.String("target", action.Target),
				slog.Any("error", err),
			)
		} else {
			ar.Status = models.ActionSucceeded
			restartNeeded = restartNeeded || action.RestartRequired
		}
		result.ActionResults = append(result.ActionResults, ar)
	}
	running = -1

	if restartNeeded && e.restarts != nil && e.opts.RestartService != "" {
		task := e.restarts.Schedule(e.opts.RestartService, e.opts.RestartDelay)
		result.Restart = &models.RestartRef{TaskID: task.ID, Service: task.Service, DueAt: task.DueAt()}
	}

	result.Status = models.ApplySuccess
	if len(failures) > 0 {
		result.Status = models.ApplyFailed
		result.Error = strings.Join(failures, "; ")
	}
	result.AppliedAt = e.now()
	return result
}

// pendingResult reports an action that was never run.
func pendingResult(action models.FixAction, reason string) models.ActionResult {
	return models.ActionResult{
		Kind:            action.Kind,
		Target:          action.Target,
		Status:          models.ActionSkipped,
		RestartRequired: action.RestartRequired,
		Error:           reason,
	}
}

func (e *Engineer) run(ctx context.Context, action models.FixAction) error {
	runner, ok := e.runners[action.Kind]
	if !ok {
		return fmt.Errorf("no runner for action kind %q", action.Kind)
	}
	action.Target = e.resolve(action.Target)
	return runner.Run(ctx, action)
}

func (e *Engineer) resolve(target string) string {
	if filepath.IsAbs(target) || e.opts.AppRoot == "" {
		return target
	}
	return filepath.Join(e.opts.AppRoot, target)
}

func (e *Engineer) loadSettings() *settings.Document {
	if e.opts.SettingsFile == "" {
		doc, _ := settings.Parse(nil)
		return doc
	}
	doc, err := settings.Load(e.resolve(e.opts.SettingsFile))
	if err != nil {
		e.logger.Warn("settings unreadable, using defaults", slog.String("path", e.opts.SettingsFile), slog.Any("error", err))
		doc, _ = settings.Parse(nil)
	}
	return doc
}

func manualPlan(rc models.RootCause, reason string) models.FixPlan {
	return models.FixPlan{
		IssueType:   rc.IssueType,
		FixType:     models.FixManualReview,
		Description: "Issue requires manual investigation",
		Confidence:  manualConfidence,
		RiskLevel:   models.RiskUnknown,
		Reason:      reason,
	}
}
