package models

import (
	"errors"
	"fmt"
	"time"
)

// FixType names a remediation family. A builder produces plans of exactly one fix type.
type FixType string

const (
	FixIncreaseColumnLength FixType = "increase_column_length"
	FixAddDefaultValues     FixType = "add_default_values"
	FixModelUpgrade         FixType = "model_upgrade"
	FixThrottleRequests     FixType = "throttle_requests"
	FixConnectionTuning     FixType = "connection_tuning"
	FixRetryLogic           FixType = "retry_logic"
	FixAddDuplicateCheck    FixType = "add_duplicate_check"
	FixAddAttributeCheck    FixType = "add_attribute_check"
	FixAddDictGet           FixType = "add_dict_get"
	FixInstallDependency    FixType = "install_dependency"
	FixUpdateCORSConfig     FixType = "update_cors_config"
	FixImproveValidation    FixType = "improve_validation"
	FixCreateMissingFiles   FixType = "create_missing_files"
	FixOptimizeQuery        FixType = "optimize_query"
	FixAddFieldDefaults     FixType = "add_field_defaults"
	FixCleanCorruptData     FixType = "clean_corrupt_data"
	FixCodeFix              FixType = "code_fix"
	FixManualReview         FixType = "manual_review_required"
)

// RiskLevel is the declared risk of applying a plan.
type RiskLevel string

const (
	RiskLow     RiskLevel = "low"
	RiskMedium  RiskLevel = "medium"
	RiskHigh    RiskLevel = "high"
	RiskUnknown RiskLevel = "unknown"
)

// ActionKind selects the runner that executes a FixAction.
type ActionKind string

const (
	// ActionSetConfig sets a dotted key in a YAML settings file.
	ActionSetConfig ActionKind = "set_config"
	// ActionWriteMigration writes a new SQL migration file.
	ActionWriteMigration ActionKind = "write_migration"
	// ActionAppendRequirement appends a line to a dependency manifest.
	ActionAppendRequirement ActionKind = "append_requirement"
	// ActionPatchSource rewrites source text matched by a regular expression.
	ActionPatchSource ActionKind = "patch_source"
)

// FixAction is one atomic mutation. Target is a file path; Key, Matcher and
// the values are interpreted by the runner registered for Kind.
type FixAction struct {
	Kind            ActionKind `json:"kind"`
	Target          string     `json:"target"`
	Key             string     `json:"key,omitempty"`
	Matcher         string     `json:"matcher,omitempty"`
	OldValue        string     `json:"old_value,omitempty"`
	NewValue        string     `json:"new_value"`
	RestartRequired bool       `json:"restart_required"`
	Description     string     `json:"description,omitempty"`
}

// FixPlan is a concrete remediation for one root cause.
type FixPlan struct {
	IssueType                IssueType   `json:"issue_type"`
	FixType                  FixType     `json:"fix_type"`
	Description              string      `json:"description"`
	Confidence               int         `json:"confidence"`
	Actions                  []FixAction `json:"actions"`
	RiskLevel                RiskLevel   `json:"risk_level"`
	RollbackAvailable        bool        `json:"rollback_available"`
	AutoApply                bool        `json:"auto_apply"`
	EstimatedDowntimeSeconds int         `json:"estimated_downtime_seconds"`
	Reason                   string      `json:"reason,omitempty"`
}

// ErrAutoApplyWithoutRollback flags a plan that would mutate state irreversibly.
var ErrAutoApplyWithoutRollback = errors.New("auto-apply plan must support rollback")

// Validate checks that a plan is well formed.
func (p FixPlan) Validate() error {
	if p.AutoApply && !p.RollbackAvailable {
		return ErrAutoApplyWithoutRollback
	}
	if p.Confidence < 0 || p.Confidence > 100 {
		return fmt.Errorf("confidence %d out of range", p.Confidence)
	}
	if p.AutoApply && len(p.Actions) == 0 {
		return errors.New("auto-apply plan has no actions")
	}
	for i, action := range p.Actions {
		if action.Target == "" {
			return fmt.Errorf("action %d (%s) has no target", i, action.Kind)
		}
	}
	return nil
}

// Targets returns the distinct action targets in first-seen order.
func (p FixPlan) Targets() []string {
	seen := make(map[string]struct{}, len(p.Actions))
	targets := make([]string, 0, len(p.Actions))
	for _, action := range p.Actions {
		if _, ok := seen[action.Target]; ok {
			continue
		}
		seen[action.Target] = struct{}{}
		targets = append(targets, action.Target)
	}
	return targets
}

// HasKind reports whether any action in the plan has the given kind.
func (p FixPlan) HasKind(kind ActionKind) bool {
	for _, action := range p.Actions {
		if action.Kind == kind {
			return true
		}
	}
	return false
}

// ActionStatus is the outcome of one action.
type ActionStatus string

const (
	ActionSucceeded ActionStatus = "success"
	ActionFailed    ActionStatus = "failed"
	ActionSkipped   ActionStatus = "skipped"
)

// ActionResult mirrors one FixAction of the applied plan.
type ActionResult struct {
	Kind            ActionKind   `json:"kind"`
	Target          string       `json:"target"`
	Status          ActionStatus `json:"status"`
	RestartRequired bool         `json:"restart_required"`
	Error           string       `json:"error,omitempty"`
}

// ApplyStatus is the overall outcome of applying a plan.
type ApplyStatus string

const (
	ApplySuccess ApplyStatus = "success"
	ApplyFailed  ApplyStatus = "failed"
	ApplySkipped ApplyStatus = "skipped"
)

// RestartRef identifies a deferred restart scheduled by an apply.
type RestartRef struct {
	TaskID  string    `json:"task_id"`
	Service string    `json:"service"`
	DueAt   time.Time `json:"due_at"`
}

// ApplyResult is returned by the engineer for every apply call.
type ApplyResult struct {
	Status        ApplyStatus    `json:"status"`
	Backups       []string       `json:"backups,omitempty"`
	ActionResults []ActionResult `json:"action_results"`
	Restart       *RestartRef    `json:"restart,omitempty"`
	AppliedAt     time.Time      `json:"applied_at"`
	Error         string         `json:"error,omitempty"`
}

// ValidationStatus is the verdict after the cooldown.
type ValidationStatus string

const (
	ValidationSuccess ValidationStatus = "success"
	ValidationWarning ValidationStatus = "warning"
	ValidationFailed  ValidationStatus = "failed"
)

// ValidationResult records how many errors followed an applied fix.
type ValidationResult struct {
	Status          ValidationStatus `json:"status"`
	ErrorCountAfter int              `json:"error_count_after"`
	Duration        time.Duration    `json:"duration"`
}

// Succeeded reports whether the validation counts as a successful fix.
func (v ValidationResult) Succeeded() bool {
	return v.Status != ValidationFailed
}
