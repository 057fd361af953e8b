package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-selfheal/internal/analyzer"
	"github.com/miradorstack/mirador-selfheal/internal/backup"
	"github.com/miradorstack/mirador-selfheal/internal/classifier"
	"github.com/miradorstack/mirador-selfheal/internal/fixer"
	"github.com/miradorstack/mirador-selfheal/internal/learning"
	"github.com/miradorstack/mirador-selfheal/internal/models"
	"github.com/miradorstack/mirador-selfheal/internal/restart"
	"github.com/miradorstack/mirador-selfheal/internal/utils"
)

const nullViolation = `null value in column "category" of relation "products" violates not-null constraint`

type flow struct {
	appRoot  string
	ledger   *learning.Store
	backups  *backup.Store
	source   *fakeSource
	coord    *Coordinator
	restarts *restart.Scheduler
}

func newFlow(t *testing.T, after models.SignalReport) *flow {
	t.Helper()
	logger := utils.DiscardLogger()
	appRoot := t.TempDir()
	state := t.TempDir()

	backups, err := backup.NewStore(filepath.Join(state, "backups"), logger)
	require.NoError(t, err)
	ledger, err := learning.Open(filepath.Join(state, "learning.jsonl"), logger)
	require.NoError(t, err)
	restarts := restart.NewScheduler(restart.RequesterFunc(func(context.Context, string) error { return nil }), time.Second, logger)
	t.Cleanup(restarts.Stop)

	engineer := fixer.New(fixer.Options{
		AppRoot:          appRoot,
		ContainerRoot:    "/app",
		SettingsFile:     "config/settings.yaml",
		MigrationsDir:    "migrations",
		RequirementsFile: "requirements.txt",
		RestartService:   "product-trend-celery",
		RestartDelay:     time.Hour,
	}, backups, restarts, nil, logger)

	before := actionReport()
	for i := 0; i < 12; i++ {
		before.Errors = append(before.Errors, models.Error{Type: "database_null_violation", Message: nullViolation, Source: "product-trend-celery"})
	}
	source := &fakeSource{reports: []models.SignalReport{before, after}}

	coord := NewCoordinator(logger, Options{
		AutoApplyThreshold: 80,
		ValidationCooldown: 120 * time.Second,
		ValidationFailAt:   5,
	}, source, classifier.New(nil, logger), analyzer.New(nil, logger), engineer, ledger, backups, nil)
	coord.sleep = func(context.Context, time.Duration) error { return nil }

	return &flow{appRoot: appRoot, ledger: ledger, backups: backups, source: source, coord: coord, restarts: restarts}
}

func TestFlowNullViolationApplied(t *testing.T) {
	f := newFlow(t, models.SignalReport{})

	summary := f.coord.Run(context.Background())

	assert.Equal(t, models.RunCompleted, summary.Status)
	assert.Equal(t, 1, summary.IssuesFound)
	require.Len(t, summary.Outcomes, 1)
	outcome := summary.Outcomes[0]
	assert.Equal(t, models.IssueDatabaseNullViolation, outcome.IssueType)
	assert.Equal(t, models.IssueAppliedSuccess, outcome.State)
	require.NotNil(t, outcome.Plan)
	assert.Equal(t, models.FixAddDefaultValues, outcome.Plan.FixType)
	require.Len(t, outcome.Plan.Actions, 1)
	assert.FileExists(t, filepath.Join(f.appRoot, outcome.Plan.Actions[0].Target), "migration written")
	assert.Len(t, f.restarts.Pending(), 1)

	stats := f.ledger.Stats()
	assert.Equal(t, 1, stats.TotalFixes)
	assert.Equal(t, 1, stats.Successes)
	refs, err := f.backups.List()
	require.NoError(t, err)
	assert.Len(t, refs, 1)
}

func TestFlowFailedValidationRollsBack(t *testing.T) {
	after := models.SignalReport{}
	for i := 0; i < 7; i++ {
		after.Errors = append(after.Errors, models.Error{Type: "database_null_violation", Message: nullViolation})
	}
	f := newFlow(t, after)

	summary := f.coord.Run(context.Background())

	require.Len(t, summary.Outcomes, 1)
	outcome := summary.Outcomes[0]
	assert.Equal(t, models.IssueAppliedFailed, outcome.State)
	assert.True(t, outcome.RolledBack)
	require.NotNil(t, outcome.Validation)
	assert.Equal(t, 7, outcome.Validation.ErrorCountAfter)
	require.NotNil(t, outcome.Plan)
	require.Len(t, outcome.Plan.Actions, 1)
	assert.NoFileExists(t, filepath.Join(f.appRoot, outcome.Plan.Actions[0].Target), "migration removed by rollback")

	records := f.ledger.Records()
	require.Len(t, records, 1)
	assert.False(t, records[0].Success)
	assert.Equal(t, models.ValidationFailed, records[0].ValidationStatus)
	assert.Zero(t, f.ledger.SuccessRate(models.IssueDatabaseNullViolation, models.FixAddDefaultValues))
}
