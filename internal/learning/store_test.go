package learning

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-selfheal/internal/models"
	"github.com/miradorstack/mirador-selfheal/internal/utils"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "fix_history.jsonl")
	store, err := Open(path, utils.DiscardLogger())
	require.NoError(t, err)
	return store, path
}

func TestSuccessRateDefaultsWithoutHistory(t *testing.T) {
	store, _ := openTestStore(t)
	assert.Equal(t, 0.5, store.SuccessRate(models.IssueRateLimiting, models.FixThrottleRequests))
	assert.Equal(t, 70, store.AdjustConfidence(70, models.IssueRateLimiting, models.FixThrottleRequests))
}

func TestAdjustBounds(t *testing.T) {
	cases := []struct {
		original int
		rate     float64
		want     int
	}{
		{70, 0, 60},
		{70, 1, 80},
		{55, 0, 50},
		{95, 1, 100},
		{100, 1, 100},
		{0, 0, 50},
		{70, 1.0 / 3.0, 66},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Adjust(tc.original, tc.rate), "original=%d rate=%v", tc.original, tc.rate)
	}
}

func TestRecordPersistsAcrossReopen(t *testing.T) {
	store, path := openTestStore(t)
	require.NoError(t, store.Record(models.LearningRecord{IssueType: models.IssueRateLimiting, FixType: models.FixThrottleRequests, OriginalConfidence: 95, Success: true}))
	require.NoError(t, store.Record(models.LearningRecord{IssueType: models.IssueRateLimiting, FixType: models.FixThrottleRequests, OriginalConfidence: 95, Success: false, ErrorCountAfter: 7}))
	require.NoError(t, store.Record(models.LearningRecord{IssueType: models.IssueDatabaseErrors, FixType: models.FixConnectionTuning, OriginalConfidence: 90, Success: true}))

	reopened, err := Open(path, utils.DiscardLogger())
	require.NoError(t, err)
	require.Len(t, reopened.Records(), 3)
	assert.False(t, reopened.Records()[0].Timestamp.IsZero())
	assert.Equal(t, 0.5, reopened.SuccessRate(models.IssueRateLimiting, models.FixThrottleRequests))
	assert.Equal(t, 1.0, reopened.SuccessRate(models.IssueDatabaseErrors, models.FixConnectionTuning))
	assert.Equal(t, 80, reopened.AdjustConfidence(70, models.IssueDatabaseErrors, models.FixConnectionTuning))
}

func TestLoadSkipsCorruptLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	content := `{"issue_type":"key_errors","fix_type":"add_dict_get","original_confidence":80,"success":false,"error_count_after":6}
not json
{"issue_type":"key_errors","fix_type":"add_dict_get","original_confidence":80,"success":false,"error_count_after":9}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	store, err := Open(path, utils.DiscardLogger())
	require.NoError(t, err)
	assert.Len(t, store.Records(), 2)
	assert.Equal(t, 60, store.AdjustConfidence(70, models.IssueKeyErrors, models.FixAddDictGet))
}

func TestStats(t *testing.T) {
	store, _ := openTestStore(t)
	require.NoError(t, store.Record(models.LearningRecord{IssueType: models.IssueRateLimiting, FixType: models.FixThrottleRequests, Success: true}))
	require.NoError(t, store.Record(models.LearningRecord{IssueType: models.IssueRateLimiting, FixType: models.FixThrottleRequests, Success: false}))
	require.NoError(t, store.Record(models.LearningRecord{IssueType: models.IssueImportErrors, FixType: models.FixInstallDependency, Success: true}))

	stats := store.Stats()
	assert.Equal(t, 3, stats.TotalFixes)
	assert.Equal(t, 2, stats.Successes)
	assert.InDelta(t, 2.0/3.0, stats.SuccessRate, 1e-9)
	assert.Equal(t, models.FixTypeStats{Total: 2, Successes: 1, SuccessRate: 0.5}, stats.ByFixType[models.FixThrottleRequests])
	assert.Equal(t, 1.0, stats.ByFixType[models.FixInstallDependency].SuccessRate)
}
