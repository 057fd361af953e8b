package classifier

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-selfheal/internal/models"
	"github.com/miradorstack/mirador-selfheal/internal/utils"
)

func repeat(n int, e models.Error) []models.Error {
	out := make([]models.Error, n)
	for i := range out {
		out[i] = e
	}
	return out
}

func TestClassifyNullViolation(t *testing.T) {
	c := New(nil, utils.DiscardLogger())
	errs := repeat(12, models.Error{
		Type:    "database_null_violation",
		Message: `null value in column "category" of relation "products" violates not-null constraint`,
	})

	result := c.Classify(errs)

	assert.Equal(t, 12, result.Categories[models.IssueDatabaseNullViolation])
	require.Len(t, result.PriorityIssues, 1)
	issue := result.PriorityIssues[0]
	assert.Equal(t, models.IssueDatabaseNullViolation, issue.Type)
	assert.Equal(t, models.SeverityHigh, issue.Severity)
	assert.Equal(t, 90, issue.Confidence)
	assert.Equal(t, models.FixAddDefaultValues, issue.FixTypeHint)
	assert.Equal(t, 12, issue.Count)
	assert.Len(t, issue.Samples, 1)
	require.Len(t, result.Patterns, 1)
	assert.Equal(t, 12, result.Patterns[0].Count)
	assert.Contains(t, result.SuggestedFixes, models.IssueDatabaseNullViolation)
	assert.True(t, result.RequiresImmediateFix())
}

func TestClassifyIsTotal(t *testing.T) {
	c := New(nil, utils.DiscardLogger())
	errs := []models.Error{
		{Type: "rate_limit", Message: "429 Too Many Requests"},
		{Type: "key_error", Message: "KeyError: 'price'"},
		{Type: "warning", Message: "disk usage climbing"},
		{Type: "", Message: "mystery"},
		{Type: "database_error", Message: "could not serialize access"},
		{Type: "syntax_error", Message: "SyntaxError: invalid syntax"},
	}

	result := c.Classify(errs)

	total := 0
	for _, n := range result.Categories {
		total += n
	}
	assert.Equal(t, len(errs), total)
	assert.Equal(t, 2, result.Categories[models.IssueUnknown])
	assert.Empty(t, result.PriorityIssues)
	assert.False(t, result.RequiresImmediateFix())
}

func TestCategorizeFirstMatchWins(t *testing.T) {
	c := New(nil, utils.DiscardLogger())
	cases := []struct {
		name string
		err  models.Error
		want models.IssueType
	}{
		{"column length before generic database", models.Error{Type: "database_error", Message: "value too long for type character varying(50)"}, models.IssueDatabaseColumnLength},
		{"unique before generic database", models.Error{Type: "database_error", Message: "duplicate key value violates unique constraint"}, models.IssueDatabaseUniqueViolation},
		{"generic database", models.Error{Type: "database_error", Message: "server closed the connection"}, models.IssueDatabaseErrors},
		{"model deprecation by message", models.Error{Type: "groq_error", Message: "model llama3-70b has been decommissioned"}, models.IssueModelDeprecation},
		{"key error by message", models.Error{Type: "python_exception", Message: "KeyError: 'asin'"}, models.IssueKeyErrors},
		{"unauthorized", models.Error{Type: "python_exception", Message: "HTTP 401 Unauthorized"}, models.IssueAuthenticationErrors},
		{"forbidden", models.Error{Type: "python_exception", Message: "HTTP 403 Forbidden"}, models.IssuePermissionErrors},
		{"digits inside ids are not status codes", models.Error{Type: "python_exception", Message: "item 14012 failed"}, models.IssueCodeErrors},
		{"connection", models.Error{Type: "connection_error", Message: "connection reset by peer"}, models.IssueConnectionErrors},
		{"cors", models.Error{Type: "cors_error", Message: "blocked by CORS policy"}, models.IssueCORSErrors},
		{"import", models.Error{Type: "import_error", Message: "ModuleNotFoundError: No module named 'redis'"}, models.IssueImportErrors},
		{"frontend before data corruption", models.Error{Type: "frontend", Message: "t.map is not a function"}, models.IssueFrontendErrors},
		{"json shape", models.Error{Type: "null_string_in_json", Message: "field holds 'null'"}, models.IssueDataCorruption},
		{"unknown", models.Error{Type: "notice", Message: "hello"}, models.IssueUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, c.Categorize(tc.err))
		})
	}
}

func TestClassifyThresholdIsStrict(t *testing.T) {
	c := New(nil, utils.DiscardLogger())
	rate := models.Error{Type: "rate_limit", Message: "429 Too Many Requests"}

	assert.Empty(t, c.Classify(repeat(10, rate)).PriorityIssues)

	result := c.Classify(repeat(11, rate))
	require.Len(t, result.PriorityIssues, 1)
	assert.Equal(t, models.IssueRateLimiting, result.PriorityIssues[0].Type)
	assert.Equal(t, models.SeverityHigh, result.PriorityIssues[0].Severity)
	assert.Equal(t, 95, result.PriorityIssues[0].Confidence)
}

func TestClassifyRecurringPattern(t *testing.T) {
	c := New(nil, utils.DiscardLogger())
	errs := make([]models.Error, 0, 12)
	for i := 0; i < 12; i++ {
		errs = append(errs, models.Error{Type: "python_exception", Message: fmt.Sprintf("Unhandled exception in worker %d", i)})
	}

	result := c.Classify(errs)

	require.Len(t, result.PriorityIssues, 1)
	issue := result.PriorityIssues[0]
	assert.Equal(t, models.IssueRecurringPattern, issue.Type)
	assert.Equal(t, models.SeverityMedium, issue.Severity)
	assert.Equal(t, 80, issue.Confidence)
	assert.Equal(t, models.FixCodeFix, issue.FixTypeHint)
	assert.Equal(t, 12, issue.Count)
	assert.Equal(t, []string{"Unhandled exception in worker 0"}, issue.Samples)
}

func TestClassifySortsByCountAndCapsSamples(t *testing.T) {
	c := New(nil, utils.DiscardLogger())
	errs := repeat(3, models.Error{Type: "database_column_length", Message: "value too long for type character varying(50)"})
	for i := 0; i < 8; i++ {
		errs = append(errs, models.Error{
			Type:    "database_null_violation",
			Message: fmt.Sprintf(`null value in column "field_%c" of relation "products"`, 'a'+i),
		})
	}

	result := c.Classify(errs)

	require.Len(t, result.PriorityIssues, 2)
	assert.Equal(t, models.IssueDatabaseNullViolation, result.PriorityIssues[0].Type)
	assert.Equal(t, models.IssueDatabaseColumnLength, result.PriorityIssues[1].Type)
	assert.Len(t, result.PriorityIssues[0].Samples, maxSamples)
}

const testPack = `
rules:
  - id: celery-broker
    category: connection_errors
    when: 'error.message.contains("broker") && error.source == "celery"'
  - id: stripe
    category: api_errors
    match:
      type_contains: ["Stripe"]
`

func TestRulePackRulesRunFirst(t *testing.T) {
	rules, err := ParseRulePack([]byte(testPack), utils.DiscardLogger())
	require.NoError(t, err)
	require.Len(t, rules, 2)

	c := New(rules, utils.DiscardLogger())
	assert.Equal(t, models.IssueConnectionErrors, c.Categorize(models.Error{Type: "python_exception", Message: "broker unreachable", Source: "celery"}))
	assert.Equal(t, models.IssueCodeErrors, c.Categorize(models.Error{Type: "python_exception", Message: "broker unreachable", Source: "backend"}))
	assert.Equal(t, models.IssueAPIErrors, c.Categorize(models.Error{Type: "stripe_card_error", Message: "declined"}))
}

func TestRulePackRejectsInvalidDocuments(t *testing.T) {
	cases := map[string]string{
		"missing category": "rules:\n  - id: a\n    when: 'true'\n",
		"no condition":     "rules:\n  - id: a\n    category: api_errors\n",
		"non-bool":         "rules:\n  - id: a\n    category: api_errors\n    when: 'error.message'\n",
		"bad syntax":       "rules:\n  - id: a\n    category: api_errors\n    when: 'error.message.contains('\n",
		"unknown field":    "rules:\n  - id: a\n    category: api_errors\n    when: 'true'\n    priority: 3\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseRulePack([]byte(doc), utils.DiscardLogger())
			assert.Error(t, err)
		})
	}
}

func TestLoadRulePackMissingFile(t *testing.T) {
	rules, err := LoadRulePack(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	require.NoError(t, err)
	assert.Nil(t, rules)

	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testPack), 0o644))
	rules, err = LoadRulePack(path, nil)
	require.NoError(t, err)
	assert.Len(t, rules, 2)
}

func TestClassifyCollectsTracebackLocations(t *testing.T) {
	c := New(nil, utils.DiscardLogger())
	e := models.Error{
		Type:    "key_error",
		Message: "KeyError: 'price'",
		Context: []string{
			"Traceback (most recent call last):",
			`  File "/app/tasks/analysis_tasks.py", line 88, in run`,
			`  File "/app/services/pricing.py", line 42, in score`,
			"KeyError: 'price'",
		},
	}

	result := c.Classify(repeat(6, e))

	require.Len(t, result.PriorityIssues, 1)
	assert.Equal(t, models.IssueKeyErrors, result.PriorityIssues[0].Type)
	assert.Equal(t, []string{"/app/services/pricing.py:42"}, result.PriorityIssues[0].Locations)
}
