package classifier

import "github.com/miradorstack/mirador-selfheal/internal/models"

var defaultTemplates = map[models.IssueType]models.FixTemplate{
	models.IssueDatabaseColumnLength: {
		Description:      "Widen the VARCHAR column that rejects values",
		Actions:          []string{"Identify the column from the truncation error", "Write an ALTER COLUMN migration", "Restart the worker to apply migrations"},
		EstimatedMinutes: 2,
		Risk:             models.RiskLow,
	},
	models.IssueDatabaseNullViolation: {
		Description:      "Give the offending column a default value",
		Actions:          []string{"Identify column and table from the violation", "Write a SET DEFAULT migration"},
		EstimatedMinutes: 5,
		Risk:             models.RiskLow,
	},
	models.IssueDatabaseUniqueViolation: {
		Description:      "Check for an existing row before inserting",
		Actions:          []string{"Locate the insert path", "Switch to upsert or existence check"},
		EstimatedMinutes: 15,
		Risk:             models.RiskMedium,
	},
	models.IssueDatabaseErrors: {
		Description:      "Raise connection timeout and add retries",
		Actions:          []string{"Increase database connect timeout", "Enable retry on transient failures"},
		EstimatedMinutes: 15,
		Risk:             models.RiskMedium,
	},
	models.IssueModelDeprecation: {
		Description:      "Switch to the provider's replacement model",
		Actions:          []string{"Identify the decommissioned model id", "Update the configured model"},
		EstimatedMinutes: 5,
		Risk:             models.RiskLow,
	},
	models.IssueRateLimiting: {
		Description:      "Slow down requests to the rate-limited API",
		Actions:          []string{"Increase the delay between requests", "Reduce batch size if the delay is already high"},
		EstimatedMinutes: 10,
		Risk:             models.RiskLow,
	},
	models.IssueConnectionErrors: {
		Description:      "Retry outbound calls with exponential backoff",
		Actions:          []string{"Enable retries", "Configure backoff intervals"},
		EstimatedMinutes: 12,
		Risk:             models.RiskLow,
	},
	models.IssueAttributeErrors: {
		Description:      "Guard attribute access",
		Actions:          []string{"Locate the failing access from the traceback", "Use getattr with a default"},
		EstimatedMinutes: 10,
		Risk:             models.RiskMedium,
	},
	models.IssueKeyErrors: {
		Description:      "Read optional keys with a default",
		Actions:          []string{"Locate the failing lookup from the traceback", "Replace subscript with dict.get"},
		EstimatedMinutes: 10,
		Risk:             models.RiskMedium,
	},
	models.IssueImportErrors: {
		Description:      "Install the missing dependency",
		Actions:          []string{"Add the module to the dependency manifest", "Rebuild and restart the service"},
		EstimatedMinutes: 5,
		Risk:             models.RiskLow,
	},
	models.IssueCORSErrors: {
		Description:      "Allow the blocked origin",
		Actions:          []string{"Add the origin to allowed CORS origins"},
		EstimatedMinutes: 5,
		Risk:             models.RiskLow,
	},
	models.IssueValidationErrors: {
		Description:      "Tighten or relax payload validation",
		Actions:          []string{"Review rejected payloads", "Adjust schema or coercion"},
		EstimatedMinutes: 20,
		Risk:             models.RiskMedium,
	},
	models.IssueFileNotFound: {
		Description:      "Create or restore the missing files",
		Actions:          []string{"List missing paths", "Restore from source control or create placeholders"},
		EstimatedMinutes: 10,
		Risk:             models.RiskMedium,
	},
	models.IssueSlowQueries: {
		Description:      "Optimise slow queries",
		Actions:          []string{"Capture the query plan", "Add missing indexes"},
		EstimatedMinutes: 30,
		Risk:             models.RiskMedium,
	},
	models.IssueMissingRequiredFields: {
		Description:      "Default missing required fields",
		Actions:          []string{"Identify missing fields", "Populate defaults before persistence"},
		EstimatedMinutes: 15,
		Risk:             models.RiskMedium,
	},
	models.IssueDataCorruption: {
		Description:      "Clean up malformed stored values",
		Actions:          []string{"Find rows with malformed JSON", "Reset them to NULL or a valid default"},
		EstimatedMinutes: 10,
		Risk:             models.RiskMedium,
	},
	models.IssueRecurringPattern: {
		Description:      "Investigate the recurring error",
		Actions:          []string{"Inspect the pattern example", "Fix the underlying code path"},
		EstimatedMinutes: 20,
		Risk:             models.RiskMedium,
	},
}

var manualTemplate = models.FixTemplate{
	Description:      "Manual investigation required",
	Actions:          []string{"Review logs and context", "Decide on a remediation"},
	EstimatedMinutes: 30,
	Risk:             models.RiskUnknown,
}

// TemplateFor returns the suggested fix for an issue type, falling back to manual review.
func TemplateFor(issueType models.IssueType) models.FixTemplate {
	if tpl, ok := defaultTemplates[issueType]; ok {
		return tpl
	}
	return manualTemplate
}
