package analyzer

import "github.com/miradorstack/mirador-selfheal/internal/models"

var genericDiagnosis = Diagnosis{
	RootCause:         "Issue requires further investigation",
	Evidence:          []string{"Pattern not yet recognised"},
	Confidence:        60,
	FixCategory:       "investigation_needed",
	AffectedComponent: "Unknown",
	Priority:          models.SeverityLow,
	EstimatedMinutes:  30,
}

var staticDiagnoses = map[models.IssueType]Diagnosis{
	models.IssueDatabaseColumnLength: {
		RootCause:         "VARCHAR column too short for generated content",
		Evidence:          []string{"PostgreSQL rejects values with StringDataRightTruncation"},
		Confidence:        98,
		FixCategory:       "database_schema",
		AffectedComponent: "PostgreSQL products table",
		Priority:          models.SeverityCritical,
		EstimatedMinutes:  2,
	},
	models.IssueDatabaseNullViolation: {
		RootCause:         "Inserts omit a value for a NOT NULL column without a default",
		Evidence:          []string{"PostgreSQL rejects rows with NotNullViolation"},
		Confidence:        90,
		FixCategory:       "database_schema",
		AffectedComponent: "PostgreSQL schema",
		Priority:          models.SeverityHigh,
		EstimatedMinutes:  5,
	},
	models.IssueDatabaseUniqueViolation: {
		RootCause:         "Duplicate rows inserted without an existence check",
		Evidence:          []string{"PostgreSQL rejects rows with UniqueViolation"},
		Confidence:        85,
		FixCategory:       "code_enhancement",
		AffectedComponent: "Persistence layer",
		Priority:          models.SeverityHigh,
		EstimatedMinutes:  15,
	},
	models.IssueModelDeprecation: {
		RootCause:         "AI model has been decommissioned by the provider",
		Evidence:          []string{"Provider reports the model as decommissioned or deprecated"},
		Confidence:        95,
		FixCategory:       "model_upgrade",
		AffectedComponent: "AI model configuration",
		Priority:          models.SeverityCritical,
		EstimatedMinutes:  5,
	},
	models.IssueDatabaseErrors: {
		RootCause:         "Database connection timeout or pool exhaustion",
		Evidence:          []string{"Likely timeout or connection limit issues"},
		Confidence:        90,
		FixCategory:       "configuration",
		AffectedComponent: "Database connection settings",
		Priority:          models.SeverityHigh,
		EstimatedMinutes:  15,
	},
	models.IssueConnectionErrors: {
		RootCause:         "Network instability without retry logic",
		Evidence:          []string{"Outbound calls fail without being retried"},
		Confidence:        85,
		FixCategory:       "code_enhancement",
		AffectedComponent: "HTTP client configuration",
		Priority:          models.SeverityMedium,
		EstimatedMinutes:  12,
	},
	models.IssueAttributeErrors: {
		RootCause:         "Code accesses attributes that may be absent",
		Evidence:          []string{"AttributeError raised on optional data"},
		Confidence:        80,
		FixCategory:       "code_fix",
		AffectedComponent: "Application code",
		Priority:          models.SeverityHigh,
		EstimatedMinutes:  10,
	},
	models.IssueKeyErrors: {
		RootCause:         "Code indexes dictionaries with keys that may be absent",
		Evidence:          []string{"KeyError raised on optional payload fields"},
		Confidence:        80,
		FixCategory:       "code_fix",
		AffectedComponent: "Application code",
		Priority:          models.SeverityHigh,
		EstimatedMinutes:  10,
	},
	models.IssueImportErrors: {
		RootCause:         "A required Python module is not installed",
		Evidence:          []string{"ModuleNotFoundError at import time"},
		Confidence:        95,
		FixCategory:       "dependency",
		AffectedComponent: "Dependency manifest",
		Priority:          models.SeverityCritical,
		EstimatedMinutes:  5,
	},
	models.IssueCORSErrors: {
		RootCause:         "Frontend origin missing from the CORS allow-list",
		Evidence:          []string{"Browser blocks responses by CORS policy"},
		Confidence:        90,
		FixCategory:       "configuration",
		AffectedComponent: "API CORS settings",
		Priority:          models.SeverityHigh,
		EstimatedMinutes:  5,
	},
	models.IssueValidationErrors: {
		RootCause:         "Payloads do not match the expected schema",
		Evidence:          []string{"Validation rejects incoming data"},
		Confidence:        75,
		FixCategory:       "code_enhancement",
		AffectedComponent: "Request validation",
		Priority:          models.SeverityMedium,
		EstimatedMinutes:  20,
	},
	models.IssueFileNotFound: {
		RootCause:         "Expected files are missing from the deployment",
		Evidence:          []string{"FileNotFoundError on startup or request"},
		Confidence:        85,
		FixCategory:       "deployment",
		AffectedComponent: "Filesystem layout",
		Priority:          models.SeverityHigh,
		EstimatedMinutes:  10,
	},
	models.IssueSlowQueries: {
		RootCause:         "Queries scanning without a suitable index",
		Evidence:          []string{"Query latency above threshold"},
		Confidence:        75,
		FixCategory:       "database_performance",
		AffectedComponent: "PostgreSQL queries",
		Priority:          models.SeverityMedium,
		EstimatedMinutes:  30,
	},
	models.IssueMissingRequiredFields: {
		RootCause:         "Records persisted without required fields",
		Evidence:          []string{"Required fields absent at write time"},
		Confidence:        80,
		FixCategory:       "code_enhancement",
		AffectedComponent: "Persistence layer",
		Priority:          models.SeverityHigh,
		EstimatedMinutes:  15,
	},
	models.IssueDataCorruption: {
		RootCause:         "JSON fields store the string 'null' instead of NULL",
		Evidence:          []string{"Frontend calls .map() on a string instead of an array"},
		Confidence:        85,
		FixCategory:       "data_cleanup",
		AffectedComponent: "Products table JSON columns",
		Priority:          models.SeverityHigh,
		EstimatedMinutes:  10,
	},
	models.IssueRecurringPattern: {
		RootCause:         "Systematic error in code logic",
		Evidence:          []string{"Identical error shape repeating"},
		Confidence:        75,
		FixCategory:       "code_fix",
		AffectedComponent: "Unknown, requires code inspection",
		Priority:          models.SeverityMedium,
		EstimatedMinutes:  20,
	},
}
