package classifier

import "github.com/miradorstack/mirador-selfheal/internal/models"

// Policy promotes a category to a PriorityIssue once its count exceeds Threshold.
type Policy struct {
	Category    models.IssueType
	Threshold   int
	Severity    models.Severity
	Confidence  int
	FixType     models.FixType
	Description string
}

// RecurringPatternThreshold is the pattern count above which a recurring_pattern issue is raised.
const RecurringPatternThreshold = 10

// DefaultPolicies lists prioritisation thresholds. Count must be strictly greater than Threshold.
func DefaultPolicies() []Policy {
	return []Policy{
		{models.IssueDatabaseColumnLength, 0, models.SeverityCritical, 98, models.FixIncreaseColumnLength, "Database column too short for incoming values"},
		{models.IssueModelDeprecation, 0, models.SeverityCritical, 95, models.FixModelUpgrade, "AI model has been decommissioned by the provider"},
		{models.IssueRateLimiting, 10, models.SeverityHigh, 95, models.FixThrottleRequests, "Upstream API rate limits exceeded"},
		{models.IssueDatabaseErrors, 5, models.SeverityCritical, 90, models.FixConnectionTuning, "Database operations failing"},
		{models.IssueConnectionErrors, 10, models.SeverityMedium, 85, models.FixRetryLogic, "Outbound connections failing or timing out"},
		{models.IssueDatabaseNullViolation, 0, models.SeverityHigh, 90, models.FixAddDefaultValues, "Inserts violate NOT NULL constraints"},
		{models.IssueDatabaseUniqueViolation, 3, models.SeverityHigh, 85, models.FixAddDuplicateCheck, "Inserts violate unique constraints"},
		{models.IssueAttributeErrors, 5, models.SeverityHigh, 80, models.FixAddAttributeCheck, "Code accesses missing attributes"},
		{models.IssueKeyErrors, 5, models.SeverityHigh, 80, models.FixAddDictGet, "Code reads missing dictionary keys"},
		{models.IssueImportErrors, 0, models.SeverityCritical, 95, models.FixInstallDependency, "A required module cannot be imported"},
		{models.IssueCORSErrors, 5, models.SeverityHigh, 90, models.FixUpdateCORSConfig, "Browser requests blocked by CORS policy"},
		{models.IssueValidationErrors, 10, models.SeverityMedium, 75, models.FixImproveValidation, "Payloads failing validation"},
		{models.IssueFileNotFound, 3, models.SeverityHigh, 85, models.FixCreateMissingFiles, "Expected files are missing"},
		{models.IssueSlowQueries, 5, models.SeverityMedium, 75, models.FixOptimizeQuery, "Queries exceeding latency budget"},
		{models.IssueMissingRequiredFields, 5, models.SeverityHigh, 80, models.FixAddFieldDefaults, "Records missing required fields"},
		{models.IssueDataCorruption, 3, models.SeverityHigh, 85, models.FixCleanCorruptData, "Stored data has an unexpected shape"},
	}
}

var recurringPatternPolicy = Policy{
	Category:    models.IssueRecurringPattern,
	Threshold:   RecurringPatternThreshold,
	Severity:    models.SeverityMedium,
	Confidence:  80,
	FixType:     models.FixCodeFix,
	Description: "The same error keeps recurring",
}
