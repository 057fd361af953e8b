package models

// Severity captures impact levels of a prioritised issue.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// IssueType is the category an error is classified into.
type IssueType string

const (
	IssueDatabaseColumnLength    IssueType = "database_column_length"
	IssueDatabaseNullViolation   IssueType = "database_null_violation"
	IssueDatabaseForeignKey      IssueType = "database_foreign_key"
	IssueDatabaseUniqueViolation IssueType = "database_unique_violation"
	IssueDatabaseErrors          IssueType = "database_errors"
	IssueModelDeprecation        IssueType = "model_deprecation"
	IssueRateLimiting            IssueType = "rate_limiting"
	IssueAPIErrors               IssueType = "api_errors"
	IssueAttributeErrors         IssueType = "attribute_errors"
	IssueKeyErrors               IssueType = "key_errors"
	IssueIndexErrors             IssueType = "index_errors"
	IssueValueErrors             IssueType = "value_errors"
	IssueTypeErrors              IssueType = "type_errors"
	IssueImportErrors            IssueType = "import_errors"
	IssueSSLErrors               IssueType = "ssl_errors"
	IssueDNSErrors               IssueType = "dns_errors"
	IssueConnectionErrors        IssueType = "connection_errors"
	IssueMemoryErrors            IssueType = "memory_errors"
	IssueDiskSpace               IssueType = "disk_space"
	IssueFileNotFound            IssueType = "file_not_found"
	IssueValidationErrors        IssueType = "validation_errors"
	IssueAuthenticationErrors    IssueType = "authentication_errors"
	IssuePermissionErrors        IssueType = "permission_errors"
	IssueNotFoundErrors          IssueType = "not_found_errors"
	IssueSlowQueries             IssueType = "slow_queries"
	IssueHighCPU                 IssueType = "high_cpu"
	IssueHighMemory              IssueType = "high_memory"
	IssueFrontendErrors          IssueType = "frontend_errors"
	IssueCORSErrors              IssueType = "cors_errors"
	IssueMarketplaceAPIErrors    IssueType = "marketplace_api_errors"
	IssueDataCorruption          IssueType = "data_corruption"
	IssueMissingRequiredFields   IssueType = "missing_required_fields"
	IssueCodeErrors              IssueType = "code_errors"
	IssueRecurringPattern        IssueType = "recurring_pattern"
	IssueUnknown                 IssueType = "unknown"
)

// Pattern is a normalised message shape and how often it recurred.
type Pattern struct {
	Fingerprint string `json:"fingerprint"`
	Count       int    `json:"count"`
	Example     string `json:"example"`
}

// PriorityIssue is a category whose error count crossed its threshold.
type PriorityIssue struct {
	Type        IssueType `json:"type"`
	Severity    Severity  `json:"severity"`
	Count       int       `json:"count"`
	Confidence  int       `json:"confidence"`
	FixTypeHint FixType   `json:"fix_type_hint"`
	Description string    `json:"description"`
	Samples     []string  `json:"samples,omitempty"`
	Locations   []string  `json:"locations,omitempty"`
}

// FixTemplate is a descriptive remediation suggestion, not yet parameterised.
type FixTemplate struct {
	Description      string    `json:"description"`
	Actions          []string  `json:"actions"`
	EstimatedMinutes int       `json:"estimated_minutes"`
	Risk             RiskLevel `json:"risk"`
}

// ClassificationResult is the output of one classification pass.
type ClassificationResult struct {
	Categories     map[IssueType]int         `json:"categories"`
	Patterns       []Pattern                 `json:"patterns"`
	PriorityIssues []PriorityIssue           `json:"priority_issues"`
	SuggestedFixes map[IssueType]FixTemplate `json:"suggested_fixes"`
}

// RequiresImmediateFix reports whether any category crossed its threshold.
func (r ClassificationResult) RequiresImmediateFix() bool {
	return len(r.PriorityIssues) > 0
}

// RootCause is the diagnosis of one priority issue.
type RootCause struct {
	IssueType           IssueType `json:"issue_type"`
	RootCause           string    `json:"root_cause"`
	Evidence            []string  `json:"evidence"`
	Confidence          int       `json:"confidence"`
	FixCategory         string    `json:"fix_category"`
	FixType             FixType   `json:"fix_type"`
	AffectedComponent   string    `json:"affected_component"`
	Priority            Severity  `json:"priority"`
	EstimatedFixMinutes int       `json:"estimated_fix_minutes"`
	Count               int       `json:"count"`
	Samples             []string  `json:"samples,omitempty"`
	Locations           []string  `json:"locations,omitempty"`
}
