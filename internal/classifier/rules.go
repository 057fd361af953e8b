package classifier

import (
	"regexp"
	"strings"

	"github.com/miradorstack/mirador-selfheal/internal/models"
)

// Predicate decides whether an error belongs to a category.
type Predicate func(e models.Error) bool

// Rule maps matching errors to a category. Rules are evaluated in order and the first match wins.
type Rule struct {
	ID       string
	Category models.IssueType
	Match    Predicate
}

func typeContains(subs ...string) Predicate {
	return func(e models.Error) bool {
		return containsAny(strings.ToLower(e.Type), subs)
	}
}

func messageContains(subs ...string) Predicate {
	return func(e models.Error) bool {
		return containsAny(strings.ToLower(e.Message), subs)
	}
}

func messageMatches(expr string) Predicate {
	re := regexp.MustCompile(expr)
	return func(e models.Error) bool {
		return re.MatchString(e.Message)
	}
}

func anyOf(preds ...Predicate) Predicate {
	return func(e models.Error) bool {
		for _, p := range preds {
			if p(e) {
				return true
			}
		}
		return false
	}
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// DefaultRules is the built-in ordered rule table. Database specifics come before the
// generic database rule, and the code_errors catch-all comes last.
func DefaultRules() []Rule {
	return []Rule{
		{"db-column-length", models.IssueDatabaseColumnLength, anyOf(typeContains("column_length"), messageContains("value too long for type character varying"))},
		{"db-null", models.IssueDatabaseNullViolation, anyOf(typeContains("null_violation"), messageContains("null value in column"))},
		{"db-foreign-key", models.IssueDatabaseForeignKey, anyOf(typeContains("foreign_key"), messageContains("foreign key"))},
		{"db-unique", models.IssueDatabaseUniqueViolation, anyOf(typeContains("unique_violation"), messageContains("duplicate key"))},
		{"db-generic", models.IssueDatabaseErrors, typeContains("database")},
		{"model-deprecation", models.IssueModelDeprecation, anyOf(typeContains("model_deprecation"), messageContains("decommissioned"))},
		{"rate-limit", models.IssueRateLimiting, anyOf(typeContains("rate_limit", "429"), messageContains("too many requests"))},
		{"api", models.IssueAPIErrors, typeContains("api_error")},
		{"attribute", models.IssueAttributeErrors, anyOf(typeContains("attribute"), messageContains("attributeerror"))},
		{"key", models.IssueKeyErrors, anyOf(typeContains("key_error"), messageContains("keyerror"))},
		{"index", models.IssueIndexErrors, anyOf(typeContains("index_error"), messageContains("indexerror"))},
		{"value", models.IssueValueErrors, anyOf(typeContains("value_error"), messageContains("valueerror"))},
		{"type", models.IssueTypeErrors, anyOf(typeContains("type_error"), messageContains("typeerror"))},
		{"import", models.IssueImportErrors, anyOf(typeContains("import"), messageContains("modulenotfounderror", "importerror"))},
		{"ssl", models.IssueSSLErrors, anyOf(typeContains("ssl"), messageContains("sslerror", "certificate verify failed"))},
		{"dns", models.IssueDNSErrors, anyOf(typeContains("dns"), messageContains("name or service not known", "temporary failure in name resolution"))},
		{"connection", models.IssueConnectionErrors, typeContains("connection", "timeout")},
		{"memory", models.IssueMemoryErrors, typeContains("memory")},
		{"disk", models.IssueDiskSpace, anyOf(typeContains("disk"), messageContains("no space left on device"))},
		{"file-not-found", models.IssueFileNotFound, anyOf(typeContains("file_not_found"), messageContains("filenotfounderror", "no such file or directory"))},
		{"validation", models.IssueValidationErrors, anyOf(typeContains("validation"), messageContains("validationerror"))},
		{"authentication", models.IssueAuthenticationErrors, anyOf(typeContains("auth"), messageMatches(`\b401\b`))},
		{"permission", models.IssuePermissionErrors, anyOf(typeContains("permission"), messageMatches(`\b403\b`))},
		{"not-found", models.IssueNotFoundErrors, anyOf(typeContains("not_found"), messageMatches(`\b404\b`))},
		{"slow-query", models.IssueSlowQueries, typeContains("slow_query")},
		{"high-cpu", models.IssueHighCPU, typeContains("high_cpu")},
		{"high-memory", models.IssueHighMemory, typeContains("high_memory")},
		{"frontend", models.IssueFrontendErrors, typeContains("frontend")},
		{"cors", models.IssueCORSErrors, anyOf(typeContains("cors"), messageContains("cors policy"))},
		{"marketplace", models.IssueMarketplaceAPIErrors, anyOf(typeContains("amazon", "ebay", "tiktok"), messageContains("amazon api", "ebay api", "tiktok api"))},
		{"data-corruption", models.IssueDataCorruption, anyOf(typeContains("data_corruption", "invalid_json_field", "null_string_in_json"), messageContains("map is not a function"))},
		{"missing-field", models.IssueMissingRequiredFields, anyOf(typeContains("missing_required_field"), messageContains("missing required field"))},
		{"code", models.IssueCodeErrors, typeContains("exception", "syntax", "error")},
	}
}
