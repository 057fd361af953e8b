package collector

import (
	"regexp"
	"strings"
	"time"

	"github.com/miradorstack/mirador-selfheal/internal/models"
)

const contextRadius = 3

// errorPattern maps a log line shape to an error type. The first matching pattern wins,
// so specific shapes precede the generic exception catch-all.
type errorPattern struct {
	errorType string
	re        *regexp.Regexp
}

var defaultErrorPatterns = []errorPattern{
	{"database_column_length", regexp.MustCompile(`(?i)value too long for type character varying|StringDataRightTruncation`)},
	{"database_null_violation", regexp.MustCompile(`(?i)null value in column|NotNullViolation`)},
	{"database_unique_violation", regexp.MustCompile(`(?i)duplicate key value violates unique constraint|UniqueViolation`)},
	{"database_foreign_key", regexp.MustCompile(`(?i)violates foreign key constraint|ForeignKeyViolation`)},
	{"model_deprecation", regexp.MustCompile(`(?i)model_decommissioned|has been decommissioned|model \S+ (is|has been) deprecated`)},
	{"rate_limit", regexp.MustCompile(`(?i)429.*Too Many Requests|rate limit exceeded|RateLimitError`)},
	{"api_error", regexp.MustCompile(`(429|500|502|503|504) (Client|Server) Error`)},
	{"database_error", regexp.MustCompile(`DatabaseError|OperationalError|IntegrityError|psycopg2\.\w+Error`)},
	{"connection_error", regexp.MustCompile(`ConnectionError|TimeoutError|ConnectionRefusedError|Connection refused`)},
	{"memory_error", regexp.MustCompile(`MemoryError|Out of memory|OOMKilled`)},
	{"import_error", regexp.MustCompile(`ImportError|ModuleNotFoundError`)},
	{"key_error", regexp.MustCompile(`KeyError`)},
	{"attribute_error", regexp.MustCompile(`AttributeError`)},
	{"syntax_error", regexp.MustCompile(`SyntaxError`)},
	{"cors_error", regexp.MustCompile(`(?i)blocked by CORS policy|CORS error`)},
	{"groq_error", regexp.MustCompile(`(?i)groq.*error`)},
	{"hf_error", regexp.MustCompile(`(?i)huggingface.*error`)},
	{"python_exception", regexp.MustCompile(`Traceback|Exception:|Error:`)},
}

// LogParser extracts Errors from raw log lines.
type LogParser struct {
	patterns []errorPattern
}

// NewLogParser returns a parser using the built-in pattern table.
func NewLogParser() *LogParser {
	return &LogParser{patterns: defaultErrorPatterns}
}

// Parse scans signals source by source, keeping ±3 lines of context around each match.
func (p *LogParser) Parse(signals []models.RawSignal) []models.Error {
	bySource := make(map[string][]models.RawSignal)
	order := make([]string, 0)
	for _, sig := range signals {
		if _, ok := bySource[sig.Source]; !ok {
			order = append(order, sig.Source)
		}
		bySource[sig.Source] = append(bySource[sig.Source], sig)
	}

	var errs []models.Error
	for _, source := range order {
		lines := bySource[source]
		for i, sig := range lines {
			errType, ok := p.match(sig.Line)
			if !ok {
				continue
			}
			errs = append(errs, models.Error{
				Type:      errType,
				Message:   strings.TrimSpace(sig.Line),
				Source:    source,
				Timestamp: sig.Timestamp,
				Severity:  severityFor(errType),
				Line:      i + 1,
				Context:   contextLines(lines, i),
			})
		}
	}
	return errs
}

func (p *LogParser) match(line string) (string, bool) {
	for _, pattern := range p.patterns {
		if pattern.re.MatchString(line) {
			return pattern.errorType, true
		}
	}
	return "", false
}

func severityFor(errType string) models.ErrorSeverity {
	switch {
	case strings.HasPrefix(errType, "database_"), errType == "memory_error":
		return models.ErrorSeverityCritical
	case errType == "rate_limit", errType == "connection_error":
		return models.ErrorSeverityWarning
	default:
		return models.ErrorSeverityError
	}
}

func contextLines(lines []models.RawSignal, i int) []string {
	start := i - contextRadius
	if start < 0 {
		start = 0
	}
	end := i + contextRadius + 1
	if end > len(lines) {
		end = len(lines)
	}
	out := make([]string, 0, end-start)
	for _, sig := range lines[start:end] {
		out = append(out, sig.Line)
	}
	return out
}

// analyse summarises errors; recentSince marks the start of the short window.
func analyse(errs []models.Error, recentSince time.Time) models.LogAnalysis {
	analysis := models.LogAnalysis{
		TotalErrors:  len(errs),
		Distribution: make(map[string]int),
		BySeverity:   make(map[models.ErrorSeverity]int),
	}
	for _, e := range errs {
		analysis.Distribution[e.Type]++
		analysis.BySeverity[e.Severity]++
		if e.Timestamp.IsZero() || !e.Timestamp.Before(recentSince) {
			analysis.RecentErrors++
		}
	}
	for errType, count := range analysis.Distribution {
		if count > analysis.MostCommonCount || (count == analysis.MostCommonCount && errType < analysis.MostCommonType) {
			analysis.MostCommonType = errType
			analysis.MostCommonCount = count
		}
	}
	return analysis
}
