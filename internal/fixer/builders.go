package fixer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/miradorstack/mirador-selfheal/internal/models"
	"github.com/miradorstack/mirador-selfheal/internal/settings"
)

// ErrNoParameters is returned by a builder that could not extract what it needs from the
// diagnosis or current state.
var ErrNoParameters = errors.New("fix parameters not found")

// Settings keys edited by builders.
const (
	KeyModel          = "ai.model"
	KeyRequestDelay   = "ai.request_delay_seconds"
	KeyBatchSize      = "ai.batch_size"
	KeyConnectTimeout = "database.connect_timeout_seconds"
	KeyRetryAttempts  = "database.retry_attempts"
	KeyHTTPRetries    = "http.retry.max_attempts"
	KeyHTTPBackoff    = "http.retry.backoff_seconds"
	KeyCORSOrigins    = "cors.allowed_origins"
)

const (
	defaultRequestDelay = 0.8
	maxRequestDelay     = 2.0
	delayStep           = 0.3
	pacedDelay          = 1.0
	defaultBatchSize    = 5
	reducedBatchSize    = 3
)

// BuildEnv is the state a builder may consult.
type BuildEnv struct {
	Ctx       context.Context
	Options   Options
	Settings  *settings.Document
	Inspector ColumnInspector
	Now       time.Time
}

// Builder produces a parameterised plan for one issue type.
type Builder func(env BuildEnv, rc models.RootCause) (models.FixPlan, error)

// DefaultBuilders returns the built-in builder registry.
func DefaultBuilders() map[models.IssueType]Builder {
	return map[models.IssueType]Builder{
		models.IssueDatabaseColumnLength:  buildColumnLength,
		models.IssueDatabaseNullViolation: buildNullDefault,
		models.IssueModelDeprecation:      buildModelUpgrade,
		models.IssueRateLimiting:          buildThrottle,
		models.IssueDatabaseErrors:        buildConnectionTuning,
		models.IssueConnectionErrors:      buildRetryLogic,
		models.IssueImportErrors:          buildInstallDependency,
		models.IssueCORSErrors:            buildCORSOrigin,
		models.IssueKeyErrors:             buildDictGet,
	}
}

var (
	varcharLength   = regexp.MustCompile(`character varying\((\d+)\)`)
	quotedColumn    = regexp.MustCompile(`column "([^"]+)"`)
	quotedRelation  = regexp.MustCompile(`(?:relation|table) "([^"]+)"`)
	deprecatedModel = regexp.MustCompile("(?i)model\\s+[`'\"]?([\\w.\\-:/]+)[`'\"]?\\s+(?:has been|is|was)\\s+(?:decommissioned|deprecated)")
	missingModule   = regexp.MustCompile(`No module named '([\w.]+)'`)
	blockedOrigin   = regexp.MustCompile(`origin '([^']+)'`)
	missingKey      = regexp.MustCompile(`KeyError: '([^']+)'`)
	identifier      = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

func buildColumnLength(env BuildEnv, rc models.RootCause) (models.FixPlan, error) {
	length, ok := firstInt(rc.Samples, varcharLength)
	if !ok {
		return models.FixPlan{}, fmt.Errorf("%w: no character varying(N) in samples", ErrNoParameters)
	}

	var columns []Column
	column, hasColumn := firstMatch(rc.Samples, quotedColumn)
	table, hasTable := firstMatch(rc.Samples, quotedRelation)
	switch {
	case hasColumn && hasTable:
		columns = []Column{{Table: table, Name: column, MaxLength: length}}
	case env.Inspector != nil:
		found, err := env.Inspector.VarcharColumns(env.Ctx, length)
		if err != nil {
			return models.FixPlan{}, fmt.Errorf("inspect varchar(%d) columns: %w", length, err)
		}
		columns = found
	}
	if len(columns) == 0 {
		return models.FixPlan{}, fmt.Errorf("%w: no column of length %d identified", ErrNoParameters, length)
	}

	widened := max(2*length, length+100)
	var sql strings.Builder
	names := make([]string, 0, len(columns))
	for _, c := range columns {
		if !identifier.MatchString(c.Table) || !identifier.MatchString(c.Name) {
			return models.FixPlan{}, fmt.Errorf("%w: unsafe identifier %s.%s", ErrNoParameters, c.Table, c.Name)
		}
		fmt.Fprintf(&sql, "ALTER TABLE %q ALTER COLUMN %q TYPE VARCHAR(%d);\n", c.Table, c.Name, widened)
		names = append(names, c.Table+"."+c.Name)
	}

	return models.FixPlan{
		Description: fmt.Sprintf("Widen %s from VARCHAR(%d) to VARCHAR(%d)", strings.Join(names, ", "), length, widened),
		Confidence:  98,
		Actions: []models.FixAction{{
			Kind:            models.ActionWriteMigration,
			Target:          migrationPath(env, "widen_"+columns[0].Table+"_"+columns[0].Name),
			OldValue:        fmt.Sprintf("VARCHAR(%d)", length),
			NewValue:        sql.String(),
			RestartRequired: true,
			Description:     "ALTER COLUMN TYPE migration",
		}},
		RiskLevel:         models.RiskLow,
		RollbackAvailable: true,
		AutoApply:         true,
	}, nil
}

func buildNullDefault(env BuildEnv, rc models.RootCause) (models.FixPlan, error) {
	column, hasColumn := firstMatch(rc.Samples, quotedColumn)
	table, hasTable := firstMatch(rc.Samples, quotedRelation)
	if !hasColumn || !hasTable {
		return models.FixPlan{}, fmt.Errorf("%w: column or relation missing from samples", ErrNoParameters)
	}
	if !identifier.MatchString(table) || !identifier.MatchString(column) {
		return models.FixPlan{}, fmt.Errorf("%w: unsafe identifier %s.%s", ErrNoParameters, table, column)
	}

	dataType := ""
	if env.Inspector != nil {
		if t, err := env.Inspector.ColumnType(env.Ctx, table, column); err == nil {
			dataType = t
		}
	}
	literal := defaultLiteral(dataType)

	return models.FixPlan{
		Description: fmt.Sprintf("Default %s.%s to %s", table, column, literal),
		Confidence:  90,
		Actions: []models.FixAction{{
			Kind:            models.ActionWriteMigration,
			Target:          migrationPath(env, "default_"+table+"_"+column),
			NewValue:        fmt.Sprintf("ALTER TABLE %q ALTER COLUMN %q SET DEFAULT %s;", table, column, literal),
			RestartRequired: true,
			Description:     "SET DEFAULT migration",
		}},
		RiskLevel:         models.RiskLow,
		RollbackAvailable: true,
		AutoApply:         true,
	}, nil
}

func buildModelUpgrade(env BuildEnv, rc models.RootCause) (models.FixPlan, error) {
	model, ok := firstMatch(rc.Samples, deprecatedModel)
	if !ok {
		model, ok = env.Settings.String(KeyModel)
	}
	if !ok {
		return models.FixPlan{}, fmt.Errorf("%w: deprecated model not identified", ErrNoParameters)
	}
	replacement, ok := env.Options.ModelReplacements[model]
	if !ok {
		return models.FixPlan{}, fmt.Errorf("%w: no replacement configured for %s", ErrNoParameters, model)
	}

	return models.FixPlan{
		Description: fmt.Sprintf("Switch model %s to %s", model, replacement),
		Confidence:  95,
		Actions: []models.FixAction{
			setAction(env, KeyModel, model, replacement, "Replace decommissioned model"),
		},
		RiskLevel:         models.RiskLow,
		RollbackAvailable: true,
		AutoApply:         true,
	}, nil
}

func buildThrottle(env BuildEnv, _ models.RootCause) (models.FixPlan, error) {
	delay, ok := env.Settings.Float(KeyRequestDelay)
	if !ok {
		delay = defaultRequestDelay
	}

	if delay < pacedDelay {
		next := math.Round(math.Min(delay+delayStep, maxRequestDelay)*10) / 10
		return models.FixPlan{
			Description: fmt.Sprintf("Increase request delay from %.1fs to %.1fs", delay, next),
			Confidence:  92,
			Actions: []models.FixAction{
				setAction(env, KeyRequestDelay, delay, next, "Slow down AI requests"),
			},
			RiskLevel:         models.RiskLow,
			RollbackAvailable: true,
			AutoApply:         true,
		}, nil
	}

	batch := defaultBatchSize
	if v, ok := env.Settings.Float(KeyBatchSize); ok {
		batch = int(v)
	}
	if batch <= reducedBatchSize {
		return models.FixPlan{}, fmt.Errorf("%w: batch size already %d", ErrNoParameters, batch)
	}
	return models.FixPlan{
		Description: fmt.Sprintf("Reduce batch size from %d to %d", batch, reducedBatchSize),
		Confidence:  88,
		Actions: []models.FixAction{
			setAction(env, KeyBatchSize, batch, reducedBatchSize, "Process fewer items per batch"),
		},
		RiskLevel:         models.RiskLow,
		RollbackAvailable: true,
		AutoApply:         true,
	}, nil
}

func buildConnectionTuning(env BuildEnv, _ models.RootCause) (models.FixPlan, error) {
	current, _ := env.Settings.Float(KeyConnectTimeout)
	attempts, _ := env.Settings.Float(KeyRetryAttempts)
	return models.FixPlan{
		Description: "Raise database connect timeout to 30s and retry 3 times",
		Confidence:  90,
		Actions: []models.FixAction{
			setAction(env, KeyConnectTimeout, current, 30, "Increase connection timeout"),
			setAction(env, KeyRetryAttempts, attempts, 3, "Retry transient database failures"),
		},
		RiskLevel:                models.RiskMedium,
		RollbackAvailable:        true,
		AutoApply:                true,
		EstimatedDowntimeSeconds: 10,
	}, nil
}

func buildRetryLogic(env BuildEnv, _ models.RootCause) (models.FixPlan, error) {
	attempts, _ := env.Settings.Float(KeyHTTPRetries)
	return models.FixPlan{
		Description: "Retry outbound HTTP calls 3 times with exponential backoff",
		Confidence:  85,
		Actions: []models.FixAction{
			setAction(env, KeyHTTPRetries, attempts, 3, "Enable retries"),
			setAction(env, KeyHTTPBackoff, nil, []int{1, 2, 4}, "Exponential backoff"),
		},
		RiskLevel:         models.RiskLow,
		RollbackAvailable: true,
		AutoApply:         true,
	}, nil
}

// Import names that differ from their distribution names.
var distributions = map[string]string{
	"yaml":     "PyYAML",
	"cv2":      "opencv-python",
	"sklearn":  "scikit-learn",
	"PIL":      "Pillow",
	"bs4":      "beautifulsoup4",
	"dotenv":   "python-dotenv",
	"jwt":      "PyJWT",
	"psycopg2": "psycopg2-binary",
}

func buildInstallDependency(env BuildEnv, rc models.RootCause) (models.FixPlan, error) {
	module, ok := firstMatch(rc.Samples, missingModule)
	if !ok {
		return models.FixPlan{}, fmt.Errorf("%w: missing module not identified", ErrNoParameters)
	}
	pkg := strings.SplitN(module, ".", 2)[0]
	if dist, ok := distributions[pkg]; ok {
		pkg = dist
	}
	return models.FixPlan{
		Description: fmt.Sprintf("Add %s to %s", pkg, env.Options.RequirementsFile),
		Confidence:  95,
		Actions: []models.FixAction{{
			Kind:            models.ActionAppendRequirement,
			Target:          env.Options.RequirementsFile,
			NewValue:        pkg,
			RestartRequired: true,
			Description:     "Install missing dependency",
		}},
		RiskLevel:         models.RiskLow,
		RollbackAvailable: true,
		AutoApply:         true,
	}, nil
}

func buildCORSOrigin(env BuildEnv, rc models.RootCause) (models.FixPlan, error) {
	origin, ok := firstMatch(rc.Samples, blockedOrigin)
	if !ok {
		return models.FixPlan{}, fmt.Errorf("%w: blocked origin not identified", ErrNoParameters)
	}
	current, _ := env.Settings.Strings(KeyCORSOrigins)
	for _, o := range current {
		if o == origin {
			return models.FixPlan{}, fmt.Errorf("%w: origin %s already allowed", ErrNoParameters, origin)
		}
	}
	next := append(append([]string{}, current...), origin)
	return models.FixPlan{
		Description: fmt.Sprintf("Allow CORS origin %s", origin),
		Confidence:  90,
		Actions: []models.FixAction{
			setAction(env, KeyCORSOrigins, current, next, "Extend CORS allow-list"),
		},
		RiskLevel:         models.RiskLow,
		RollbackAvailable: true,
		AutoApply:         true,
	}, nil
}

func buildDictGet(env BuildEnv, rc models.RootCause) (models.FixPlan, error) {
	key, ok := firstMatch(rc.Samples, missingKey)
	if !ok || len(rc.Locations) == 0 {
		return models.FixPlan{}, fmt.Errorf("%w: key or source location not identified", ErrNoParameters)
	}
	file := rc.Locations[0]
	if i := strings.LastIndex(file, ":"); i > 0 {
		file = file[:i]
	}
	target, ok := containerToApp(env.Options.ContainerRoot, file)
	if !ok {
		return models.FixPlan{}, fmt.Errorf("%w: %s is outside the application", ErrNoParameters, file)
	}

	quoted := regexp.QuoteMeta(key)
	return models.FixPlan{
		Description: fmt.Sprintf("Read key %q with dict.get in %s", key, target),
		Confidence:  80,
		Actions: []models.FixAction{{
			Kind:            models.ActionPatchSource,
			Target:          target,
			Matcher:         `(\w+)\[(['"])` + quoted + `(['"])\]`,
			OldValue:        fmt.Sprintf("x['%s']", key),
			NewValue:        `${1}.get(${2}` + strings.ReplaceAll(key, "$", "$$") + `${3})`,
			RestartRequired: true,
			Description:     "Replace subscript with dict.get",
		}},
		RiskLevel:         models.RiskMedium,
		RollbackAvailable: true,
		AutoApply:         true,
	}, nil
}

func setAction(env BuildEnv, key string, old, next interface{}, description string) models.FixAction {
	return models.FixAction{
		Kind:            models.ActionSetConfig,
		Target:          env.Options.SettingsFile,
		Key:             key,
		OldValue:        yamlValue(old),
		NewValue:        yamlValue(next),
		RestartRequired: true,
		Description:     description,
	}
}

// yamlValue renders v as JSON, which is valid YAML and keeps strings unambiguous.
func yamlValue(v interface{}) string {
	if v == nil {
		return ""
	}
	out, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(out)
}

func migrationPath(env BuildEnv, slug string) string {
	name := fmt.Sprintf("%s_selfheal_%s.sql", env.Now.UTC().Format("20060102150405"), strings.ToLower(slug))
	return path.Join(env.Options.MigrationsDir, name)
}

func containerToApp(containerRoot, file string) (string, bool) {
	if !strings.HasPrefix(file, "/") {
		return file, true
	}
	root := strings.TrimSuffix(containerRoot, "/") + "/"
	if containerRoot == "" || !strings.HasPrefix(file, root) {
		return "", false
	}
	return strings.TrimPrefix(file, root), true
}

func defaultLiteral(dataType string) string {
	switch strings.ToLower(dataType) {
	case "smallint", "integer", "bigint", "numeric", "real", "double precision":
		return "0"
	case "boolean":
		return "false"
	case "json", "jsonb":
		return "'[]'"
	case "timestamp without time zone", "timestamp with time zone", "date":
		return "now()"
	default:
		return "''"
	}
}

func firstMatch(samples []string, re *regexp.Regexp) (string, bool) {
	for _, s := range samples {
		if m := re.FindStringSubmatch(s); m != nil {
			return m[1], true
		}
	}
	return "", false
}

func firstInt(samples []string, re *regexp.Regexp) (int, bool) {
	raw, ok := firstMatch(samples, re)
	if !ok {
		return 0, false
	}
	var n int
	if _, err := fmt.Sscanf(raw, "%d", &n); err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
