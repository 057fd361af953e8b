package classifier

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"

	"github.com/miradorstack/mirador-selfheal/internal/models"
	"github.com/miradorstack/mirador-selfheal/internal/patterns"
)

const maxSamples = 5

var tracebackFrame = regexp.MustCompile(`File "([^"]+)", line (\d+)`)

// Classifier buckets errors into categories and promotes those crossing their thresholds.
type Classifier struct {
	rules    []Rule
	policies []Policy
	miner    *patterns.Miner
	logger   *slog.Logger
}

// New constructs a classifier. Extra rules, typically from a rule pack, are evaluated
// before the built-in table.
func New(extra []Rule, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	rules := make([]Rule, 0, len(extra)+40)
	rules = append(rules, extra...)
	rules = append(rules, DefaultRules()...)
	return &Classifier{
		rules:    rules,
		policies: DefaultPolicies(),
		miner:    patterns.NewMiner(patterns.MinOccurrences),
		logger:   logger,
	}
}

// Categorize returns the category of the first matching rule, or unknown.
func (c *Classifier) Categorize(e models.Error) models.IssueType {
	for _, rule := range c.rules {
		if rule.Match(e) {
			return rule.Category
		}
	}
	return models.IssueUnknown
}

// Classify categorises every error, mines recurring patterns and builds priority issues.
func (c *Classifier) Classify(errs []models.Error) models.ClassificationResult {
	categories := make(map[models.IssueType]int)
	samples := make(map[models.IssueType][]string)
	locations := make(map[models.IssueType][]string)
	messages := make([]string, 0, len(errs))
	shapes := make(map[string]map[models.IssueType]struct{})

	for _, e := range errs {
		category := c.Categorize(e)
		categories[category]++
		samples[category] = appendSample(samples[category], e.Message)
		locations[category] = appendSample(locations[category], locationOf(e))
		messages = append(messages, e.Message)

		fp := patterns.Fingerprint(e.Message)
		if shapes[fp] == nil {
			shapes[fp] = make(map[models.IssueType]struct{})
		}
		shapes[fp][category] = struct{}{}
	}

	mined := c.miner.Mine(messages)

	issues := make([]models.PriorityIssue, 0)
	prioritised := make(map[models.IssueType]struct{})
	for _, policy := range c.policies {
		count := categories[policy.Category]
		if count <= policy.Threshold {
			continue
		}
		issue := newIssue(policy, count, samples[policy.Category])
		issue.Locations = locations[policy.Category]
		issues = append(issues, issue)
		prioritised[policy.Category] = struct{}{}
	}
	if issue, ok := recurringIssue(mined, shapes, prioritised); ok {
		issues = append(issues, issue)
	}
	sort.SliceStable(issues, func(i, j int) bool {
		return issues[i].Count > issues[j].Count
	})

	fixes := make(map[models.IssueType]models.FixTemplate, len(issues))
	for _, issue := range issues {
		fixes[issue.Type] = TemplateFor(issue.Type)
	}

	if len(issues) > 0 {
		c.logger.Info("classification complete",
			slog.Int("errors", len(errs)),
			slog.Int("categories", len(categories)),
			slog.Int("priority_issues", len(issues)),
		)
	}

	return models.ClassificationResult{
		Categories:     categories,
		Patterns:       mined,
		PriorityIssues: issues,
		SuggestedFixes: fixes,
	}
}

func newIssue(policy Policy, count int, samples []string) models.PriorityIssue {
	return models.PriorityIssue{
		Type:        policy.Category,
		Severity:    policy.Severity,
		Count:       count,
		Confidence:  policy.Confidence,
		FixTypeHint: policy.FixType,
		Description: fmt.Sprintf("%s (%d occurrences)", policy.Description, count),
		Samples:     samples,
	}
}

// recurringIssue folds every pattern above the recurrence threshold into a single issue
// whose count is that of the most frequent pattern. Patterns made only of errors from
// already prioritised categories are covered by those issues and skipped.
func recurringIssue(mined []models.Pattern, shapes map[string]map[models.IssueType]struct{}, prioritised map[models.IssueType]struct{}) (models.PriorityIssue, bool) {
	var samples []string
	top := 0
	for _, p := range mined {
		if p.Count <= recurringPatternPolicy.Threshold || covered(shapes[p.Fingerprint], prioritised) {
			continue
		}
		if p.Count > top {
			top = p.Count
		}
		samples = appendSample(samples, p.Example)
	}
	if top == 0 {
		return models.PriorityIssue{}, false
	}
	return newIssue(recurringPatternPolicy, top, samples), true
}

// locationOf returns the innermost traceback frame in the error's context as path:line.
func locationOf(e models.Error) string {
	location := ""
	for _, line := range e.Context {
		if m := tracebackFrame.FindStringSubmatch(line); m != nil {
			location = m[1] + ":" + m[2]
		}
	}
	return location
}

func covered(categories map[models.IssueType]struct{}, prioritised map[models.IssueType]struct{}) bool {
	if len(categories) == 0 {
		return false
	}
	for category := range categories {
		if _, ok := prioritised[category]; !ok {
			return false
		}
	}
	return true
}

func appendSample(samples []string, msg string) []string {
	if len(samples) >= maxSamples || msg == "" {
		return samples
	}
	for _, s := range samples {
		if s == msg {
			return samples
		}
	}
	return append(samples, msg)
}
