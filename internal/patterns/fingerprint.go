// Package patterns groups error messages by a normalised shape and ranks recurring ones.
package patterns

import (
	"regexp"
	"sort"

	"github.com/miradorstack/mirador-selfheal/internal/models"
)

// MaxFingerprintLength bounds a normalised message.
const MaxFingerprintLength = 100

// MinOccurrences is the smallest count at which a shape is reported.
const MinOccurrences = 3

// Order matters: digits are replaced before URLs and paths are collapsed.
var normalisers = []struct {
	re          *regexp.Regexp
	placeholder string
}{
	{regexp.MustCompile(`\d+`), "N"},
	{regexp.MustCompile(`https?://\S+`), "URL"},
	{regexp.MustCompile(`/[/\w\-\.]+`), "PATH"},
}

// Fingerprint normalises a message. It is deterministic and idempotent.
func Fingerprint(message string) string {
	out := message
	for _, n := range normalisers {
		out = n.re.ReplaceAllString(out, n.placeholder)
	}
	if runes := []rune(out); len(runes) > MaxFingerprintLength {
		out = string(runes[:MaxFingerprintLength])
	}
	return out
}

// Miner aggregates messages by fingerprint.
type Miner struct {
	minCount int
}

// NewMiner returns a Miner reporting shapes seen at least minCount times.
func NewMiner(minCount int) *Miner {
	if minCount <= 0 {
		minCount = MinOccurrences
	}
	return &Miner{minCount: minCount}
}

// Mine returns recurring patterns sorted by count descending.
func (m *Miner) Mine(messages []string) []models.Pattern {
	if len(messages) == 0 {
		return nil
	}

	aggregates := make(map[string]*aggregate)
	order := make([]string, 0)
	for _, msg := range messages {
		fp := Fingerprint(msg)
		agg, ok := aggregates[fp]
		if !ok {
			agg = &aggregate{example: msg}
			aggregates[fp] = agg
			order = append(order, fp)
		}
		agg.count++
	}

	patterns := make([]models.Pattern, 0, len(order))
	for _, fp := range order {
		agg := aggregates[fp]
		if agg.count < m.minCount {
			continue
		}
		patterns = append(patterns, models.Pattern{Fingerprint: fp, Count: agg.count, Example: agg.example})
	}

	sort.SliceStable(patterns, func(i, j int) bool {
		return patterns[i].Count > patterns[j].Count
	})
	return patterns
}

type aggregate struct {
	count   int
	example string
}
