// Package learning keeps the append-only ledger of fix outcomes and recalibrates confidence from it.
package learning

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/miradorstack/mirador-selfheal/internal/models"
)

const (
	defaultSuccessRate = 0.5
	adjustmentSpan     = 20.0
	minConfidence      = 50
	maxConfidence      = 100
)

// Store is a JSONL ledger with one LearningRecord per line. It assumes a single writer.
type Store struct {
	path    string
	logger  *slog.Logger
	now     func() time.Time
	mu      sync.RWMutex
	records []models.LearningRecord
}

// Open loads the ledger at path, creating its directory if needed.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("learning ledger path not configured")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}
	s := &Store{path: path, logger: logger, now: time.Now}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Record appends an outcome. The ledger is never rewritten.
func (s *Store) Record(rec models.LearningRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now().UTC()
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal learning record: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("append ledger: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close ledger: %w", err)
	}
	s.records = append(s.records, rec)

	s.logger.Debug("learning record appended",
		slog.String("issue_type", string(rec.IssueType)),
		slog.String("fix_type", string(rec.FixType)),
		slog.Bool("success", rec.Success),
	)
	return nil
}

// SuccessRate returns the historical success ratio for the pair, or 0.5 without history.
func (s *Store) SuccessRate(issueType models.IssueType, fixType models.FixType) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total, successes := 0, 0
	for _, rec := range s.records {
		if rec.IssueType != issueType || rec.FixType != fixType {
			continue
		}
		total++
		if rec.Success {
			successes++
		}
	}
	if total == 0 {
		return defaultSuccessRate
	}
	return float64(successes) / float64(total)
}

// AdjustConfidence shifts original by up to ±10 points according to history and
// clamps the result to [50,100].
func (s *Store) AdjustConfidence(original int, issueType models.IssueType, fixType models.FixType) int {
	return Adjust(original, s.SuccessRate(issueType, fixType))
}

// Adjust applies the recalibration formula to a known success rate.
func Adjust(original int, successRate float64) int {
	adjusted := int(float64(original) + (successRate-defaultSuccessRate)*adjustmentSpan)
	if adjusted < minConfidence {
		return minConfidence
	}
	if adjusted > maxConfidence {
		return maxConfidence
	}
	return adjusted
}

// Stats aggregates the whole ledger overall and per fix type.
func (s *Store) Stats() models.LearningStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := models.LearningStats{ByFixType: make(map[models.FixType]models.FixTypeStats)}
	for _, rec := range s.records {
		stats.TotalFixes++
		entry := stats.ByFixType[rec.FixType]
		entry.Total++
		if rec.Success {
			stats.Successes++
			entry.Successes++
		}
		stats.ByFixType[rec.FixType] = entry
	}
	if stats.TotalFixes > 0 {
		stats.SuccessRate = float64(stats.Successes) / float64(stats.TotalFixes)
	}
	for fixType, entry := range stats.ByFixType {
		entry.SuccessRate = float64(entry.Successes) / float64(entry.Total)
		stats.ByFixType[fixType] = entry
	}
	return stats
}

// Records returns a copy of every loaded record in ledger order.
func (s *Store) Records() []models.LearningRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.LearningRecord(nil), s.records...)
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read ledger: %w", err)
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec models.LearningRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			s.logger.Warn("skipping corrupt ledger line", slog.Int("line", lineNo), slog.Any("error", err))
			continue
		}
		s.records = append(s.records, rec)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan ledger: %w", err)
	}
	return nil
}
