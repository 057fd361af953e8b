package engine

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/miradorstack/mirador-selfheal/internal/models"
)

// ReportJournal appends one JSON run summary per line.
type ReportJournal struct {
	path string
	mu   sync.Mutex
}

// OpenJournal prepares the journal at path.
func OpenJournal(path string) (*ReportJournal, error) {
	if path == "" {
		return nil, fmt.Errorf("report journal path not configured")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	return &ReportJournal{path: path}, nil
}

// Append implements Journal.
func (j *ReportJournal) Append(summary models.RunSummary) error {
	line, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append journal: %w", err)
	}
	return nil
}

// Recent returns up to n of the latest summaries, newest first. Unreadable lines are skipped.
func (j *ReportJournal) Recent(n int) ([]models.RunSummary, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.Open(j.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var all []models.RunSummary
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var s models.RunSummary
		if err := json.Unmarshal(scanner.Bytes(), &s); err != nil {
			continue
		}
		all = append(all, s)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	out := make([]models.RunSummary, 0, n)
	for i := len(all) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, all[i])
	}
	return out, nil
}
