package models

import "time"

// LearningRecord is one line of the fix outcome ledger.
type LearningRecord struct {
	Timestamp          time.Time        `json:"timestamp"`
	IssueType          IssueType        `json:"issue_type"`
	FixType            FixType          `json:"fix_type"`
	OriginalConfidence int              `json:"original_confidence"`
	AdjustedConfidence int              `json:"adjusted_confidence,omitempty"`
	Success            bool             `json:"success"`
	ValidationStatus   ValidationStatus `json:"validation_status,omitempty"`
	ErrorCountAfter    int              `json:"error_count_after"`
}

// FixTypeStats aggregates outcomes for one fix type.
type FixTypeStats struct {
	Total       int     `json:"total"`
	Successes   int     `json:"successes"`
	SuccessRate float64 `json:"success_rate"`
}

// LearningStats aggregates the whole ledger.
type LearningStats struct {
	TotalFixes  int                      `json:"total_fixes"`
	Successes   int                      `json:"successes"`
	SuccessRate float64                  `json:"success_rate"`
	ByFixType   map[FixType]FixTypeStats `json:"by_fix_type"`
}
