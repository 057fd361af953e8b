package models

import "time"

// BackupRef describes a stored snapshot.
type BackupRef struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Files     []string  `json:"files"`
}

// BackupManifest is written next to the copied files of every snapshot.
type BackupManifest struct {
	BackupID  string            `json:"backup_id"`
	Timestamp time.Time         `json:"timestamp"`
	Files     []string          `json:"files"`
	Missing   []string          `json:"missing,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}
