// Package backup snapshots files before remediation mutates them and restores them on demand.
package backup

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/miradorstack/mirador-selfheal/internal/models"
	"github.com/miradorstack/mirador-selfheal/internal/utils"
)

const (
	manifestName = "manifest.json"
	filesDir     = "files"
	idLayout     = "20060102-150405.000000"
)

// ErrNotFound is returned when a backup id or its manifest does not exist.
var ErrNotFound = errors.New("backup not found")

// Store keeps one timestamp-named directory per snapshot under root.
type Store struct {
	root   string
	logger *slog.Logger
	now    func() time.Time
	mu     sync.Mutex
}

// NewStore creates the backup root if needed.
func NewStore(root string, logger *slog.Logger) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("backup root not configured")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create backup root: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{root: root, logger: logger, now: time.Now}, nil
}

// Root returns the backup root directory.
func (s *Store) Root() string { return s.root }

// Snapshot copies every listed file into a new backup directory and writes its manifest.
// Files that do not exist yet are recorded as missing so a rollback can remove them.
func (s *Store) Snapshot(files []string, metadata map[string]string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.now().UTC()
	id, dir, err := s.reserveDir(ts)
	if err != nil {
		return "", err
	}

	manifest := models.BackupManifest{
		BackupID:  id,
		Timestamp: ts,
		Metadata:  metadata,
	}
	for _, file := range uniquePaths(files) {
		data, err := os.ReadFile(file)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				manifest.Missing = append(manifest.Missing, file)
				continue
			}
			_ = os.RemoveAll(dir)
			return "", fmt.Errorf("read %s: %w", file, err)
		}
		info, statErr := os.Stat(file)
		mode := fs.FileMode(0o644)
		if statErr == nil {
			mode = info.Mode().Perm()
		}
		copyPath := backupPath(dir, file)
		if err := os.MkdirAll(filepath.Dir(copyPath), 0o755); err != nil {
			_ = os.RemoveAll(dir)
			return "", fmt.Errorf("create backup dir for %s: %w", file, err)
		}
		if err := os.WriteFile(copyPath, data, mode); err != nil {
			_ = os.RemoveAll(dir)
			return "", fmt.Errorf("copy %s: %w", file, err)
		}
		manifest.Files = append(manifest.Files, file)
	}

	payload, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		_ = os.RemoveAll(dir)
		return "", fmt.Errorf("marshal manifest: %w", err)
	}
	if err := utils.WriteFileAtomic(filepath.Join(dir, manifestName), payload, 0o644); err != nil {
		_ = os.RemoveAll(dir)
		return "", fmt.Errorf("write manifest: %w", err)
	}

	s.logger.Info("backup created",
		slog.String("backup_id", id),
		slog.Int("files", len(manifest.Files)),
		slog.Int("missing", len(manifest.Missing)),
	)
	return id, nil
}

// Rollback copies the backed-up files of id over the current files and removes files that
// did not exist at snapshot time. It returns false without touching any file when the id
// or its manifest is missing, or when a backed-up copy is gone.
func (s *Store) Rollback(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	manifest, dir, err := s.load(id)
	if err != nil {
		return false, err
	}

	copies := make(map[string][]byte, len(manifest.Files))
	for _, file := range manifest.Files {
		data, err := os.ReadFile(backupPath(dir, file))
		if err != nil {
			return false, fmt.Errorf("backup %s incomplete, %s: %w", id, file, err)
		}
		copies[file] = data
	}

	var failed []string
	for _, file := range manifest.Files {
		mode := fs.FileMode(0o644)
		if info, err := os.Stat(backupPath(dir, file)); err == nil {
			mode = info.Mode().Perm()
		}
		if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
			failed = append(failed, file)
			s.logger.Error("restore failed", slog.String("path", file), slog.Any("error", err))
			continue
		}
		if err := utils.WriteFileAtomic(file, copies[file], mode); err != nil {
			failed = append(failed, file)
			s.logger.Error("restore failed", slog.String("path", file), slog.Any("error", err))
			continue
		}
		s.logger.Debug("restored file", slog.String("path", file))
	}
	for _, file := range manifest.Missing {
		if err := os.Remove(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			failed = append(failed, file)
			s.logger.Error("remove created file failed", slog.String("path", file), slog.Any("error", err))
		}
	}

	if len(failed) > 0 {
		return false, fmt.Errorf("rollback %s: %d file(s) not restored: %s", id, len(failed), strings.Join(failed, ", "))
	}
	s.logger.Info("rollback complete",
		slog.String("backup_id", id),
		slog.Int("restored", len(manifest.Files)),
		slog.Int("removed", len(manifest.Missing)),
	)
	return true, nil
}

// Get returns the manifest of a backup.
func (s *Store) Get(id string) (models.BackupManifest, error) {
	manifest, _, err := s.load(id)
	return manifest, err
}

// List returns every readable backup, newest first.
func (s *Store) List() ([]models.BackupRef, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list backups: %w", err)
	}

	refs := make([]models.BackupRef, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		manifest, _, err := s.load(entry.Name())
		if err != nil {
			s.logger.Debug("skipping backup dir", slog.String("dir", entry.Name()), slog.Any("error", err))
			continue
		}
		files := append(append([]string(nil), manifest.Files...), manifest.Missing...)
		refs = append(refs, models.BackupRef{ID: manifest.BackupID, Timestamp: manifest.Timestamp, Files: files})
	}

	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Timestamp.Equal(refs[j].Timestamp) {
			return refs[i].ID > refs[j].ID
		}
		return refs[i].Timestamp.After(refs[j].Timestamp)
	})
	return refs, nil
}

func (s *Store) load(id string) (models.BackupManifest, string, error) {
	if !validID(id) {
		return models.BackupManifest{}, "", ErrNotFound
	}
	dir := filepath.Join(s.root, id)
	data, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return models.BackupManifest{}, "", ErrNotFound
		}
		return models.BackupManifest{}, "", fmt.Errorf("read manifest: %w", err)
	}
	var manifest models.BackupManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return models.BackupManifest{}, "", fmt.Errorf("parse manifest %s: %w", id, err)
	}
	if manifest.BackupID == "" {
		manifest.BackupID = id
	}
	return manifest, dir, nil
}

func (s *Store) reserveDir(ts time.Time) (string, string, error) {
	base := ts.Format(idLayout)
	for i := 0; i < 1000; i++ {
		id := base
		if i > 0 {
			id = fmt.Sprintf("%s-%d", base, i)
		}
		dir := filepath.Join(s.root, id)
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			return id, dir, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", "", fmt.Errorf("create backup dir: %w", err)
		}
	}
	return "", "", fmt.Errorf("no free backup id for %s", base)
}

func backupPath(dir, file string) string {
	abs, err := filepath.Abs(file)
	if err != nil {
		abs = file
	}
	rel := strings.TrimLeft(filepath.ToSlash(filepath.Clean(abs)), "/")
	rel = strings.ReplaceAll(rel, ":", "")
	return filepath.Join(dir, filesDir, filepath.FromSlash(rel))
}

func validID(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	return !strings.ContainsAny(id, `/\`)
}

func uniquePaths(files []string) []string {
	seen := make(map[string]struct{}, len(files))
	out := make([]string, 0, len(files))
	for _, f := range files {
		if f == "" {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}
