package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	errs "civitscraper/pkg/errors"
	"civitscraper/pkg/models"
)

// tempSuffix marks in-progress transfers; such files are never final.
const tempSuffix = ".part"

// ErrAlreadyExists is returned by Commit when another writer placed a
// non-empty file at the destination first.
var ErrAlreadyExists = errors.New("destination already exists")

// Manager owns one output directory: skip checks, temp files and the final
// atomic placement of downloaded images.
type Manager struct {
	outputDir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager creates outputDir if needed and verifies it is writable.
// Failure here is fatal for a run and is reported as a filesystem error.
func NewManager(outputDir string) (*Manager, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, errs.Filesystem("create output directory", err)
	}
	if err := checkDir(outputDir); err != nil {
		return nil, err
	}

	return &Manager{
		outputDir: outputDir,
		locks:     make(map[string]*sync.Mutex),
	}, nil
}

// OutputDir returns the output directory path
func (m *Manager) OutputDir() string {
	return m.outputDir
}

// CheckOutputDir reports whether the output directory still exists and is
// writable. It never recreates it.
func (m *Manager) CheckOutputDir() error {
	return checkDir(m.outputDir)
}

func checkDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return errs.Filesystem("stat output directory", err)
	}
	if !info.IsDir() {
		return errs.Filesystem("open output directory", fmt.Errorf("%s is not a directory", dir))
	}

	f, err := os.CreateTemp(dir, ".write-check-*")
	if err != nil {
		return errs.Filesystem("write to output directory", err)
	}
	f.Close()
	os.Remove(f.Name())
	return nil
}

// Path is the final location of rec.
func (m *Manager) Path(rec models.ImageRecord) string {
	return filepath.Join(m.outputDir, rec.Filename)
}

// ShouldSkip reports whether rec is already on disk as a non-empty regular
// file. Zero-length files are treated as absent so they get re-downloaded.
func (m *Manager) ShouldSkip(rec models.ImageRecord) (bool, error) {
	return existsNonEmpty(m.Path(rec))
}

func existsNonEmpty(path string) (bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, errs.Filesystem("stat destination", err)
	}
	if !info.Mode().IsRegular() {
		return false, errs.Filesystem("stat destination", fmt.Errorf("%s exists and is not a regular file", path))
	}
	return info.Size() > 0, nil
}

// CleanStaleParts removes temp files left behind by an interrupted run and
// returns how many were removed.
func (m *Manager) CleanStaleParts() (int, error) {
	entries, err := os.ReadDir(m.outputDir)
	if err != nil {
		return 0, errs.Filesystem("read output directory", err)
	}
	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, ".") || !strings.HasSuffix(name, tempSuffix) {
			continue
		}
		if err := os.Remove(filepath.Join(m.outputDir, name)); err == nil {
			removed++
		}
	}
	return removed, nil
}

// Begin opens a fresh temp file for one transfer attempt of rec.
func (m *Manager) Begin(rec models.ImageRecord) (*PendingFile, error) {
	tmp := filepath.Join(m.outputDir, fmt.Sprintf(".%s.%s%s", rec.Filename, uuid.NewString(), tempSuffix))
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return nil, errs.Filesystem("create temp file", err)
	}
	return &PendingFile{m: m, rec: rec, file: f, tmpPath: tmp}, nil
}

// lockFor returns the mutex serialising placement at one destination.
func (m *Manager) lockFor(path string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[path]
	if !ok {
		l = &sync.Mutex{}
		m.locks[path] = l
	}
	return l
}

// PendingFile is an in-progress transfer. Exactly one of Commit or Discard
// must be called.
type PendingFile struct {
	m       *Manager
	rec     models.ImageRecord
	file    *os.File
	tmpPath string
	written int64
	done    bool
}

// Write appends to the temp file
func (p *PendingFile) Write(b []byte) (int, error) {
	n, err := p.file.Write(b)
	p.written += int64(n)
	return n, err
}

// Written is the number of bytes written so far
func (p *PendingFile) Written() int64 {
	return p.written
}

// TempPath is the temp file location, exposed for tests and logs
func (p *PendingFile) TempPath() string {
	return p.tmpPath
}

// Commit flushes the temp file and renames it to the final name. If a
// non-empty file appeared at the destination meanwhile, the temp file is
// removed and ErrAlreadyExists is returned.
func (p *PendingFile) Commit() error {
	if p.done {
		return fmt.Errorf("pending file for %s already finished", p.rec.Filename)
	}
	p.done = true

	syncErr := p.file.Sync()
	closeErr := p.file.Close()
	if err := errors.Join(syncErr, closeErr); err != nil {
		os.Remove(p.tmpPath)
		return errs.Filesystem("flush temp file", err)
	}

	dest := p.m.Path(p.rec)
	lock := p.m.lockFor(dest)
	lock.Lock()
	defer lock.Unlock()

	exists, err := existsNonEmpty(dest)
	if err != nil {
		os.Remove(p.tmpPath)
		return err
	}
	if exists {
		os.Remove(p.tmpPath)
		return ErrAlreadyExists
	}

	if err := os.Rename(p.tmpPath, dest); err != nil {
		os.Remove(p.tmpPath)
		return errs.Filesystem("rename temp file", err)
	}
	return nil
}

// Discard closes and removes the temp file. Safe to call after Commit.
func (p *PendingFile) Discard() {
	if p.done {
		return
	}
	p.done = true
	p.file.Close()
	os.Remove(p.tmpPath)
}

// WriteFileAtomic writes data to path through a temp file and rename so
// readers never observe a partial file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errs.Filesystem("create directory", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*"+tempSuffix)
	if err != nil {
		return errs.Filesystem("create temp file", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errs.Filesystem("write temp file", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errs.Filesystem("sync temp file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errs.Filesystem("close temp file", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		os.Remove(tmpPath)
		return errs.Filesystem("chmod temp file", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return errs.Filesystem("rename temp file", err)
	}
	return nil
}
