package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"civitscraper/pkg/logger"
	"civitscraper/pkg/storage"
)

// FileName is the report written into each output directory.
const FileName = ".civitscraper-report.json"

// currentVersion is bumped when the report layout changes incompatibly.
const currentVersion = 1

// FailedRecord is one image that did not reach disk
type FailedRecord struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	Filename string `json:"filename"`
	Kind     string `json:"kind,omitempty"`
	Reason   string `json:"reason"`
	Attempts int    `json:"attempts"`
}

// Report represents the outcome of one download run
type Report struct {
	Username        string         `json:"username"`
	OutputDir       string         `json:"output_dir"`
	Status          string         `json:"status"`
	Pages           int            `json:"pages"`
	Seen            int            `json:"seen"`
	Downloaded      int            `json:"downloaded"`
	Skipped         int            `json:"skipped"`
	Failed          int            `json:"failed"`
	Bytes           int64          `json:"bytes"`
	Cancelled       bool           `json:"cancelled,omitempty"`
	PaginationError string         `json:"pagination_error,omitempty"`
	OutputError     string         `json:"output_error,omitempty"`
	Failures        []FailedRecord `json:"failures"`
	StartedAt       time.Time      `json:"started_at"`
	FinishedAt      time.Time      `json:"finished_at"`
	DurationSeconds float64        `json:"duration_seconds"`
	Version         int            `json:"version"`
}

// Manager handles report operations for one output directory
type Manager struct {
	reportPath string
	logger     logger.Logger
}

// NewManager creates a report manager writing into outputDir
func NewManager(outputDir string, log logger.Logger) *Manager {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Manager{
		reportPath: filepath.Join(outputDir, FileName),
		logger:     log,
	}
}

// Path returns the report file location
func (m *Manager) Path() string {
	return m.reportPath
}

// Load loads the previous report. It returns nil, nil when there is none.
func (m *Manager) Load() (*Report, error) {
	data, err := os.ReadFile(m.reportPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read report file: %w", err)
	}

	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}
	if r.Version > currentVersion {
		return nil, fmt.Errorf("report version %d is newer than supported version %d", r.Version, currentVersion)
	}

	m.logger.DebugWithFields("Report loaded", map[string]interface{}{
		"username": r.Username,
		"status":   r.Status,
		"failed":   r.Failed,
	})

	return &r, nil
}

// Save writes the report to disk atomically
func (m *Manager) Save(r *Report) error {
	r.Version = currentVersion
	if r.Failures == nil {
		r.Failures = []FailedRecord{}
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	data = append(data, '\n')

	if err := storage.WriteFileAtomic(m.reportPath, data, 0644); err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}

	m.logger.DebugWithFields("Report saved", map[string]interface{}{
		"username": r.Username,
		"path":     m.reportPath,
		"status":   r.Status,
	})

	return nil
}

// Delete removes the report file
func (m *Manager) Delete() error {
	if err := os.Remove(m.reportPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete report: %w", err)
	}
	return nil
}

// Exists checks if a report file exists
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.reportPath)
	return err == nil
}
