package scraper

import (
	"time"

	errs "civitscraper/pkg/errors"
	"civitscraper/pkg/models"
	"civitscraper/pkg/report"
)

// Status is the overall result of a run.
type Status string

const (
	// StatusSuccess means pagination completed and no record failed.
	StatusSuccess Status = "success"
	// StatusPartial means pagination completed but some records failed.
	StatusPartial Status = "partial"
	// StatusIncomplete means pagination stopped early, the output directory
	// was lost or the run was cancelled.
	StatusIncomplete Status = "incomplete"
)

// FailedRecord is a record that ended as Failed, with its reason.
type FailedRecord struct {
	Record   models.ImageRecord
	Reason   error
	Attempts int
}

// Summary is the final account of a run.
type Summary struct {
	Username   string
	OutputDir  string
	Pages      int
	Seen       int
	Downloaded int
	Skipped    int
	Failed     int
	Bytes      int64
	StartedAt  time.Time
	Duration   time.Duration
	Failures   []FailedRecord

	// PaginationErr is set when listing stopped before the last page
	PaginationErr error

	// OutputErr is set when the output directory was lost mid-run
	OutputErr error

	Cancelled bool
	Status    Status
}

func (s *Summary) resolveStatus() {
	switch {
	case s.PaginationErr != nil || s.OutputErr != nil || s.Cancelled:
		s.Status = StatusIncomplete
	case s.Failed > 0:
		s.Status = StatusPartial
	default:
		s.Status = StatusSuccess
	}
}

// Report converts the summary into its persisted form.
func (s *Summary) Report() *report.Report {
	r := &report.Report{
		Username:        s.Username,
		OutputDir:       s.OutputDir,
		Status:          string(s.Status),
		Pages:           s.Pages,
		Seen:            s.Seen,
		Downloaded:      s.Downloaded,
		Skipped:         s.Skipped,
		Failed:          s.Failed,
		Bytes:           s.Bytes,
		Cancelled:       s.Cancelled,
		StartedAt:       s.StartedAt.UTC(),
		FinishedAt:      s.StartedAt.Add(s.Duration).UTC(),
		DurationSeconds: s.Duration.Seconds(),
	}
	if s.PaginationErr != nil {
		r.PaginationError = s.PaginationErr.Error()
	}
	if s.OutputErr != nil {
		r.OutputError = s.OutputErr.Error()
	}
	for _, f := range s.Failures {
		r.Failures = append(r.Failures, report.FailedRecord{
			ID:       f.Record.ID,
			URL:      f.Record.URL,
			Filename: f.Record.Filename,
			Kind:     string(errs.KindOf(f.Reason)),
			Reason:   f.Reason.Error(),
			Attempts: f.Attempts,
		})
	}
	return r
}
