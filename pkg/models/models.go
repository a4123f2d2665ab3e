package models

import (
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"
)

// DefaultExtension is used when the image URL has no usable extension.
const DefaultExtension = ".png"

// maxExtensionLen includes the leading dot.
const maxExtensionLen = 5

// ImageRecord is one validated image listed by the API. Records are treated
// as immutable once built.
type ImageRecord struct {
	ID       string
	URL      string
	Filename string
	// Size is 0 in listings, which carry no byte count. A Downloaded
	// outcome carries a copy with the transferred length.
	Size int64

	Width     int
	Height    int
	Hash      string
	NSFWLevel string
	CreatedAt time.Time
	PostID    int64
	Username  string
	Meta      json.RawMessage
}

// NewImageRecord validates the required fields and derives the filename.
func NewImageRecord(id, rawURL string) (ImageRecord, error) {
	if strings.TrimSpace(id) == "" {
		return ImageRecord{}, fmt.Errorf("image has no id")
	}
	if strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return ImageRecord{}, fmt.Errorf("image id %q is not usable as a file name", id)
	}
	if strings.TrimSpace(rawURL) == "" {
		return ImageRecord{}, fmt.Errorf("image %s has no url", id)
	}
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ImageRecord{}, fmt.Errorf("image %s has invalid url %q", id, rawURL)
	}
	return ImageRecord{
		ID:       id,
		URL:      rawURL,
		Filename: FilenameFor(id, rawURL),
	}, nil
}

// WithSize returns a copy of r carrying size n. r itself is left alone.
func (r ImageRecord) WithSize(n int64) ImageRecord {
	r.Size = n
	return r
}

// FilenameFor derives "<id><ext>" from the extension of the URL path,
// ignoring any query string.
func FilenameFor(id, rawURL string) string {
	return id + ExtensionFor(rawURL)
}

// ExtensionFor returns the lowercase-preserving extension of the URL path,
// or DefaultExtension when it is missing or implausibly long.
func ExtensionFor(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	} else if i := strings.IndexAny(rawURL, "?#"); i >= 0 {
		p = rawURL[:i]
	}
	ext := path.Ext(p)
	if ext == "" || ext == "." || len(ext) > maxExtensionLen {
		return DefaultExtension
	}
	return ext
}

// OutcomeKind is the terminal state of one record.
type OutcomeKind string

const (
	Downloaded OutcomeKind = "downloaded"
	Skipped    OutcomeKind = "skipped"
	Failed     OutcomeKind = "failed"
)

// SkipReason explains a Skipped outcome.
type SkipReason string

const (
	SkipNone          SkipReason = ""
	SkipAlreadyExists SkipReason = "already_exists"
)

// Outcome is produced exactly once for every record the pipeline sees.
type Outcome struct {
	Record     ImageRecord
	Kind       OutcomeKind
	SkipReason SkipReason
	// Reason is set for Failed outcomes
	Reason   error
	Attempts int
	Bytes    int64
	Duration time.Duration
}

// ReasonString renders Reason for reports, empty when there is none.
func (o Outcome) ReasonString() string {
	if o.Reason == nil {
		return ""
	}
	return o.Reason.Error()
}
