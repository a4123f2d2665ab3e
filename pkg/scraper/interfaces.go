package scraper

import (
	"context"
	"io"

	"civitscraper/pkg/civitai"
	"civitscraper/pkg/progress"
)

// ImageClient defines the API operations the scraper needs
type ImageClient interface {
	FetchImages(ctx context.Context, username, cursor string) (*civitai.Page, error)
	Download(ctx context.Context, url string, w io.Writer) (int64, error)
	Authenticated() bool
}

// ProgressReporter renders live progress for one run. Start is called once
// the tracker exists and Finish after every record has an outcome.
type ProgressReporter interface {
	Start(username string, tracker *progress.Tracker)
	Finish(final progress.Snapshot)
}
