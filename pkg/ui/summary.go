package ui

import (
	"fmt"

	"civitscraper/pkg/scraper"
)

// maxListedFailures caps how many failed records are printed individually.
const maxListedFailures = 20

// PrintSummary prints the end-of-run report. Failures and the reason a run
// is incomplete are printed even in quiet mode.
func PrintSummary(s *scraper.Summary) {
	w := Output()

	if !IsQuietMode() {
		mark := Green("✓")
		switch s.Status {
		case scraper.StatusPartial:
			mark = Yellow("!")
		case scraper.StatusIncomplete:
			mark = Red("✗")
		}
		fmt.Fprintf(w, "\n%s %s run for @%s\n", mark, s.Status, s.Username)
		fmt.Fprintf(w, "  %s %d downloaded, %d skipped, %d failed of %d listed on %d pages\n",
			Dim("•"), s.Downloaded, s.Skipped, s.Failed, s.Seen, s.Pages)
		fmt.Fprintf(w, "  %s %s in %s\n", Dim("•"), formatBytes(s.Bytes), formatDuration(s.Duration))
		fmt.Fprintf(w, "  %s saved to %s\n", Dim("•"), s.OutputDir)
	}

	switch {
	case s.Cancelled:
		fmt.Fprintln(w, Yellow("Run was cancelled before every image was processed"))
	case s.OutputErr != nil:
		fmt.Fprintln(w, Red("Run stopped: "+s.OutputErr.Error()))
	case s.PaginationErr != nil:
		fmt.Fprintln(w, Red("Pagination stopped early: "+s.PaginationErr.Error()))
	}

	if len(s.Failures) == 0 {
		return
	}
	fmt.Fprintln(w, Red(fmt.Sprintf("Failed images (%d):", len(s.Failures))))
	for i, f := range s.Failures {
		if i == maxListedFailures {
			fmt.Fprintf(w, "  ... and %d more\n", len(s.Failures)-maxListedFailures)
			break
		}
		reason := "unknown"
		if f.Reason != nil {
			reason = f.Reason.Error()
		}
		fmt.Fprintf(w, "  %s %s (%d attempts): %s\n", Red("✗"), f.Record.ID, f.Attempts, reason)
	}
}
