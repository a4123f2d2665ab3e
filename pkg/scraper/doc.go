// Package scraper downloads every public image of one Civitai user.
//
// A Run drives three cooperating parts: a pager that walks the user's
// cursor-paginated image listing, a bounded worker pool that transfers
// images into the output directory, and a tracker that counts outcomes.
// Records whose file already exists are skipped without a network request,
// so repeating a run only fetches what is missing.
//
// Usage:
//
//	cfg := config.DefaultConfig()
//	cfg.Output.BaseDirectory = "downloads"
//
//	s, err := scraper.New(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	summary, err := s.Run(ctx, "alice")
//	if summary == nil {
//		log.Fatal(err)
//	}
//	fmt.Println(summary.Status, summary.Downloaded, summary.Failed)
//
// Run statuses:
//
//   - success: every listed record was downloaded or skipped
//   - partial: pagination finished but some records failed
//   - incomplete: pagination stopped early or the run was cancelled
//
// Pagination errors stop fetching new pages but let queued downloads
// finish. Cancelling the context aborts in-flight transfers; no partial
// file is ever left under a final image name.
package scraper
