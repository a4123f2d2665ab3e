package scraper_test

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"civitscraper/pkg/config"
	"civitscraper/pkg/scraper"
)

func ExampleScraper_Run() {
	cfg := config.DefaultConfig()
	cfg.Output.BaseDirectory = "downloads"
	cfg.Download.ConcurrentDownloads = 4

	s, err := scraper.New(cfg)
	if err != nil {
		fmt.Printf("Failed to create scraper: %v\n", err)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	summary, err := s.Run(ctx, "example_username")
	if summary == nil {
		fmt.Printf("Run did not start: %v\n", err)
		return
	}

	fmt.Printf("%s: %d downloaded, %d skipped, %d failed\n",
		summary.Status, summary.Downloaded, summary.Skipped, summary.Failed)
}
