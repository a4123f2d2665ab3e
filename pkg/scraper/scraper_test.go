package scraper

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civitscraper/internal/testutil"
	"civitscraper/pkg/civitai"
	"civitscraper/pkg/config"
	errs "civitscraper/pkg/errors"
	"civitscraper/pkg/logger"
	"civitscraper/pkg/metadata"
	"civitscraper/pkg/progress"
	"civitscraper/pkg/ratelimit"
	"civitscraper/pkg/report"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Output.BaseDirectory = t.TempDir()
	cfg.Output.WriteReport = true
	cfg.Download.ConcurrentDownloads = 2
	cfg.Download.DownloadTimeout = 300 * time.Millisecond
	cfg.Retry.MaxAttempts = 3
	cfg.Retry.BaseDelay = time.Millisecond
	cfg.Retry.MaxDelay = 5 * time.Millisecond
	cfg.RateLimit.RequestsPerMinute = 0
	return cfg
}

func newTestScraper(t *testing.T, mock *testutil.MockCivitaiServer, cfg *config.Config) *Scraper {
	t.Helper()
	client, err := civitai.NewClient(civitai.Options{
		BaseURL:     mock.URL(),
		PageTimeout: 2 * time.Second,
		Logger:      logger.NewNopLogger(),
	})
	require.NoError(t, err)
	return NewWithClient(cfg, client, logger.NewNopLogger())
}

// addImages registers each name with distinct content and returns page items.
func addImages(mock *testutil.MockCivitaiServer, ids ...string) []testutil.Item {
	var items []testutil.Item
	for _, id := range ids {
		url := mock.AddImage(id+".jpeg", []byte("image-bytes-"+id))
		items = append(items, testutil.Item{ID: id, URL: url})
	}
	return items
}

func partFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var parts []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".part") {
			parts = append(parts, e.Name())
		}
	}
	return parts
}

func assertConsistent(t *testing.T, s *Summary) {
	t.Helper()
	assert.Equal(t, s.Seen, s.Downloaded+s.Skipped+s.Failed, "every seen record needs exactly one outcome")
	assert.Len(t, s.Failures, s.Failed)
}

// alice has 3 pages of 2 images, one already on disk and one whose first
// transfer times out.
func setupAlice(t *testing.T, mock *testutil.MockCivitaiServer, cfg *config.Config) string {
	t.Helper()
	mock.AddPage("", "c1", addImages(mock, "1", "2")...)
	mock.AddPage("c1", "c2", addImages(mock, "3", "4")...)
	mock.AddPage("c2", nil, addImages(mock, "5", "6")...)
	mock.FailImage("4.jpeg", testutil.Fault{Hang: true})

	dir := cfg.OutputDir("alice")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "2.jpeg"), []byte("already here"), 0644))
	return dir
}

func TestRunAliceScenario(t *testing.T) {
	mock := testutil.NewMockCivitaiServer(t)
	cfg := testConfig(t)
	dir := setupAlice(t, mock, cfg)

	s := newTestScraper(t, mock, cfg)
	summary, err := s.Run(context.Background(), "alice")
	require.NoError(t, err)
	require.NotNil(t, summary)

	assert.Equal(t, StatusSuccess, summary.Status)
	assert.Equal(t, 3, summary.Pages)
	assert.Equal(t, 6, summary.Seen)
	assert.Equal(t, 5, summary.Downloaded)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, dir, summary.OutputDir)
	assertConsistent(t, summary)

	assert.Equal(t, 0, mock.ImageCalls("2.jpeg"), "existing file must not be fetched")
	assert.Equal(t, 2, mock.ImageCalls("4.jpeg"), "timed out transfer is retried once")

	for _, id := range []string{"1", "3", "4", "5", "6"} {
		data, err := os.ReadFile(filepath.Join(dir, id+".jpeg"))
		require.NoError(t, err)
		assert.Equal(t, "image-bytes-"+id, string(data))
	}
	data, err := os.ReadFile(filepath.Join(dir, "2.jpeg"))
	require.NoError(t, err)
	assert.Equal(t, "already here", string(data))
	assert.Empty(t, partFiles(t, dir))
}

func TestRunIsIdempotent(t *testing.T) {
	mock := testutil.NewMockCivitaiServer(t)
	cfg := testConfig(t)
	setupAlice(t, mock, cfg)
	s := newTestScraper(t, mock, cfg)

	first, err := s.Run(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, 5, first.Downloaded)

	calls := 0
	for _, id := range []string{"1", "2", "3", "4", "5", "6"} {
		calls += mock.ImageCalls(id + ".jpeg")
	}

	second, err := s.Run(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, second.Status)
	assert.Equal(t, 0, second.Downloaded)
	assert.Equal(t, 6, second.Skipped)

	after := 0
	for _, id := range []string{"1", "2", "3", "4", "5", "6"} {
		after += mock.ImageCalls(id + ".jpeg")
	}
	assert.Equal(t, calls, after, "second run must not transfer anything")
}

func TestRunRepeatedCursorIsIncomplete(t *testing.T) {
	mock := testutil.NewMockCivitaiServer(t)
	cfg := testConfig(t)
	mock.AddPage("", "c1", addImages(mock, "1")...)
	mock.AddPage("c1", "c1", addImages(mock, "2")...)

	summary, err := newTestScraper(t, mock, cfg).Run(context.Background(), "alice")
	require.Error(t, err)
	require.NotNil(t, summary)

	assert.Equal(t, errs.KindPaginationAnomaly, errs.KindOf(err))
	assert.Equal(t, StatusIncomplete, summary.Status)
	assert.Equal(t, errs.KindPaginationAnomaly, errs.KindOf(summary.PaginationErr))
	assert.Equal(t, 2, mock.PageCalls(), "pager must not loop")
	assert.Equal(t, 2, summary.Downloaded)
	assertConsistent(t, summary)
}

func TestRunPageFailureIsIncomplete(t *testing.T) {
	mock := testutil.NewMockCivitaiServer(t)
	cfg := testConfig(t)
	mock.AddPage("", "c1", addImages(mock, "1", "2")...)
	mock.AddPage("c1", nil, addImages(mock, "3")...)
	mock.FailPage("c1",
		testutil.Fault{Status: 503},
		testutil.Fault{Status: 503},
		testutil.Fault{Status: 503},
	)

	summary, err := newTestScraper(t, mock, cfg).Run(context.Background(), "alice")
	require.Error(t, err)
	require.NotNil(t, summary)

	assert.Equal(t, StatusIncomplete, summary.Status)
	assert.Equal(t, errs.KindTransientNetwork, errs.KindOf(summary.PaginationErr))
	assert.Equal(t, 4, mock.PageCalls())
	assert.Equal(t, 2, summary.Seen)
	assert.Equal(t, 2, summary.Downloaded, "files fetched before the failure stay on disk")
	assertConsistent(t, summary)

	r, err := report.NewManager(summary.OutputDir, logger.NewNopLogger()).Load()
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, "incomplete", r.Status)
	assert.NotEmpty(t, r.PaginationError)
}

func TestRunRecordFailuresArePartial(t *testing.T) {
	mock := testutil.NewMockCivitaiServer(t)
	cfg := testConfig(t)
	items := addImages(mock, "1", "2", "3")
	items = append(items, testutil.Item{ID: 4, URL: ""})
	mock.AddPage("", nil, items...)
	mock.FailImage("2.jpeg", testutil.Fault{Status: 404})
	mock.FailImage("3.jpeg", testutil.Fault{Status: 500}, testutil.Fault{Status: 500}, testutil.Fault{Status: 500})

	summary, err := newTestScraper(t, mock, cfg).Run(context.Background(), "alice")
	require.NoError(t, err)

	assert.Equal(t, StatusPartial, summary.Status)
	assert.Equal(t, 4, summary.Seen)
	assert.Equal(t, 1, summary.Downloaded)
	assert.Equal(t, 3, summary.Failed)
	assertConsistent(t, summary)

	byID := make(map[string]FailedRecord)
	for _, f := range summary.Failures {
		byID[f.Record.ID] = f
	}
	assert.Equal(t, 1, byID["2"].Attempts)
	assert.Equal(t, errs.KindPermanentClient, errs.KindOf(byID["2"].Reason))
	assert.Equal(t, 3, byID["3"].Attempts, "transient failures use every attempt")
	assert.Equal(t, errs.KindTransientNetwork, errs.KindOf(byID["3"].Reason))
	assert.Equal(t, 0, byID["4"].Attempts, "rejected items are never attempted")
	assert.Equal(t, errs.KindPermanentClient, errs.KindOf(byID["4"].Reason))

	r, err := report.NewManager(summary.OutputDir, logger.NewNopLogger()).Load()
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, "partial", r.Status)
	assert.Len(t, r.Failures, 3)
	assert.Empty(t, partFiles(t, summary.OutputDir))
}

func TestRunCollisionDownloadsOnce(t *testing.T) {
	mock := testutil.NewMockCivitaiServer(t)
	cfg := testConfig(t)
	first := mock.AddImage("7.jpeg", []byte("first"))
	second := mock.AddImage("7-again.jpeg", []byte("second"))
	mock.AddPage("", nil,
		testutil.Item{ID: 7, URL: first},
		testutil.Item{ID: 7, URL: second},
	)

	summary, err := newTestScraper(t, mock, cfg).Run(context.Background(), "alice")
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, summary.Status)
	assert.Equal(t, 1, summary.Downloaded)
	assert.Equal(t, 1, summary.Skipped)
	assertConsistent(t, summary)

	entries, err := os.ReadDir(summary.OutputDir)
	require.NoError(t, err)
	var images []string
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), ".") {
			images = append(images, e.Name())
		}
	}
	assert.Equal(t, []string{"7.jpeg"}, images)
}

func TestRunCancellation(t *testing.T) {
	mock := testutil.NewMockCivitaiServer(t)
	cfg := testConfig(t)
	cfg.Download.DownloadTimeout = 0
	items := addImages(mock, "1", "2", "3", "4")
	for _, id := range []string{"1", "2", "3", "4"} {
		defer mock.GateImage(id + ".jpeg")()
	}
	mock.AddPage("", nil, items...)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	summary, err := newTestScraper(t, mock, cfg).Run(ctx, "alice")
	require.Error(t, err)
	require.NotNil(t, summary)

	assert.True(t, errs.IsCancelled(err))
	assert.True(t, summary.Cancelled)
	assert.Nil(t, summary.PaginationErr)
	assert.Equal(t, StatusIncomplete, summary.Status)
	assert.Equal(t, 4, summary.Seen)
	assert.Equal(t, 4, summary.Failed)
	assertConsistent(t, summary)
	assert.Empty(t, partFiles(t, summary.OutputDir))
	for _, f := range summary.Failures {
		assert.True(t, errs.IsCancelled(f.Reason), "record %s: %v", f.Record.ID, f.Reason)
	}
}

func TestRunEmptyUser(t *testing.T) {
	mock := testutil.NewMockCivitaiServer(t)
	cfg := testConfig(t)
	mock.AddPage("", nil)

	summary, err := newTestScraper(t, mock, cfg).Run(context.Background(), "@alice/")
	require.NoError(t, err)
	assert.Equal(t, "alice", summary.Username)
	assert.Equal(t, StatusSuccess, summary.Status)
	assert.Equal(t, 0, summary.Seen)
	assert.Equal(t, 1, summary.Pages)
}

func TestRunWritesSidecarMetadata(t *testing.T) {
	mock := testutil.NewMockCivitaiServer(t)
	cfg := testConfig(t)
	cfg.Output.SaveMetadata = true
	mock.AddPage("", nil, addImages(mock, "1", "2")...)

	dir := cfg.OutputDir("alice")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "2.jpeg"), []byte("old"), 0644))

	summary, err := newTestScraper(t, mock, cfg).Run(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, 1, summary.Downloaded)

	meta, err := metadata.Load(filepath.Join(dir, "1.jpeg"))
	require.NoError(t, err)
	assert.Equal(t, "1", meta.ID)
	assert.Equal(t, int64(len("image-bytes-1")), meta.FileSize)
	assert.Equal(t, 512, meta.Width)
	assert.False(t, metadata.Exists(filepath.Join(dir, "2.jpeg")), "skipped files get no sidecar")
}

func TestRunWithoutUserFolders(t *testing.T) {
	mock := testutil.NewMockCivitaiServer(t)
	cfg := testConfig(t)
	cfg.Output.CreateUserFolders = false
	cfg.Output.WriteReport = false
	mock.AddPage("", nil, addImages(mock, "1")...)

	summary, err := newTestScraper(t, mock, cfg).Run(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, cfg.Output.BaseDirectory, summary.OutputDir)
	assert.FileExists(t, filepath.Join(cfg.Output.BaseDirectory, "1.jpeg"))
	assert.NoFileExists(t, filepath.Join(cfg.Output.BaseDirectory, report.FileName))
}

func TestRunRejectsInvalidUsername(t *testing.T) {
	mock := testutil.NewMockCivitaiServer(t)
	summary, err := newTestScraper(t, mock, testConfig(t)).Run(context.Background(), "not a user")
	require.Error(t, err)
	assert.Nil(t, summary)
	assert.Equal(t, 0, mock.PageCalls())
}

func TestRunUnusableOutputDirectory(t *testing.T) {
	mock := testutil.NewMockCivitaiServer(t)
	cfg := testConfig(t)
	blocker := filepath.Join(cfg.Output.BaseDirectory, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))
	cfg.Output.BaseDirectory = blocker

	summary, err := newTestScraper(t, mock, cfg).Run(context.Background(), "alice")
	require.Error(t, err)
	assert.Nil(t, summary)
	assert.Equal(t, errs.KindFilesystem, errs.KindOf(err))
	assert.Equal(t, 0, mock.PageCalls())
}

func TestRunStopsWhenOutputDirectoryDisappears(t *testing.T) {
	mock := testutil.NewMockCivitaiServer(t)
	cfg := testConfig(t)
	cfg.Download.DownloadTimeout = 0
	ids := []string{"1", "2", "3", "4"}
	items := addImages(mock, ids...)
	releases := make(map[string]func())
	for _, id := range ids {
		releases[id] = mock.GateImage(id + ".jpeg")
		defer releases[id]()
	}
	mock.AddPage("", "c1", items[0], items[1])
	mock.AddPage("c1", "c2", items[2], items[3])
	mock.AddPage("c2", nil)
	mock.FailPage("c2", testutil.Fault{Hang: true})

	type result struct {
		summary *Summary
		err     error
	}
	done := make(chan result, 1)
	go func() {
		summary, err := newTestScraper(t, mock, cfg).Run(context.Background(), "alice")
		done <- result{summary, err}
	}()

	// Both workers hold a temp file and the listing waits on the last page.
	require.Eventually(t, func() bool {
		return mock.PageCalls() == 3 && mock.ImageCalls("1.jpeg") == 1 && mock.ImageCalls("2.jpeg") == 1
	}, 5*time.Second, 5*time.Millisecond)

	outputDir := cfg.OutputDir("alice")
	require.NoError(t, os.RemoveAll(outputDir))
	releases["1"]()

	var res result
	select {
	case res = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after the output directory was removed")
	}

	require.Error(t, res.err)
	require.NotNil(t, res.summary)
	assert.Equal(t, errs.KindFilesystem, errs.KindOf(res.err))
	assert.Contains(t, res.err.Error(), "became unusable")

	s := res.summary
	assert.Equal(t, StatusIncomplete, s.Status)
	assert.Error(t, s.OutputErr)
	assert.Nil(t, s.PaginationErr)
	assert.False(t, s.Cancelled)
	assert.Equal(t, 4, s.Seen)
	assert.Equal(t, 0, s.Downloaded)
	assert.Equal(t, 4, s.Failed)
	assertConsistent(t, s)

	kinds := make(map[string]errs.Kind)
	for _, f := range s.Failures {
		kinds[f.Record.ID] = errs.KindOf(f.Reason)
	}
	assert.Equal(t, errs.KindFilesystem, kinds["1"])
	assert.Equal(t, errs.KindCancelled, kinds["2"], "the in-flight transfer is aborted")
	assert.Equal(t, 3, mock.PageCalls(), "no page is fetched after the stop")
	assert.NoDirExists(t, outputDir, "the run must not recreate the directory")
}

func TestDownloadsPerMinute(t *testing.T) {
	assert.Nil(t, downloadsPerMinute(0))
	assert.IsType(t, &ratelimit.SlidingWindow{}, downloadsPerMinute(30))
}

func TestRunCapsDownloadsPerMinute(t *testing.T) {
	mock := testutil.NewMockCivitaiServer(t)
	cfg := testConfig(t)
	cfg.RateLimit.DownloadsPerMinute = 2
	mock.AddPage("", nil, addImages(mock, "1", "2", "3")...)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	summary, err := newTestScraper(t, mock, cfg).Run(ctx, "alice")
	require.Error(t, err)
	assert.True(t, errs.IsCancelled(err))

	assert.Equal(t, 2, summary.Downloaded, "the window admits two transfers per minute")
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 0, mock.ImageCalls("3.jpeg"))
	assertConsistent(t, summary)
}

type recordingReporter struct {
	mu       sync.Mutex
	username string
	tracker  *progress.Tracker
	final    *progress.Snapshot
}

func (r *recordingReporter) Start(username string, tracker *progress.Tracker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.username, r.tracker = username, tracker
}

func (r *recordingReporter) Finish(final progress.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.final = &final
}

func TestRunReportsProgress(t *testing.T) {
	mock := testutil.NewMockCivitaiServer(t)
	cfg := testConfig(t)
	mock.AddPage("", nil, addImages(mock, "1", "2", "3")...)

	rep := &recordingReporter{}
	s := newTestScraper(t, mock, cfg)
	s.SetProgress(rep)

	_, err := s.Run(context.Background(), "alice")
	require.NoError(t, err)

	assert.Equal(t, "alice", rep.username)
	require.NotNil(t, rep.tracker)
	require.NotNil(t, rep.final)
	assert.Equal(t, 3, rep.final.Downloaded)
	assert.Equal(t, rep.final.Seen, rep.final.Completed())
}
