package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"civitscraper/pkg/auth"
	"civitscraper/pkg/civitai"
	"civitscraper/pkg/config"
	"civitscraper/pkg/logger"
	"civitscraper/pkg/scraper"
	"civitscraper/pkg/ui"
)

// scrapeOptions holds the flags of a download run
type scrapeOptions struct {
	output       string
	concurrent   int
	rateLimit    int
	maxRetries   int
	apiKey       string
	account      string
	nsfw         string
	proxy        string
	metadata     bool
	noUserFolder bool
	logFile      string
}

func newScrapeCmd(g *globalOptions) *cobra.Command {
	o := &scrapeOptions{}
	cmd := &cobra.Command{
		Use:   "scrape <username>",
		Short: "Download all public images of a Civitai user",
		Long: `Download all public images of a Civitai user.

Images are written to <output>/<username>/<id><ext>. Files that already exist
are skipped without contacting the server, so an interrupted or partially
failed run can simply be started again.

An API key is optional. It is taken from, in order:
  - the --api-key flag
  - the CIVITSCRAPER_API_KEY environment variable
  - the --account stored with 'civitscraper auth login' (or the newest one)
  - a civitai_api_key.txt file in the working directory

Exit status is 0 when every image was downloaded or skipped, 2 when some
images failed or the listing could not be read to the end, and 1 when the
run could not start.`,
		Example: `  # Download into ./alice
  civitscraper scrape alice

  # Download into ./images/alice with 8 workers
  civitscraper scrape alice --output ./images --concurrent 8

  # Use a stored account and save a JSON sidecar per image
  civitscraper scrape alice --account main --metadata`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScrape(cmd, g, o, args)
		},
	}
	addScrapeFlags(cmd, o)
	return cmd
}

func addScrapeFlags(cmd *cobra.Command, o *scrapeOptions) {
	f := cmd.Flags()
	f.StringVarP(&o.output, "output", "o", "", "base output directory (default: current directory)")
	f.IntVar(&o.concurrent, "concurrent", 5, "number of concurrent downloads")
	f.IntVar(&o.rateLimit, "rate-limit", 60, "metadata requests per minute")
	f.IntVar(&o.maxRetries, "max-retries", 3, "maximum attempts per request")
	f.StringVar(&o.apiKey, "api-key", "", "Civitai API key")
	f.StringVarP(&o.account, "account", "a", "", "use a specific stored account")
	f.StringVar(&o.nsfw, "nsfw", "", "NSFW filter passed to the API (None, Soft, Mature, X)")
	f.StringVar(&o.proxy, "proxy", "", "proxy URL (http://, https:// or socks5://)")
	f.BoolVar(&o.metadata, "metadata", false, "save a JSON metadata file beside each image")
	f.BoolVar(&o.noUserFolder, "no-user-folder", false, "write images directly into the output directory")
	f.StringVar(&o.logFile, "log-file", "", "also write logs to this file")
}

// commandLineFlags returns only the flags the user actually set
func commandLineFlags(cmd *cobra.Command, g *globalOptions, o *scrapeOptions) map[string]interface{} {
	f := cmd.Flags()
	flags := make(map[string]interface{})
	set := func(name string, value interface{}) {
		if f.Changed(name) {
			flags[name] = value
		}
	}
	set("output", o.output)
	set("concurrent", o.concurrent)
	set("rate-limit", o.rateLimit)
	set("max-retries", o.maxRetries)
	set("api-key", o.apiKey)
	set("nsfw", o.nsfw)
	set("proxy", o.proxy)
	set("metadata", o.metadata)
	set("no-user-folder", o.noUserFolder)
	set("log-file", o.logFile)
	set("log-level", g.logLevel)
	return flags
}

func runScrape(cmd *cobra.Command, g *globalOptions, o *scrapeOptions, args []string) error {
	var username string
	if len(args) > 0 {
		username = args[0]
	} else {
		u, err := promptUsername(cmd.InOrStdin(), cmd.OutOrStdout())
		if err != nil {
			return fatal("failed to read username: %w", err)
		}
		username = u
	}
	username = civitai.SanitizeUsername(username)
	if !civitai.IsValidUsername(username) {
		return fatal("invalid username %q", username)
	}

	cfg, err := config.Load(g.configFile, commandLineFlags(cmd, g, o))
	if err != nil {
		return fatal("failed to load configuration: %w", err)
	}

	// The progress bar owns the terminal unless logs were asked for.
	progressMode := !g.verbose && !g.quiet
	if (progressMode || g.quiet) && !cmd.Flags().Changed("log-level") {
		cfg.Logging.Level = "error"
	}
	if err := logger.Initialize(&cfg.Logging); err != nil {
		return fatal("failed to initialize logger: %w", err)
	}
	log := logger.GetLogger()
	log.WithField("version", version).Info("civitscraper starting")

	creds := credentialManager(log)
	resolved, err := creds.ResolveAPIKey(cfg.API.APIKey, o.account)
	if err != nil {
		ui.PrintInfo("Available accounts", "use 'civitscraper auth list' to see stored accounts")
		return fatal("account %q not found: %w", o.account, err)
	}
	if resolved.Source == auth.SourceFlag && !cmd.Flags().Changed("api-key") {
		resolved.Source = "configuration"
	}
	cfg.API.APIKey = resolved.APIKey

	ui.PrintInfo("Target Profile", username)
	ui.PrintInfo("Credentials", describeCredentials(resolved))
	ui.PrintInfo("Output", cfg.OutputDir(username))

	s, err := scraper.New(cfg)
	if err != nil {
		return fatal("failed to initialize scraper: %w", err)
	}
	if progressMode {
		s.SetProgress(ui.NewProgressDisplay(cmd.OutOrStdout()))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := s.Run(ctx, username)
	if summary == nil {
		log.WithError(err).WithField("username", username).Error("Run could not start")
		return &exitError{code: exitFatal, err: err}
	}

	ui.PrintSummary(summary)
	if summary.Status != scraper.StatusSuccess {
		return &exitError{code: exitIncomplete}
	}
	return nil
}

// credentialManager falls back to the environment and key file when no
// persistent store can be opened.
func credentialManager(log logger.Logger) *auth.Manager {
	m, err := auth.NewManager()
	if err != nil {
		log.WithError(err).Warn("Stored credentials are unavailable")
		return auth.NewManagerWithStores(auth.NewEnvironmentStore(), auth.NewKeyFileStore(auth.DefaultKeyFile))
	}
	return m
}

func describeCredentials(r auth.Resolved) string {
	switch r.Source {
	case auth.SourceAnonymous:
		return "none (anonymous)"
	case auth.SourceAccount:
		return fmt.Sprintf("account %s (%s)", r.Account, auth.MaskKey(r.APIKey))
	default:
		return fmt.Sprintf("%s (%s)", r.Source, auth.MaskKey(r.APIKey))
	}
}

// promptUsername asks for the target user on in.
func promptUsername(in io.Reader, out io.Writer) (string, error) {
	fmt.Fprint(out, "Civitai username: ")
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", errors.New("username is required")
	}
	return line, nil
}
