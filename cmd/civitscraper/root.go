package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"

	"github.com/spf13/cobra"

	"civitscraper/pkg/ui"
)

var (
	// Version information
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// Exit codes
const (
	exitOK         = 0
	exitFatal      = 1
	exitIncomplete = 2
)

// globalOptions holds the persistent flags shared by every command
type globalOptions struct {
	configFile string
	logLevel   string
	noColor    bool
	quiet      bool
	verbose    bool
}

// exitError carries a process exit code through cobra. A nil err means the
// command already reported the problem.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

func fatal(format string, args ...interface{}) error {
	return &exitError{code: exitFatal, err: fmt.Errorf(format, args...)}
}

// Execute runs the command line and returns the process exit code.
func Execute(args []string, in io.Reader, out, errOut io.Writer) int {
	ui.SetOutput(out)

	root := newRootCmd()
	root.SetArgs(args)
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)

	err := root.ExecuteContext(context.Background())
	if err == nil {
		return exitOK
	}

	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			ui.PrintError("Error", ee.err.Error())
		}
		return ee.code
	}
	ui.PrintError("Error", err.Error())
	return exitFatal
}

func newRootCmd() *cobra.Command {
	g := &globalOptions{}
	so := &scrapeOptions{}

	rootCmd := &cobra.Command{
		Use:   "civitscraper [username]",
		Short: "Download every public image of a Civitai user",
		Long: `civitscraper downloads all public images of a Civitai user into a local folder.

Features:
  - Cursor-based pagination through the user's image listing
  - Concurrent downloads with a bounded queue
  - Automatic retry with exponential backoff and jitter
  - Skips images already on disk, so interrupted runs can simply be repeated
  - Atomic writes: a partial file never takes a final image name
  - Optional API key stored in the system keychain or an encrypted file

Run without a username to be prompted for one.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			ui.SetQuietMode(g.quiet)
			if g.noColor {
				ui.SetColor(false)
			}

			// Don't show logo for certain commands
			if cmd.Name() != "version" && cmd.Name() != "help" {
				ui.PrintLogo()
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScrape(cmd, g, so, args)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&g.configFile, "config", "c", "", "config file (default is .civitscraper.yaml or $HOME/.config/civitscraper/config.yaml)")
	pf.StringVar(&g.logLevel, "log-level", "info", "log level (debug, info, warn, error, off)")
	pf.BoolVar(&g.noColor, "no-color", false, "disable colored output")
	pf.BoolVarP(&g.quiet, "quiet", "q", false, "suppress all output except errors and failures")
	pf.BoolVarP(&g.verbose, "verbose", "v", false, "show logs instead of the progress bar")

	addScrapeFlags(rootCmd, so)

	rootCmd.SetVersionTemplate(`civitscraper {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	// Disable default completion command
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(
		newScrapeCmd(g),
		newAuthCmd(),
		newConfigCmd(g),
		newVersionCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "civitscraper %s (commit: %s, built: %s)\n", version, gitCommit, buildDate)
			fmt.Fprintf(cmd.OutOrStdout(), "Go Version: %s\nOS/Arch: %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}
