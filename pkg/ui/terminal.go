package ui

import (
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/term"
)

// ASCII logo for the application
const ASCIILogo = `
    ╔═══════════════════════════════════════════════════════╗
    ║   ██████╗██╗██╗   ██╗██╗████████╗ █████╗ ██╗          ║
    ║  ██╔════╝██║██║   ██║██║╚══██╔══╝██╔══██╗██║          ║
    ║  ██║     ██║██║   ██║██║   ██║   ███████║██║          ║
    ║  ██║     ██║╚██╗ ██╔╝██║   ██║   ██╔══██║██║          ║
    ║  ╚██████╗██║ ╚████╔╝ ██║   ██║   ██║  ██║██║          ║
    ║   ╚═════╝╚═╝  ╚═══╝  ╚═╝   ╚═╝   ╚═╝  ╚═╝╚═╝          ║
    ║          USER IMAGE ARCHIVER - civitscraper           ║
    ╚═══════════════════════════════════════════════════════╝
`

var (
	stateMu  sync.RWMutex
	out      io.Writer = os.Stdout
	quiet    bool
	colorful = term.IsTerminal(int(os.Stdout.Fd()))
)

// SetOutput redirects every Print helper, mainly for tests.
func SetOutput(w io.Writer) {
	stateMu.Lock()
	defer stateMu.Unlock()
	out = w
	if f, ok := w.(*os.File); ok {
		colorful = term.IsTerminal(int(f.Fd()))
	} else {
		colorful = false
	}
}

// Output returns the writer the Print helpers use.
func Output() io.Writer {
	stateMu.RLock()
	defer stateMu.RUnlock()
	return out
}

// SetQuietMode suppresses the logo, info and progress output. Errors are
// still printed.
func SetQuietMode(q bool) {
	stateMu.Lock()
	defer stateMu.Unlock()
	quiet = q
}

// IsQuietMode reports whether quiet mode is on
func IsQuietMode() bool {
	stateMu.RLock()
	defer stateMu.RUnlock()
	return quiet
}

// SetColor forces ANSI colors on or off.
func SetColor(enabled bool) {
	stateMu.Lock()
	defer stateMu.Unlock()
	colorful = enabled
}

// Color functions for terminal output
var (
	Cyan    = colorize("\033[36m%s\033[0m")
	Yellow  = colorize("\033[33m%s\033[0m")
	Red     = colorize("\033[31m%s\033[0m")
	Green   = colorize("\033[32m%s\033[0m")
	Magenta = colorize("\033[35m%s\033[0m")
	Dim     = colorize("\033[2m%s\033[0m")
)

// colorize returns a function that wraps text with ANSI color codes when
// the output is a terminal
func colorize(colorString string) func(string) string {
	return func(text string) string {
		stateMu.RLock()
		enabled := colorful
		stateMu.RUnlock()
		if !enabled {
			return text
		}
		return fmt.Sprintf(colorString, text)
	}
}

// PrintLogo prints the ASCII logo with color
func PrintLogo() {
	if IsQuietMode() {
		return
	}
	fmt.Fprint(Output(), Cyan(ASCIILogo))
}

// PrintError prints an error message in red. It ignores quiet mode.
func PrintError(msg string, args ...interface{}) {
	if len(args) > 0 && fmt.Sprint(args[0]) != "" {
		fmt.Fprintln(Output(), Red(msg+": "+fmt.Sprintf("%v", args[0])))
	} else {
		fmt.Fprintln(Output(), Red(msg))
	}
}

// PrintSuccess prints a success message in green
func PrintSuccess(msg string) {
	if IsQuietMode() {
		return
	}
	fmt.Fprintln(Output(), Green(msg))
}

// PrintInfo prints an info message in cyan
func PrintInfo(label string, value string) {
	if IsQuietMode() {
		return
	}
	fmt.Fprintf(Output(), "%s: %s\n", Cyan(label), Yellow(value))
}

// PrintWarning prints a warning message in yellow
func PrintWarning(msg string, args ...interface{}) {
	if IsQuietMode() {
		return
	}
	if len(args) > 0 && fmt.Sprint(args[0]) != "" {
		fmt.Fprintln(Output(), Yellow(msg+": "+fmt.Sprintf("%v", args[0])))
	} else {
		fmt.Fprintln(Output(), Yellow(msg))
	}
}

// PrintHighlight prints a highlighted message in magenta
func PrintHighlight(msg string) {
	if IsQuietMode() {
		return
	}
	fmt.Fprintln(Output(), Magenta(msg))
}
