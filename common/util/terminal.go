// Package util holds terminal helpers for the command line front end.
package util

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// ANSI color codes
const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorBlue   = "\033[34m"
	ColorCyan   = "\033[36m"
	ColorDim    = "\033[2m"
)

var (
	mu         sync.Mutex
	quietMode  bool
	silentMode bool
	out        io.Writer = os.Stderr
)

// SetQuietMode switches status lines to plain timestamped log lines.
func SetQuietMode(quiet bool) {
	mu.Lock()
	defer mu.Unlock()
	quietMode = quiet
}

// SetSilentMode suppresses all status output, errors included.
func SetSilentMode(silent bool) {
	mu.Lock()
	defer mu.Unlock()
	silentMode = silent
	if silent {
		quietMode = true
	}
}

// IsQuietMode returns true if quiet mode is enabled
func IsQuietMode() bool {
	mu.Lock()
	defer mu.Unlock()
	return quietMode
}

// SetOutput redirects status output. Command results go to stdout; status
// lines default to stderr so the two can be piped apart.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
}

// ShowSuccess displays a success message
func ShowSuccess(message string) {
	show("INFO", ColorBlue, ColorGreen+"✓"+ColorReset, message, false)
}

// ShowInfo displays an info message. Quiet mode drops it.
func ShowInfo(message string) {
	show("INFO", ColorBlue, ColorCyan+"•"+ColorReset, message, true)
}

// ShowWarning displays a warning message
func ShowWarning(message string) {
	show("WARN", ColorYellow, ColorYellow+"⚠"+ColorReset, message, false)
}

// ShowError displays an error message
func ShowError(message string) {
	show("ERROR", ColorRed, ColorRed+"✗"+ColorReset, message, false)
}

func show(level, levelColor, marker, message string, dropWhenQuiet bool) {
	mu.Lock()
	defer mu.Unlock()
	if silentMode || (quietMode && dropWhenQuiet) {
		return
	}
	if quietMode {
		fmt.Fprintf(out, "%s%s%s %s[%s]%s %s\n", ColorDim, time.Now().Format(time.RFC3339), ColorReset,
			levelColor, level, ColorReset, message)
		return
	}
	fmt.Fprintf(out, "  %s %s\n", marker, message)
}
