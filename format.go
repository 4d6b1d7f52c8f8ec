package main

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
)

// statusf prints a status message to stderr unless quiet mode is set.
func statusf(format string, args ...any) {
	if !flagQuiet {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// errorf always prints, regardless of quiet mode — used for fatal errors.
func errorf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format, args...)
}

// formatSize returns a human-readable size string (e.g. "1.2 MB").
func formatSize(bytes int64) string {
	return humanize.Bytes(uint64(bytes))
}

// formatTime returns a compact, relative timestamp for display (e.g.
// "3 minutes ago"), falling back to an absolute time for anything older.
func formatTime(t time.Time) string {
	if time.Since(t) < 7*24*time.Hour {
		return humanize.Time(t)
	}

	return t.Format("Jan _2 2006")
}

// stdoutIsTerminal reports whether stdout is an interactive terminal. No
// command calls it; status lines are always appended.
func stdoutIsTerminal() bool {
	return isatty.IsTerminal(os.Stdout.Fd())
}
