package ui

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// Logger provides color-coded leveled logging on stderr
type Logger struct {
	Verbose bool
	Quiet   bool

	info    *color.Color
	success *color.Color
	warning *color.Color
	errc    *color.Color
	debug   *color.Color
}

// NewLogger creates a new logger. Color is disabled when noColor is set or
// stderr is not a terminal.
func NewLogger(verbose, quiet, noColor bool) *Logger {
	l := &Logger{
		Verbose: verbose,
		Quiet:   quiet,
		info:    color.New(color.FgBlue),
		success: color.New(color.FgGreen),
		warning: color.New(color.FgYellow),
		errc:    color.New(color.FgRed),
		debug:   color.New(color.FgCyan),
	}

	if noColor || !isatty.IsTerminal(os.Stderr.Fd()) {
		for _, c := range []*color.Color{l.info, l.success, l.warning, l.errc, l.debug} {
			c.DisableColor()
		}
	}

	return l
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	if l.Quiet {
		return
	}
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, l.info.Sprint("[INFO] "+msg))
}

// Success logs a success message
func (l *Logger) Success(format string, args ...interface{}) {
	if l.Quiet {
		return
	}
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, l.success.Sprint("[SUCCESS] "+msg))
}

// Warning logs a warning message
func (l *Logger) Warning(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, l.warning.Sprint("[WARNING] "+msg))
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, l.errc.Sprint("[ERROR] "+msg))
}

// Debug logs a debug message (only if verbose is enabled)
func (l *Logger) Debug(format string, args ...interface{}) {
	if !l.Verbose {
		return
	}
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, l.debug.Sprint("[DEBUG] "+msg))
}
