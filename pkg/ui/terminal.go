package ui

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
)

// Logo printed at the start of interactive runs
const Logo = `
 ┌─────────────────────────────────────────────┐
 │  wmharvest · webmaster query stats harvester │
 └─────────────────────────────────────────────┘
`

// Output receives all console output; tests replace it
var Output io.Writer = os.Stdout

var quiet bool

// Color functions for terminal output
var (
	Cyan    = color.New(color.FgCyan).SprintFunc()
	Yellow  = color.New(color.FgYellow).SprintFunc()
	Red     = color.New(color.FgRed).SprintFunc()
	Green   = color.New(color.FgGreen).SprintFunc()
	Magenta = color.New(color.FgMagenta).SprintFunc()
	Dim     = color.New(color.Faint).SprintFunc()
	Bold    = color.New(color.Bold).SprintFunc()
)

// SetNoColor disables colors regardless of terminal detection
func SetNoColor(disabled bool) {
	color.NoColor = disabled
}

// SetQuiet suppresses informational output. Errors and warnings are still printed.
func SetQuiet(q bool) {
	quiet = q
}

// PrintLogo prints the banner
func PrintLogo() {
	if quiet {
		return
	}
	fmt.Fprint(Output, Cyan(Logo))
}

// PrintError prints an error message in red
func PrintError(msg string, args ...interface{}) {
	if len(args) > 0 && fmt.Sprint(args[0]) != "" {
		msg = fmt.Sprintf("%s: %v", msg, args[0])
	}
	fmt.Fprintln(Output, Red(msg))
}

// PrintSuccess prints a success message in green
func PrintSuccess(msg string) {
	if quiet {
		return
	}
	fmt.Fprintln(Output, Green(msg))
}

// PrintInfo prints a label and value
func PrintInfo(label string, value string) {
	if quiet {
		return
	}
	fmt.Fprintf(Output, "%s: %s\n", Cyan(label), Yellow(value))
}

// PrintWarning prints a warning message in yellow
func PrintWarning(msg string, args ...interface{}) {
	if len(args) > 0 && fmt.Sprint(args[0]) != "" {
		msg = fmt.Sprintf("%s: %v", msg, args[0])
	}
	fmt.Fprintln(Output, Yellow(msg))
}

// PrintHighlight prints a highlighted message in magenta
func PrintHighlight(msg string) {
	if quiet {
		return
	}
	fmt.Fprintln(Output, Magenta(msg))
}
