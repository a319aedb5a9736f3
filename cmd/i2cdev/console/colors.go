package console

import (
	"fmt"

	"github.com/fatih/color"
)

// Available ANSI colors
var (
	Yellow = color.New(color.FgYellow).SprintFunc()
	Red    = color.New(color.FgRed).SprintFunc()
	Green  = color.New(color.FgGreen).SprintFunc()
	Cyan   = color.New(color.FgCyan).SprintFunc()
	White  = color.New(color.FgHiWhite).SprintFunc()
	Bold   = color.New(color.Bold).SprintFunc()
)

// Addr renders a peripheral address, highlighted.
func Addr(a byte) string {
	return White(fmt.Sprintf("0x%02x", a))
}

// NoColor disables colored output, e.g. when writing to a pipe.
func NoColor(disabled bool) {
	color.NoColor = disabled
}
