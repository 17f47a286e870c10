package observability

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

const (
	colorReset    = "\033[0m"
	colorNeonCyan = "\033[96m"
)

const banner = `
             __
  ____  / /________ _/ /
 / __ \/ / ___/ __ '/ /
/ / / / (__  ) /_/ / /
/_/ /_/_/____/\__, /_/
                /_/
`

func termWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 80
	}
	return w
}

// PrintBanner writes the startup banner centered to the terminal width.
// Colors are only used when stdout is a terminal.
func PrintBanner(w io.Writer, tagline string) {
	color, reset := "", ""
	if term.IsTerminal(int(os.Stdout.Fd())) {
		color, reset = colorNeonCyan, colorReset
	}

	width := termWidth()
	lines := strings.Split(banner, "\n")
	lines = append(lines, "", ">> "+tagline+" <<", "")

	for _, l := range lines {
		padding := (width - len(l)) / 2
		if padding < 0 {
			padding = 0
		}
		fmt.Fprintf(w, "%s%s%s%s\n", strings.Repeat(" ", padding), color, l, reset)
	}
}
