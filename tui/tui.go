package tui

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

var (
	HasTTY = isatty.IsTerminal(os.Stdout.Fd())

	// Output receives everything the Show* helpers and Table print.
	Output io.Writer = os.Stdout
)
