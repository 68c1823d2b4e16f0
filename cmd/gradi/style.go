package main

import (
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// palette colours CLI output when the destination is a terminal.
type palette struct {
	ok   *color.Color
	warn *color.Color
	bad  *color.Color
	bold *color.Color
}

func newPalette(w io.Writer) palette {
	p := palette{
		ok:   color.New(color.FgGreen),
		warn: color.New(color.FgYellow),
		bad:  color.New(color.FgRed, color.Bold),
		bold: color.New(color.Bold),
	}
	enabled := shouldColorize(w)
	for _, c := range []*color.Color{p.ok, p.warn, p.bad, p.bold} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func (p palette) state(ready bool) string {
	if ready {
		return p.ok.Sprint("ready")
	}
	return p.bad.Sprint("not ready")
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
