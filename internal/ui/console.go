package ui

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

const barResolution = 1000

// Console renders to the recovery console. The overall bar spans the
// whole session; each ShowProgress call claims the next portion of it.
type Console struct {
	bar *progressbar.ProgressBar

	segStart float64 // completed fraction before the current segment
	segSize  float64 // width of the current segment
}

func NewConsole() *Console {
	return &Console{}
}

func (c *Console) SetBackground(icon Icon) {
	switch icon {
	case IconInstalling:
		color.Blue("\n── installing ──")
	case IconError:
		color.Red("\n── error ──")
	}
}

func (c *Console) Print(format string, args ...any) {
	fmt.Printf(format, args...)
}

func (c *Console) ShowProgress(portion float64, seconds int) {
	_ = seconds // the child drives timing; the bar only tracks position
	c.segStart += c.segSize
	c.segSize = portion
	if c.bar == nil {
		c.bar = progressbar.NewOptions(barResolution,
			progressbar.OptionSetWriter(os.Stdout),
			progressbar.OptionSetDescription("applying update"),
			progressbar.OptionClearOnFinish(),
		)
	}
	c.set(0)
}

func (c *Console) SetProgress(frac float64) {
	c.set(frac)
}

func (c *Console) set(frac float64) {
	if c.bar == nil {
		return
	}
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	pos := c.segStart + frac*c.segSize
	_ = c.bar.Set(int(pos * barResolution))
}

func (c *Console) ShowIndeterminate() {
	// No spinner on the recovery console; the status text carries it.
}

func (c *Console) Reset() {
	if c.bar != nil {
		_ = c.bar.Clear()
		c.bar = nil
	}
	c.segStart = 0
	c.segSize = 0
}

func (c *Console) TextVisible() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}
