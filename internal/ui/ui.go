// Package ui is the user-feedback collaborator: status text, icons and a
// segmented progress bar. Nothing here affects install correctness.
package ui

// Icon mirrors the background states of the recovery screen.
type Icon int

const (
	IconNone Icon = iota
	IconInstalling
	IconError
)

// UI receives progress and status from the session and installer. The
// update-binary drives the bar in segments: ShowProgress reserves the
// next portion of the bar, SetProgress positions within it.
type UI interface {
	SetBackground(Icon)
	Print(format string, args ...any)
	ShowProgress(portion float64, seconds int)
	SetProgress(frac float64)
	ShowIndeterminate()
	Reset()
	TextVisible() bool
}

// Nop discards all feedback; used when no display is attached and in
// tests.
type Nop struct{}

func (Nop) SetBackground(Icon)        {}
func (Nop) Print(string, ...any)      {}
func (Nop) ShowProgress(float64, int) {}
func (Nop) SetProgress(float64)       {}
func (Nop) ShowIndeterminate()        {}
func (Nop) Reset()                    {}
func (Nop) TextVisible() bool         { return false }
