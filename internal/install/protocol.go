package install

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// The update-binary talks to us over a pipe, one command per line:
//
//	progress <frac> <secs>   claim the next <frac> of the bar over <secs>s
//	set_progress <frac>      position within the current segment
//	firmware <type> <path>   stage a firmware image for the flash reboot
//	ui_print <text>          show <text> (bare newline when empty)
//
// Anything else is logged and ignored. A numeric field that does not
// parse is a protocol violation that fails the whole run: a binary
// emitting garbage numbers is broken, and coercing to zero would hide it.

// ErrProtocol marks a fatal violation of the update-binary line protocol.
var ErrProtocol = errors.New("install: update-binary protocol violation")

type commandKind int

const (
	cmdUnknown commandKind = iota
	cmdProgress
	cmdSetProgress
	cmdFirmware
	cmdUIPrint
)

type binaryCommand struct {
	kind commandKind

	fraction float64
	seconds  int

	firmwareType string
	firmwarePath string

	text string // ui_print payload
	raw  string // original line, for logging unknowns
}

func parseBinaryCommand(line string) (binaryCommand, error) {
	line = strings.TrimRight(line, "\r\n")
	name, rest, _ := strings.Cut(line, " ")
	switch name {
	case "progress":
		fields := strings.Fields(rest)
		if len(fields) < 2 {
			return binaryCommand{}, fmt.Errorf("%w: progress needs <frac> <secs>: %q", ErrProtocol, line)
		}
		frac, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return binaryCommand{}, fmt.Errorf("%w: bad fraction %q", ErrProtocol, fields[0])
		}
		secs, err := strconv.Atoi(fields[1])
		if err != nil || secs < 0 {
			return binaryCommand{}, fmt.Errorf("%w: bad seconds %q", ErrProtocol, fields[1])
		}
		return binaryCommand{kind: cmdProgress, fraction: frac, seconds: secs}, nil

	case "set_progress":
		fields := strings.Fields(rest)
		if len(fields) < 1 {
			return binaryCommand{}, fmt.Errorf("%w: set_progress needs <frac>", ErrProtocol)
		}
		frac, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return binaryCommand{}, fmt.Errorf("%w: bad fraction %q", ErrProtocol, fields[0])
		}
		return binaryCommand{kind: cmdSetProgress, fraction: frac}, nil

	case "firmware":
		fields := strings.Fields(rest)
		if len(fields) < 2 {
			// Matches the original: an incomplete firmware line is
			// skipped, not fatal.
			return binaryCommand{kind: cmdUnknown, raw: line}, nil
		}
		return binaryCommand{kind: cmdFirmware, firmwareType: fields[0], firmwarePath: fields[1]}, nil

	case "ui_print":
		return binaryCommand{kind: cmdUIPrint, text: rest}, nil

	default:
		return binaryCommand{kind: cmdUnknown, raw: line}, nil
	}
}
