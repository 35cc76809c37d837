package install

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"emberos/recovery/internal/shell"
)

// ScriptEntryName is the legacy installer script, used when a package
// carries no update-binary.
const ScriptEntryName = "META-INF/com/google/android/update-script"

// Interpreter is the external legacy-script engine. RegisterPackage
// grants it path-relative access into the archive for the duration of
// one run; Unregister revokes it and is called unconditionally.
//
// Exec returns the interpreter's count: 0 on success, or a positive
// number the error locator reuses as an approximate line index.
type Interpreter interface {
	RegisterPackage(pkgPath string) error
	Unregister()
	Exec(ctx context.Context, script string) (int, error)
}

// runScript reads the whole script entry and hands it to the
// interpreter. On a non-zero count N the failing line is re-derived by
// splitting the script text N times; the interpreter conflates its
// return count with a line number, so the location is best-effort only.
func runScript(ctx context.Context, interp Interpreter, log zerolog.Logger,
	pkgPath string, entry *zip.File) Status {

	src, err := entry.Open()
	if err != nil {
		log.Error().Err(err).Msg("cannot open update script")
		return StatusError
	}
	script, err := io.ReadAll(src)
	src.Close()
	if err != nil {
		log.Error().Err(err).Msg("cannot read update script")
		return StatusError
	}
	if len(script) == 0 {
		log.Error().Msg("update script is empty")
		return StatusError
	}

	if err := interp.RegisterPackage(pkgPath); err != nil {
		log.Error().Err(err).Msg("cannot set up script environment")
		return StatusError
	}

	n, err := interp.Exec(ctx, string(script))
	if err != nil {
		log.Error().Err(err).Msg("script interpreter failed")
		return StatusError
	}
	if n != 0 {
		log.Error().Int("line", n).Str("text", scriptLine(string(script), n)).
			Msg("update script aborted (line location approximate)")
		return StatusError
	}
	return StatusSuccess
}

// scriptLine returns the n'th line of the script, 1-based, or a marker
// when n runs past the end.
func scriptLine(script string, n int) string {
	lines := strings.Split(script, "\n")
	if n < 1 || n > len(lines) {
		return "(not found)"
	}
	return lines[n-1]
}

// ExecInterpreter shells out to the system's script engine, feeding the
// script on stdin. The engine's exit code is the count.
type ExecInterpreter struct {
	Command []string // e.g. ["amend", "--stdin"]
	Timeout time.Duration
	Log     zerolog.Logger

	pkgPath string
}

func (e *ExecInterpreter) RegisterPackage(pkgPath string) error {
	e.pkgPath = pkgPath
	return nil
}

func (e *ExecInterpreter) Unregister() {
	e.pkgPath = ""
}

func (e *ExecInterpreter) Exec(ctx context.Context, script string) (int, error) {
	if len(e.Command) == 0 {
		return 0, fmt.Errorf("install: no script interpreter configured")
	}
	timeout := e.Timeout
	if timeout == 0 {
		timeout = 30 * time.Minute
	}
	args := append(append([]string(nil), e.Command[1:]...), e.pkgPath)
	res, err := shell.RunInput(ctx, timeout, strings.NewReader(script), e.Command[0], args...)
	if err != nil && res.Code <= 0 {
		return 0, fmt.Errorf("install: run interpreter: %w", err)
	}
	if len(res.Stderr) > 0 {
		e.Log.Debug().Bytes("stderr", res.Stderr).Msg("interpreter stderr")
	}
	return res.Code, nil
}
