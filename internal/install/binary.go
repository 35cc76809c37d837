package install

import (
	"archive/zip"
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"emberos/recovery/internal/firmware"
	"emberos/recovery/internal/ui"
)

const (
	// BinaryEntryName is where packages embed their native installer.
	BinaryEntryName = "META-INF/com/google/android/update-binary"

	// protocolVersion is argv[1] of the child. Version 2 added
	// PACKAGE: references on firmware lines.
	protocolVersion = "2"

	// Fraction of the bar reserved for signature verification; the
	// child's progress commands scale into the remainder.
	verifyProgressFraction = 0.25
	verifyProgressSeconds  = 60
)

// ErrNoBinary reports that the package has no native installer; the
// caller falls back to the legacy script path.
var ErrNoBinary = errors.New("install: package has no update-binary")

// BinaryRunner executes a package's embedded installer and consumes its
// line protocol.
type BinaryRunner interface {
	Run(ctx context.Context, pkgPath string, archive *zip.Reader) (Status, error)
}

// Runner is the production BinaryRunner: it extracts the binary to a
// fixed temp path, forks it with the pipe write-end as an inherited fd,
// and is the sole reader of the protocol until EOF.
type Runner struct {
	BinaryPath string // extraction target, e.g. /tmp/update-binary
	UI         ui.UI
	Staging    *firmware.Staging
	Log        zerolog.Logger
}

func (r *Runner) Run(ctx context.Context, pkgPath string, archive *zip.Reader) (Status, error) {
	entry := findEntry(archive, BinaryEntryName)
	if entry == nil {
		return StatusCorrupt, ErrNoBinary
	}

	if err := r.extract(entry); err != nil {
		r.Log.Error().Err(err).Str("path", r.BinaryPath).Msg("cannot extract update-binary")
		return StatusError, err
	}

	pipeR, pipeW, err := os.Pipe()
	if err != nil {
		return StatusError, fmt.Errorf("install: pipe: %w", err)
	}

	// ExtraFiles places the write end at fd 3 in the child.
	childFD := 3
	cmd := exec.CommandContext(ctx, r.BinaryPath,
		protocolVersion, strconv.Itoa(childFD), pkgPath)
	cmd.ExtraFiles = []*os.File{pipeW}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		pipeR.Close()
		pipeW.Close()
		r.Log.Error().Err(err).Str("binary", r.BinaryPath).Msg("cannot run update-binary")
		return StatusError, err
	}
	// The parent must not hold the write end open or the read loop
	// would never see EOF.
	pipeW.Close()

	var fwType, fwPath string
	protoErr := r.consume(pipeR, &fwType, &fwPath)
	pipeR.Close()

	waitErr := cmd.Wait()
	if protoErr != nil {
		r.Log.Error().Err(protoErr).Msg("update-binary run failed")
		return StatusError, protoErr
	}
	if waitErr != nil {
		r.Log.Error().Err(waitErr).Str("package", pkgPath).Msg("update-binary exited abnormally")
		return StatusError, fmt.Errorf("install: update-binary: %w", waitErr)
	}

	if fwType != "" {
		if st, err := r.stageFirmware(fwType, fwPath, archive); err != nil {
			return st, err
		}
	}
	return StatusSuccess, nil
}

// consume reads protocol lines until EOF. The first firmware line wins;
// later ones are logged and dropped. A malformed numeric field aborts
// the run.
func (r *Runner) consume(pipe io.Reader, fwType, fwPath *string) error {
	scanner := bufio.NewScanner(pipe)
	for scanner.Scan() {
		cmd, err := parseBinaryCommand(scanner.Text())
		if err != nil {
			return err
		}
		switch cmd.kind {
		case cmdProgress:
			r.UI.ShowProgress(cmd.fraction*(1-verifyProgressFraction), cmd.seconds)
		case cmdSetProgress:
			r.UI.SetProgress(cmd.fraction)
		case cmdFirmware:
			if *fwType != "" {
				r.Log.Error().Str("type", cmd.firmwareType).
					Msg("ignoring duplicate firmware update")
				continue
			}
			*fwType = cmd.firmwareType
			*fwPath = cmd.firmwarePath
		case cmdUIPrint:
			if cmd.text == "" {
				r.UI.Print("\n")
			} else {
				r.UI.Print("%s\n", cmd.text)
			}
		default:
			if cmd.raw != "" {
				r.Log.Error().Str("line", cmd.raw).Msg("unknown update-binary command")
			}
		}
	}
	return scanner.Err()
}

func (r *Runner) extract(entry *zip.File) error {
	// Overwrite any stale copy from a previous run.
	if err := os.Remove(r.BinaryPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	src, err := entry.Open()
	if err != nil {
		return err
	}
	defer src.Close()
	dst, err := os.OpenFile(r.BinaryPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

// stageFirmware resolves the image named on the firmware line. A
// "PACKAGE:" prefix refers to an archive entry; anything else is a
// filesystem path the binary prepared.
func (r *Runner) stageFirmware(typ, path string, archive *zip.Reader) (Status, error) {
	var data []byte
	if name, ok := strings.CutPrefix(path, "PACKAGE:"); ok {
		entry := findEntry(archive, name)
		if entry == nil {
			r.Log.Error().Str("entry", name).Msg("firmware image not in package")
			return StatusError, fmt.Errorf("install: firmware entry %q not found", name)
		}
		src, err := entry.Open()
		if err != nil {
			return StatusError, fmt.Errorf("install: open firmware entry %q: %w", name, err)
		}
		defer src.Close()
		data, err = io.ReadAll(src)
		if err != nil {
			return StatusError, fmt.Errorf("install: read firmware entry %q: %w", name, err)
		}
	} else {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			r.Log.Error().Err(err).Str("path", path).Msg("cannot read firmware image")
			return StatusError, err
		}
	}
	if err := r.Staging.Remember(typ, data); err != nil {
		return StatusError, err
	}
	return StatusSuccess, nil
}

func findEntry(archive *zip.Reader, name string) *zip.File {
	for _, f := range archive.File {
		if f.Name == name {
			return f
		}
	}
	return nil
}
