package install

import (
	"archive/zip"
	"context"
	"crypto/rsa"
	"errors"

	"github.com/rs/zerolog"

	"emberos/recovery/internal/roots"
	"emberos/recovery/internal/ui"
)

// Installer applies one update package. Collaborators are injected so
// tests can run the state machine against fakes.
type Installer struct {
	Roots   roots.Mounter
	KeyFile string
	UI      ui.UI
	Runner  BinaryRunner
	Interp  Interpreter
	Log     zerolog.Logger

	// Verify is the whole-file signature check; defaults to VerifyFile.
	Verify func(path string, keys []*rsa.PublicKey) error
}

// Install runs mount → keys → verify → dispatch on the package at
// rootPath ("CACHE:some-update.zip"). It returns exactly one of the
// three terminal statuses. The signature is checked before any entry is
// extracted, so a hostile archive body is never touched untrusted.
func (in *Installer) Install(ctx context.Context, rootPath string) Status {
	in.UI.SetBackground(ui.IconInstalling)
	in.UI.Print("Preparing to install...\n")
	in.UI.ShowIndeterminate()
	in.Log.Info().Str("package", rootPath).Msg("update location")

	if err := in.Roots.EnsureMounted(rootPath); err != nil {
		in.Log.Error().Err(err).Str("package", rootPath).Msg("cannot mount package volume")
		return StatusCorrupt
	}
	path, err := in.Roots.Resolve(rootPath)
	if err != nil {
		in.Log.Error().Err(err).Str("package", rootPath).Msg("bad package path")
		return StatusCorrupt
	}

	keys, err := LoadKeys(in.KeyFile)
	if err != nil {
		in.Log.Error().Err(err).Msg("cannot load trusted keys")
		return StatusCorrupt
	}
	in.Log.Info().Int("keys", len(keys)).Str("file", in.KeyFile).Msg("trusted keys loaded")

	in.UI.Print("Verifying update package...\n")
	in.UI.ShowProgress(verifyProgressFraction, verifyProgressSeconds)

	verify := in.Verify
	if verify == nil {
		verify = VerifyFile
	}
	if err := verify(path, keys); err != nil {
		in.Log.Error().Err(err).Str("path", path).Msg("signature verification failed")
		return StatusCorrupt
	}

	archive, err := zip.OpenReader(path)
	if err != nil {
		in.Log.Error().Err(err).Str("path", path).Msg("cannot open package")
		return StatusCorrupt
	}
	defer archive.Close()

	return in.dispatch(ctx, path, &archive.Reader)
}

// dispatch prefers the native update-binary and falls back to the
// legacy script. The package context is revoked no matter how either
// path ends.
func (in *Installer) dispatch(ctx context.Context, path string, archive *zip.Reader) Status {
	in.UI.Print("Installing update...\n")
	defer in.Interp.Unregister()

	status, err := in.Runner.Run(ctx, path, archive)
	if !errors.Is(err, ErrNoBinary) {
		return status
	}

	entry := findEntry(archive, ScriptEntryName)
	if entry == nil {
		in.Log.Error().Msg("package has neither update-binary nor update-script")
		return StatusCorrupt
	}
	return runScript(ctx, in.Interp, in.Log, path, entry)
}
