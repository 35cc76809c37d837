package install

import (
	"archive/zip"
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

// fakeRoots serves ROOT:path lookups out of a temp directory.
type fakeRoots struct {
	dir      string
	mountErr error
	formats  []string
}

func (f *fakeRoots) EnsureMounted(string) error { return f.mountErr }

func (f *fakeRoots) Resolve(rootPath string) (string, error) {
	i := -1
	for j := 0; j < len(rootPath); j++ {
		if rootPath[j] == ':' {
			i = j
			break
		}
	}
	if i <= 0 {
		return "", fmt.Errorf("bad root path %q", rootPath)
	}
	return filepath.Join(f.dir, rootPath[i+1:]), nil
}

func (f *fakeRoots) Format(root string) error {
	f.formats = append(f.formats, root)
	return nil
}

type fakeInterp struct {
	registered   []string
	unregistered int
	count        int
	execErr      error
	script       string
}

func (f *fakeInterp) RegisterPackage(pkg string) error {
	f.registered = append(f.registered, pkg)
	return nil
}
func (f *fakeInterp) Unregister() { f.unregistered++ }
func (f *fakeInterp) Exec(_ context.Context, script string) (int, error) {
	f.script = script
	return f.count, f.execErr
}

type stubRunner struct {
	status Status
	err    error
	calls  int
}

func (s *stubRunner) Run(context.Context, string, *zip.Reader) (Status, error) {
	s.calls++
	return s.status, s.err
}

func okVerify(string, []*rsa.PublicKey) error  { return nil }
func badVerify(string, []*rsa.PublicKey) error { return ErrNoTrustedKey }

func newInstaller(t *testing.T, fr *fakeRoots, runner BinaryRunner, interp Interpreter) *Installer {
	t.Helper()
	return &Installer{
		Roots:   fr,
		KeyFile: writeKeyFile(t, keyText(7)),
		UI:      &recordUI{},
		Runner:  runner,
		Interp:  interp,
		Log:     zerolog.Nop(),
		Verify:  okVerify,
	}
}

func TestInstallMountFailureIsCorrupt(t *testing.T) {
	fr := &fakeRoots{dir: t.TempDir(), mountErr: errors.New("no such device")}
	in := newInstaller(t, fr, &stubRunner{}, &fakeInterp{})
	if got := in.Install(context.Background(), "CACHE:update.zip"); got != StatusCorrupt {
		t.Fatalf("status %v, want corrupt", got)
	}
}

func TestInstallBadKeyFileIsCorrupt(t *testing.T) {
	fr := &fakeRoots{dir: t.TempDir()}
	in := newInstaller(t, fr, &stubRunner{}, &fakeInterp{})
	in.KeyFile = writeKeyFile(t, "{32,1,{1},{1}}")
	if got := in.Install(context.Background(), "CACHE:update.zip"); got != StatusCorrupt {
		t.Fatalf("status %v, want corrupt", got)
	}
}

func TestInstallBadSignatureIsCorrupt(t *testing.T) {
	dir := t.TempDir()
	makeZip(t, dir, map[string][]byte{BinaryEntryName: []byte("#!/bin/sh\n")})
	fr := &fakeRoots{dir: dir}
	runner := &stubRunner{}
	in := newInstaller(t, fr, runner, &fakeInterp{})
	in.Verify = badVerify
	if got := in.Install(context.Background(), "CACHE:update.zip"); got != StatusCorrupt {
		t.Fatalf("status %v, want corrupt", got)
	}
	// The archive must not be dispatched when verification fails.
	if runner.calls != 0 {
		t.Fatalf("runner called %d times after failed verification", runner.calls)
	}
}

func TestInstallUnreadablePackageIsCorrupt(t *testing.T) {
	fr := &fakeRoots{dir: t.TempDir()}
	in := newInstaller(t, fr, &stubRunner{}, &fakeInterp{})
	if got := in.Install(context.Background(), "CACHE:absent.zip"); got != StatusCorrupt {
		t.Fatalf("status %v, want corrupt", got)
	}
}

func TestInstallNativePath(t *testing.T) {
	dir := t.TempDir()
	makeZip(t, dir, map[string][]byte{BinaryEntryName: []byte("#!/bin/sh\n")})
	fr := &fakeRoots{dir: dir}
	interp := &fakeInterp{}
	in := newInstaller(t, fr, &stubRunner{status: StatusSuccess}, interp)
	if got := in.Install(context.Background(), "CACHE:update.zip"); got != StatusSuccess {
		t.Fatalf("status %v, want success", got)
	}
	if interp.unregistered != 1 {
		t.Fatalf("package context not cleaned up: %d", interp.unregistered)
	}
}

func TestInstallNeitherBinaryNorScriptIsCorrupt(t *testing.T) {
	dir := t.TempDir()
	makeZip(t, dir, map[string][]byte{"payload.bin": []byte("x")})
	fr := &fakeRoots{dir: dir}
	interp := &fakeInterp{}
	in := newInstaller(t, fr, &stubRunner{status: StatusCorrupt, err: ErrNoBinary}, interp)
	if got := in.Install(context.Background(), "CACHE:update.zip"); got != StatusCorrupt {
		t.Fatalf("status %v, want corrupt", got)
	}
	if interp.unregistered != 1 {
		t.Fatalf("package context not cleaned up: %d", interp.unregistered)
	}
	if len(fr.formats) != 0 {
		t.Fatalf("no partition may be touched: %v", fr.formats)
	}
}

func TestInstallLegacyScriptSuccess(t *testing.T) {
	dir := t.TempDir()
	script := "assert true\ncopy_dir PACKAGE:system SYSTEM:\n"
	makeZip(t, dir, map[string][]byte{ScriptEntryName: []byte(script)})
	fr := &fakeRoots{dir: dir}
	interp := &fakeInterp{}
	in := newInstaller(t, fr, &stubRunner{status: StatusCorrupt, err: ErrNoBinary}, interp)
	if got := in.Install(context.Background(), "CACHE:update.zip"); got != StatusSuccess {
		t.Fatalf("status %v, want success", got)
	}
	if interp.script != script {
		t.Fatalf("interpreter saw %q", interp.script)
	}
	if len(interp.registered) != 1 {
		t.Fatalf("package root not registered: %v", interp.registered)
	}
	if interp.unregistered != 1 {
		t.Fatalf("package context not cleaned up: %d", interp.unregistered)
	}
}

func TestInstallLegacyScriptFailure(t *testing.T) {
	dir := t.TempDir()
	makeZip(t, dir, map[string][]byte{ScriptEntryName: []byte("assert true\nfail here\n")})
	fr := &fakeRoots{dir: dir}
	interp := &fakeInterp{count: 2}
	in := newInstaller(t, fr, &stubRunner{status: StatusCorrupt, err: ErrNoBinary}, interp)
	if got := in.Install(context.Background(), "CACHE:update.zip"); got != StatusError {
		t.Fatalf("status %v, want error", got)
	}
	if interp.unregistered != 1 {
		t.Fatalf("package context not cleaned up: %d", interp.unregistered)
	}
}
