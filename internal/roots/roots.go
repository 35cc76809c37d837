// Package roots maps logical volume names ("CACHE:", "DATA:", "SDCARD:")
// to devices and mount points, and resolves "ROOT:path" references into
// filesystem paths. Mounting and formatting are delegated to the usual
// system helpers; this package only owns the naming contract.
package roots

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"emberos/recovery/internal/shell"
)

// Mounter is what the session and installer need from the volume layer.
// Tests substitute an in-memory table rooted in a temp directory.
type Mounter interface {
	// EnsureMounted makes the volume behind rootPath reachable.
	EnsureMounted(rootPath string) error
	// Resolve translates "ROOT:relative/path" to an absolute path.
	Resolve(rootPath string) (string, error)
	// Format reformats the named volume, destroying its contents.
	Format(root string) error
}

// Volume describes one mountable root.
type Volume struct {
	Device     string `mapstructure:"device"`
	FSType     string `mapstructure:"fstype"`
	MountPoint string `mapstructure:"mountpoint"`
}

// Split separates "CACHE:recovery/command" into root and relative path.
// The root name alone ("CACHE:") is valid and yields an empty relative.
func Split(rootPath string) (root, rel string, err error) {
	i := strings.IndexByte(rootPath, ':')
	if i <= 0 {
		return "", "", fmt.Errorf("roots: %q is not in ROOT:path form", rootPath)
	}
	return rootPath[:i], rootPath[i+1:], nil
}

const helperTimeout = 2 * time.Minute

// Table is the exec-backed Mounter used on a real device.
type Table struct {
	vols    map[string]Volume
	mounted map[string]bool
	log     zerolog.Logger
}

func NewTable(vols map[string]Volume, log zerolog.Logger) *Table {
	return &Table{vols: vols, mounted: map[string]bool{}, log: log}
}

func (t *Table) volume(root string) (Volume, error) {
	v, ok := t.vols[root]
	if !ok {
		return Volume{}, fmt.Errorf("roots: unknown root %q", root)
	}
	return v, nil
}

func (t *Table) EnsureMounted(rootPath string) error {
	root, _, err := Split(rootPath)
	if err != nil {
		return err
	}
	if t.mounted[root] {
		return nil
	}
	v, err := t.volume(root)
	if err != nil {
		return err
	}
	res, err := shell.Run(context.Background(), helperTimeout,
		"mount", "-t", v.FSType, v.Device, v.MountPoint)
	if err != nil {
		t.log.Error().Err(err).Str("device", v.Device).
			Str("mountpoint", v.MountPoint).Bytes("stderr", res.Stderr).
			Msg("mount failed")
		return fmt.Errorf("roots: mount %s on %s: %w", v.Device, v.MountPoint, err)
	}
	t.mounted[root] = true
	return nil
}

func (t *Table) Resolve(rootPath string) (string, error) {
	root, rel, err := Split(rootPath)
	if err != nil {
		return "", err
	}
	v, err := t.volume(root)
	if err != nil {
		return "", err
	}
	if rel == "" {
		return v.MountPoint, nil
	}
	return v.MountPoint + "/" + rel, nil
}

// Format unmounts the volume if needed and rebuilds its filesystem.
// Reformatting is idempotent, which the arm-then-act restart protocol
// depends on.
func (t *Table) Format(root string) error {
	v, err := t.volume(root)
	if err != nil {
		return err
	}
	if t.mounted[root] {
		if res, err := shell.Run(context.Background(), helperTimeout, "umount", v.MountPoint); err != nil {
			t.log.Error().Err(err).Str("mountpoint", v.MountPoint).
				Bytes("stderr", res.Stderr).Msg("umount failed")
			return fmt.Errorf("roots: umount %s: %w", v.MountPoint, err)
		}
		t.mounted[root] = false
	}
	res, err := shell.Run(context.Background(), helperTimeout, "mkfs."+v.FSType, v.Device)
	if err != nil {
		t.log.Error().Err(err).Str("device", v.Device).
			Bytes("stderr", res.Stderr).Msg("mkfs failed")
		return fmt.Errorf("roots: mkfs.%s %s: %w", v.FSType, v.Device, err)
	}
	return nil
}
