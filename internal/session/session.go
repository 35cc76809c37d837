// Package session owns the restart protocol that makes a recovery run
// safe against power loss: resolve the command from exactly one source,
// arm the bootloader control block so an interrupted run restarts with
// the same command, execute, and disarm only once the session reaches a
// terminal state.
package session

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"

	"emberos/recovery/internal/bootloader"
	"emberos/recovery/internal/firmware"
	"emberos/recovery/internal/fsatomic"
	"emberos/recovery/internal/install"
	"emberos/recovery/internal/roots"
	"emberos/recovery/internal/ui"
)

// PackageInstaller is the installer seam; tests substitute a stub.
type PackageInstaller interface {
	Install(ctx context.Context, rootPath string) install.Status
}

// Options wires a Controller.
type Options struct {
	Store     bootloader.Store
	Roots     roots.Mounter
	UI        ui.UI
	Installer PackageInstaller
	Staging   *firmware.Staging
	Flasher   *firmware.Flasher
	Log       zerolog.Logger

	CommandFile string // ROOT:path
	IntentFile  string // ROOT:path
	LogFile     string // ROOT:path
	SummaryFile string // ROOT:path
	TempLog     string
	SDPackage   string // ROOT:path for the menu's sdcard install

	MaxArgs   int
	MaxArgLen int

	// Sync and Reboot default to the real system calls.
	Sync   func()
	Reboot func() error
}

// Controller runs one recovery session.
type Controller struct {
	opt Options
	log zerolog.Logger
	id  uuid.UUID

	start      time.Time
	intent     string
	lastArgs   []string
	lastStatus install.Status
	logOffset  int64
}

func New(opt Options) *Controller {
	if opt.MaxArgs <= 0 {
		opt.MaxArgs = 100
	}
	if opt.MaxArgLen <= 0 {
		opt.MaxArgLen = 4096
	}
	if opt.Sync == nil {
		opt.Sync = func() { unix.Sync() }
	}
	if opt.Reboot == nil {
		opt.Reboot = func() error { return unix.Reboot(unix.LINUX_REBOOT_CMD_RESTART) }
	}
	id := uuid.New()
	return &Controller{
		opt:   opt,
		log:   opt.Log.With().Str("session", id.String()).Logger(),
		id:    id,
		start: time.Now(),
	}
}

// ResolveArgs picks the session arguments from exactly one source, in
// decreasing precedence: the real command line, the control block, the
// command file. Sources are never merged.
func (c *Controller) ResolveArgs(cli []string) []string {
	boot, err := c.opt.Store.Load()
	if err != nil {
		// A zeroed record; the command file may still carry the command.
		c.log.Warn().Err(err).Msg("cannot read bootloader control block")
	}
	if boot.Command != "" {
		c.log.Info().Str("command", boot.Command).Msg("boot command")
	}
	if boot.Status != "" {
		c.log.Info().Str("status", boot.Status).Msg("boot status")
	}

	args := cli
	if len(args) == 0 {
		args = argsFromBootMessage(boot, c.log)
	}
	if len(args) == 0 {
		args = c.argsFromCommandFile()
	}
	return args
}

func argsFromBootMessage(boot bootloader.Message, log zerolog.Logger) []string {
	lines := strings.Split(boot.Recovery, "\n")
	if lines[0] != "recovery" {
		// Not a saved recovery command; noise in the block is only
		// worth a complaint when something is actually there.
		if boot.Recovery != "" {
			log.Error().Str("recovery", truncate(boot.Recovery, 20)).
				Msg("invalid boot message")
		}
		return nil
	}
	var args []string
	for _, l := range lines[1:] {
		if l != "" {
			args = append(args, l)
		}
	}
	log.Info().Msg("got arguments from boot message")
	return args
}

func (c *Controller) argsFromCommandFile() []string {
	if err := c.opt.Roots.EnsureMounted(c.opt.CommandFile); err != nil {
		c.log.Warn().Err(err).Msg("cannot mount command file volume")
		return nil
	}
	path, err := c.opt.Roots.Resolve(c.opt.CommandFile)
	if err != nil {
		c.log.Error().Err(err).Msg("bad command file path")
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			c.log.Warn().Err(err).Str("path", path).Msg("cannot open command file")
		}
		return nil
	}
	defer f.Close()

	var args []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() && len(args) < c.opt.MaxArgs {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		if len(line) > c.opt.MaxArgLen {
			line = line[:c.opt.MaxArgLen]
		}
		args = append(args, line)
	}
	if err := scanner.Err(); err != nil {
		// Best effort: use what was read.
		c.log.Warn().Err(err).Str("path", path).Msg("error reading command file")
	}
	c.log.Info().Str("path", path).Msg("got arguments from command file")
	return args
}

// Arm rewrites the control block so that any reboot from here on
// re-enters recovery with the same arguments. Every operation performed
// after arming must be restartable from scratch.
func (c *Controller) Arm(args []string) error {
	var sb strings.Builder
	sb.WriteString("recovery\n")
	for _, a := range args {
		sb.WriteString(a)
		sb.WriteString("\n")
	}
	msg := bootloader.Message{
		Command:  bootloader.CommandBootRecovery,
		Recovery: sb.String(),
	}
	if err := c.opt.Store.Save(msg); err != nil {
		c.log.Error().Err(err).Msg("cannot arm bootloader control block")
		return err
	}
	return nil
}

// Execute resolves, arms, and runs the requested operation. It returns
// exactly one terminal status; an empty command is an error that drops
// the operator into the menu.
func (c *Controller) Execute(ctx context.Context, cli []string) install.Status {
	args := c.ResolveArgs(cli)
	_ = c.Arm(args) // always, before anything destructive
	c.lastArgs = args
	c.log.Info().Strs("args", args).Msg("command")

	req := ParseRequest(args, c.log)
	c.intent = req.SendIntent

	var status install.Status
	switch {
	case req.UpdatePackage != "":
		status = c.opt.Installer.Install(ctx, req.UpdatePackage)
		if status != install.StatusSuccess {
			c.opt.UI.Print("Installation aborted.\n")
		}
	case req.WipeData:
		status = c.WipeData()
	case req.WipeCache:
		status = c.WipeCache()
	default:
		status = install.StatusError // no command specified
	}
	c.lastStatus = status
	return status
}

// WipeData erases user data and cache. Reformatting is idempotent, so a
// crash mid-wipe re-runs it harmlessly from the armed control block.
func (c *Controller) WipeData() install.Status {
	c.opt.UI.Print("\n-- Wiping data...\n")
	status := install.StatusSuccess
	if c.eraseRoot("DATA") != install.StatusSuccess {
		status = install.StatusError
	}
	if c.eraseRoot("CACHE") != install.StatusSuccess {
		status = install.StatusError
	}
	if status == install.StatusSuccess {
		c.opt.UI.Print("Data wipe complete.\n")
	} else {
		c.opt.UI.Print("Data wipe failed.\n")
	}
	c.lastStatus = status
	return status
}

// WipeCache erases the cache volume only.
func (c *Controller) WipeCache() install.Status {
	c.opt.UI.Print("\n-- Wiping cache...\n")
	status := c.eraseRoot("CACHE")
	if status == install.StatusSuccess {
		c.opt.UI.Print("Cache wipe complete.\n")
	} else {
		c.opt.UI.Print("Cache wipe failed.\n")
	}
	c.lastStatus = status
	return status
}

func (c *Controller) eraseRoot(root string) install.Status {
	c.opt.UI.SetBackground(ui.IconInstalling)
	c.opt.UI.ShowIndeterminate()
	c.opt.UI.Print("Formatting %s...\n", root)
	if err := c.opt.Roots.Format(root); err != nil {
		c.log.Error().Err(err).Str("root", root).Msg("format failed")
		return install.StatusError
	}
	return install.StatusSuccess
}

// InstallFromSD is the menu's "apply sdcard package" action. The block
// is armed with a bare recovery command first, so a crash mid-install
// re-enters recovery (without replaying the install automatically).
func (c *Controller) InstallFromSD(ctx context.Context) install.Status {
	if err := c.opt.Store.Save(bootloader.Message{
		Command:  bootloader.CommandBootRecovery,
		Recovery: "recovery\n",
	}); err != nil {
		c.log.Error().Err(err).Msg("cannot arm bootloader control block")
	}
	c.opt.UI.Print("\nInstall from sdcard...\n")
	status := c.opt.Installer.Install(ctx, c.opt.SDPackage)
	switch {
	case status != install.StatusSuccess:
		c.opt.UI.SetBackground(ui.IconError)
		c.opt.UI.Print("Installation aborted.\n")
	case c.opt.Staging.HasPending():
		c.opt.UI.Print("\nReboot to complete installation.\n")
	default:
		c.opt.UI.Print("\nInstall from sdcard complete.\n")
	}
	c.lastStatus = status
	return status
}

// Finalize returns the device to a normal-boot state. It is idempotent
// and every step is best-effort: report the intent, flush the new part
// of the session log, disarm the control block, drop the command file,
// write the session summary, sync.
func (c *Controller) Finalize(intent string) {
	if intent != "" {
		if path, err := c.resolveOutput(c.opt.IntentFile); err != nil {
			c.log.Error().Err(err).Msg("cannot resolve intent file")
		} else if err := fsatomic.WriteFile(path, []byte(intent), 0o644); err != nil {
			c.log.Error().Err(err).Str("path", path).Msg("cannot write intent")
		}
	}

	c.flushLog()

	if err := c.opt.Store.Save(bootloader.Message{}); err != nil {
		c.log.Error().Err(err).Msg("cannot clear bootloader control block")
	}

	if path, err := c.resolveOutput(c.opt.CommandFile); err == nil {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			c.log.Warn().Err(err).Str("path", path).Msg("cannot remove command file")
		}
	}

	c.writeSummary()
	c.opt.Sync()
}

func (c *Controller) resolveOutput(rootPath string) (string, error) {
	if err := c.opt.Roots.EnsureMounted(rootPath); err != nil {
		return "", err
	}
	return c.opt.Roots.Resolve(rootPath)
}

// flushLog appends lines written since the previous flush to the
// persistent log. The offset makes repeated calls append-only: a crash
// between flushes never duplicates already-flushed lines.
func (c *Controller) flushLog() {
	dst, err := c.resolveOutput(c.opt.LogFile)
	if err != nil {
		c.log.Error().Err(err).Msg("cannot resolve persistent log")
		return
	}
	src, err := os.Open(c.opt.TempLog)
	if err != nil {
		c.log.Error().Err(err).Str("path", c.opt.TempLog).Msg("cannot open temp log")
		return
	}
	defer src.Close()
	if _, err := src.Seek(c.logOffset, io.SeekStart); err != nil {
		c.log.Error().Err(err).Msg("cannot seek temp log")
		return
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		c.log.Error().Err(err).Str("path", dst).Msg("cannot create log directory")
		return
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		c.log.Error().Err(err).Str("path", dst).Msg("cannot open persistent log")
		return
	}
	defer out.Close()

	n, err := io.Copy(out, src)
	if err != nil {
		c.log.Error().Err(err).Msg("error copying log")
	}
	c.logOffset += n
	_ = out.Sync()
}

type summary struct {
	Session  string    `yaml:"session"`
	Args     []string  `yaml:"args"`
	Status   string    `yaml:"status"`
	Started  time.Time `yaml:"started"`
	Duration string    `yaml:"duration"`
}

func (c *Controller) writeSummary() {
	path, err := c.resolveOutput(c.opt.SummaryFile)
	if err != nil {
		return
	}
	b, err := yaml.Marshal(summary{
		Session:  c.id.String(),
		Args:     c.lastArgs,
		Status:   c.lastStatus.String(),
		Started:  c.start.UTC(),
		Duration: time.Since(c.start).Round(time.Second).String(),
	})
	if err != nil {
		return
	}
	if err := fsatomic.WriteFile(path, b, 0o644); err != nil {
		c.log.Warn().Err(err).Str("path", path).Msg("cannot write session summary")
	}
}

// FinishAndReboot is the tail of every session: finalize, then either
// chain into the firmware flash pass or boot the main system.
func (c *Controller) FinishAndReboot() error {
	c.Finalize(c.intent)

	rebooting, err := c.opt.Flasher.MaybeInstall(c.opt.Staging)
	if err != nil {
		c.log.Error().Err(err).Msg("firmware staging failed")
	}
	if rebooting {
		c.opt.UI.Print("Rebooting to flash firmware...\n")
	} else {
		c.opt.UI.Print("Rebooting...\n")
	}
	c.opt.Sync()
	if err := c.opt.Reboot(); err != nil {
		c.log.Error().Err(err).Msg("reboot failed")
		return err
	}
	return nil
}

// Intent returns the intent string carried by the session arguments.
func (c *Controller) Intent() string { return c.intent }

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
