package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"emberos/recovery/internal/bootloader"
	"emberos/recovery/internal/config"
	"emberos/recovery/internal/firmware"
	"emberos/recovery/internal/install"
	"emberos/recovery/internal/logging"
	"emberos/recovery/internal/menu"
	"emberos/recovery/internal/roots"
	"emberos/recovery/internal/session"
	"emberos/recovery/internal/ui"
)

var (
	version = "1.2.0"
	commit  = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "recoveryd",
		Short: "Recovery-mode update orchestrator",
		Long: `recoveryd runs outside the main system: it reads the pending command
from the bootloader control block or the cache command file, installs or
wipes accordingly, and reboots. The session is restartable at any point.`,
		// Argument precedence (command line > control block > command
		// file) is owned by the session, not by the flag parser.
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("recoveryd %s (commit: %s)\n", version, commit)
		},
	}
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, closeLog, err := logging.New(cfg.Level(), cfg.TempLog)
	if err != nil {
		// Keep going: the console still works, only persistence is gone.
		log.Warn().Err(err).Str("path", cfg.TempLog).Msg("cannot open temp log")
	}
	defer closeLog()
	log.Info().Str("version", version).Time("started", time.Now()).Msg("starting recovery")

	store := bootloader.NewDeviceStore(cfg.MiscDevice, cfg.MiscOffset)
	table := roots.NewTable(cfg.Roots, log)
	console := ui.NewConsole()
	staging := firmware.NewStaging(log)

	installer := &install.Installer{
		Roots:   table,
		KeyFile: cfg.KeyFile,
		UI:      console,
		Runner: &install.Runner{
			BinaryPath: cfg.BinaryPath,
			UI:         console,
			Staging:    staging,
			Log:        log,
		},
		Interp: &install.ExecInterpreter{Command: cfg.Interpreter, Log: log},
		Log:    log,
	}

	ctrl := session.New(session.Options{
		Store:     store,
		Roots:     table,
		UI:        console,
		Installer: installer,
		Staging:   staging,
		Flasher: &firmware.Flasher{
			Store:   store,
			Devices: cfg.FirmwareDevices,
			Log:     log,
		},
		Log: log,

		CommandFile: cfg.CommandFile,
		IntentFile:  cfg.IntentFile,
		LogFile:     cfg.LogFile,
		SummaryFile: cfg.SummaryFile,
		TempLog:     cfg.TempLog,
		SDPackage:   cfg.SDPackage,
		MaxArgs:     cfg.MaxArgs,
		MaxArgLen:   cfg.MaxArgLen,
	})

	ctx := context.Background()
	status := ctrl.Execute(ctx, args)
	log.Info().Stringer("status", status).Msg("session finished")

	if status != install.StatusSuccess {
		console.SetBackground(ui.IconError)
	}
	// A failed run holds the operator at the menu instead of rebooting
	// into a half-applied state; with no display it reboots anyway
	// rather than hang invisibly.
	if status != install.StatusSuccess || console.TextVisible() {
		menu.PromptAndWait(ctx, ctrl, console, log)
	}

	return ctrl.FinishAndReboot()
}
