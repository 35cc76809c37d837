// Package menu is the interactive fallback shown after a failed or
// menu-driven session. It stays thin: every action is a session
// operation, and the session is finalized before each prompt so a crash
// while the operator is thinking never replays the previous command.
package menu

import (
	"context"
	"errors"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"
	"github.com/rs/zerolog"

	"emberos/recovery/internal/session"
	"emberos/recovery/internal/ui"
)

const (
	itemReboot    = "reboot system now"
	itemWipeData  = "wipe data/factory reset"
	itemWipeCache = "wipe cache partition"
	itemApplySD   = "apply sdcard:update.zip"
)

// PromptAndWait loops until the operator chooses to reboot. A closed or
// absent terminal ends the loop too, so a headless device is never
// wedged here.
func PromptAndWait(ctx context.Context, c *session.Controller, u ui.UI, log zerolog.Logger) {
	for {
		c.Finalize("")
		u.Reset()

		var choice string
		prompt := &survey.Select{
			Message: "Recovery",
			Options: []string{itemReboot, itemWipeData, itemWipeCache, itemApplySD},
		}
		if err := survey.AskOne(prompt, &choice); err != nil {
			if !errors.Is(err, terminal.InterruptErr) {
				log.Warn().Err(err).Msg("menu unavailable, rebooting")
			}
			return
		}

		switch choice {
		case itemReboot:
			return
		case itemWipeData:
			if confirmWipe() {
				c.WipeData()
			}
		case itemWipeCache:
			c.WipeCache()
		case itemApplySD:
			c.InstallFromSD(ctx)
		}
	}
}

func confirmWipe() bool {
	ok := false
	prompt := &survey.Confirm{
		Message: "Erase all user data? This cannot be undone.",
	}
	if err := survey.AskOne(prompt, &ok); err != nil {
		return false
	}
	return ok
}
