// Package firmware holds the one firmware image an update may stage for
// flashing, and runs the chained-reboot pass that gets it onto a raw
// partition without ever mixing it with the filesystem wipe.
package firmware

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"emberos/recovery/internal/bootloader"
)

// Pending is a firmware image waiting for its flash reboot.
type Pending struct {
	Type string // partition tag: "hboot", "radio", ...
	Data []byte
}

// ErrAlreadyStaged rejects a second staging request in one session; the
// first request wins.
var ErrAlreadyStaged = errors.New("firmware: an update is already staged")

// Staging holds at most one pending record per session. It takes
// ownership of the buffer on Remember and releases it on Take, whether
// or not the record is ever flashed.
type Staging struct {
	pending *Pending
	log     zerolog.Logger
}

func NewStaging(log zerolog.Logger) *Staging {
	return &Staging{log: log}
}

func (s *Staging) Remember(typ string, data []byte) error {
	if s.pending != nil {
		s.log.Error().Str("type", typ).Str("kept", s.pending.Type).
			Msg("ignoring duplicate firmware update")
		return ErrAlreadyStaged
	}
	s.pending = &Pending{Type: typ, Data: data}
	s.log.Info().Str("type", typ).Int("bytes", len(data)).Msg("firmware update staged")
	return nil
}

func (s *Staging) HasPending() bool { return s.pending != nil }

// Take hands out the record exactly once.
func (s *Staging) Take() *Pending {
	p := s.pending
	s.pending = nil
	return p
}

// Flasher arranges the two-phase flash:
//
//  1. BCB := boot-recovery + --wipe_cache; a crash from here on re-enters
//     recovery and reformats cache.
//  2. image written to the raw partition for its type.
//  3. BCB command := update-<type>, arguments kept; the bootloader flashes
//     on the next boot and hands back boot-recovery + --wipe_cache itself.
//  4. reboot.
type Flasher struct {
	Store   bootloader.Store
	Devices map[string]string // partition tag -> raw device path
	Log     zerolog.Logger
}

// MaybeInstall consumes the staged record, if any. On success it returns
// true and the caller must reboot immediately; the BCB is armed for the
// flash pass.
func (f *Flasher) MaybeInstall(s *Staging) (bool, error) {
	p := s.Take()
	if p == nil {
		return false, nil
	}

	dev, ok := f.Devices[p.Type]
	if !ok {
		f.Log.Error().Str("type", p.Type).Msg("no raw device configured for firmware type")
		return false, fmt.Errorf("firmware: unknown partition type %q", p.Type)
	}

	msg := bootloader.Message{
		Command:  bootloader.CommandBootRecovery,
		Recovery: "recovery\n--wipe_cache\n",
	}
	if err := f.Store.Save(msg); err != nil {
		f.Log.Error().Err(err).Msg("cannot arm control block for firmware pass")
		return false, err
	}

	if err := writeRaw(dev, p.Data); err != nil {
		f.Log.Error().Err(err).Str("device", dev).Msg("cannot stage firmware image")
		return false, err
	}
	f.Log.Info().Str("type", p.Type).Str("device", dev).
		Int("bytes", len(p.Data)).Msg("firmware image staged to raw partition")

	msg.Command = "update-" + p.Type
	if err := f.Store.Save(msg); err != nil {
		f.Log.Error().Err(err).Msg("cannot request firmware flash")
		return false, err
	}
	return true, nil
}

func writeRaw(dev string, data []byte) error {
	f, err := os.OpenFile(dev, os.O_WRONLY|os.O_SYNC, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return err
	}
	return f.Sync()
}
