// Package bootloader reads and writes the bootloader control block, the
// fixed-layout record in the misc partition that the bootloader and the
// recovery binary use to hand commands to each other across reboots.
package bootloader

import (
	"bytes"
	"errors"
	"fmt"
	"os"
)

// Wire layout of the control block. The bootloader expects exactly these
// sizes at exactly these offsets; changing them bricks the handshake.
const (
	CommandSize  = 32
	StatusSize   = 32
	RecoverySize = 1024

	// MessageSize is the total on-device footprint of the record.
	MessageSize = CommandSize + StatusSize + RecoverySize
)

// Well-known command values.
const (
	CommandBootRecovery = "boot-recovery"
)

// ErrTooLong is returned when a field does not fit its fixed slot. The
// record is never written truncated: a clipped recovery payload would be
// replayed as a different argument list after the next reboot.
var ErrTooLong = errors.New("bootloader: field exceeds control block slot")

// Message is the decoded control block.
//
// Command is written by the main system or by recovery ("boot-recovery")
// and consumed by the bootloader. Status is written by the bootloader
// after a firmware flash; recovery only reports it. Recovery is a
// newline-separated buffer: first line "recovery", one argument per
// following line.
type Message struct {
	Command  string
	Status   string
	Recovery string
}

// IsEmpty reports whether the message carries no command at all.
func (m Message) IsEmpty() bool {
	return m.Command == "" && m.Status == "" && m.Recovery == ""
}

// MarshalBinary encodes the message into its fixed on-device layout.
func (m Message) MarshalBinary() ([]byte, error) {
	buf := make([]byte, MessageSize)
	if err := putField(buf[0:CommandSize], m.Command, "command"); err != nil {
		return nil, err
	}
	if err := putField(buf[CommandSize:CommandSize+StatusSize], m.Status, "status"); err != nil {
		return nil, err
	}
	if err := putField(buf[CommandSize+StatusSize:], m.Recovery, "recovery"); err != nil {
		return nil, err
	}
	return buf, nil
}

func putField(slot []byte, s, name string) error {
	// Leave room for the NUL terminator the bootloader relies on.
	if len(s) >= len(slot) {
		return fmt.Errorf("%w: %s is %d bytes, slot holds %d", ErrTooLong, name, len(s), len(slot)-1)
	}
	copy(slot, s)
	return nil
}

// UnmarshalBinary decodes a raw control block. Fields read back from
// erased flash (all 0xFF) decode as empty.
func (m *Message) UnmarshalBinary(b []byte) error {
	if len(b) < MessageSize {
		return fmt.Errorf("bootloader: short control block: %d bytes", len(b))
	}
	m.Command = getField(b[0:CommandSize])
	m.Status = getField(b[CommandSize : CommandSize+StatusSize])
	m.Recovery = getField(b[CommandSize+StatusSize : MessageSize])
	return nil
}

func getField(slot []byte) string {
	if len(slot) > 0 && (slot[0] == 0 || slot[0] == 0xFF) {
		return ""
	}
	if i := bytes.IndexByte(slot, 0); i >= 0 {
		slot = slot[:i]
	}
	return string(slot)
}

// Store is the persistence seam for the control block. Production code
// uses DeviceStore; tests substitute MemStore.
type Store interface {
	Load() (Message, error)
	Save(Message) error
}

// DeviceStore persists the control block at a byte offset inside a raw
// block device (or an ordinary file, which the tests use).
type DeviceStore struct {
	Path   string
	Offset int64
}

func NewDeviceStore(path string, offset int64) *DeviceStore {
	return &DeviceStore{Path: path, Offset: offset}
}

func (s *DeviceStore) Load() (Message, error) {
	var m Message
	f, err := os.Open(s.Path)
	if err != nil {
		return m, fmt.Errorf("bootloader: open %s: %w", s.Path, err)
	}
	defer f.Close()

	buf := make([]byte, MessageSize)
	if _, err := f.ReadAt(buf, s.Offset); err != nil {
		return m, fmt.Errorf("bootloader: read %s@%d: %w", s.Path, s.Offset, err)
	}
	if err := m.UnmarshalBinary(buf); err != nil {
		return m, err
	}
	return m, nil
}

func (s *DeviceStore) Save(m Message) error {
	buf, err := m.MarshalBinary()
	if err != nil {
		return err
	}
	// O_SYNC: the whole point of the record is surviving a power cut
	// immediately after the write.
	f, err := os.OpenFile(s.Path, os.O_WRONLY|os.O_SYNC, 0)
	if err != nil {
		return fmt.Errorf("bootloader: open %s: %w", s.Path, err)
	}
	defer f.Close()

	if _, err := f.WriteAt(buf, s.Offset); err != nil {
		return fmt.Errorf("bootloader: write %s@%d: %w", s.Path, s.Offset, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("bootloader: sync %s: %w", s.Path, err)
	}
	return nil
}

// MemStore is an in-memory Store for tests.
type MemStore struct {
	Message Message
	Writes  int
	LoadErr error
	SaveErr error
}

func (s *MemStore) Load() (Message, error) {
	if s.LoadErr != nil {
		return Message{}, s.LoadErr
	}
	return s.Message, nil
}

func (s *MemStore) Save(m Message) error {
	if s.SaveErr != nil {
		return s.SaveErr
	}
	if _, err := m.MarshalBinary(); err != nil {
		return err
	}
	s.Message = m
	s.Writes++
	return nil
}
