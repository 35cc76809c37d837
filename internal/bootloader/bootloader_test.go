package bootloader

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestMarshalRoundTrip(t *testing.T) {
	in := Message{
		Command:  CommandBootRecovery,
		Status:   "OKAY",
		Recovery: "recovery\n--update_package=CACHE:update.zip\n",
	}
	buf, err := in.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if len(buf) != MessageSize {
		t.Fatalf("expected %d bytes, got %d", MessageSize, len(buf))
	}
	var out Message
	if err := out.UnmarshalBinary(buf); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch: %+v != %+v", out, in)
	}
}

func TestMarshalRejectsOversizeFields(t *testing.T) {
	m := Message{Command: strings.Repeat("x", CommandSize)}
	if _, err := m.MarshalBinary(); !errors.Is(err, ErrTooLong) {
		t.Fatalf("expected ErrTooLong for command, got %v", err)
	}
	m = Message{Recovery: strings.Repeat("a", RecoverySize)}
	if _, err := m.MarshalBinary(); !errors.Is(err, ErrTooLong) {
		t.Fatalf("expected ErrTooLong for recovery, got %v", err)
	}
	// One byte under capacity still fits (NUL terminator accounted for).
	m = Message{Recovery: strings.Repeat("a", RecoverySize-1)}
	if _, err := m.MarshalBinary(); err != nil {
		t.Fatalf("expected fit, got %v", err)
	}
}

func TestErasedFlashDecodesEmpty(t *testing.T) {
	buf := bytes.Repeat([]byte{0xFF}, MessageSize)
	var m Message
	if err := m.UnmarshalBinary(buf); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !m.IsEmpty() {
		t.Fatalf("expected empty message from erased flash, got %+v", m)
	}
}

func TestDeviceStoreAtOffset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "misc")
	// Simulate a misc partition larger than the record.
	if err := os.WriteFile(path, make([]byte, 4096), 0o600); err != nil {
		t.Fatalf("seed: %v", err)
	}
	store := NewDeviceStore(path, 2048)

	want := Message{Command: CommandBootRecovery, Recovery: "recovery\n--wipe_data\n"}
	if err := store.Save(want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got != want {
		t.Fatalf("load mismatch: %+v != %+v", got, want)
	}

	// Bytes before the offset stay untouched.
	raw, _ := os.ReadFile(path)
	for i, b := range raw[:2048] {
		if b != 0 {
			t.Fatalf("byte %d before offset modified: %#x", i, b)
		}
	}

	// Disarm: an empty message reads back empty.
	if err := store.Save(Message{}); err != nil {
		t.Fatalf("disarm: %v", err)
	}
	got, err = store.Load()
	if err != nil {
		t.Fatalf("load after disarm: %v", err)
	}
	if !got.IsEmpty() {
		t.Fatalf("expected disarmed block, got %+v", got)
	}
}

func TestDeviceStoreMissingDevice(t *testing.T) {
	store := NewDeviceStore(filepath.Join(t.TempDir(), "absent"), 0)
	if _, err := store.Load(); err == nil {
		t.Fatalf("expected error for missing device")
	}
}
