package install

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// keyText builds one key tuple in the dump format, filling the modulus
// and rr arrays with synthetic words.
func keyText(seed uint32) string {
	var b strings.Builder
	b.WriteString("{64,0xc926ad21,{")
	for i := 0; i < 64; i++ {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, "%d", seed+uint32(i))
	}
	b.WriteString("},{")
	for i := 0; i < 64; i++ {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, "%d", int32(-1000)+int32(i))
	}
	b.WriteString("}}")
	return b.String()
}

func writeKeyFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keys")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write keys: %v", err)
	}
	return path
}

func TestLoadKeysSingle(t *testing.T) {
	keys, err := LoadKeys(writeKeyFile(t, keyText(7)))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("expected 1 key, got %d", len(keys))
	}
	if keys[0].E != 3 {
		t.Fatalf("expected exponent 3, got %d", keys[0].E)
	}
	if keys[0].N.BitLen() == 0 {
		t.Fatalf("empty modulus")
	}
}

func TestLoadKeysMultiple(t *testing.T) {
	content := keyText(7) + ",\n" + keyText(90000)
	keys, err := LoadKeys(writeKeyFile(t, content))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(keys))
	}
	if keys[0].N.Cmp(keys[1].N) == 0 {
		t.Fatalf("keys should differ")
	}
}

func TestLoadKeysHexAndNegativeWords(t *testing.T) {
	// The dump format mixes decimal, negative and hex literals.
	content := strings.Replace(keyText(7), "{64,0xc926ad21,{7,", "{64,-927552991,{0x7,", 1)
	if _, err := LoadKeys(writeKeyFile(t, content)); err != nil {
		t.Fatalf("load: %v", err)
	}
}

func TestLoadKeysWrongLengthRejectsWholeFile(t *testing.T) {
	content := strings.Replace(keyText(7), "{64,", "{32,", 1)
	keys, err := LoadKeys(writeKeyFile(t, content))
	if err == nil {
		t.Fatalf("expected error for wrong key length")
	}
	if len(keys) != 0 {
		t.Fatalf("expected zero keys, got %d", len(keys))
	}
}

func TestLoadKeysBadSecondKeyRejectsWholeFile(t *testing.T) {
	content := keyText(7) + ",{64,1,{broken"
	if _, err := LoadKeys(writeKeyFile(t, content)); err == nil {
		t.Fatalf("expected error for trailing garbage")
	}
}

func TestLoadKeysBadSeparator(t *testing.T) {
	content := keyText(7) + ";" + keyText(9)
	if _, err := LoadKeys(writeKeyFile(t, content)); err == nil {
		t.Fatalf("expected error for bad separator")
	}
}

func TestLoadKeysEmptyFile(t *testing.T) {
	if _, err := LoadKeys(writeKeyFile(t, "")); err == nil {
		t.Fatalf("expected error for empty key file")
	}
}

func TestLoadKeysMissingFile(t *testing.T) {
	if _, err := LoadKeys(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Fatalf("expected error for missing key file")
	}
}
