package roots

import (
	"testing"

	"github.com/rs/zerolog"
)

func testLogger() zerolog.Logger { return zerolog.Nop() }

func TestSplit(t *testing.T) {
	cases := []struct {
		in        string
		root, rel string
		wantErr   bool
	}{
		{in: "CACHE:recovery/command", root: "CACHE", rel: "recovery/command"},
		{in: "SDCARD:update.zip", root: "SDCARD", rel: "update.zip"},
		{in: "DATA:", root: "DATA", rel: ""},
		{in: "no-colon", wantErr: true},
		{in: ":leading", wantErr: true},
	}
	for _, c := range cases {
		root, rel, err := Split(c.in)
		if c.wantErr {
			if err == nil {
				t.Fatalf("Split(%q): expected error", c.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("Split(%q): %v", c.in, err)
		}
		if root != c.root || rel != c.rel {
			t.Fatalf("Split(%q) = (%q,%q), want (%q,%q)", c.in, root, rel, c.root, c.rel)
		}
	}
}

func TestResolveUnknownRoot(t *testing.T) {
	tbl := NewTable(map[string]Volume{}, testLogger())
	if _, err := tbl.Resolve("CACHE:recovery/log"); err == nil {
		t.Fatalf("expected error for unknown root")
	}
}

func TestResolveKnownRoot(t *testing.T) {
	tbl := NewTable(map[string]Volume{
		"CACHE": {Device: "/dev/block/cache", FSType: "ext4", MountPoint: "/cache"},
	}, testLogger())
	got, err := tbl.Resolve("CACHE:recovery/command")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != "/cache/recovery/command" {
		t.Fatalf("unexpected path %q", got)
	}
	got, err = tbl.Resolve("CACHE:")
	if err != nil {
		t.Fatalf("resolve bare root: %v", err)
	}
	if got != "/cache" {
		t.Fatalf("unexpected mount point %q", got)
	}
}
