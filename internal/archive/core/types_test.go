package core

import (
	"errors"
	"testing"
)

func TestCleanKey(t *testing.T) {
	cases := map[string]string{
		"seed/default.json":  "seed/default.json",
		"seed//default.json": "seed/default.json",
		"./backups/001.json": "backups/001.json",
		"a/b/../c.json":      "",
		"/etc/passwd":        "",
		"  ":                 "",
	}
	for in, want := range cases {
		got, err := CleanKey(in)
		if want == "" {
			if !errors.Is(err, ErrInvalidKey) {
				t.Fatalf("%q: expected ErrInvalidKey, got %v", in, err)
			}
			continue
		}
		if err != nil || got != want {
			t.Fatalf("%q: got %q, %v; want %q", in, got, err, want)
		}
	}
}

func TestCloneMetadata(t *testing.T) {
	if CloneMetadata(nil) != nil {
		t.Fatalf("nil metadata should stay nil")
	}
	in := map[string]string{"revision": "3"}
	out := CloneMetadata(in)
	out["revision"] = "4"
	if in["revision"] != "3" {
		t.Fatalf("clone aliases input")
	}
}
