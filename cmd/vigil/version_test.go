package main

import (
	"bytes"
	"strings"
	"testing"

	"vigil/internal/version"
)

func TestVersionCommandPrintsVersion(t *testing.T) {
	cmd := newVersionCommand()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)

	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "vigil ") {
		t.Fatalf("expected vigil prefix, got %q", out)
	}
	if !strings.Contains(out, version.Get().Version) {
		t.Fatalf("expected version %q in output %q", version.Get().Version, out)
	}
}
