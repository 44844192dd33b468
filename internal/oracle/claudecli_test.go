package oracle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// fakeCLI writes a shell script that mimics the claude binary.
func fakeCLI(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell fixture not supported on windows")
	}
	path := filepath.Join(t.TempDir(), "claude")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755); err != nil {
		t.Fatalf("write fake cli: %v", err)
	}
	return path
}

func TestAskParsesEnvelope(t *testing.T) {
	bin := fakeCLI(t, `echo '{"result":"MOVE: e4","session_id":"sess-1"}'`)
	c := NewClaudeCLI(bin, "haiku")

	resp, err := c.Ask(context.Background(), Request{Prompt: "go", SystemPrompt: "sys"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if resp.Text != "MOVE: e4" || resp.SessionID != "sess-1" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestAskNonJSONFallsBackToRawText(t *testing.T) {
	bin := fakeCLI(t, `echo 'plain output'`)
	c := NewClaudeCLI(bin, "haiku")

	resp, err := c.Ask(context.Background(), Request{Prompt: "go", SessionID: "keep-me"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if resp.Text != "plain output\n" {
		t.Fatalf("raw text not preserved: %q", resp.Text)
	}
	if resp.SessionID != "keep-me" {
		t.Fatalf("session id not kept: %q", resp.SessionID)
	}
}

func TestAskExitFailureYieldsEmptyText(t *testing.T) {
	bin := fakeCLI(t, `echo boom >&2; exit 1`)
	c := NewClaudeCLI(bin, "haiku")

	resp, err := c.Ask(context.Background(), Request{Prompt: "go", SessionID: "s"})
	if err != nil {
		t.Fatalf("exit failure should not be an error: %v", err)
	}
	if resp.Text != "" || resp.SessionID != "s" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestAskMissingBinary(t *testing.T) {
	c := NewClaudeCLI(filepath.Join(t.TempDir(), "no-such-claude"), "haiku")
	_, err := c.Ask(context.Background(), Request{Prompt: "go"})
	if !errors.Is(err, ErrBinaryNotFound) {
		t.Fatalf("expected ErrBinaryNotFound, got %v", err)
	}
}

func TestAskEmptyPrompt(t *testing.T) {
	c := NewClaudeCLI("claude", "haiku")
	if _, err := c.Ask(context.Background(), Request{}); !errors.Is(err, ErrEmptyPrompt) {
		t.Fatalf("expected ErrEmptyPrompt, got %v", err)
	}
}

func TestAskCanceledContext(t *testing.T) {
	bin := fakeCLI(t, `sleep 5`)
	c := NewClaudeCLI(bin, "haiku")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Ask(ctx, Request{Prompt: "go"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
