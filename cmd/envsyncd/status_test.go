package main

import "testing"

func TestShortDigest(t *testing.T) {
	if got := shortDigest("0123456789abcdef"); got != "0123456789ab" {
		t.Fatalf("unexpected short digest: %q", got)
	}
	if got := shortDigest("abc"); got != "abc" {
		t.Fatalf("short digest should pass short input through, got %q", got)
	}
}

func TestStatusCmdShape(t *testing.T) {
	path := "config.yaml"
	cmd := statusCmd(&path)
	if cmd.Use != "status" {
		t.Fatalf("unexpected use: %q", cmd.Use)
	}
}

func TestStateCmdHasResetSubcommand(t *testing.T) {
	path := "config.yaml"
	cmd := stateCmd(&path)
	for _, sub := range cmd.Commands() {
		if sub.Use == "reset" {
			return
		}
	}
	t.Fatal("expected state reset subcommand")
}
