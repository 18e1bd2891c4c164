package cli

import (
	"bytes"
	"strings"
	"testing"
)

func TestVersionCommand(t *testing.T) {
	chdir(t, t.TempDir())
	t.Cleanup(func() { appHandle = nil })

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version", "--log-level", "error"})
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetOut(nil) })

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out.String(), "version: ") {
		t.Fatalf("output = %q", out.String())
	}
	if getApp().Config.Logging.Level != "error" {
		t.Fatalf("--log-level not applied: %q", getApp().Config.Logging.Level)
	}
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{"run", "sync", "backfill", "search", "categories", "show", "export", "analyze", "quota", "simulate", "version"}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Fatalf("command %q not registered", name)
		}
	}
}
