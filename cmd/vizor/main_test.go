package main

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func TestSubcommands(t *testing.T) {
	binaryPath, err := filepath.Abs("../../vizor")
	if err != nil {
		t.Fatalf("failed to get binary path: %v", err)
	}

	if _, err := os.Stat(binaryPath); os.IsNotExist(err) {
		t.Skip("vizor binary not found - run 'go build -o vizor ./cmd/vizor' first")
	}

	t.Run("help shows usage", func(t *testing.T) {
		out, err := exec.Command(binaryPath, "help").CombinedOutput()
		if err != nil {
			t.Fatalf("help command failed: %v", err)
		}
		for _, cmd := range []string{"ingest", "worker", "version"} {
			if !strings.Contains(string(out), cmd) {
				t.Errorf("help output missing %q: %s", cmd, out)
			}
		}
	})

	t.Run("version prints version info", func(t *testing.T) {
		out, err := exec.Command(binaryPath, "version").CombinedOutput()
		if err != nil {
			t.Fatalf("version command failed: %v", err)
		}
		if !strings.Contains(string(out), "vizor version") {
			t.Errorf("unexpected version output: %s", out)
		}
	})

	t.Run("unknown command exits nonzero", func(t *testing.T) {
		err := exec.Command(binaryPath, "frobnicate").Run()
		if err == nil {
			t.Error("unknown command should exit nonzero")
		}
	})

	t.Run("ingest requires flags", func(t *testing.T) {
		err := exec.Command(binaryPath, "ingest").Run()
		if err == nil {
			t.Error("ingest without flags should exit nonzero")
		}
	})
}
