//go:build !windows

package testutil

import (
	"os"
	"os/exec"
	"testing"
)

func TestProcessAlive(t *testing.T) {
	if !ProcessAlive(os.Getpid()) {
		t.Fatal("the test process itself must be alive")
	}

	cmd := exec.Command("/bin/sh", "-c", "exit 0")
	if err := cmd.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	if ProcessAlive(cmd.Process.Pid) {
		t.Errorf("reaped process %d reported alive", cmd.Process.Pid)
	}
	if ProcessAlive(0) {
		t.Error("pid 0 must not be reported alive")
	}
}

func TestOpenFDCount(t *testing.T) {
	before := OpenFDCount()
	if before < 0 {
		t.Skip("descriptor listing not available")
	}
	f, err := os.Open(os.DevNull)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if after := OpenFDCount(); after <= before {
		t.Errorf("expected more descriptors after open: before=%d after=%d", before, after)
	}
}
