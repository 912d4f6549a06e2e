//go:build !windows

package process

import (
	"bytes"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
)

// setupProcessGroup puts the child in its own process group so the whole
// tree can be signalled at once.
func setupProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// interruptGroup asks the process group to stop with SIGTERM.
func interruptGroup(proc *os.Process) error {
	err := syscall.Kill(-proc.Pid, syscall.SIGTERM)
	if err != nil && !errors.Is(err, syscall.ESRCH) {
		// Group may already be gone, try the leader directly.
		return proc.Signal(syscall.SIGTERM)
	}
	return nil
}

// killGroup forcibly kills the group and the leader.
func killGroup(proc *os.Process) {
	_ = syscall.Kill(-proc.Pid, syscall.SIGKILL) // Ignore errors during cleanup
	_ = proc.Kill()
}

// groupAlive reports whether any member of the group is still running.
// Zombies do not count: an orphan reparented to an init that never reaps
// stays in the group forever.
func groupAlive(proc *os.Process) bool {
	err := syscall.Kill(-proc.Pid, 0)
	if err != nil && !errors.Is(err, syscall.EPERM) {
		return false
	}
	live, ok := liveGroupMembers(proc.Pid)
	if !ok {
		return true
	}
	return live > 0
}

// liveGroupMembers counts non-zombie processes in group pgid from /proc.
// ok is false when /proc is not available.
func liveGroupMembers(pgid int) (live int, ok bool) {
	stats, err := filepath.Glob("/proc/[0-9]*/stat")
	if err != nil || len(stats) == 0 {
		return 0, false
	}
	for _, path := range stats {
		data, err := os.ReadFile(path)
		if err != nil {
			continue // exited while scanning
		}
		// Fields after the parenthesised command: state ppid pgrp ...
		i := bytes.LastIndexByte(data, ')')
		if i < 0 {
			continue
		}
		fields := bytes.Fields(data[i+1:])
		if len(fields) < 3 {
			continue
		}
		if state := fields[0]; len(state) > 0 && (state[0] == 'Z' || state[0] == 'X') {
			continue
		}
		if pgrp, err := strconv.Atoi(string(fields[2])); err == nil && pgrp == pgid {
			live++
		}
	}
	return live, true
}

// releaseGroup is a no-op on Unix; an empty group needs no cleanup.
func releaseGroup(*os.Process) {}

// signalledExit reports whether the process was ended by a signal rather
// than exiting on its own.
func signalledExit(state *os.ProcessState) bool {
	if state == nil {
		return false
	}
	ws, ok := state.Sys().(syscall.WaitStatus)
	return ok && ws.Signaled()
}
