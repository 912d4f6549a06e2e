//go:build windows

package process

import (
	"os"
	"os/exec"
	"strconv"
	"syscall"
)

// setupProcessGroup starts the child in a new process group so taskkill /T
// can reach its descendants.
func setupProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.CreationFlags = syscall.CREATE_NEW_PROCESS_GROUP
}

// interruptGroup asks the tree to close without /F.
func interruptGroup(proc *os.Process) error {
	return exec.Command("taskkill", "/T", "/PID", strconv.Itoa(proc.Pid)).Run()
}

// killGroup force kills the tree, then the leader directly.
func killGroup(proc *os.Process) {
	_ = exec.Command("taskkill", "/F", "/T", "/PID", strconv.Itoa(proc.Pid)).Run() // Ignore errors, process might already be dead
	_ = proc.Kill()
}

// groupAlive cannot see the tree once the leader is gone, so the sweep
// moves straight to releaseGroup.
func groupAlive(*os.Process) bool { return false }

// releaseGroup force kills whatever is left of the tree.
func releaseGroup(proc *os.Process) {
	_ = exec.Command("taskkill", "/F", "/T", "/PID", strconv.Itoa(proc.Pid)).Run()
}

func signalledExit(state *os.ProcessState) bool {
	return false
}
