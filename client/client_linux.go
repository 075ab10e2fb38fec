//go:build linux

package client

import (
	"os/exec"
	"syscall"
)

// setProcAttr puts the worker in its own process group, so killing it also
// reaches anything it spawned, and has the kernel kill it if the host dies.
func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
}

func killProcess(cmd *exec.Cmd) {
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		cmd.Process.Kill()
	}
}
