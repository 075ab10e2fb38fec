//go:build !linux

package client

import "os/exec"

func setProcAttr(cmd *exec.Cmd) {}

func killProcess(cmd *exec.Cmd) {
	cmd.Process.Kill()
}
