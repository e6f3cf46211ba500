//go:build windows

package execprobe

import (
	"errors"
	"os"
	"os/exec"
)

var errConPTYUnavailable = errors.New("conpty support not implemented")

func startCommand(command string, args ...string) (*os.File, *exec.Cmd, error) {
	return nil, nil, errConPTYUnavailable
}

func killGroup(cmd *exec.Cmd) {}
