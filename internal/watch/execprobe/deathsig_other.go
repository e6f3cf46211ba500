//go:build !linux && !windows

package execprobe

import "syscall"

func setDeathSignal(attr *syscall.SysProcAttr) {}
