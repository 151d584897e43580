//go:build windows

package fetcher

import "os/exec"

func setProcessGroup(cmd *exec.Cmd) {}
