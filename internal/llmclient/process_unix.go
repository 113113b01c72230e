//go:build unix

package llmclient

import (
	"os/exec"
	"syscall"
	"time"
)

// newProcessGroupAttr places the spawned CLI in its own process group so
// a timeout can kill it and every child process it forked, per spec.md
// §4.2/§9 ("Process-group kill").
func newProcessGroupAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// killProcessGroup sends SIGTERM to the whole process group, waits up to
// 10s, then escalates to SIGKILL if the group is still alive.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	pgid := cmd.Process.Pid
	_ = syscall.Kill(-pgid, syscall.SIGTERM)

	grace := time.NewTimer(10 * time.Second)
	defer grace.Stop()
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-grace.C:
			return syscall.Kill(-pgid, syscall.SIGKILL)
		case <-tick.C:
			if err := syscall.Kill(-pgid, 0); err != nil {
				return nil
			}
		}
	}
}
