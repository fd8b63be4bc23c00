//go:build !windows

package executor

import (
	"errors"
	"syscall"

	"golang.org/x/sys/unix"
)

// sysProcAttr places the child in its own process group so the whole tree
// can be signaled at once.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// killTree delivers SIGKILL to the child's process group. The child was
// started with Setpgid, so the group covers every descendant it spawned.
func killTree(pid int) error {
	if pid <= 0 {
		return nil
	}
	pgid, err := unix.Getpgid(pid)
	if err != nil {
		pgid = pid
	}
	if err := unix.Kill(-pgid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return err
	}
	return nil
}
