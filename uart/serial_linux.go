//go:build linux

package uart

import (
	"io"

	"golang.org/x/sys/unix"

	"github.com/ardnew/udmx/pkg"
)

func portFd(port io.ReadWriteCloser) (int, error) {
	f, ok := port.(fder)
	if !ok {
		return 0, pkg.ErrNotSupported
	}
	return int(f.Fd()), nil
}

// setBreak starts or ends a break condition with TIOCSBRK/TIOCCBRK.
func setBreak(port io.ReadWriteCloser, on bool) error {
	fd, err := portFd(port)
	if err != nil {
		return err
	}
	req := uint(unix.TIOCCBRK)
	if on {
		req = unix.TIOCSBRK
	}
	return pkg.Wrap(unix.IoctlSetInt(fd, req, 0), "break ioctl")
}

// drain waits until the output queue has been transmitted (tcdrain).
func drain(port io.ReadWriteCloser) error {
	fd, err := portFd(port)
	if err != nil {
		return err
	}
	return pkg.Wrap(unix.IoctlSetInt(fd, unix.TCSBRK, 1), "drain ioctl")
}
