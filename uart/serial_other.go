//go:build !linux

package uart

import (
	"io"

	"github.com/ardnew/udmx/pkg"
)

func setBreak(port io.ReadWriteCloser, on bool) error {
	return pkg.ErrNotSupported
}

func drain(port io.ReadWriteCloser) error {
	return pkg.ErrNotSupported
}
