//go:build !windows

package inject

import (
	"github.com/invisiwind/invisiwind/internal/errors"
)

type unsupportedPlatform struct{}

// NewPlatform returns a Platform that cannot open processes.
func NewPlatform() Platform {
	return unsupportedPlatform{}
}

func (unsupportedPlatform) HostArch() Arch {
	return HostArch()
}

func (unsupportedPlatform) Open(pid uint32) (Process, error) {
	e := errors.Unsupported("open_process")
	e.PID = pid
	return nil, e
}
