//go:build !windows

package process

import (
	"github.com/invisiwind/invisiwind/internal/errors"
)

type unsupportedSnapshotter struct{}

// NewSnapshotter returns a Snapshotter that always fails.
func NewSnapshotter() Snapshotter {
	return unsupportedSnapshotter{}
}

func (unsupportedSnapshotter) Processes() ([]Entry, error) {
	return nil, errors.Unsupported("list_processes")
}
