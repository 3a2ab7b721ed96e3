//go:build !windows

package window

import (
	"github.com/invisiwind/invisiwind/internal/errors"
)

type unsupportedSystem struct{}

// NewSystem returns a System whose every query fails: window capture
// exclusion only exists on Windows.
func NewSystem() System {
	return unsupportedSystem{}
}

func (unsupportedSystem) TopLevelWindows() ([]Handle, error) {
	return nil, errors.Unsupported("enumerate_windows")
}

func (unsupportedSystem) IsVisible(Handle) bool { return false }

func (unsupportedSystem) IsCloaked(Handle) (bool, error) {
	return false, errors.Unsupported("query_cloaked")
}

func (unsupportedSystem) Title(Handle, int) (string, error) {
	return "", errors.Unsupported("query_title")
}

func (unsupportedSystem) DisplayAffinity(Handle) (uint32, error) {
	return 0, errors.Unsupported("query_display_affinity")
}

func (unsupportedSystem) ProcessID(Handle) (uint32, error) {
	return 0, errors.Unsupported("query_process_id")
}
