package inject

import (
	"fmt"
	"os"
	"path/filepath"
)

// PayloadLocator chooses the payload image to load for a target bitness.
type PayloadLocator interface {
	PayloadPath(arch Arch) (string, error)
}

// Payloads locates payload builds by naming convention. Release builds sit
// next to the executable as invisiwind_payload64.dll and
// invisiwind_payload32.dll; development builds live under
// build/payload/windows_<goarch>/payload.dll.
type Payloads struct {
	// Dir overrides the directory of the running executable.
	Dir string
	// Development selects the development build layout.
	Development bool
}

// PayloadPath implements PayloadLocator.
func (p Payloads) PayloadPath(arch Arch) (string, error) {
	dir := p.Dir
	if dir == "" {
		exe, err := os.Executable()
		if err != nil {
			return "", fmt.Errorf("failed to locate executable: %w", err)
		}
		dir = filepath.Dir(exe)
	}

	var release, goarch string
	switch arch {
	case Arch64:
		release, goarch = "invisiwind_payload64.dll", "amd64"
	case Arch32:
		release, goarch = "invisiwind_payload32.dll", "386"
	default:
		return "", fmt.Errorf("no payload build for %s processes", arch)
	}

	if p.Development {
		return filepath.Join(dir, "build", "payload", "windows_"+goarch, "payload.dll"), nil
	}
	return filepath.Join(dir, release), nil
}
