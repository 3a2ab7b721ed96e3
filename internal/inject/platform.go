package inject

import (
	"debug/pe"
	"runtime"
	"strings"
)

// Arch is the instruction set bitness of a process or image.
type Arch int

const (
	ArchUnknown Arch = iota
	Arch32
	Arch64
)

func (a Arch) String() string {
	switch a {
	case Arch32:
		return "x86"
	case Arch64:
		return "x64"
	default:
		return "unknown"
	}
}

// HostArch returns the bitness of the running binary.
func HostArch() Arch {
	switch runtime.GOARCH {
	case "386":
		return Arch32
	case "amd64":
		return Arch64
	default:
		return ArchUnknown
	}
}

// ArchOfMachine maps a PE machine type to its bitness.
func ArchOfMachine(machine uint16) Arch {
	switch machine {
	case pe.IMAGE_FILE_MACHINE_I386:
		return Arch32
	case pe.IMAGE_FILE_MACHINE_AMD64:
		return Arch64
	default:
		return ArchUnknown
	}
}

// Module is an image loaded in a target process.
type Module struct {
	Name string
	Path string
	Base uint64
}

// Platform opens processes for injection.
type Platform interface {
	// HostArch reports the bitness of the injecting process.
	HostArch() Arch
	// Open acquires a process for inspection, memory writes and remote
	// thread creation. Failures are classified *errors.Error values.
	Open(pid uint32) (Process, error)
}

// Process is an open handle to a target process.
type Process interface {
	// Arch reports the target's bitness.
	Arch() (Arch, error)
	// Alive reports whether the process is still running.
	Alive() bool
	// Modules lists the images currently loaded in the target.
	Modules() ([]Module, error)
	// ReadMemory copies n bytes at addr out of the target.
	ReadMemory(addr uint64, n int) ([]byte, error)
	// Execute copies param into the target, runs a new thread at addr with
	// the copy's address as its argument, waits for it to finish, and
	// returns its exit code. It cannot be interrupted once started.
	Execute(addr uint64, param []byte) (uint32, error)
	// Close releases the handle.
	Close() error
}

// samePath compares Windows paths case-insensitively, accepting either
// separator.
func samePath(a, b string) bool {
	norm := func(p string) string {
		return strings.TrimRight(strings.ReplaceAll(p, "/", `\`), `\`)
	}
	return strings.EqualFold(norm(a), norm(b))
}
