//go:build windows

package inject

import (
	stderrors "errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/invisiwind/invisiwind/internal/errors"
)

var (
	kernel32               = windows.NewLazySystemDLL("kernel32.dll")
	procVirtualAllocEx     = kernel32.NewProc("VirtualAllocEx")
	procVirtualFreeEx      = kernel32.NewProc("VirtualFreeEx")
	procCreateRemoteThread = kernel32.NewProc("CreateRemoteThread")
	procGetExitCodeThread  = kernel32.NewProc("GetExitCodeThread")
)

const (
	processAccess = windows.PROCESS_CREATE_THREAD |
		windows.PROCESS_QUERY_INFORMATION |
		windows.PROCESS_VM_OPERATION |
		windows.PROCESS_VM_WRITE |
		windows.PROCESS_VM_READ |
		windows.SYNCHRONIZE

	stillActive = 259

	// module snapshots of a process that is still starting up fail with
	// ERROR_BAD_LENGTH until its loader settles
	snapshotAttempts = 5
)

type windowsPlatform struct{}

// NewPlatform returns the Platform backed by kernel32.
func NewPlatform() Platform {
	return windowsPlatform{}
}

func (windowsPlatform) HostArch() Arch {
	return HostArch()
}

func (windowsPlatform) Open(pid uint32) (Process, error) {
	h, err := windows.OpenProcess(processAccess, false, pid)
	if err != nil {
		return nil, classifyErrno("open_process", pid, err, errors.KindProcessNotFound)
	}
	return &windowsProcess{pid: pid, h: h}, nil
}

// classifyErrno maps the Win32 errors that identify a failure cause.
func classifyErrno(op string, pid uint32, err error, fallback errors.Kind) error {
	var errno windows.Errno
	if stderrors.As(err, &errno) {
		switch errno {
		case windows.ERROR_ACCESS_DENIED:
			return errors.ForProcess(op, errors.KindAccessDenied, pid, err)
		case windows.ERROR_INVALID_PARAMETER:
			if op == "open_process" {
				return errors.ForProcess(op, errors.KindProcessNotFound, pid, err)
			}
		}
	}
	return errors.ForProcess(op, fallback, pid, err)
}

type windowsProcess struct {
	pid uint32
	h   windows.Handle
}

func (p *windowsProcess) Arch() (Arch, error) {
	var wow bool
	if err := windows.IsWow64Process(p.h, &wow); err != nil {
		return ArchUnknown, classifyErrno("query_architecture", p.pid, err, errors.KindInjectionFailed)
	}
	if wow {
		return Arch32, nil
	}
	if HostArch() == Arch64 {
		return Arch64, nil
	}

	// A 32-bit build sees a non-WOW64 target as 64-bit only on a 64-bit OS.
	var selfWow bool
	if err := windows.IsWow64Process(windows.CurrentProcess(), &selfWow); err != nil {
		return ArchUnknown, classifyErrno("query_architecture", p.pid, err, errors.KindInjectionFailed)
	}
	if selfWow {
		return Arch64, nil
	}
	return Arch32, nil
}

func (p *windowsProcess) Alive() bool {
	var code uint32
	if err := windows.GetExitCodeProcess(p.h, &code); err != nil {
		return false
	}
	return code == stillActive
}

func (p *windowsProcess) Modules() ([]Module, error) {
	var (
		snap windows.Handle
		err  error
	)
	for attempt := 0; attempt < snapshotAttempts; attempt++ {
		snap, err = windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPMODULE|windows.TH32CS_SNAPMODULE32, p.pid)
		if err != windows.ERROR_BAD_LENGTH {
			break
		}
	}
	if err != nil {
		return nil, classifyErrno("list_modules", p.pid, err, errors.KindInjectionFailed)
	}
	defer windows.CloseHandle(snap)

	var entry windows.ModuleEntry32
	entry.Size = uint32(unsafe.Sizeof(entry))
	if err := windows.Module32First(snap, &entry); err != nil {
		return nil, classifyErrno("list_modules", p.pid, err, errors.KindInjectionFailed)
	}

	var modules []Module
	for {
		modules = append(modules, Module{
			Name: windows.UTF16ToString(entry.Module[:]),
			Path: windows.UTF16ToString(entry.ExePath[:]),
			Base: uint64(entry.ModBaseAddr),
		})
		if err := windows.Module32Next(snap, &entry); err != nil {
			if err == windows.ERROR_NO_MORE_FILES {
				break
			}
			return nil, classifyErrno("list_modules", p.pid, err, errors.KindInjectionFailed)
		}
	}
	return modules, nil
}

func (p *windowsProcess) ReadMemory(addr uint64, n int) ([]byte, error) {
	if n <= 0 {
		return []byte{}, nil
	}
	buf := make([]byte, n)
	var read uintptr
	if err := windows.ReadProcessMemory(p.h, uintptr(addr), &buf[0], uintptr(n), &read); err != nil {
		return nil, fmt.Errorf("ReadProcessMemory(%#x, %d) failed: %w", addr, n, err)
	}
	if read != uintptr(n) {
		return nil, fmt.Errorf("ReadProcessMemory(%#x, %d) read %d bytes", addr, n, read)
	}
	return buf, nil
}

func (p *windowsProcess) Execute(addr uint64, param []byte) (uint32, error) {
	if len(param) == 0 {
		return 0, fmt.Errorf("empty remote parameter")
	}
	size := uintptr(len(param))

	mem, _, err := procVirtualAllocEx.Call(
		uintptr(p.h), 0, size,
		windows.MEM_COMMIT|windows.MEM_RESERVE,
		windows.PAGE_READWRITE,
	)
	if mem == 0 {
		return 0, classifyErrno("allocate_remote", p.pid, err, errors.KindRemoteCallFailed)
	}
	defer procVirtualFreeEx.Call(uintptr(p.h), mem, 0, windows.MEM_RELEASE)

	var written uintptr
	if err := windows.WriteProcessMemory(p.h, mem, &param[0], size, &written); err != nil {
		return 0, classifyErrno("write_remote", p.pid, err, errors.KindRemoteCallFailed)
	}
	if written != size {
		return 0, errors.ForProcess("write_remote", errors.KindRemoteCallFailed, p.pid,
			fmt.Errorf("wrote %d of %d bytes", written, size))
	}

	thread, _, err := procCreateRemoteThread.Call(uintptr(p.h), 0, 0, uintptr(addr), mem, 0, 0)
	if thread == 0 {
		return 0, classifyErrno("create_remote_thread", p.pid, err, errors.KindRemoteCallFailed)
	}
	defer windows.CloseHandle(windows.Handle(thread))

	event, err := windows.WaitForSingleObject(windows.Handle(thread), windows.INFINITE)
	if err != nil || event != windows.WAIT_OBJECT_0 {
		return 0, errors.ForProcess("wait_remote_thread", errors.KindRemoteCallFailed, p.pid, err).
			WithContext("wait_result", fmt.Sprintf("%#x", event))
	}

	var code uint32
	ret, _, err := procGetExitCodeThread.Call(thread, uintptr(unsafe.Pointer(&code)))
	if ret == 0 {
		return 0, classifyErrno("remote_exit_code", p.pid, err, errors.KindRemoteCallFailed)
	}
	return code, nil
}

func (p *windowsProcess) Close() error {
	return windows.CloseHandle(p.h)
}
