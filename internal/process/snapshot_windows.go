//go:build windows

package process

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

type toolhelpSnapshotter struct{}

// NewSnapshotter returns a Snapshotter backed by a Toolhelp32 snapshot.
func NewSnapshotter() Snapshotter {
	return toolhelpSnapshotter{}
}

func (toolhelpSnapshotter) Processes() ([]Entry, error) {
	snap, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPPROCESS, 0)
	if err != nil {
		return nil, fmt.Errorf("CreateToolhelp32Snapshot failed: %w", err)
	}
	defer windows.CloseHandle(snap)

	var pe windows.ProcessEntry32
	pe.Size = uint32(unsafe.Sizeof(pe))
	if err := windows.Process32First(snap, &pe); err != nil {
		return nil, fmt.Errorf("Process32First failed: %w", err)
	}

	var entries []Entry
	for {
		entries = append(entries, Entry{
			PID:       pe.ProcessID,
			ParentPID: pe.ParentProcessID,
			Name:      windows.UTF16ToString(pe.ExeFile[:]),
		})
		if err := windows.Process32Next(snap, &pe); err != nil {
			if err == windows.ERROR_NO_MORE_FILES {
				break
			}
			return nil, fmt.Errorf("Process32Next failed: %w", err)
		}
	}
	return entries, nil
}
