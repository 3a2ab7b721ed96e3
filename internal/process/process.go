// Package process looks up running processes by id or executable name.
package process

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/invisiwind/invisiwind/internal/errors"
)

// Entry is one running process.
type Entry struct {
	PID       uint32 `json:"pid"`
	ParentPID uint32 `json:"parent_pid"`
	Name      string `json:"name"`
}

// Snapshotter lists running processes.
type Snapshotter interface {
	Processes() ([]Entry, error)
}

// Finder resolves user-supplied process targets.
type Finder struct {
	snap Snapshotter
}

// NewFinder creates a finder over snap.
func NewFinder(snap Snapshotter) *Finder {
	return &Finder{snap: snap}
}

// List returns running processes sorted by name, then pid.
func (f *Finder) List() ([]Entry, error) {
	entries, err := f.snap.Processes()
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := strings.ToLower(entries[i].Name), strings.ToLower(entries[j].Name)
		if a != b {
			return a < b
		}
		return entries[i].PID < entries[j].PID
	})
	return entries, nil
}

// Names maps pid to executable name.
func (f *Finder) Names() (map[uint32]string, error) {
	entries, err := f.snap.Processes()
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}
	names := make(map[uint32]string, len(entries))
	for _, e := range entries {
		names[e.PID] = e.Name
	}
	return names, nil
}

// Find returns the pids of processes named name, compared case-insensitively.
// When nothing matches and name has no .exe suffix, the lookup is retried
// with one appended.
func (f *Finder) Find(name string) ([]uint32, error) {
	entries, err := f.snap.Processes()
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}

	pids := matchName(entries, name)
	if len(pids) == 0 && !strings.HasSuffix(strings.ToLower(name), ".exe") {
		pids = matchName(entries, name+".exe")
	}
	return pids, nil
}

func matchName(entries []Entry, name string) []uint32 {
	var pids []uint32
	for _, e := range entries {
		if strings.EqualFold(e.Name, name) {
			pids = append(pids, e.PID)
		}
	}
	return pids
}

// Resolve turns a target, either a numeric pid or a process name, into pids.
// A name that matches nothing is a ProcessNotFound error.
func (f *Finder) Resolve(target string) ([]uint32, error) {
	target = strings.TrimSpace(target)
	if pid, err := strconv.ParseUint(target, 10, 32); err == nil {
		return []uint32{uint32(pid)}, nil
	}

	pids, err := f.Find(target)
	if err != nil {
		return nil, err
	}
	if len(pids) == 0 {
		return nil, errors.New("resolve_process", errors.KindProcessNotFound, nil).
			WithContext("name", target)
	}
	return pids, nil
}
