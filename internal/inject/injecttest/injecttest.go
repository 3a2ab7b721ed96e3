// Package injecttest provides an in-memory Platform whose processes run the
// real payload logic against fake windows.
package injecttest

import (
	"debug/pe"
	"encoding/binary"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/invisiwind/invisiwind/internal/attr"
	"github.com/invisiwind/invisiwind/internal/errors"
	"github.com/invisiwind/invisiwind/internal/inject"
	"github.com/invisiwind/invisiwind/internal/layout"
)

// Image paths known to the fake.
const (
	Kernel32Path64 = `C:\Windows\System32\KERNEL32.DLL`
	Kernel32Path32 = `C:\Windows\SysWOW64\KERNEL32.DLL`
	PayloadPath64  = `C:\Program Files\invisiwind\invisiwind_payload64.dll`
	PayloadPath32  = `C:\Program Files\invisiwind\invisiwind_payload32.dll`
)

const (
	loadLibraryRVA   = 0x1f000
	setVisibilityRVA = 0x1100
	setTaskbarRVA    = 0x1200

	// exit code of a thread killed by an access violation
	crashCode = 0xC0000005
)

// Payloads locates the fake payload images.
type Payloads struct{}

// PayloadPath implements inject.PayloadLocator.
func (Payloads) PayloadPath(arch inject.Arch) (string, error) {
	switch arch {
	case inject.Arch64:
		return PayloadPath64, nil
	case inject.Arch32:
		return PayloadPath32, nil
	}
	return "", fmt.Errorf("no payload for %s", arch)
}

// Exports serves export tables for the fake images and counts reads. The
// tables describe the files on disk; by default a process maps the same
// table, and SetMapped makes the mapped image differ from its file.
type Exports struct {
	mu     sync.Mutex
	tables map[string]*layout.ExportTable
	mapped map[string]*layout.ExportTable
	Reads  int
}

// NewExports returns tables for both kernel32 builds and both payloads.
func NewExports() *Exports {
	payload := func(machine uint16) *layout.ExportTable {
		return &layout.ExportTable{Machine: machine, Exports: map[string]layout.Export{
			attr.EntrySetVisibility:        {Name: attr.EntrySetVisibility, RVA: setVisibilityRVA},
			attr.EntrySetTaskbarVisibility: {Name: attr.EntrySetTaskbarVisibility, RVA: setTaskbarRVA},
		}}
	}
	kernel32 := func(machine uint16) *layout.ExportTable {
		return &layout.ExportTable{Machine: machine, Exports: map[string]layout.Export{
			"LoadLibraryW": {Name: "LoadLibraryW", RVA: loadLibraryRVA},
		}}
	}
	return &Exports{
		tables: map[string]*layout.ExportTable{
			strings.ToLower(Kernel32Path64): kernel32(pe.IMAGE_FILE_MACHINE_AMD64),
			strings.ToLower(Kernel32Path32): kernel32(pe.IMAGE_FILE_MACHINE_I386),
			strings.ToLower(PayloadPath64):  payload(pe.IMAGE_FILE_MACHINE_AMD64),
			strings.ToLower(PayloadPath32):  payload(pe.IMAGE_FILE_MACHINE_I386),
		},
		mapped: make(map[string]*layout.ExportTable),
	}
}

// Exports implements inject.ExportReader.
func (e *Exports) Exports(path string) (*layout.ExportTable, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Reads++
	t, ok := e.tables[strings.ToLower(path)]
	if !ok {
		return nil, &os.PathError{Op: "open", Path: path, Err: os.ErrNotExist}
	}
	return t, nil
}

// Set replaces the table for path; a nil table removes the image.
func (e *Exports) Set(path string, t *layout.ExportTable) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t == nil {
		delete(e.tables, strings.ToLower(path))
		return
	}
	e.tables[strings.ToLower(path)] = t
}

// SetMapped makes processes map t for path regardless of the file's table.
// A nil table reverts to the file.
func (e *Exports) SetMapped(path string, t *layout.ExportTable) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t == nil {
		delete(e.mapped, strings.ToLower(path))
		return
	}
	e.mapped[strings.ToLower(path)] = t
}

func (e *Exports) lookup(path string) (*layout.ExportTable, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tables[strings.ToLower(path)]
	return t, ok
}

// image returns the table of path as mapped into a process.
func (e *Exports) image(path string) (*layout.ExportTable, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.mapped[strings.ToLower(path)]; ok {
		return t, true
	}
	t, ok := e.tables[strings.ToLower(path)]
	return t, ok
}

const imageExportDir = 0x200

// encodeImage lays out t as a mapped PE image: headers, then the export
// directory at imageExportDir followed by its tables and names.
func encodeImage(t *layout.ExportTable) []byte {
	le := binary.LittleEndian

	names := make([]string, 0, len(t.Exports))
	for name := range t.Exports {
		names = append(names, name)
	}
	sort.Strings(names)

	n := uint32(len(names))
	functions := uint32(imageExportDir + 40)
	nameTable := functions + 4*n
	ordinals := nameTable + 4*n
	str := ordinals + 2*n
	size := str
	for _, name := range names {
		size += uint32(len(name)) + 1
	}

	img := make([]byte, size)
	copy(img, "MZ")
	le.PutUint32(img[0x3c:], 0x40)
	copy(img[0x40:], "PE\x00\x00")
	le.PutUint16(img[0x44:], t.Machine)

	magic, dirCount := uint16(0x20b), uint32(108)
	if t.Machine == pe.IMAGE_FILE_MACHINE_I386 {
		magic, dirCount = 0x10b, 92
	}
	const opt = 0x58
	le.PutUint16(img[0x54:], uint16(dirCount+4+16*8))
	le.PutUint16(img[opt:], magic)
	le.PutUint32(img[opt+dirCount:], 16)
	le.PutUint32(img[opt+dirCount+4:], imageExportDir)
	le.PutUint32(img[opt+dirCount+8:], size-imageExportDir)

	d := img[imageExportDir:]
	le.PutUint32(d[16:], 1)
	le.PutUint32(d[20:], n)
	le.PutUint32(d[24:], n)
	le.PutUint32(d[28:], functions)
	le.PutUint32(d[32:], nameTable)
	le.PutUint32(d[36:], ordinals)
	for i, name := range names {
		le.PutUint32(img[functions+4*uint32(i):], t.Exports[name].RVA)
		le.PutUint32(img[nameTable+4*uint32(i):], str)
		le.PutUint16(img[ordinals+2*uint32(i):], uint16(i))
		copy(img[str:], name)
		str += uint32(len(name)) + 1
	}
	return img
}

// Platform is an in-memory inject.Platform.
type Platform struct {
	Host    inject.Arch
	Exports *Exports

	mu      sync.Mutex
	procs   map[uint32]*Process
	openErr map[uint32]error
}

// NewPlatform returns a 64-bit host with no processes.
func NewPlatform() *Platform {
	return &Platform{
		Host:    inject.Arch64,
		Exports: NewExports(),
		procs:   make(map[uint32]*Process),
		openErr: make(map[uint32]error),
	}
}

// AddProcess registers a running process with its loader module mapped.
func (p *Platform) AddProcess(pid uint32, arch inject.Arch) *Process {
	kernel32 := Kernel32Path64
	if arch == inject.Arch32 {
		kernel32 = Kernel32Path32
	}
	proc := &Process{
		pid:      pid,
		arch:     arch,
		alive:    true,
		exports:  p.Exports,
		nextBase: 0x7ff0_0000,
		Windows:  make(Windows),
		modules: []inject.Module{
			{Name: "ntdll.dll", Path: `C:\Windows\System32\ntdll.dll`, Base: 0x7ffe_0000},
			{Name: "KERNEL32.DLL", Path: kernel32, Base: 0x7ffd_0000},
		},
	}
	p.mu.Lock()
	p.procs[pid] = proc
	p.mu.Unlock()
	return proc
}

// FailOpen makes Open(pid) return err.
func (p *Platform) FailOpen(pid uint32, err error) {
	p.mu.Lock()
	p.openErr[pid] = err
	p.mu.Unlock()
}

// HostArch implements inject.Platform.
func (p *Platform) HostArch() inject.Arch { return p.Host }

// Open implements inject.Platform.
func (p *Platform) Open(pid uint32) (inject.Process, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.openErr[pid]; ok {
		return nil, err
	}
	proc, ok := p.procs[pid]
	if !ok || !proc.Alive() {
		return nil, errors.ForProcess("open_process", errors.KindProcessNotFound, pid, nil)
	}
	proc.mu.Lock()
	proc.Opens++
	proc.mu.Unlock()
	return &handle{proc: proc}, nil
}

// Window is the attribute state of one fake window.
type Window struct {
	Affinity uint32
	Style    uint32
}

// Windows implements attr.Window over a set of fake windows.
type Windows map[uintptr]*Window

func (w Windows) SetDisplayAffinity(hwnd uintptr, affinity uint32) bool {
	win, ok := w[hwnd]
	if !ok {
		return false
	}
	win.Affinity = affinity
	return true
}

func (w Windows) ExStyle(hwnd uintptr) uint32 {
	if win, ok := w[hwnd]; ok {
		return win.Style
	}
	return 0
}

func (w Windows) SetExStyle(hwnd uintptr, style uint32) bool {
	win, ok := w[hwnd]
	if !ok {
		return false
	}
	win.Style = style
	return true
}

// Call records one payload entry point invocation.
type Call struct {
	Entry  string
	Handle uintptr
	Arg    bool
	Result uint32
}

// Process is a fake target process.
type Process struct {
	Windows Windows

	// LoadFails makes LoadLibraryW return NULL without mapping the image.
	LoadFails bool
	// CrashOnCall kills the process during its next payload call.
	CrashOnCall bool
	// ExitOnLoad kills the process while the payload is loading.
	ExitOnLoad bool

	mu       sync.Mutex
	pid      uint32
	arch     inject.Arch
	alive    bool
	exports  *Exports
	modules  []inject.Module
	nextBase uint64

	Loads       int
	Opens       int
	Closes      int
	MemoryReads int
	calls       []Call
}

// LoadAt makes the next image the process loads map at base.
func (p *Process) LoadAt(base uint64) {
	p.mu.Lock()
	p.nextBase = base
	p.mu.Unlock()
}

// AddWindow gives the process a window with the given extended style.
func (p *Process) AddWindow(hwnd uintptr, style uint32) *Window {
	p.mu.Lock()
	defer p.mu.Unlock()
	w := &Window{Style: style}
	p.Windows[hwnd] = w
	return w
}

// Window returns a copy of a window's state.
func (p *Process) Window(hwnd uintptr) Window {
	p.mu.Lock()
	defer p.mu.Unlock()
	return *p.Windows[hwnd]
}

// Kill terminates the process.
func (p *Process) Kill() {
	p.mu.Lock()
	p.alive = false
	p.mu.Unlock()
}

// Calls returns the payload invocations so far.
func (p *Process) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

// LoadCount returns how many times the payload was loaded.
func (p *Process) LoadCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Loads
}

// HandleCounts returns how many handles were opened and closed.
func (p *Process) HandleCounts() (opened, closed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Opens, p.Closes
}

// Alive reports whether the process is running.
func (p *Process) Alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alive
}

func (p *Process) execute(addr uint64, param []byte) (uint32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.alive {
		return 0, fmt.Errorf("process %d has exited", p.pid)
	}

	for _, m := range p.modules {
		table, ok := p.exports.image(m.Path)
		if !ok {
			continue
		}
		for name, e := range table.Exports {
			if m.Base+uint64(e.RVA) != addr {
				continue
			}
			if name == "LoadLibraryW" {
				return p.loadLibrary(layout.DecodeUTF16Z(param)), nil
			}
			return p.callPayload(name, param), nil
		}
	}

	p.alive = false
	return crashCode, nil
}

func (p *Process) loadLibrary(path string) uint32 {
	if p.ExitOnLoad {
		p.alive = false
		return 0
	}
	if p.LoadFails {
		return 0
	}
	table, ok := p.exports.lookup(path)
	if !ok {
		return 0
	}
	if inject.ArchOfMachine(table.Machine) != p.arch {
		return 0
	}
	for _, m := range p.modules {
		if strings.EqualFold(m.Path, path) {
			return uint32(m.Base)
		}
	}
	base := p.nextBase
	p.nextBase += 0x10_0000
	name := path[strings.LastIndex(path, `\`)+1:]
	p.modules = append(p.modules, inject.Module{Name: name, Path: path, Base: base})
	p.Loads++
	return uint32(base)
}

func (p *Process) readMemory(addr uint64, n int) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.alive {
		return nil, fmt.Errorf("process %d has exited", p.pid)
	}
	p.MemoryReads++
	for _, m := range p.modules {
		if addr < m.Base {
			continue
		}
		table, ok := p.exports.image(m.Path)
		if !ok {
			continue
		}
		img := encodeImage(table)
		off := addr - m.Base
		if off >= uint64(len(img)) {
			continue
		}
		if off+uint64(n) > uint64(len(img)) {
			return nil, fmt.Errorf("partial copy at %#x+%d", addr, n)
		}
		return append([]byte(nil), img[off:off+uint64(n)]...), nil
	}
	return nil, fmt.Errorf("address %#x is not mapped", addr)
}

func (p *Process) callPayload(entry string, param []byte) uint32 {
	if p.CrashOnCall {
		p.alive = false
		return crashCode
	}
	result := attr.Dispatch(p.Windows, entry, param)
	call := Call{Entry: entry, Result: result}
	if f, err := layout.DecodeCallFrame(param); err == nil {
		call.Handle = uintptr(f.Handle)
		call.Arg = f.Flag()
	}
	p.calls = append(p.calls, call)
	return result
}

// handle is one opened reference to a Process.
type handle struct {
	proc   *Process
	closed bool
}

func (h *handle) Arch() (inject.Arch, error) { return h.proc.arch, nil }

func (h *handle) Alive() bool { return !h.closed && h.proc.Alive() }

func (h *handle) Modules() ([]inject.Module, error) {
	h.proc.mu.Lock()
	defer h.proc.mu.Unlock()
	if !h.proc.alive {
		return nil, fmt.Errorf("process %d has exited", h.proc.pid)
	}
	return append([]inject.Module(nil), h.proc.modules...), nil
}

func (h *handle) ReadMemory(addr uint64, n int) ([]byte, error) {
	if h.closed {
		return nil, fmt.Errorf("handle closed")
	}
	return h.proc.readMemory(addr, n)
}

func (h *handle) Execute(addr uint64, param []byte) (uint32, error) {
	if h.closed {
		return 0, fmt.Errorf("handle closed")
	}
	return h.proc.execute(addr, param)
}

func (h *handle) Close() error {
	if h.closed {
		return fmt.Errorf("handle already closed")
	}
	h.closed = true
	h.proc.mu.Lock()
	h.proc.Closes++
	h.proc.mu.Unlock()
	return nil
}
