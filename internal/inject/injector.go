// Package inject makes the payload resident in a target process and calls
// its entry points there.
package inject

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/invisiwind/invisiwind/internal/errors"
	"github.com/invisiwind/invisiwind/internal/layout"
	"github.com/invisiwind/invisiwind/internal/logger"
)

const (
	loaderModule = "kernel32.dll"
	loaderSymbol = "LoadLibraryW"
)

// Injector loads the payload into target processes. EnsureResident is
// serialized, so the payload is never loaded twice concurrently into the
// same process.
type Injector struct {
	platform Platform
	payloads PayloadLocator
	exports  ExportReader

	mu sync.Mutex
}

// Option configures an Injector.
type Option func(*Injector)

// WithExportReader replaces the on-disk export table reader.
func WithExportReader(r ExportReader) Option {
	return func(i *Injector) { i.exports = r }
}

// New creates an injector.
func New(platform Platform, payloads PayloadLocator, opts ...Option) *Injector {
	i := &Injector{
		platform: platform,
		payloads: payloads,
		exports:  FileExports{},
	}
	for _, opt := range opts {
		opt(i)
	}
	i.exports = newCachedExports(i.exports)
	return i
}

// Open acquires a reference to process pid. The caller must Close it.
func (i *Injector) Open(pid uint32) (*ProcessRef, error) {
	if pid == 0 {
		return nil, errors.ForProcess("open_process", errors.KindProcessNotFound, pid, nil)
	}
	proc, err := i.platform.Open(pid)
	if err != nil {
		return nil, classify("open_process", pid, nil, err, errors.KindProcessNotFound)
	}
	return &ProcessRef{pid: pid, proc: proc}, nil
}

// InjectedModule is the payload as loaded in one process.
type InjectedModule struct {
	ref     *ProcessRef
	module  Module
	arch    Arch
	exports *layout.ExportTable
}

// Base returns the payload's load address in the target.
func (m *InjectedModule) Base() uint64 { return m.module.Base }

// Arch returns the bitness of the payload build in use.
func (m *InjectedModule) Arch() Arch { return m.arch }

// EnsureResident returns the payload module in the target, loading the build
// matching the target's bitness if it is not already there.
func (i *Injector) EnsureResident(ref *ProcessRef) (*InjectedModule, error) {
	const op = "ensure_resident"
	log := logger.WithComponent("injector")

	i.mu.Lock()
	defer i.mu.Unlock()

	proc, err := ref.live(op)
	if err != nil {
		return nil, err
	}

	arch, err := proc.Arch()
	if err != nil {
		return nil, classify(op, ref.pid, proc, err, errors.KindInjectionFailed)
	}
	if arch == ArchUnknown {
		return nil, errors.ForProcess(op, errors.KindInjectionFailed, ref.pid, nil).
			WithContext("reason", "unknown target architecture")
	}
	if host := i.platform.HostArch(); arch == Arch64 && host != Arch64 {
		return nil, errors.ForProcess(op, errors.KindInjectionFailed, ref.pid,
			fmt.Errorf("cannot inject into a %s process from a %s build", arch, host))
	}

	path, err := i.payloads.PayloadPath(arch)
	if err != nil {
		return nil, errors.ForProcess(op, errors.KindInjectionFailed, ref.pid, err)
	}
	file, err := i.exports.Exports(path)
	if err != nil {
		e := errors.ForProcess(op, errors.KindInjectionFailed, ref.pid, err).WithContext("payload", path)
		if os.IsNotExist(err) {
			e = e.WithContext("reason", "payload not installed")
		}
		return nil, e
	}
	if got := ArchOfMachine(file.Machine); got != arch {
		return nil, errors.ForProcess(op, errors.KindInjectionFailed, ref.pid,
			fmt.Errorf("payload %s is built for %s, target is %s", path, got, arch))
	}

	modules, err := proc.Modules()
	if err != nil {
		return nil, classify(op, ref.pid, proc, err, errors.KindInjectionFailed)
	}
	if m, ok := findByPath(modules, path); ok {
		log.Debug().Uint32("pid", ref.pid).Str("payload", path).Msg("Payload already resident")
		return i.resident(ref, proc, m, arch)
	}

	loadLibrary, err := i.resolveLoader(ref.pid, proc, modules, arch)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Uint32("pid", ref.pid).
		Str("arch", arch.String()).
		Str("payload", path).
		Msg("Loading payload")

	// The exit code holds only the low 32 bits of the module handle; the
	// rescan below decides whether the load worked.
	if _, err := proc.Execute(loadLibrary, layout.EncodeUTF16Z(path)); err != nil {
		return nil, classify(op, ref.pid, proc, err, errors.KindInjectionFailed)
	}

	modules, err = proc.Modules()
	if err != nil {
		return nil, classify(op, ref.pid, proc, err, errors.KindInjectionFailed)
	}
	m, ok := findByPath(modules, path)
	if !ok {
		if !proc.Alive() {
			return nil, errors.ForProcess(op, errors.KindProcessNotFound, ref.pid, nil)
		}
		return nil, errors.ForProcess(op, errors.KindInjectionFailed, ref.pid, nil).
			WithContext("reason", "payload missing from module list after load").
			WithContext("payload", path)
	}

	log.Info().
		Uint32("pid", ref.pid).
		Str("arch", arch.String()).
		Str("base", fmt.Sprintf("%#x", m.Base)).
		Msg("Payload injected")
	return i.resident(ref, proc, m, arch)
}

// resident reads the payload's export table out of the target.
func (i *Injector) resident(ref *ProcessRef, proc Process, m Module, arch Arch) (*InjectedModule, error) {
	const op = "read_payload_exports"
	table, err := residentExports(proc, m)
	if err != nil {
		return nil, classify(op, ref.pid, proc, fmt.Errorf("%s: %w", m.Path, err), errors.KindInjectionFailed)
	}
	if got := ArchOfMachine(table.Machine); got != arch {
		return nil, errors.ForProcess(op, errors.KindInjectionFailed, ref.pid,
			fmt.Errorf("resident payload is %s, target is %s", got, arch))
	}
	return &InjectedModule{ref: ref, module: m, arch: arch, exports: table}, nil
}

// resolveLoader finds LoadLibraryW in the target's own kernel32, picking the
// mapped image whose bitness matches the target. A WOW64 process maps both
// builds, and the module list may report either under the System32 path.
func (i *Injector) resolveLoader(pid uint32, proc Process, modules []Module, arch Arch) (uint64, error) {
	const op = "resolve_loader"
	for _, m := range modules {
		if !strings.EqualFold(m.Name, loaderModule) {
			continue
		}
		table, err := residentExports(proc, m)
		if err != nil {
			return 0, classify(op, pid, proc, fmt.Errorf("%s: %w", m.Path, err), errors.KindInjectionFailed)
		}
		if ArchOfMachine(table.Machine) != arch {
			continue
		}
		e, ok := table.Lookup(loaderSymbol)
		if !ok || e.Forwarded {
			return 0, errors.ForProcess(op, errors.KindSymbolNotFound, pid, nil).
				WithContext("symbol", loaderSymbol).
				WithContext("module", m.Path)
		}
		return m.Base + uint64(e.RVA), nil
	}
	return 0, errors.ForProcess(op, errors.KindInjectionFailed, pid, nil).
		WithContext("reason", fmt.Sprintf("no %s %s loaded in target", arch, loaderModule))
}

func findByPath(modules []Module, path string) (Module, bool) {
	for _, m := range modules {
		if samePath(m.Path, path) {
			return m, true
		}
	}
	return Module{}, false
}

// Procedure is a resolved payload entry point in one process.
type Procedure struct {
	ref  *ProcessRef
	name string
	addr uint64
}

// Name returns the entry point's export name.
func (p *Procedure) Name() string { return p.name }

// Procedure resolves an exported entry point of the payload.
func (m *InjectedModule) Procedure(name string) (*Procedure, error) {
	e, ok := m.exports.Lookup(name)
	if !ok || e.Forwarded {
		return nil, errors.ForProcess("resolve_procedure", errors.KindSymbolNotFound, m.ref.pid, nil).
			WithContext("symbol", name)
	}
	return &Procedure{ref: m.ref, name: name, addr: m.module.Base + uint64(e.RVA)}, nil
}

// Call runs the entry point on window handle with a boolean argument and
// returns its boolean result. The call blocks until the remote thread exits.
func (p *Procedure) Call(handle uintptr, arg bool) (bool, error) {
	op := "call_" + p.name

	proc, err := p.ref.live(op)
	if err != nil {
		return false, err
	}

	frame := layout.NewCallFrame(handle, arg).Encode()
	code, err := proc.Execute(p.addr, frame)
	if err != nil {
		return false, withHandle(classify(op, p.ref.pid, proc, err, errors.KindRemoteCallFailed), handle)
	}

	switch code {
	case layout.ResultTrue:
		return true, nil
	case layout.ResultFalse:
		return false, nil
	case layout.ResultVersionMismatch:
		return false, errors.ForWindow(op, errors.KindSymbolNotFound, p.ref.pid, handle, nil).
			WithContext("reason", "payload ABI version mismatch")
	}

	if !proc.Alive() {
		return false, errors.ForWindow(op, errors.KindProcessNotFound, p.ref.pid, handle, nil)
	}
	return false, errors.ForWindow(op, errors.KindRemoteCallFailed, p.ref.pid, handle, nil).
		WithContext("exit_code", fmt.Sprintf("%#x", code))
}

func withHandle(err error, handle uintptr) error {
	if e, ok := err.(*errors.Error); ok && e.Handle == 0 {
		cp := *e
		cp.Handle = handle
		return &cp
	}
	return err
}
