package inject_test

import (
	"debug/pe"
	"errors"
	"testing"

	"github.com/invisiwind/invisiwind/internal/attr"
	ierrors "github.com/invisiwind/invisiwind/internal/errors"
	"github.com/invisiwind/invisiwind/internal/inject"
	"github.com/invisiwind/invisiwind/internal/inject/injecttest"
	"github.com/invisiwind/invisiwind/internal/layout"
)

func newInjector(p *injecttest.Platform) *inject.Injector {
	return inject.New(p, injecttest.Payloads{}, inject.WithExportReader(p.Exports))
}

func openAndEnsure(t *testing.T, inj *inject.Injector, pid uint32) (*inject.ProcessRef, *inject.InjectedModule) {
	t.Helper()
	ref, err := inj.Open(pid)
	if err != nil {
		t.Fatalf("Open(%d): %v", pid, err)
	}
	t.Cleanup(func() { ref.Close() })
	mod, err := inj.EnsureResident(ref)
	if err != nil {
		t.Fatalf("EnsureResident(%d): %v", pid, err)
	}
	return ref, mod
}

func TestEnsureResident_Idempotent(t *testing.T) {
	p := injecttest.NewPlatform()
	proc := p.AddProcess(100, inject.Arch64)
	inj := newInjector(p)

	ref, first := openAndEnsure(t, inj, 100)
	second, err := inj.EnsureResident(ref)
	if err != nil {
		t.Fatalf("second EnsureResident: %v", err)
	}

	if proc.LoadCount() != 1 {
		t.Errorf("payload loaded %d times, want 1", proc.LoadCount())
	}
	if first.Base() != second.Base() {
		t.Errorf("module base changed: %#x then %#x", first.Base(), second.Base())
	}

	// a fresh reference finds the resident module too
	_, third := openAndEnsure(t, inj, 100)
	if proc.LoadCount() != 1 || third.Base() != first.Base() {
		t.Errorf("reopen: loads=%d base=%#x", proc.LoadCount(), third.Base())
	}
}

func TestEnsureResident_SelectsBuildByBitness(t *testing.T) {
	tests := []struct {
		name string
		arch inject.Arch
	}{
		{"64-bit target", inject.Arch64},
		{"32-bit target", inject.Arch32},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := injecttest.NewPlatform()
			proc := p.AddProcess(7, tt.arch)
			_, mod := openAndEnsure(t, newInjector(p), 7)

			if mod.Arch() != tt.arch {
				t.Errorf("module arch = %v, want %v", mod.Arch(), tt.arch)
			}
			// the fake loader refuses images of the wrong bitness
			if proc.LoadCount() != 1 {
				t.Errorf("loads = %d, want 1", proc.LoadCount())
			}
		})
	}
}

func TestEnsureResident_RefusesWrongPayloadMachine(t *testing.T) {
	p := injecttest.NewPlatform()
	p.AddProcess(7, inject.Arch32)
	p.Exports.Set(injecttest.PayloadPath32, &layout.ExportTable{
		Machine: pe.IMAGE_FILE_MACHINE_AMD64,
		Exports: map[string]layout.Export{},
	})
	inj := newInjector(p)

	ref, err := inj.Open(7)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ref.Close()
	if _, err := inj.EnsureResident(ref); ierrors.KindOf(err) != ierrors.KindInjectionFailed {
		t.Errorf("err = %v, want INJECTION_FAILED", err)
	}
}

func TestEnsureResident_32BitHostCannotReach64BitTarget(t *testing.T) {
	p := injecttest.NewPlatform()
	p.Host = inject.Arch32
	p.AddProcess(7, inject.Arch64)
	inj := newInjector(p)

	ref, _ := inj.Open(7)
	defer ref.Close()
	if _, err := inj.EnsureResident(ref); ierrors.KindOf(err) != ierrors.KindInjectionFailed {
		t.Errorf("err = %v, want INJECTION_FAILED", err)
	}
}

func TestEnsureResident_Failures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*injecttest.Platform, *injecttest.Process)
		want  ierrors.Kind
	}{
		{
			name:  "payload missing on disk",
			setup: func(p *injecttest.Platform, _ *injecttest.Process) { p.Exports.Set(injecttest.PayloadPath64, nil) },
			want:  ierrors.KindInjectionFailed,
		},
		{
			name:  "loader returns null",
			setup: func(_ *injecttest.Platform, proc *injecttest.Process) { proc.LoadFails = true },
			want:  ierrors.KindInjectionFailed,
		},
		{
			name: "mapped payload has the wrong machine",
			setup: func(p *injecttest.Platform, _ *injecttest.Process) {
				p.Exports.SetMapped(injecttest.PayloadPath64, &layout.ExportTable{
					Machine: pe.IMAGE_FILE_MACHINE_I386,
					Exports: map[string]layout.Export{},
				})
			},
			want: ierrors.KindInjectionFailed,
		},
		{
			name:  "target exits during load",
			setup: func(_ *injecttest.Platform, proc *injecttest.Process) { proc.ExitOnLoad = true },
			want:  ierrors.KindProcessNotFound,
		},
		{
			name: "LoadLibraryW not exported",
			setup: func(p *injecttest.Platform, _ *injecttest.Process) {
				p.Exports.Set(injecttest.Kernel32Path64, &layout.ExportTable{
					Machine: pe.IMAGE_FILE_MACHINE_AMD64,
					Exports: map[string]layout.Export{},
				})
			},
			want: ierrors.KindSymbolNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := injecttest.NewPlatform()
			proc := p.AddProcess(9, inject.Arch64)
			tt.setup(p, proc)
			inj := newInjector(p)

			ref, err := inj.Open(9)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer ref.Close()

			_, err = inj.EnsureResident(ref)
			if got := ierrors.KindOf(err); got != tt.want {
				t.Errorf("kind = %v (%v), want %v", got, err, tt.want)
			}
		})
	}
}

func TestEnsureResident_ModuleAboveFourGiB(t *testing.T) {
	p := injecttest.NewPlatform()
	proc := p.AddProcess(9, inject.Arch64)
	proc.AddWindow(0x42, attr.StyleAppWindow)
	// LoadLibraryW's thread exit code truncates this handle to zero
	proc.LoadAt(0x1_0000_0000)

	_, mod := openAndEnsure(t, newInjector(p), 9)
	if mod.Base() != 0x1_0000_0000 {
		t.Errorf("base = %#x, want 0x100000000", mod.Base())
	}
	setVis, err := mod.Procedure(attr.EntrySetVisibility)
	if err != nil {
		t.Fatalf("Procedure: %v", err)
	}
	if ok, err := setVis.Call(0x42, true); err != nil || !ok {
		t.Errorf("Call = %v, %v", ok, err)
	}
}

func TestEnsureResident_UsesMappedImageExports(t *testing.T) {
	moved := func(machine uint16, exports ...layout.Export) *layout.ExportTable {
		table := &layout.ExportTable{Machine: machine, Exports: map[string]layout.Export{}}
		for _, e := range exports {
			table.Exports[e.Name] = e
		}
		return table
	}

	tests := []struct {
		name  string
		arch  inject.Arch
		setup func(*injecttest.Exports)
	}{
		{
			name: "payload entry points differ from the file",
			arch: inject.Arch64,
			setup: func(e *injecttest.Exports) {
				e.SetMapped(injecttest.PayloadPath64, moved(pe.IMAGE_FILE_MACHINE_AMD64,
					layout.Export{Name: attr.EntrySetVisibility, RVA: 0x3100},
					layout.Export{Name: attr.EntrySetTaskbarVisibility, RVA: 0x3200},
				))
			},
		},
		{
			name: "loader differs from the file",
			arch: inject.Arch64,
			setup: func(e *injecttest.Exports) {
				e.SetMapped(injecttest.Kernel32Path64, moved(pe.IMAGE_FILE_MACHINE_AMD64,
					layout.Export{Name: "LoadLibraryW", RVA: 0x2a000},
				))
			},
		},
		{
			name: "loader file unreadable from the host",
			arch: inject.Arch32,
			setup: func(e *injecttest.Exports) {
				e.SetMapped(injecttest.Kernel32Path32, moved(pe.IMAGE_FILE_MACHINE_I386,
					layout.Export{Name: "LoadLibraryW", RVA: 0x2b000},
				))
				e.Set(injecttest.Kernel32Path32, nil)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := injecttest.NewPlatform()
			proc := p.AddProcess(11, tt.arch)
			proc.AddWindow(0x42, attr.StyleAppWindow)
			tt.setup(p.Exports)

			_, mod := openAndEnsure(t, newInjector(p), 11)
			setVis, err := mod.Procedure(attr.EntrySetVisibility)
			if err != nil {
				t.Fatalf("Procedure: %v", err)
			}
			ok, err := setVis.Call(0x42, true)
			if err != nil || !ok {
				t.Fatalf("Call = %v, %v", ok, err)
			}
			if !proc.Alive() {
				t.Fatal("target crashed: call went to a stale address")
			}
			if got := proc.Window(0x42).Affinity; got != attr.AffinityExcludeFromCapture {
				t.Errorf("affinity = %#x", got)
			}
			if proc.MemoryReads == 0 {
				t.Error("exports were not read from the target")
			}
		})
	}
}

func TestOpen_Failures(t *testing.T) {
	p := injecttest.NewPlatform()
	p.FailOpen(5, ierrors.ForProcess("open_process", ierrors.KindAccessDenied, 5, errors.New("denied")))
	inj := newInjector(p)

	if _, err := inj.Open(5); !ierrors.IsAccessDenied(err) {
		t.Errorf("Open(5) = %v, want ACCESS_DENIED", err)
	}
	if _, err := inj.Open(404); !ierrors.IsProcessNotFound(err) {
		t.Errorf("Open(404) = %v, want PROCESS_NOT_FOUND", err)
	}
	if _, err := inj.Open(0); !ierrors.IsProcessNotFound(err) {
		t.Errorf("Open(0) = %v, want PROCESS_NOT_FOUND", err)
	}
}

func TestProcessRef_UnusableAfterClose(t *testing.T) {
	p := injecttest.NewPlatform()
	proc := p.AddProcess(3, inject.Arch64)
	inj := newInjector(p)

	ref, mod := openAndEnsure(t, inj, 3)
	procedure, err := mod.Procedure(attr.EntrySetVisibility)
	if err != nil {
		t.Fatalf("Procedure: %v", err)
	}
	if err := ref.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := ref.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, closed := proc.HandleCounts(); closed != 1 {
		t.Errorf("handle closed %d times, want 1", closed)
	}

	if _, err := procedure.Call(1, true); !ierrors.IsProcessNotFound(err) {
		t.Errorf("Call after Close = %v, want PROCESS_NOT_FOUND", err)
	}
	if _, err := inj.EnsureResident(ref); !ierrors.IsProcessNotFound(err) {
		t.Errorf("EnsureResident after Close = %v, want PROCESS_NOT_FOUND", err)
	}
}

func TestProcedure_ResolveMissingSymbol(t *testing.T) {
	p := injecttest.NewPlatform()
	p.AddProcess(3, inject.Arch64)
	_, mod := openAndEnsure(t, newInjector(p), 3)

	_, err := mod.Procedure("DoesNotExist")
	if !ierrors.IsSymbolNotFound(err) {
		t.Errorf("err = %v, want SYMBOL_NOT_FOUND", err)
	}
	if !ierrors.IsConfiguration(err) {
		t.Error("a missing payload export should be a configuration error")
	}
}

func TestProcedure_Call(t *testing.T) {
	p := injecttest.NewPlatform()
	proc := p.AddProcess(3, inject.Arch64)
	proc.AddWindow(0x42, attr.StyleAppWindow)
	_, mod := openAndEnsure(t, newInjector(p), 3)

	setVis, err := mod.Procedure(attr.EntrySetVisibility)
	if err != nil {
		t.Fatalf("Procedure: %v", err)
	}

	ok, err := setVis.Call(0x42, true)
	if err != nil || !ok {
		t.Fatalf("Call = %v, %v", ok, err)
	}
	if got := proc.Window(0x42).Affinity; got != attr.AffinityExcludeFromCapture {
		t.Errorf("affinity = %#x", got)
	}

	// unknown window: the entry point runs and reports false
	ok, err = setVis.Call(0x99, true)
	if err != nil || ok {
		t.Errorf("Call(unknown window) = %v, %v; want false, nil", ok, err)
	}
}

func TestProcedure_CallTargetDies(t *testing.T) {
	p := injecttest.NewPlatform()
	proc := p.AddProcess(3, inject.Arch64)
	proc.AddWindow(0x42, 0)
	_, mod := openAndEnsure(t, newInjector(p), 3)
	setVis, _ := mod.Procedure(attr.EntrySetVisibility)

	proc.CrashOnCall = true
	_, err := setVis.Call(0x42, true)
	if !ierrors.IsProcessNotFound(err) {
		t.Errorf("crash during call = %v, want PROCESS_NOT_FOUND", err)
	}

	// subsequent calls fail cleanly as well
	if _, err := setVis.Call(0x42, true); !ierrors.IsProcessNotFound(err) {
		t.Errorf("call on dead process = %v, want PROCESS_NOT_FOUND", err)
	}
}

func TestHostArchAndMachine(t *testing.T) {
	if inject.ArchOfMachine(pe.IMAGE_FILE_MACHINE_I386) != inject.Arch32 {
		t.Error("I386 should map to Arch32")
	}
	if inject.ArchOfMachine(pe.IMAGE_FILE_MACHINE_AMD64) != inject.Arch64 {
		t.Error("AMD64 should map to Arch64")
	}
	if inject.ArchOfMachine(pe.IMAGE_FILE_MACHINE_ARM64) != inject.ArchUnknown {
		t.Error("ARM64 has no payload build")
	}
}
