package process

import (
	"errors"
	"reflect"
	"testing"

	ierrors "github.com/invisiwind/invisiwind/internal/errors"
)

type staticSnapshot struct {
	entries []Entry
	err     error
}

func (s staticSnapshot) Processes() ([]Entry, error) {
	return append([]Entry(nil), s.entries...), s.err
}

func testFinder() *Finder {
	return NewFinder(staticSnapshot{entries: []Entry{
		{PID: 4, Name: "System"},
		{PID: 1200, Name: "notepad.exe"},
		{PID: 1300, Name: "Notepad.exe"},
		{PID: 2000, Name: "explorer.exe"},
		{PID: 3000, Name: "helper"},
	}})
}

func TestFind(t *testing.T) {
	tests := []struct {
		name string
		want []uint32
	}{
		{"notepad.exe", []uint32{1200, 1300}},
		{"NOTEPAD", []uint32{1200, 1300}},
		{"explorer", []uint32{2000}},
		{"helper", []uint32{3000}},
		{"missing", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := testFinder().Find(tt.name)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Find(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	f := testFinder()

	pids, err := f.Resolve("4242")
	if err != nil || !reflect.DeepEqual(pids, []uint32{4242}) {
		t.Errorf("Resolve(4242) = %v, %v", pids, err)
	}

	pids, err = f.Resolve("explorer")
	if err != nil || !reflect.DeepEqual(pids, []uint32{2000}) {
		t.Errorf("Resolve(explorer) = %v, %v", pids, err)
	}

	if _, err := f.Resolve("ghost"); !ierrors.IsProcessNotFound(err) {
		t.Errorf("Resolve(ghost) = %v, want PROCESS_NOT_FOUND", err)
	}
}

func TestList_Sorted(t *testing.T) {
	entries, err := testFinder().List()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	want := []string{"explorer.exe", "helper", "notepad.exe", "Notepad.exe", "System"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("List() names = %v, want %v", names, want)
	}
}

func TestSnapshotErrorsPropagate(t *testing.T) {
	f := NewFinder(staticSnapshot{err: errors.New("snapshot failed")})
	if _, err := f.Find("x"); err == nil {
		t.Error("Find: expected error")
	}
	if _, err := f.Names(); err == nil {
		t.Error("Names: expected error")
	}
	if _, err := f.List(); err == nil {
		t.Error("List: expected error")
	}
}
