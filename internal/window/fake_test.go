package window

import (
	"errors"
	"sync"
)

type fakeWindow struct {
	visible     bool
	cloaked     bool
	cloakErr    bool
	title       string
	affinity    uint32
	affinityErr bool
	pid         uint32
	pidErr      bool
}

type fakeSystem struct {
	mu      sync.Mutex
	order   []Handle
	windows map[Handle]*fakeWindow
	listErr error
}

func newFakeSystem() *fakeSystem {
	return &fakeSystem{windows: make(map[Handle]*fakeWindow)}
}

func (f *fakeSystem) add(h Handle, w fakeWindow) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.order = append(f.order, h)
	f.windows[h] = &w
}

func (f *fakeSystem) setAffinity(h Handle, a uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.windows[h].affinity = a
}

func (f *fakeSystem) get(h Handle) *fakeWindow {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.windows[h]
}

func (f *fakeSystem) TopLevelWindows() ([]Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]Handle(nil), f.order...), nil
}

func (f *fakeSystem) IsVisible(h Handle) bool { return f.get(h).visible }

func (f *fakeSystem) IsCloaked(h Handle) (bool, error) {
	w := f.get(h)
	if w.cloakErr {
		return false, errors.New("dwm unavailable")
	}
	return w.cloaked, nil
}

func (f *fakeSystem) Title(h Handle, max int) (string, error) {
	return f.get(h).title, nil
}

func (f *fakeSystem) DisplayAffinity(h Handle) (uint32, error) {
	w := f.get(h)
	if w.affinityErr {
		return 0, errors.New("access denied")
	}
	return w.affinity, nil
}

func (f *fakeSystem) ProcessID(h Handle) (uint32, error) {
	w := f.get(h)
	if w.pidErr {
		return 0, errors.New("window destroyed")
	}
	return w.pid, nil
}
