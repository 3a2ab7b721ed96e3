package window

import (
	"testing"
	"time"
)

func TestWatcher_NotifiesOnChange(t *testing.T) {
	sys := newFakeSystem()
	sys.add(1, fakeWindow{visible: true, title: "Notepad", pid: 100})
	w := NewWatcher(NewEnumerator(sys), time.Hour)

	if _, err := w.Refresh(); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	ch := w.Subscribe()
	defer w.Unsubscribe(ch)

	// nothing changed
	if _, err := w.Refresh(); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	select {
	case snap := <-ch:
		t.Fatalf("unexpected notification %+v", snap)
	default:
	}

	sys.setAffinity(1, 0x11)
	if _, err := w.Refresh(); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	select {
	case snap := <-ch:
		if len(snap) != 1 || !snap[0].Hidden {
			t.Errorf("snapshot = %+v", snap)
		}
	default:
		t.Fatal("expected a notification after the hidden flag changed")
	}

	if got := w.Snapshot(); len(got) != 1 || !got[0].Hidden {
		t.Errorf("Snapshot() = %+v", got)
	}
}

func TestWatcher_SlowListenerGetsLatest(t *testing.T) {
	sys := newFakeSystem()
	w := NewWatcher(NewEnumerator(sys), time.Hour)
	ch := w.Subscribe()
	defer w.Unsubscribe(ch)

	for i := 1; i <= 6; i++ {
		sys.add(Handle(i), fakeWindow{visible: true, title: "Window", pid: 100})
		if _, err := w.Refresh(); err != nil {
			t.Fatalf("Refresh: %v", err)
		}
	}

	select {
	case snap := <-ch:
		if len(snap) != 6 {
			t.Errorf("delivered snapshot has %d windows, want 6", len(snap))
		}
	default:
		t.Fatal("expected a pending snapshot")
	}
	select {
	case snap := <-ch:
		t.Errorf("stale snapshot still queued: %d windows", len(snap))
	default:
	}
}

func TestWatcher_UnsubscribeClosesChannel(t *testing.T) {
	w := NewWatcher(NewEnumerator(newFakeSystem()), time.Hour)
	ch := w.Subscribe()
	w.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Error("expected channel to be closed")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	w := NewWatcher(NewEnumerator(newFakeSystem()), 10*time.Millisecond)
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	w.Stop()
	w.Stop()
}

func TestSameWindows_IgnoresOrder(t *testing.T) {
	a := []Record{{Handle: 1}, {Handle: 2}}
	b := []Record{{Handle: 2}, {Handle: 1}}
	if !sameWindows(a, b) {
		t.Error("expected snapshots differing only in order to be equal")
	}
	if sameWindows(a, []Record{{Handle: 1}, {Handle: 3}}) {
		t.Error("expected different handles to differ")
	}
}
