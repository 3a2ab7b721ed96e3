package window

import (
	"slices"
	"sync"
	"time"

	"github.com/invisiwind/invisiwind/internal/logger"
)

// Watcher polls an Enumerator and publishes snapshots to subscribers whenever
// the set of windows or their hidden state changes.
type Watcher struct {
	enum     *Enumerator
	interval time.Duration

	mu        sync.RWMutex
	current   []Record
	listeners []chan []Record
	stopChan  chan struct{}
	stopOnce  sync.Once
}

// NewWatcher creates a watcher polling every interval.
func NewWatcher(enum *Enumerator, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = time.Second
	}
	return &Watcher{
		enum:      enum,
		interval:  interval,
		listeners: make([]chan []Record, 0),
		stopChan:  make(chan struct{}),
	}
}

// Start takes an initial snapshot and begins polling in a goroutine.
func (w *Watcher) Start() error {
	if _, err := w.Refresh(); err != nil {
		return err
	}
	go w.monitor()
	return nil
}

// Stop ends polling. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopChan) })
}

func (w *Watcher) monitor() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopChan:
			return
		case <-ticker.C:
			if _, err := w.Refresh(); err != nil {
				logger.WithComponent("watcher").Warn().Err(err).Msg("Failed to enumerate windows")
			}
		}
	}
}

// Refresh enumerates now, notifying listeners if the snapshot changed.
func (w *Watcher) Refresh() ([]Record, error) {
	records, err := w.enum.Enumerate()
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if !sameWindows(w.current, records) {
		w.current = records
		w.notifyListenersLocked()
	}
	return records, nil
}

// Snapshot returns the most recent snapshot.
func (w *Watcher) Snapshot() []Record {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return slices.Clone(w.current)
}

// Subscribe adds a listener for window snapshots. A listener that falls
// behind only sees the latest snapshot; intermediate ones are replaced.
func (w *Watcher) Subscribe() chan []Record {
	ch := make(chan []Record, 1)
	w.mu.Lock()
	w.listeners = append(w.listeners, ch)
	w.mu.Unlock()
	return ch
}

// Unsubscribe removes a listener
func (w *Watcher) Unsubscribe(ch chan []Record) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i, listener := range w.listeners {
		if listener == ch {
			w.listeners = append(w.listeners[:i], w.listeners[i+1:]...)
			close(ch)
			break
		}
	}
}

// notifyListenersLocked replaces any undelivered snapshot with the current
// one. Callers hold w.mu, so no other sender can refill a drained slot.
func (w *Watcher) notifyListenersLocked() {
	for _, listener := range w.listeners {
		select {
		case <-listener:
		default:
		}
		select {
		case listener <- slices.Clone(w.current):
		default:
		}
	}
}

// sameWindows compares snapshots ignoring z-order.
func sameWindows(a, b []Record) bool {
	if len(a) != len(b) {
		return false
	}
	byHandle := func(x, y Record) int {
		switch {
		case x.Handle < y.Handle:
			return -1
		case x.Handle > y.Handle:
			return 1
		}
		return 0
	}
	as := slices.SortedFunc(slices.Values(a), byHandle)
	bs := slices.SortedFunc(slices.Values(b), byHandle)
	return slices.Equal(as, bs)
}
