package visibility

import (
	"context"
	"sync"

	"github.com/invisiwind/invisiwind/internal/attr"
	"github.com/invisiwind/invisiwind/internal/errors"
	"github.com/invisiwind/invisiwind/internal/inject"
	"github.com/invisiwind/invisiwind/internal/logger"
	"github.com/invisiwind/invisiwind/internal/window"
)

type action int

const (
	actionHide action = iota
	actionShow
)

func (a action) String() string {
	if a == actionHide {
		return "hide"
	}
	return "show"
}

type request struct {
	action  action
	pid     uint32
	handle  window.Handle
	taskbar *bool // hide from taskbar; nil leaves the taskbar untouched
	reply   chan error
}

// Worker owns every injection and remote call. Requests are executed one at
// a time in submission order on a single goroutine; process references and
// resolved procedures never leave it.
type Worker struct {
	injector *inject.Injector
	queue    *queue[*request]
	done     chan struct{}
	once     sync.Once
}

// NewWorker starts a worker goroutine driving injector.
func NewWorker(injector *inject.Injector) *Worker {
	w := &Worker{
		injector: injector,
		queue:    newQueue[*request](),
		done:     make(chan struct{}),
	}
	go w.run()
	return w
}

// submit enqueues a request and returns the channel its result arrives on.
// The channel is buffered, so abandoning it never blocks the worker.
func (w *Worker) submit(req *request) <-chan error {
	req.reply = make(chan error, 1)
	if !w.queue.push(req) {
		req.reply <- errors.New(req.action.String(), errors.KindRemoteCallFailed, errWorkerClosed)
	}
	return req.reply
}

// wait blocks until the result arrives or ctx is done. A request that is
// already running keeps running after ctx is cancelled.
func wait(ctx context.Context, reply <-chan error) error {
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting requests and waits for queued ones to finish.
func (w *Worker) Close() {
	w.once.Do(w.queue.close)
	<-w.done
}

// Pending returns the number of queued requests not yet started.
func (w *Worker) Pending() int {
	return w.queue.len()
}

func (w *Worker) run() {
	defer close(w.done)
	for {
		req, ok := w.queue.pop()
		if !ok {
			return
		}
		req.reply <- w.execute(req)
	}
}

func (w *Worker) execute(req *request) error {
	log := logger.WithComponent("worker")

	ref, err := w.injector.Open(req.pid)
	if err != nil {
		return err
	}
	defer ref.Close()

	mod, err := w.injector.EnsureResident(ref)
	if err != nil {
		return err
	}

	setVisibility, err := mod.Procedure(attr.EntrySetVisibility)
	if err != nil {
		return err
	}
	var setTaskbar *inject.Procedure
	if req.taskbar != nil {
		if setTaskbar, err = mod.Procedure(attr.EntrySetTaskbarVisibility); err != nil {
			return err
		}
	}

	hwnd := uintptr(req.handle)
	if err := call(setVisibility, req.pid, hwnd, req.action == actionHide); err != nil {
		return err
	}
	if setTaskbar != nil {
		if err := call(setTaskbar, req.pid, hwnd, !*req.taskbar); err != nil {
			return err
		}
	}

	ev := log.Info().
		Str("action", req.action.String()).
		Uint32("pid", req.pid).
		Str("hwnd", req.handle.String())
	if req.taskbar != nil {
		ev = ev.Bool("hide_from_taskbar", *req.taskbar)
	}
	ev.Msg("Window updated")
	return nil
}

// call runs p and turns a false result into an AttributeRejected error.
func call(p *inject.Procedure, pid uint32, hwnd uintptr, arg bool) error {
	ok, err := p.Call(hwnd, arg)
	if err != nil {
		return err
	}
	if !ok {
		return errors.ForWindow(p.Name(), errors.KindAttributeRejected, pid, hwnd, nil)
	}
	return nil
}
