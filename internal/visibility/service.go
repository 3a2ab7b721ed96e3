// Package visibility is the entry point for listing windows and changing
// whether they can be captured.
package visibility

import (
	"context"
	stderrors "errors"

	"github.com/invisiwind/invisiwind/internal/icon"
	"github.com/invisiwind/invisiwind/internal/inject"
	"github.com/invisiwind/invisiwind/internal/window"
)

var errWorkerClosed = stderrors.New("visibility worker is closed")

// Service combines enumeration, icon extraction and the injection worker.
// Enumeration and icons run on the caller's goroutine; Hide and Show are
// queued to the worker.
type Service struct {
	enum   *window.Enumerator
	icons  *icon.Extractor
	worker *Worker
}

// New creates a service from its parts.
func New(enum *window.Enumerator, icons *icon.Extractor, injector *inject.Injector) *Service {
	return &Service{
		enum:   enum,
		icons:  icons,
		worker: NewWorker(injector),
	}
}

// NewSystem creates a service backed by the operating system.
func NewSystem(payloads inject.PayloadLocator) *Service {
	return New(
		window.NewEnumerator(window.NewSystem()),
		icon.NewExtractor(icon.NewGDI()),
		inject.New(inject.NewPlatform(), payloads),
	)
}

// Enumerator returns the window enumerator, for callers that poll.
func (s *Service) Enumerator() *window.Enumerator {
	return s.enum
}

// EnumerateTopLevelWindows returns a fresh snapshot of user-facing windows.
func (s *Service) EnumerateTopLevelWindows() ([]window.Record, error) {
	return s.enum.Enumerate()
}

// ExtractIcon returns the window's icon, or nil when it has none.
func (s *Service) ExtractIcon(h window.Handle) (*icon.Image, error) {
	return s.icons.Extract(h)
}

// Hide excludes the window from capture. When hideFromTaskbar is non-nil the
// taskbar entry is hidden (true) or shown (false) as well.
func (s *Service) Hide(ctx context.Context, pid uint32, h window.Handle, hideFromTaskbar *bool) error {
	return wait(ctx, s.HideAsync(pid, h, hideFromTaskbar))
}

// Show restores capture of the window; hideFromTaskbar behaves as in Hide.
func (s *Service) Show(ctx context.Context, pid uint32, h window.Handle, hideFromTaskbar *bool) error {
	return wait(ctx, s.ShowAsync(pid, h, hideFromTaskbar))
}

// HideAsync queues a Hide and returns the channel its result arrives on.
func (s *Service) HideAsync(pid uint32, h window.Handle, hideFromTaskbar *bool) <-chan error {
	return s.worker.submit(&request{action: actionHide, pid: pid, handle: h, taskbar: copyBool(hideFromTaskbar)})
}

// ShowAsync queues a Show and returns the channel its result arrives on.
func (s *Service) ShowAsync(pid uint32, h window.Handle, hideFromTaskbar *bool) <-chan error {
	return s.worker.submit(&request{action: actionShow, pid: pid, handle: h, taskbar: copyBool(hideFromTaskbar)})
}

// Pending returns the number of Hide and Show requests waiting for the worker.
func (s *Service) Pending() int {
	return s.worker.Pending()
}

// Close waits for queued requests and stops the worker.
func (s *Service) Close() {
	s.worker.Close()
}

func copyBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}
