package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/invisiwind/invisiwind/internal/attr"
	"github.com/invisiwind/invisiwind/internal/config"
	"github.com/invisiwind/invisiwind/internal/errors"
	"github.com/invisiwind/invisiwind/internal/icon"
	"github.com/invisiwind/invisiwind/internal/inject"
	"github.com/invisiwind/invisiwind/internal/inject/injecttest"
	"github.com/invisiwind/invisiwind/internal/layout"
	"github.com/invisiwind/invisiwind/internal/process"
	"github.com/invisiwind/invisiwind/internal/rules"
	"github.com/invisiwind/invisiwind/internal/visibility"
	"github.com/invisiwind/invisiwind/internal/window"
)

const (
	editorPID  = 100
	editorHWND = 0x1000
	chatPID    = 200
	chatHWND   = 0x2000
)

type fakeWindow struct {
	title string
	pid   uint32
}

// fakeSystem reads display affinity back from the fake processes, so a Hide
// through the injector shows up in the next enumeration.
type fakeSystem struct {
	order   []window.Handle
	windows map[window.Handle]fakeWindow
	procs   map[uint32]*injecttest.Process
}

func (s *fakeSystem) TopLevelWindows() ([]window.Handle, error) { return s.order, nil }
func (s *fakeSystem) IsVisible(h window.Handle) bool             { return true }
func (s *fakeSystem) IsCloaked(h window.Handle) (bool, error)    { return false, nil }

func (s *fakeSystem) Title(h window.Handle, max int) (string, error) {
	return s.windows[h].title, nil
}

func (s *fakeSystem) DisplayAffinity(h window.Handle) (uint32, error) {
	w := s.windows[h]
	return s.procs[w.pid].Window(uintptr(h)).Affinity, nil
}

func (s *fakeSystem) ProcessID(h window.Handle) (uint32, error) {
	return s.windows[h].pid, nil
}

// noIconGDI reports that no window has an icon.
type noIconGDI struct{}

func (noIconGDI) WindowIcon(window.Handle) uintptr { return 0 }
func (noIconGDI) ClassIcon(window.Handle) uintptr  { return 0 }
func (noIconGDI) IconInfo(uintptr) (layout.IconInfo, error) {
	return layout.IconInfo{}, fmt.Errorf("no icons")
}
func (noIconGDI) ScreenDC() (uintptr, error) { return 0, fmt.Errorf("no dc") }
func (noIconGDI) ReleaseDC(uintptr)          {}
func (noIconGDI) BitmapHeader(uintptr) (layout.Bitmap, error) {
	return layout.Bitmap{}, fmt.Errorf("no bitmaps")
}
func (noIconGDI) DIBits(dc, bitmap uintptr, info []byte, height int, pix []byte) error {
	return fmt.Errorf("no bitmaps")
}
func (noIconGDI) DeleteObject(uintptr) {}

type fakeSnapshot []process.Entry

func (f fakeSnapshot) Processes() ([]process.Entry, error) {
	return append([]process.Entry(nil), f...), nil
}

type testEnv struct {
	server  *httptest.Server
	editor  *injecttest.Process
	chat    *injecttest.Process
	watcher *window.Watcher
	config  *config.Manager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	p := injecttest.NewPlatform()
	editor := p.AddProcess(editorPID, inject.Arch64)
	editor.AddWindow(editorHWND, attr.StyleAppWindow)
	chat := p.AddProcess(chatPID, inject.Arch32)
	chat.AddWindow(chatHWND, attr.StyleAppWindow)

	sys := &fakeSystem{
		order: []window.Handle{editorHWND, chatHWND},
		windows: map[window.Handle]fakeWindow{
			editorHWND: {title: "notes.txt - Editor", pid: editorPID},
			chatHWND:   {title: "Voice Connected", pid: chatPID},
		},
		procs: map[uint32]*injecttest.Process{editorPID: editor, chatPID: chat},
	}

	enum := window.NewEnumerator(sys)
	inj := inject.New(p, injecttest.Payloads{}, inject.WithExportReader(p.Exports))
	svc := visibility.New(enum, icon.NewExtractor(noIconGDI{}), inj)
	t.Cleanup(svc.Close)

	watcher := window.NewWatcher(enum, time.Hour)
	if _, err := watcher.Refresh(); err != nil {
		t.Fatal(err)
	}

	finder := process.NewFinder(fakeSnapshot{
		{PID: editorPID, Name: "editor.exe"},
		{PID: chatPID, Name: "Discord.exe"},
	})

	cfgMgr, err := config.NewManager(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(NewServer(svc, watcher, finder, cfgMgr).Handler())
	t.Cleanup(srv.Close)

	return &testEnv{server: srv, editor: editor, chat: chat, watcher: watcher, config: cfgMgr}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	return e.send(t, req)
}

func (e *testEnv) send(t *testing.T, req *http.Request) *http.Response {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, "GET", "/api/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decode[map[string]interface{}](t, resp)
	if body["status"] != "healthy" || body["version"] != Version || body["pending"] != float64(0) {
		t.Errorf("body = %v", body)
	}
}

func TestGetWindows(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, "GET", "/api/windows", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	views := decode[[]windowView](t, resp)
	if len(views) != 2 {
		t.Fatalf("got %d windows, want 2", len(views))
	}
	if views[0].Handle != editorHWND || views[0].Process != "editor.exe" || views[0].Hidden {
		t.Errorf("views[0] = %+v", views[0])
	}
	if views[1].PID != chatPID || views[1].Title != "Voice Connected" {
		t.Errorf("views[1] = %+v", views[1])
	}
}

func TestHideAndShow(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, "POST", "/api/windows/0x1000/hide", visibilityRequest{PID: editorPID})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("hide status = %d", resp.StatusCode)
	}
	if got := env.editor.Window(editorHWND).Affinity; got != attr.AffinityExcludeFromCapture {
		t.Errorf("affinity after hide = %#x", got)
	}

	views := decode[[]windowView](t, env.do(t, "GET", "/api/windows", nil))
	if !views[0].Hidden {
		t.Error("window not reported hidden after hide")
	}

	resp = env.do(t, "POST", "/api/windows/4096/show", visibilityRequest{PID: editorPID})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("show status = %d", resp.StatusCode)
	}
	if got := env.editor.Window(editorHWND).Affinity; got != attr.AffinityNone {
		t.Errorf("affinity after show = %#x", got)
	}
}

func TestHide_LooksUpProcess(t *testing.T) {
	env := newTestEnv(t)
	taskbar := true

	resp := env.do(t, "POST", "/api/windows/0x2000/hide", visibilityRequest{HideFromTaskbar: &taskbar})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	w := env.chat.Window(chatHWND)
	if w.Affinity != attr.AffinityExcludeFromCapture || w.Style&attr.StyleToolWindow == 0 {
		t.Errorf("window = %+v", w)
	}
}

func TestHide_Errors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		path   string
		body   interface{}
		status int
		kind   string
	}{
		{"bad handle", "/api/windows/zzz/hide", nil, http.StatusBadRequest, ""},
		{"unknown window", "/api/windows/0x9999/hide", nil, http.StatusNotFound, ""},
		{"unknown process", "/api/windows/0x1000/hide", visibilityRequest{PID: 4242}, http.StatusNotFound, errors.KindProcessNotFound.String()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, "POST", tt.path, tt.body)
			if resp.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			if tt.kind != "" {
				body := decode[errorResponse](t, resp)
				if body.Kind != tt.kind {
					t.Errorf("kind = %q, want %q", body.Kind, tt.kind)
				}
			}
		})
	}
}

func TestGetIcon(t *testing.T) {
	env := newTestEnv(t)

	if resp := env.do(t, "GET", "/api/windows/0x1000/icon", nil); resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204 for a window without icon", resp.StatusCode)
	}
	if resp := env.do(t, "GET", "/api/windows/0x1000/icon?size=9000", nil); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for bad size", resp.StatusCode)
	}
}

func TestGetProcesses(t *testing.T) {
	env := newTestEnv(t)
	entries := decode[[]process.Entry](t, env.do(t, "GET", "/api/processes", nil))
	if len(entries) != 2 || entries[0].Name != "Discord.exe" {
		t.Errorf("entries = %+v", entries)
	}
}

func TestRules(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, "POST", "/api/rules", config.Rule{Process: "discord"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add status = %d", resp.StatusCode)
	}
	added := decode[config.Rule](t, resp)
	if added.ID != "discord" {
		t.Errorf("added ID = %q", added.ID)
	}

	if resp := env.do(t, "POST", "/api/rules", config.Rule{Title: "("}); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid rule status = %d", resp.StatusCode)
	}

	listed := decode[[]config.Rule](t, env.do(t, "GET", "/api/rules", nil))
	if len(listed) != 1 {
		t.Fatalf("listed %d rules", len(listed))
	}

	results := decode[[]rules.Result](t, env.do(t, "POST", "/api/rules/apply", nil))
	if len(results) != 1 || results[0].RuleID != "discord" || results[0].Error != "" {
		t.Errorf("apply results = %+v", results)
	}
	if got := env.chat.Window(chatHWND).Affinity; got != attr.AffinityExcludeFromCapture {
		t.Errorf("chat affinity = %#x", got)
	}
	if got := env.editor.Window(editorHWND).Affinity; got != attr.AffinityNone {
		t.Errorf("editor affinity = %#x, rule should not match", got)
	}

	// Already hidden windows are skipped.
	results = decode[[]rules.Result](t, env.do(t, "POST", "/api/rules/apply", nil))
	if len(results) != 0 {
		t.Errorf("second apply = %+v, want nothing to do", results)
	}

	if resp := env.do(t, "DELETE", "/api/rules/discord", nil); resp.StatusCode != http.StatusOK {
		t.Errorf("delete status = %d", resp.StatusCode)
	}
	if resp := env.do(t, "DELETE", "/api/rules/discord", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("second delete status = %d", resp.StatusCode)
	}
}


func TestWindowStream(t *testing.T) {
	env := newTestEnv(t)

	wsURL := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/api/windows/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var initial []window.Record
	if err := conn.ReadJSON(&initial); err != nil {
		t.Fatalf("read initial: %v", err)
	}
	if len(initial) != 2 || initial[0].Hidden {
		t.Fatalf("initial = %+v", initial)
	}

	if resp := env.do(t, "POST", "/api/windows/0x1000/hide", visibilityRequest{PID: editorPID}); resp.StatusCode != http.StatusOK {
		t.Fatalf("hide status = %d", resp.StatusCode)
	}

	var update []window.Record
	if err := conn.ReadJSON(&update); err != nil {
		t.Fatalf("read update: %v", err)
	}
	for _, rec := range update {
		if rec.Handle == editorHWND && !rec.Hidden {
			t.Errorf("update does not show the window hidden: %+v", update)
		}
	}
}

func TestLocalOnly_RejectsCrossSiteRequests(t *testing.T) {
	env := newTestEnv(t)

	newRequest := func(method, path, body string) *http.Request {
		req, err := http.NewRequest(method, env.server.URL+path, strings.NewReader(body))
		if err != nil {
			t.Fatal(err)
		}
		return req
	}

	foreign := newRequest("POST", "/api/windows/0x1000/hide", `{"pid":100}`)
	foreign.Header.Set("Origin", "http://evil.example")
	foreign.Header.Set("Content-Type", "application/json")
	if resp := env.send(t, foreign); resp.StatusCode != http.StatusForbidden {
		t.Errorf("foreign origin status = %d, want 403", resp.StatusCode)
	}

	plain := newRequest("POST", "/api/windows/0x1000/hide", `{"pid":100}`)
	plain.Header.Set("Content-Type", "text/plain")
	if resp := env.send(t, plain); resp.StatusCode != http.StatusUnsupportedMediaType {
		t.Errorf("text/plain hide status = %d, want 415", resp.StatusCode)
	}

	noType := newRequest("POST", "/api/rules", `{"title":".*"}`)
	if resp := env.send(t, noType); resp.StatusCode != http.StatusUnsupportedMediaType {
		t.Errorf("untyped rule status = %d, want 415", resp.StatusCode)
	}

	rebound := newRequest("GET", "/api/windows", "")
	rebound.Host = "attacker.example:7878"
	if resp := env.send(t, rebound); resp.StatusCode != http.StatusForbidden {
		t.Errorf("foreign host status = %d, want 403", resp.StatusCode)
	}

	if got := env.editor.Window(editorHWND).Affinity; got != attr.AffinityNone {
		t.Errorf("affinity = %#x, rejected requests changed the window", got)
	}
	if persisted := env.config.Rules(); len(persisted) != 0 {
		t.Errorf("rejected request persisted rules: %+v", persisted)
	}

	local := newRequest("GET", "/api/windows", "")
	local.Header.Set("Origin", env.server.URL)
	if resp := env.send(t, local); resp.StatusCode != http.StatusOK {
		t.Errorf("same-origin status = %d, want 200", resp.StatusCode)
	}
}

func TestLoopbackHost(t *testing.T) {
	tests := []struct {
		host string
		want bool
	}{
		{"127.0.0.1:7878", true},
		{"localhost:7878", true},
		{"LOCALHOST", true},
		{"[::1]:7878", true},
		{"192.168.1.5:7878", false},
		{"evil.example", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := loopbackHost(tt.host); got != tt.want {
			t.Errorf("loopbackHost(%q) = %v, want %v", tt.host, got, tt.want)
		}
	}
}

func TestSameOrigin(t *testing.T) {
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://127.0.0.1:7878", true},
		{"http://evil.example", false},
		{"::bad", false},
	}

	for _, tt := range tests {
		r := httptest.NewRequest("GET", "http://127.0.0.1:7878/api/windows/stream", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		if got := sameOrigin(r); got != tt.want {
			t.Errorf("sameOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}
