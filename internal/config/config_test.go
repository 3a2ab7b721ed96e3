package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "invisiwind", "config.yaml")
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return m
}

func TestNewManager_CreatesDefaults(t *testing.T) {
	m := newTestManager(t)

	if _, err := os.Stat(m.GetConfigPath()); err != nil {
		t.Fatalf("config file not created: %v", err)
	}
	cfg := m.Get()
	want := Defaults()
	if cfg.Server != want.Server {
		t.Errorf("Server = %+v, want %+v", cfg.Server, want.Server)
	}
	if cfg.LogLevel != want.LogLevel {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, want.LogLevel)
	}
	if len(cfg.Rules) != 0 {
		t.Errorf("Rules = %v, want empty", cfg.Rules)
	}
	if m.GetConfigDir() != filepath.Dir(m.GetConfigPath()) {
		t.Errorf("GetConfigDir() = %q", m.GetConfigDir())
	}
}

func TestNewManager_LoadsExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `log_level: debug
server:
  host: 127.0.0.1
  port: 9000
rules:
  - id: obs
    process: obs64.exe
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	cfg := m.Get()
	if cfg.LogLevel != "debug" || cfg.Server.Port != 9000 {
		t.Errorf("loaded config = %+v", cfg)
	}
	// Unset keys keep their defaults.
	if cfg.RefreshIntervalMs != Defaults().RefreshIntervalMs {
		t.Errorf("RefreshIntervalMs = %d, want default", cfg.RefreshIntervalMs)
	}
	if len(cfg.Rules) != 1 || cfg.Rules[0].Process != "obs64.exe" {
		t.Errorf("Rules = %+v", cfg.Rules)
	}
}

func TestNewManager_RejectsInvalidFiles(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"malformed yaml", "server: [\n"},
		{"remote host", "server:\n  host: 0.0.0.0\n"},
		{"bad rule pattern", "rules:\n  - id: x\n    title: \"(\"\n"},
		{"empty rule", "rules:\n  - id: x\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.data), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := NewManager(path); err == nil {
				t.Error("NewManager() error = nil, want error")
			}
		})
	}
}

func TestManager_GetReturnsCopy(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.AddRule(Rule{Process: "obs64.exe"}); err != nil {
		t.Fatal(err)
	}

	cfg := m.Get()
	cfg.Rules[0].Process = "changed"
	cfg.Server.Port = 1

	again := m.Get()
	if again.Rules[0].Process != "obs64.exe" || again.Server.Port == 1 {
		t.Errorf("Get() shares state with manager: %+v", again)
	}
}

func TestManager_AddRule(t *testing.T) {
	m := newTestManager(t)

	first, err := m.AddRule(Rule{Process: "Discord.exe"})
	if err != nil {
		t.Fatalf("AddRule() error = %v", err)
	}
	if first.ID != "discord" {
		t.Errorf("ID = %q, want discord", first.ID)
	}
	second, err := m.AddRule(Rule{Process: "discord", Title: "Voice"})
	if err != nil {
		t.Fatalf("AddRule() error = %v", err)
	}
	if second.ID != "discord-1" {
		t.Errorf("ID = %q, want discord-1", second.ID)
	}
	titleOnly, err := m.AddRule(Rule{Title: "^Secret"})
	if err != nil {
		t.Fatalf("AddRule() error = %v", err)
	}
	if titleOnly.ID != "title" {
		t.Errorf("ID = %q, want title", titleOnly.ID)
	}

	if _, err := m.AddRule(Rule{ID: "discord", Process: "x"}); err == nil {
		t.Error("AddRule() with duplicate ID succeeded")
	}
	if _, err := m.AddRule(Rule{}); err == nil {
		t.Error("AddRule() with empty rule succeeded")
	}

	reloaded, err := NewManager(m.GetConfigPath())
	if err != nil {
		t.Fatal(err)
	}
	if got := len(reloaded.Rules()); got != 3 {
		t.Errorf("reloaded %d rules, want 3", got)
	}
}

func TestManager_RemoveRule(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.AddRule(Rule{Process: "a"}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.AddRule(Rule{Process: "b"}); err != nil {
		t.Fatal(err)
	}

	if err := m.RemoveRule("a"); err != nil {
		t.Fatalf("RemoveRule() error = %v", err)
	}
	rules := m.Rules()
	if len(rules) != 1 || rules[0].ID != "b" {
		t.Errorf("Rules() = %+v", rules)
	}
	if err := m.RemoveRule("a"); err == nil {
		t.Error("RemoveRule() of missing rule succeeded")
	}
}

func TestManager_Set(t *testing.T) {
	m := newTestManager(t)

	valid := []struct{ key, value string }{
		{"log_level", "debug"},
		{"pretty_log", "false"},
		{"server.host", "localhost"},
		{"server.port", "9123"},
		{"payload.dir", `C:\invisiwind`},
		{"payload.development", "true"},
		{"hide_from_taskbar", "true"},
		{"refresh_interval_ms", "250"},
	}
	for _, tt := range valid {
		if err := m.Set(tt.key, tt.value); err != nil {
			t.Errorf("Set(%q, %q) error = %v", tt.key, tt.value, err)
		}
	}

	cfg := m.Get()
	if cfg.LogLevel != "debug" || cfg.PrettyLog || cfg.Server.Port != 9123 ||
		!cfg.Payload.Development || !cfg.HideFromTaskbar || cfg.RefreshIntervalMs != 250 {
		t.Errorf("config after Set = %+v", cfg)
	}

	invalid := []struct{ key, value string }{
		{"log_level", "loud"},
		{"server.host", "10.0.0.1"},
		{"server.port", "70000"},
		{"refresh_interval_ms", "5"},
		{"hide_from_taskbar", "maybe"},
		{"nope", "1"},
	}
	for _, tt := range invalid {
		if err := m.Set(tt.key, tt.value); err == nil {
			t.Errorf("Set(%q, %q) succeeded, want error", tt.key, tt.value)
		}
	}
	if m.Get().Server.Port != 9123 {
		t.Error("failed Set modified the config")
	}
}

func TestManager_Lookup(t *testing.T) {
	m := newTestManager(t)

	got, err := m.Lookup("server.port")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if got != Defaults().Server.Port {
		t.Errorf("Lookup(server.port) = %v (%T)", got, got)
	}

	if _, err := m.Lookup("server.missing"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("Lookup(missing) error = %v", err)
	}
}

func TestManager_Override(t *testing.T) {
	m := newTestManager(t)
	m.Override("error", 8080)

	cfg := m.Get()
	if cfg.LogLevel != "error" || cfg.Server.Port != 8080 {
		t.Errorf("Override() not applied: %+v", cfg)
	}

	reloaded, err := NewManager(m.GetConfigPath())
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Get().Server.Port == 8080 {
		t.Error("Override() was persisted")
	}
}

// breakSave replaces the config file with a directory so writes fail.
func breakSave(t *testing.T, m *Manager) {
	t.Helper()
	if err := os.Remove(m.GetConfigPath()); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(m.GetConfigPath(), 0755); err != nil {
		t.Fatal(err)
	}
}

func TestManager_FailedSaveRollsBack(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.AddRule(Rule{Process: "keep"}); err != nil {
		t.Fatal(err)
	}
	breakSave(t, m)

	if _, err := m.AddRule(Rule{Process: "added"}); err == nil {
		t.Fatal("AddRule() succeeded with an unwritable config")
	}
	if got := m.Rules(); len(got) != 1 || got[0].ID != "keep" {
		t.Errorf("Rules() after failed add = %+v", got)
	}

	if err := m.RemoveRule("keep"); err == nil {
		t.Fatal("RemoveRule() succeeded with an unwritable config")
	}
	if got := m.Rules(); len(got) != 1 {
		t.Errorf("Rules() after failed remove = %+v", got)
	}

	if err := m.Set("server.port", "9999"); err == nil {
		t.Fatal("Set() succeeded with an unwritable config")
	}
	if got := m.Get().Server.Port; got != Defaults().Server.Port {
		t.Errorf("port after failed Set = %d", got)
	}
}
