package config

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/invisiwind/invisiwind/internal/logger"
)

// Rule selects windows to hide automatically. A window matches when every
// non-empty field matches: Process against the owning executable name
// (case-insensitive, ".exe" optional) and Title as a regular expression
// against the window title.
type Rule struct {
	ID              string `json:"id" yaml:"id"`
	Process         string `json:"process,omitempty" yaml:"process,omitempty"`
	Title           string `json:"title,omitempty" yaml:"title,omitempty"`
	HideFromTaskbar *bool  `json:"hide_from_taskbar,omitempty" yaml:"hide_from_taskbar,omitempty"`
}

// Validate checks that the rule selects something and compiles.
func (r Rule) Validate() error {
	if strings.TrimSpace(r.Process) == "" && r.Title == "" {
		return fmt.Errorf("rule needs a process name or a title pattern")
	}
	if r.Title != "" {
		if _, err := regexp.Compile(r.Title); err != nil {
			return fmt.Errorf("invalid title pattern: %w", err)
		}
	}
	return nil
}

// ServerConfig configures the local HTTP API.
type ServerConfig struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

// PayloadConfig locates the payload builds.
type PayloadConfig struct {
	// Dir overrides the directory of the executable.
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty"`
	// Development selects build/payload/windows_<arch>/payload.dll.
	Development bool `json:"development" yaml:"development"`
}

// Config represents the application configuration
type Config struct {
	LogLevel          string        `json:"log_level" yaml:"log_level"`
	PrettyLog         bool          `json:"pretty_log" yaml:"pretty_log"`
	Server            ServerConfig  `json:"server" yaml:"server"`
	Payload           PayloadConfig `json:"payload" yaml:"payload"`
	HideFromTaskbar   bool          `json:"hide_from_taskbar" yaml:"hide_from_taskbar"`
	RefreshIntervalMs int           `json:"refresh_interval_ms" yaml:"refresh_interval_ms"`
	Rules             []Rule        `json:"rules" yaml:"rules"`
}

// Manager handles configuration
type Manager struct {
	configPath string
	config     *Config
	mu         sync.RWMutex

	// serializes read-modify-save cycles
	writeMu sync.Mutex

	// command-line overrides, applied by Get and never saved
	logLevel string
	port     int
}

// DefaultPath returns the configuration file used when none is given.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config directory: %w", err)
	}
	return filepath.Join(dir, "invisiwind", "config.yaml"), nil
}

// NewManager loads configFile, or the default path when it is empty. A
// missing file is created with defaults.
func NewManager(configFile string) (*Manager, error) {
	path := configFile
	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}

	m := &Manager{configPath: path}

	if err := m.load(); err != nil {
		if os.IsNotExist(err) {
			logger.WithComponent("config").Info().
				Str("path", m.configPath).
				Msg("Config file not found, creating new config")
			m.config = Defaults()
			if err := m.Save(); err != nil {
				return nil, fmt.Errorf("failed to create default config: %w", err)
			}
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Int("rules", len(m.config.Rules)).
		Msg("Config loaded")

	return m, nil
}

// Defaults returns the default configuration
func Defaults() *Config {
	return &Config{
		LogLevel:          "info",
		PrettyLog:         true,
		Server:            ServerConfig{Host: "127.0.0.1", Port: 7878},
		HideFromTaskbar:   false,
		RefreshIntervalMs: 1000,
		Rules:             []Rule{},
	}
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Rules == nil {
		cfg.Rules = []Rule{}
	}
	for _, r := range cfg.Rules {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("rule %q: %w", r.ID, err)
		}
	}
	if err := validateHost(cfg.Server.Host); err != nil {
		return err
	}

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// Get returns a copy of the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cfg := Defaults()
	if m.config != nil {
		cfg = m.copyLocked()
	}
	if m.logLevel != "" {
		cfg.LogLevel = m.logLevel
	}
	if m.port > 0 {
		cfg.Server.Port = m.port
	}
	return cfg
}

func (m *Manager) copyLocked() *Config {
	cfg := *m.config
	cfg.Rules = make([]Rule, len(m.config.Rules))
	copy(cfg.Rules, m.config.Rules)
	return &cfg
}

// Save writes the configuration to disk.
func (m *Manager) Save() error {
	m.mu.RLock()
	cfg := m.config
	if cfg == nil {
		cfg = Defaults()
	}
	data, err := yaml.Marshal(cfg)
	m.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("config_dir", configDir).
			Msg("Failed to create config directory")
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("path", m.configPath).
			Msg("Failed to write config")
		return err
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Msg("Config saved")
	return nil
}

// Override applies command-line overrides in memory without saving them.
// Zero values leave the configured setting in place.
func (m *Manager) Override(logLevel string, port int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logLevel = logLevel
	m.port = port
}

// GetConfigPath returns the configuration file path.
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// GetConfigDir returns the directory holding the configuration file.
func (m *Manager) GetConfigDir() string {
	return filepath.Dir(m.configPath)
}

// Rules returns the configured hide rules.
func (m *Manager) Rules() []Rule {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rules := make([]Rule, len(m.config.Rules))
	copy(rules, m.config.Rules)
	return rules
}

// AddRule validates and stores a rule, assigning an ID when it has none.
func (m *Manager) AddRule(rule Rule) (Rule, error) {
	if err := rule.Validate(); err != nil {
		return Rule{}, err
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.RLock()
	next := m.copyLocked()
	if rule.ID == "" {
		rule.ID = m.generateRuleIDLocked(rule)
	} else if m.ruleIDExistsLocked(rule.ID) {
		m.mu.RUnlock()
		return Rule{}, fmt.Errorf("rule %q already exists", rule.ID)
	}
	m.mu.RUnlock()

	next.Rules = append(next.Rules, rule)
	if err := m.commit(next); err != nil {
		return Rule{}, err
	}
	return rule, nil
}

// RemoveRule deletes the rule with the given ID.
func (m *Manager) RemoveRule(id string) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.RLock()
	next := m.copyLocked()
	m.mu.RUnlock()

	idx := -1
	for i, r := range next.Rules {
		if r.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("rule %q not found", id)
	}
	next.Rules = append(next.Rules[:idx], next.Rules[idx+1:]...)
	return m.commit(next)
}

// commit installs next and saves it. If saving fails the previous
// configuration is restored, so memory never holds unsaved changes.
func (m *Manager) commit(next *Config) error {
	m.mu.Lock()
	prev := m.config
	m.config = next
	m.mu.Unlock()

	if err := m.Save(); err != nil {
		m.mu.Lock()
		m.config = prev
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *Manager) generateRuleIDLocked(rule Rule) string {
	name := rule.Process
	if name == "" {
		name = "title"
	}
	base := strings.TrimSuffix(strings.ToLower(name), ".exe")
	var result strings.Builder
	for _, r := range base {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			result.WriteRune(r)
		}
	}
	id := result.String()
	if id == "" {
		id = "rule"
	}

	originalID := id
	counter := 1
	for m.ruleIDExistsLocked(id) {
		id = fmt.Sprintf("%s-%d", originalID, counter)
		counter++
	}
	return id
}

func (m *Manager) ruleIDExistsLocked(id string) bool {
	for _, r := range m.config.Rules {
		if r.ID == id {
			return true
		}
	}
	return false
}

// Set assigns a scalar setting addressed by its dotted YAML key and saves.
func (m *Manager) Set(key, value string) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.RLock()
	cfg := m.copyLocked()
	m.mu.RUnlock()

	switch key {
	case "log_level":
		if !validLevels[value] {
			return fmt.Errorf("invalid log level: %s (use: debug, info, warn, error)", value)
		}
		cfg.LogLevel = value
	case "pretty_log":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %s (use: true or false)", value)
		}
		cfg.PrettyLog = b
	case "server.host":
		if err := validateHost(value); err != nil {
			return err
		}
		cfg.Server.Host = value
	case "server.port":
		port, err := strconv.Atoi(value)
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("invalid port number: %s", value)
		}
		cfg.Server.Port = port
	case "payload.dir":
		cfg.Payload.Dir = value
	case "payload.development":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %s (use: true or false)", value)
		}
		cfg.Payload.Development = b
	case "hide_from_taskbar":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %s (use: true or false)", value)
		}
		cfg.HideFromTaskbar = b
	case "refresh_interval_ms":
		ms, err := strconv.Atoi(value)
		if err != nil || ms < 100 {
			return fmt.Errorf("invalid refresh interval: %s (minimum 100)", value)
		}
		cfg.RefreshIntervalMs = ms
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}

	return m.commit(cfg)
}

// Lookup returns the value at a dotted key, for example "server.port".
func (m *Manager) Lookup(key string) (interface{}, error) {
	m.mu.RLock()
	data, err := yaml.Marshal(m.config)
	m.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if !v.IsSet(key) {
		return nil, fmt.Errorf("configuration key not found: %s", key)
	}
	return v.Get(key), nil
}

var validLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// validateHost keeps the API on the local machine.
func validateHost(host string) error {
	if host == "" || host == "localhost" {
		return nil
	}
	ip := net.ParseIP(host)
	if ip == nil || !ip.IsLoopback() {
		return fmt.Errorf("server host %q is not a loopback address", host)
	}
	return nil
}
