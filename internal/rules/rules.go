// Package rules matches windows against the configured hide rules.
package rules

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/invisiwind/invisiwind/internal/config"
	"github.com/invisiwind/invisiwind/internal/logger"
	"github.com/invisiwind/invisiwind/internal/window"
)

type compiled struct {
	rule  config.Rule
	title *regexp.Regexp
}

// Set is a compiled list of rules. The first matching rule wins.
type Set struct {
	rules []compiled
}

// Compile validates rules and compiles their title patterns.
func Compile(rules []config.Rule) (*Set, error) {
	s := &Set{rules: make([]compiled, 0, len(rules))}
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.ID, err)
		}
		c := compiled{rule: r}
		if r.Title != "" {
			c.title = regexp.MustCompile(r.Title)
		}
		s.rules = append(s.rules, c)
	}
	return s, nil
}

// Len returns the number of rules.
func (s *Set) Len() int {
	return len(s.rules)
}

// Match returns the first rule selecting the window. processName is the
// executable name of the window's owner, empty if unknown.
func (s *Set) Match(rec window.Record, processName string) (config.Rule, bool) {
	for _, c := range s.rules {
		if c.matches(rec, processName) {
			return c.rule, true
		}
	}
	return config.Rule{}, false
}

func (c compiled) matches(rec window.Record, processName string) bool {
	if c.rule.Process != "" && !sameProcess(c.rule.Process, processName) {
		return false
	}
	if c.title != nil && !c.title.MatchString(rec.Title) {
		return false
	}
	return true
}

func sameProcess(want, name string) bool {
	if name == "" {
		return false
	}
	trim := func(s string) string {
		return strings.TrimSuffix(strings.ToLower(s), ".exe")
	}
	return trim(want) == trim(name)
}

// Action is a window selected for hiding.
type Action struct {
	Window window.Record `json:"window"`
	RuleID string        `json:"rule_id"`
	// Taskbar is the taskbar setting passed to Hide.
	Taskbar bool `json:"hide_from_taskbar"`
}

// Plan selects the windows to hide. Windows already excluded from capture
// are skipped. defaultTaskbar applies to rules that leave it unset.
func (s *Set) Plan(records []window.Record, names map[uint32]string, defaultTaskbar bool) []Action {
	var actions []Action
	for _, rec := range records {
		if rec.Hidden {
			continue
		}
		rule, ok := s.Match(rec, names[rec.PID])
		if !ok {
			continue
		}
		taskbar := defaultTaskbar
		if rule.HideFromTaskbar != nil {
			taskbar = *rule.HideFromTaskbar
		}
		actions = append(actions, Action{Window: rec, RuleID: rule.ID, Taskbar: taskbar})
	}
	return actions
}

// Hider hides a window.
type Hider interface {
	Hide(ctx context.Context, pid uint32, h window.Handle, hideFromTaskbar *bool) error
}

// Result is the outcome of one action.
type Result struct {
	Action
	Error string `json:"error,omitempty"`
}

// Apply performs actions in order. A failure is recorded and the remaining
// actions still run; only a cancelled ctx stops early.
func Apply(ctx context.Context, h Hider, actions []Action) ([]Result, error) {
	log := logger.WithComponent("rules")
	results := make([]Result, 0, len(actions))
	for _, a := range actions {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		taskbar := a.Taskbar
		res := Result{Action: a}
		if err := h.Hide(ctx, a.Window.PID, a.Window.Handle, &taskbar); err != nil {
			res.Error = err.Error()
			log.Warn().
				Err(err).
				Str("rule", a.RuleID).
				Uint32("pid", a.Window.PID).
				Str("hwnd", a.Window.Handle.String()).
				Msg("Failed to apply rule")
		} else {
			log.Info().
				Str("rule", a.RuleID).
				Uint32("pid", a.Window.PID).
				Str("title", a.Window.Title).
				Msg("Rule applied")
		}
		results = append(results, res)
	}
	return results, nil
}
