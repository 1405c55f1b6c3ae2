// Package core defines core types with zero external dependencies.
package core

import (
	"fmt"
	"net/netip"
	"strings"
	"time"
)

// Action is the decision a filter rule applies to a leak.
type Action string

const (
	ActionAsk   Action = "" // no decision yet, the user is prompted
	ActionAllow Action = "allow"
	ActionHash  Action = "hash"
	ActionBlock Action = "block"
)

// ParseAction converts a configuration string to an Action.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionAsk, ActionAllow, ActionHash, ActionBlock:
		return a, nil
	default:
		return ActionAsk, fmt.Errorf("%w: unknown action %q", ErrConfigInvalid, s)
	}
}

// String returns the name used in leak logs.
func (a Action) String() string {
	if a == ActionAsk {
		return "ask"
	}
	return string(a)
}

// FilterRule maps a PII value, scoped to one app or global, to an action.
type FilterRule struct {
	App     string `yaml:"app" json:"app,omitempty"` // empty = global
	Label   string `yaml:"label" json:"label,omitempty"`
	Value   string `yaml:"value" json:"value"`
	Action  Action `yaml:"action" json:"action"`
	Enabled bool   `yaml:"enabled" json:"enabled"`
}

// IsGlobal reports whether the rule applies to every app.
func (r FilterRule) IsGlobal() bool {
	return r.App == ""
}

// AppIdentity names the application owning a connection.
type AppIdentity struct {
	Name    string
	Version string
}

// UnknownApp is returned when attribution cannot resolve a connection.
// It is a valid identity, not an error.
var UnknownApp = AppIdentity{Name: "Unknown"}

// IsUnknown reports whether the identity is the unresolved placeholder.
func (a AppIdentity) IsUnknown() bool {
	return a.Name == "" || a.Name == UnknownApp.Name
}

// ConnKey identifies a connection from the device's point of view.
type ConnKey struct {
	RemoteIP   netip.Addr
	LocalPort  uint16
	RemotePort uint16
}

// String returns "ip:remote/local".
func (k ConnKey) String() string {
	return fmt.Sprintf("%s:%d/%d", k.RemoteIP, k.RemotePort, k.LocalPort)
}

// Verdict is the outcome of inspecting one packet.
type Verdict uint8

const (
	VerdictForward Verdict = iota
	VerdictDrop
)

func (v Verdict) String() string {
	switch v {
	case VerdictForward:
		return "forward"
	case VerdictDrop:
		return "drop"
	default:
		return "unknown"
	}
}

// LeakEntry is one line of the leak log.
type LeakEntry struct {
	Time     time.Time `json:"time"`
	App      string    `json:"app"`
	RemoteIP string    `json:"remote_ip"`
	Value    string    `json:"value"`
	Label    string    `json:"label,omitempty"`
	Action   Action    `json:"action"`
}
