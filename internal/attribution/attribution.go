// Package attribution maps connections to the application that owns them.
package attribution

import (
	"fmt"
	"strconv"
	"time"

	"firestige.xyz/leakwatch/internal/config"
	"firestige.xyz/leakwatch/internal/core"
)

// Resolver resolves a connection to an app. An unresolvable connection
// yields core.UnknownApp, never an error.
type Resolver interface {
	Resolve(key core.ConnKey) core.AppIdentity
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(key core.ConnKey) core.AppIdentity

func (f ResolverFunc) Resolve(key core.ConnKey) core.AppIdentity { return f(key) }

// New builds the resolver described by cfg, wrapped in a TTL cache when
// cfg.CacheTTL is positive.
func New(cfg config.AttributionConfig) (Resolver, error) {
	var r Resolver
	switch cfg.Mode {
	case "", "static":
		s, err := StaticFromConfig(cfg.Static)
		if err != nil {
			return nil, err
		}
		r = s
	case "procnet":
		r = NewProcNet(cfg.ProcRoot)
	default:
		return nil, fmt.Errorf("%w: attribution mode %q", core.ErrConfigInvalid, cfg.Mode)
	}

	if cfg.CacheTTL > 0 {
		r = NewCached(r, cfg.CacheTTL)
	}
	return r, nil
}

// Static resolves by local port from a fixed table.
type Static struct {
	byPort map[uint16]core.AppIdentity
}

// NewStatic returns a resolver over byPort.
func NewStatic(byPort map[uint16]core.AppIdentity) *Static {
	m := make(map[uint16]core.AppIdentity, len(byPort))
	for k, v := range byPort {
		m[k] = v
	}
	return &Static{byPort: m}
}

// StaticFromConfig parses a "port" -> "app name" table.
func StaticFromConfig(table map[string]string) (*Static, error) {
	m := make(map[uint16]core.AppIdentity, len(table))
	for port, name := range table {
		p, err := strconv.ParseUint(port, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("%w: attribution port %q", core.ErrConfigInvalid, port)
		}
		m[uint16(p)] = core.AppIdentity{Name: name}
	}
	return &Static{byPort: m}, nil
}

func (s *Static) Resolve(key core.ConnKey) core.AppIdentity {
	if app, ok := s.byPort[key.LocalPort]; ok {
		return app
	}
	return core.UnknownApp
}

const defaultCacheTTL = 30 * time.Second
