// Package filter stores the user's leak filter rules and answers the
// point queries the leak evaluator makes against them.
package filter

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"firestige.xyz/leakwatch/internal/core"
)

type ruleKey struct {
	app   string
	value string
}

// Store is an in-memory rule table. Rules are keyed by app (empty for
// global) and PII value. It is safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	rules map[ruleKey]core.FilterRule

	subMu       sync.Mutex
	subscribers []func(changed []core.FilterRule)
}

// NewStore returns a store holding rules. Later rules with the same key
// replace earlier ones.
func NewStore(rules ...core.FilterRule) *Store {
	s := &Store{rules: make(map[ruleKey]core.FilterRule, len(rules))}
	for _, r := range rules {
		s.rules[ruleKey{r.App, r.Value}] = r
	}
	return s
}

// Lookup returns the rule for value in app's scope, falling back to the
// global rule for the same value.
func (s *Store) Lookup(app, value string) (core.FilterRule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if app != "" {
		if r, ok := s.rules[ruleKey{app, value}]; ok {
			return r, true
		}
	}
	r, ok := s.rules[ruleKey{"", value}]
	return r, ok
}

// AllEnabledValues returns the distinct values of every enabled rule,
// sorted. Blank values and the location sentinel are not searchable.
func (s *Store) AllEnabledValues() []string {
	s.mu.RLock()
	seen := make(map[string]struct{}, len(s.rules))
	for k, r := range s.rules {
		if !r.Enabled || strings.TrimSpace(k.value) == "" || k.value == core.LocationSentinel {
			continue
		}
		seen[k.value] = struct{}{}
	}
	s.mu.RUnlock()

	values := make([]string, 0, len(seen))
	for v := range seen {
		values = append(values, v)
	}
	sort.Strings(values)
	return values
}

// LocationSearchEnabled reports whether the global location rule exists
// and is enabled.
func (s *Store) LocationSearchEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[ruleKey{"", core.LocationSentinel}]
	return ok && r.Enabled
}

// Rules returns a copy of all rules ordered by app then value.
func (s *Store) Rules() []core.FilterRule {
	s.mu.RLock()
	out := make([]core.FilterRule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].App != out[j].App {
			return out[i].App < out[j].App
		}
		return out[i].Value < out[j].Value
	})
	return out
}

// Put adds or replaces a rule.
func (s *Store) Put(r core.FilterRule) {
	k := ruleKey{r.App, r.Value}
	s.mu.Lock()
	old, existed := s.rules[k]
	s.rules[k] = r
	s.mu.Unlock()

	changed := []core.FilterRule{r}
	if existed && old.Label != r.Label {
		changed = append(changed, old)
	}
	s.notify(changed)
}

// Replace swaps the whole rule set, as on a rules file reload.
func (s *Store) Replace(rules []core.FilterRule) {
	fresh := make(map[ruleKey]core.FilterRule, len(rules))
	for _, r := range rules {
		fresh[ruleKey{r.App, r.Value}] = r
	}
	s.mu.Lock()
	old := s.rules
	s.rules = fresh
	s.mu.Unlock()
	s.notify(diff(old, fresh))
}

// diff returns the rules present in only one of the maps or changed
// between them, from both sides.
func diff(old, fresh map[ruleKey]core.FilterRule) []core.FilterRule {
	var changed []core.FilterRule
	for k, r := range fresh {
		if o, ok := old[k]; !ok || o != r {
			changed = append(changed, r)
			if ok && o.Label != r.Label {
				changed = append(changed, o)
			}
		}
	}
	for k, o := range old {
		if _, ok := fresh[k]; !ok {
			changed = append(changed, o)
		}
	}
	return changed
}

// Delete removes the rule for (app, value). It reports whether one existed.
func (s *Store) Delete(app, value string) bool {
	s.mu.Lock()
	r, ok := s.rules[ruleKey{app, value}]
	delete(s.rules, ruleKey{app, value})
	s.mu.Unlock()
	if ok {
		s.notify([]core.FilterRule{r})
	}
	return ok
}

// SetEnabled toggles search for the rule at (app, value).
func (s *Store) SetEnabled(app, value string, enabled bool) bool {
	s.mu.Lock()
	r, ok := s.rules[ruleKey{app, value}]
	changed := ok && r.Enabled != enabled
	if changed {
		r.Enabled = enabled
		s.rules[ruleKey{app, value}] = r
	}
	s.mu.Unlock()
	if changed {
		s.notify([]core.FilterRule{r})
	}
	return ok
}

// Subscribe registers f to run after every mutation. Callbacks run on the
// mutating goroutine and must not block.
func (s *Store) Subscribe(f func()) {
	s.Watch(func([]core.FilterRule) { f() })
}

// Watch registers f to receive the rules each mutation added, changed or
// removed. A changed rule is passed in its new form, plus its old form
// when the label moved. The same constraints as Subscribe apply.
func (s *Store) Watch(f func(changed []core.FilterRule)) {
	s.subMu.Lock()
	s.subscribers = append(s.subscribers, f)
	s.subMu.Unlock()
}

func (s *Store) notify(changed []core.FilterRule) {
	s.subMu.Lock()
	subs := append([]func([]core.FilterRule){}, s.subscribers...)
	s.subMu.Unlock()
	for _, f := range subs {
		f(changed)
	}
}

type rulesFile struct {
	Rules []ruleEntry `yaml:"rules"`
}

type ruleEntry struct {
	App     string `yaml:"app"`
	Label   string `yaml:"label"`
	Value   string `yaml:"value"`
	Action  string `yaml:"action"`
	Enabled *bool  `yaml:"enabled"`
}

// LoadFile reads a YAML rules file of the form
//
//	rules:
//	  - app: com.example
//	    label: IMEI
//	    value: "355458061189396"
//	    action: hash
//
// Rules are enabled unless the entry says otherwise.
func LoadFile(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a YAML rules document.
func Parse(data []byte) (*Store, error) {
	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: rules: %v", core.ErrConfigInvalid, err)
	}

	rules := make([]core.FilterRule, 0, len(f.Rules))
	for i, e := range f.Rules {
		if e.Value == "" {
			return nil, fmt.Errorf("%w: rule %d has no value", core.ErrConfigInvalid, i)
		}
		action, err := core.ParseAction(e.Action)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		enabled := true
		if e.Enabled != nil {
			enabled = *e.Enabled
		}
		rules = append(rules, core.FilterRule{
			App:     e.App,
			Label:   e.Label,
			Value:   e.Value,
			Action:  action,
			Enabled: enabled,
		})
	}
	return NewStore(rules...), nil
}
