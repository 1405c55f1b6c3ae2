// Package ahocorasick implements multi-pattern byte search.
//
// An Automaton is immutable once built. Scanning goroutines read whichever
// automaton a Handle currently publishes, and a Rebuilder replaces it
// wholesale in the background.
package ahocorasick

import (
	"fmt"
	"iter"

	"firestige.xyz/leakwatch/internal/core"
)

const root int32 = 0

// Match is one occurrence of a pattern. End is the index of the last byte
// of the occurrence.
type Match struct {
	Pattern string
	End     int
}

// Start returns the index of the first byte of the occurrence.
func (m Match) Start() int {
	return m.End - len(m.Pattern) + 1
}

type node struct {
	next  map[byte]int32
	fail  int32
	out   int32   // nearest node on the failure chain with terms, -1 if none
	terms []int32 // ids of patterns ending at this node
}

// Automaton is a trie over the pattern bytes with failure links.
type Automaton struct {
	nodes    []node
	patterns []string
}

// Build constructs an automaton for patterns. Duplicates are folded; an
// empty set yields an automaton that matches nothing. Patterns are matched
// byte for byte, case-sensitively.
func Build(patterns []string) (*Automaton, error) {
	a := &Automaton{
		nodes: []node{{fail: root, out: -1}},
	}

	seen := make(map[string]struct{}, len(patterns))
	for _, p := range patterns {
		if p == "" {
			return nil, fmt.Errorf("%w: empty pattern", core.ErrAutomatonBuild)
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		a.insert(p)
	}

	a.link()
	return a, nil
}

func (a *Automaton) insert(p string) {
	id := int32(len(a.patterns))
	a.patterns = append(a.patterns, p)

	cur := root
	for i := 0; i < len(p); i++ {
		c := p[i]
		n := &a.nodes[cur]
		if n.next == nil {
			n.next = make(map[byte]int32)
		}
		child, ok := n.next[c]
		if !ok {
			child = int32(len(a.nodes))
			n.next[c] = child
			a.nodes = append(a.nodes, node{out: -1})
		}
		cur = child
	}
	a.nodes[cur].terms = append(a.nodes[cur].terms, id)
}

// link resolves failure and output links breadth first.
func (a *Automaton) link() {
	queue := make([]int32, 0, len(a.nodes))
	for _, child := range a.nodes[root].next {
		a.nodes[child].fail = root
		queue = append(queue, child)
	}

	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]

		for c, v := range a.nodes[u].next {
			queue = append(queue, v)

			f := a.nodes[u].fail
			for {
				if t, ok := a.nodes[f].next[c]; ok {
					a.nodes[v].fail = t
					break
				}
				if f == root {
					a.nodes[v].fail = root
					break
				}
				f = a.nodes[f].fail
			}

			fail := a.nodes[v].fail
			if len(a.nodes[fail].terms) > 0 {
				a.nodes[v].out = fail
			} else {
				a.nodes[v].out = a.nodes[fail].out
			}
		}
	}
}

// Len returns the number of distinct patterns.
func (a *Automaton) Len() int {
	return len(a.patterns)
}

// Patterns returns a copy of the distinct patterns.
func (a *Automaton) Patterns() []string {
	return append([]string(nil), a.patterns...)
}

// Matches yields every occurrence in buf, overlapping and suffix-nested
// occurrences included. All matches ending at one position are yielded
// before the scan advances.
func (a *Automaton) Matches(buf []byte) iter.Seq[Match] {
	return func(yield func(Match) bool) {
		if len(a.patterns) == 0 {
			return
		}
		s := root
		for i, c := range buf {
			for {
				if t, ok := a.nodes[s].next[c]; ok {
					s = t
					break
				}
				if s == root {
					break
				}
				s = a.nodes[s].fail
			}

			for n := s; n != -1; n = a.nodes[n].out {
				for _, id := range a.nodes[n].terms {
					if !yield(Match{Pattern: a.patterns[id], End: i}) {
						return
					}
				}
			}
		}
	}
}

// Scan returns every occurrence in buf.
func (a *Automaton) Scan(buf []byte) []Match {
	var out []Match
	for m := range a.Matches(buf) {
		out = append(out, m)
	}
	return out
}
