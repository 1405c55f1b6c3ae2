// Package location tracks the device position and turns it into the
// coordinate strings searched for in outgoing traffic.
package location

import (
	"math"
	"strconv"
	"sync"
)

// Unknown is the summary reported when no position is known.
const Unknown = "Unknown"

// Static is a LocationProvider fed by explicit Set calls, either from
// configuration or from whatever tracks the real position.
type Static struct {
	mu       sync.RWMutex
	known    bool
	lat, lon float64
	latKey   int64 // truncated tenths, used to detect visible changes
	lonKey   int64

	subMu       sync.Mutex
	subscribers []func()
}

// NewStatic returns a provider with no known position.
func NewStatic() *Static {
	return &Static{}
}

// Set records a new position. Subscribers run only when the searchable
// strings change, i.e. when either coordinate moves across a tenth.
func (s *Static) Set(lat, lon float64) {
	latKey, lonKey := tenths(lat), tenths(lon)

	s.mu.Lock()
	changed := !s.known || latKey != s.latKey || lonKey != s.lonKey
	s.known = true
	s.lat, s.lon = lat, lon
	s.latKey, s.lonKey = latKey, lonKey
	s.mu.Unlock()

	if changed {
		s.notify()
	}
}

// Clear forgets the position.
func (s *Static) Clear() {
	s.mu.Lock()
	was := s.known
	s.known = false
	s.mu.Unlock()
	if was {
		s.notify()
	}
}

// CurrentCandidates returns the latitude and longitude strings to search
// for: the position truncated to one decimal and its two neighbours.
// Both are nil while the position is unknown.
func (s *Static) CurrentCandidates() (lats, lons []string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.known {
		return nil, nil
	}
	return candidates(s.latKey), candidates(s.lonKey)
}

// Summary returns "lat|lon" at full precision, or Unknown.
func (s *Static) Summary() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.known {
		return Unknown
	}
	return strconv.FormatFloat(s.lat, 'f', -1, 64) + "|" + strconv.FormatFloat(s.lon, 'f', -1, 64)
}

// Subscribe registers f to run after the candidates change.
func (s *Static) Subscribe(f func()) {
	s.subMu.Lock()
	s.subscribers = append(s.subscribers, f)
	s.subMu.Unlock()
}

func (s *Static) notify() {
	s.subMu.Lock()
	subs := append([]func(){}, s.subscribers...)
	s.subMu.Unlock()
	for _, f := range subs {
		f()
	}
}

// tenths truncates v*10 toward zero. The epsilon absorbs binary
// representation error such as 33.7*10 = 336.99999...
func tenths(v float64) int64 {
	const eps = 1e-9
	if v < 0 {
		return int64(math.Trunc(v*10 - eps))
	}
	return int64(math.Trunc(v*10 + eps))
}

// Format renders v with exactly one fractional digit, truncated toward
// zero.
func Format(v float64) string {
	return formatTenths(tenths(v))
}

func formatTenths(t int64) string {
	sign := ""
	if t < 0 {
		sign = "-"
		t = -t
	}
	return sign + strconv.FormatInt(t/10, 10) + "." + strconv.FormatInt(t%10, 10)
}

func candidates(t int64) []string {
	return []string{formatTenths(t), formatTenths(t - 1), formatTenths(t + 1)}
}
