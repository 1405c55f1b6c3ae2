// Package leak classifies automaton hits into leaks and applies the
// configured filter actions to the packet that carried them.
package leak

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"time"

	"firestige.xyz/leakwatch/internal/ahocorasick"
	"firestige.xyz/leakwatch/internal/core"
	"firestige.xyz/leakwatch/internal/log"
	"firestige.xyz/leakwatch/internal/metrics"
)

const (
	alphanumeric = "abcdefghijklmnopqrstuvwxyz0123456789"
	digits       = "0123456789"
)

// FilterStore answers rule lookups. Implementations fall back to the
// global rule when no app-specific one exists.
type FilterStore interface {
	Lookup(app, value string) (core.FilterRule, bool)
}

// LocationProvider supplies the coordinate strings being searched for.
type LocationProvider interface {
	CurrentCandidates() (lats, lons []string)
	Summary() string
}

// LeakLog persists leak entries.
type LeakLog interface {
	Record(entry core.LeakEntry)
}

// Context describes the connection a packet belongs to.
type Context struct {
	App      core.AppIdentity
	RemoteIP string
}

// Record is one leak found in a packet. Location leaks are compound:
// LatEnd and LonEnd hold the end offsets of the matched coordinate
// strings, -1 when absent, and End is -1.
type Record struct {
	App    string
	Value  string
	Label  string
	End    int
	LatEnd int
	LonEnd int
	Rule   *core.FilterRule
}

// IsLocation reports whether r is a compound location leak.
func (r Record) IsLocation() bool {
	return r.LatEnd >= 0 || r.LonEnd >= 0
}

// Action returns the rule's action, ActionAsk when no rule matched.
func (r Record) Action() core.Action {
	if r.Rule == nil {
		return core.ActionAsk
	}
	return r.Rule.Action
}

// Outcome is the result of evaluating one packet.
type Outcome struct {
	Verdict core.Verdict
	Records []Record
	Hashed  int // records redacted in place
}

// Evaluator turns hits into leak records and applies their actions.
// It is safe for concurrent use; each call owns only its buffer.
type Evaluator struct {
	filters  FilterStore
	location LocationProvider
	leakLog  LeakLog
	notifier *Notifier

	intn func(n int) int
	now  func() time.Time
}

// NewEvaluator wires the evaluator's collaborators. location, leakLog and
// notifier may be nil.
func NewEvaluator(filters FilterStore, location LocationProvider, leakLog LeakLog, notifier *Notifier) *Evaluator {
	return &Evaluator{
		filters:  filters,
		location: location,
		leakLog:  leakLog,
		notifier: notifier,
		intn:     rand.IntN,
		now:      time.Now,
	}
}

// Classify maps hits to leak records. Coordinate hits are folded into a
// single location record keeping the last latitude and longitude hit;
// every other hit becomes its own record with an independent lookup.
func (e *Evaluator) Classify(matches []ahocorasick.Match, app string) []Record {
	var lats, lons []string
	if e.location != nil {
		lats, lons = e.location.CurrentCandidates()
	}

	records := make([]Record, 0, len(matches))
	latEnd, lonEnd := -1, -1
	for _, m := range matches {
		switch {
		case slices.Contains(lats, m.Pattern):
			latEnd = m.End
			continue
		case slices.Contains(lons, m.Pattern):
			lonEnd = m.End
			continue
		}

		rec := Record{App: app, Value: m.Pattern, End: m.End, LatEnd: -1, LonEnd: -1}
		if r, ok := e.filters.Lookup(app, m.Pattern); ok {
			rec.Rule = &r
			rec.Label = r.Label
		}
		records = append(records, rec)
	}

	if latEnd >= 0 || lonEnd >= 0 {
		rec := Record{
			App:    app,
			Value:  e.location.Summary(),
			Label:  core.LabelLocation,
			End:    -1,
			LatEnd: latEnd,
			LonEnd: lonEnd,
		}
		if r, ok := e.filters.Lookup(app, core.LocationSentinel); ok {
			rec.Rule = &r
		}
		records = append(records, rec)
	}
	return records
}

// Evaluate classifies matches found in buf and decides the packet. A
// single Block rule drops the whole packet and every leak in it is logged
// as blocked. Otherwise Hash leaks are redacted in place without changing
// any length, Allow leaks are logged, and leaks without a decided rule or
// matched by a global rule produce a notification request.
func (e *Evaluator) Evaluate(buf []byte, matches []ahocorasick.Match, ctx Context) Outcome {
	app := ctx.App.Name
	if ctx.App.IsUnknown() {
		app = core.UnknownApp.Name
	}

	records := e.Classify(matches, app)
	out := Outcome{Verdict: core.VerdictForward, Records: records}
	if len(records) == 0 {
		return out
	}

	if blocked(records) {
		for _, r := range records {
			e.logLeak(r, ctx.RemoteIP, core.ActionBlock)
		}
		out.Verdict = core.VerdictDrop
		return out
	}

	for _, r := range records {
		switch r.Action() {
		case core.ActionAllow:
			e.logLeak(r, ctx.RemoteIP, core.ActionAllow)
		case core.ActionHash:
			if e.redact(buf, r) {
				out.Hashed++
			}
			e.logLeak(r, ctx.RemoteIP, core.ActionHash)
		}
		e.requestDecision(r)
	}
	return out
}

func blocked(records []Record) bool {
	for _, r := range records {
		if r.Rule != nil && r.Rule.Action == core.ActionBlock {
			return true
		}
	}
	return false
}

func (e *Evaluator) requestDecision(r Record) {
	if e.notifier == nil {
		return
	}
	switch {
	case r.Rule == nil || r.Rule.Action == core.ActionAsk:
		e.notifier.Request(NotificationRequest{App: r.App, Value: r.Value})
	case r.Rule.IsGlobal():
		e.notifier.Request(NotificationRequest{App: r.App, Value: r.Value, Label: r.Label, Action: r.Rule.Action})
	}
}

func (e *Evaluator) logLeak(r Record, remoteIP string, action core.Action) {
	metrics.LeaksTotal.WithLabelValues(action.String()).Inc()
	if e.leakLog == nil {
		return
	}
	e.leakLog.Record(core.LeakEntry{
		Time:     e.now(),
		App:      r.App,
		RemoteIP: remoteIP,
		Value:    r.Value,
		Label:    r.Label,
		Action:   action,
	})
}

// redact overwrites the leak's bytes with random ones of the same length.
// For location leaks the two digits starting at the tenths digit of each
// matched coordinate are replaced, so the precision beyond the searched
// prefix no longer identifies the position.
func (e *Evaluator) redact(buf []byte, r Record) bool {
	if r.IsLocation() {
		done := false
		for _, end := range []int{r.LatEnd, r.LonEnd} {
			if end >= 0 && overwriteDigits(buf, end, fmt.Sprintf("%02d", e.intn(100))) {
				done = true
			}
		}
		return done
	}

	start := r.End - len(r.Value) + 1
	if start < 0 || r.End >= len(buf) {
		log.GetLogger().Debugf("leak at %d..%d outside a %d byte buffer", start, r.End, len(buf))
		return false
	}
	alphabet := alphanumeric
	if core.NumericLabel(r.Label) {
		alphabet = digits
	}
	for i := start; i <= r.End; i++ {
		buf[i] = alphabet[e.intn(len(alphabet))]
	}
	return true
}

// overwriteDigits writes repl from pos on, stopping at the first byte that
// is not an ASCII digit or at the end of buf.
func overwriteDigits(buf []byte, pos int, repl string) bool {
	n := 0
	for i := 0; i < len(repl) && pos+i < len(buf); i++ {
		if c := buf[pos+i]; c < '0' || c > '9' {
			break
		}
		buf[pos+i] = repl[i]
		n++
	}
	return n > 0
}
