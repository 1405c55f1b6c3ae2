package leak

import (
	"sync"

	"firestige.xyz/leakwatch/internal/core"
	"firestige.xyz/leakwatch/internal/log"
	"firestige.xyz/leakwatch/internal/metrics"
)

// NotificationRequest asks the user to decide how leaks of Label by App
// are handled from now on. Action carries the rule's action when the leak
// matched a global rule, and is empty when no rule matched at all.
type NotificationRequest struct {
	App    string
	Value  string
	Label  string
	Action core.Action
}

type notifyKey struct {
	app   string
	label string
}

// Notifier emits notification requests at most once per (app, label)
// until the pair is resolved.
type Notifier struct {
	mu      sync.Mutex
	pending map[notifyKey]struct{}
	sink    func(NotificationRequest)
}

// NewNotifier delivers requests to sink. A nil sink only logs them.
func NewNotifier(sink func(NotificationRequest)) *Notifier {
	return &Notifier{
		pending: make(map[notifyKey]struct{}),
		sink:    sink,
	}
}

// Request emits req unless one for the same (app, label) is outstanding.
// It reports whether the request was emitted.
func (n *Notifier) Request(req NotificationRequest) bool {
	k := notifyKey{req.App, req.Label}

	n.mu.Lock()
	if _, dup := n.pending[k]; dup {
		n.mu.Unlock()
		return false
	}
	n.pending[k] = struct{}{}
	n.mu.Unlock()

	metrics.NotificationsTotal.Inc()
	log.GetLogger().WithFields(map[string]interface{}{
		"app":    req.App,
		"label":  req.Label,
		"action": req.Action.String(),
	}).Info("leak needs a decision")

	if n.sink != nil {
		n.sink(req)
	}
	return true
}

// Resolve clears the outstanding request for (app, label), typically
// after the user has created a rule.
func (n *Notifier) Resolve(app, label string) {
	n.mu.Lock()
	delete(n.pending, notifyKey{app, label})
	n.mu.Unlock()
}

// ResolveLabel clears outstanding requests for label across all apps, as
// when a global rule for it changes.
func (n *Notifier) ResolveLabel(label string) {
	n.mu.Lock()
	for k := range n.pending {
		if k.label == label {
			delete(n.pending, k)
		}
	}
	n.mu.Unlock()
}

// Pending returns the number of outstanding requests.
func (n *Notifier) Pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.pending)
}
