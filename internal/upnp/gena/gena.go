// Package gena implements the server side of GENA eventing (spec.md
// §4.2, §6, §5): accepting SUBSCRIBE/RENEW/UNSUBSCRIBE and sending
// NOTIFY with strictly monotonic per-subscriber sequence numbers.
//
// Grounded on internal/sonos/events/manager.go, subscription.go, and
// callback.go's SID/SEQ/Timeout bookkeeping, inverted from
// client-subscribing to server-accepting.
package gena

import (
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Subscriber is one active GENA subscription against a single service
// instance.
type Subscriber struct {
	SID            string
	CallbackURL    string
	Timeout        time.Duration
	SubscribedAt   time.Time
	RenewAt        time.Time
	SEQ            uint32 // next sequence number to send; wraps per spec.md §4.2
	MissedNotifies int
	// changedVars buffers names of variables changed since this
	// subscriber's last successful NOTIFY, so the next NOTIFY can bundle
	// every pending change into a single change report.
	changedVars map[string]string
}

func (s *Subscriber) expired(now time.Time) bool {
	return now.After(s.SubscribedAt.Add(s.Timeout))
}

// Notifier owns the subscribers map and notify buffer for one service
// instance. The map and buffer are guarded by mu; NOTIFY sends happen
// outside the lock (spec.md §5's "notify sends happen outside the
// lock").
type Notifier struct {
	mu         sync.Mutex
	subs       map[string]*Subscriber
	maxMissed  int
	httpClient *http.Client
	logger     *log.Logger
	now        func() time.Time
}

// NewNotifier creates a Notifier. maxMissed is the number of consecutive
// NOTIFY failures tolerated before a subscriber is dropped (spec.md §5:
// "failure drops the subscriber after 3 consecutive misses").
func NewNotifier(maxMissed int, logger *log.Logger) *Notifier {
	if logger == nil {
		logger = log.Default()
	}
	return &Notifier{
		subs:      make(map[string]*Subscriber),
		maxMissed: maxMissed,
		httpClient: &http.Client{
			Timeout: 3 * time.Second, // 1s connect + up to 3s total, spec.md §5
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: time.Second}).DialContext,
			},
		},
		logger: logger,
		now:    time.Now,
	}
}

// Subscribe registers a new subscriber and returns its SID and the
// effective timeout. requestedTimeout <= 0 means "infinite" is requested
// (mapped to the caller-supplied defaultTimeout); GENA's real-world
// "infinite" sentinel is honored the same way the client side parses it.
func (n *Notifier) Subscribe(callbackURL string, requestedTimeout, defaultTimeout time.Duration) (sid string, timeout time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()

	sid = "uuid:" + uuid.NewString()
	timeout = requestedTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	now := n.now()
	n.subs[sid] = &Subscriber{
		SID:          sid,
		CallbackURL:  callbackURL,
		Timeout:      timeout,
		SubscribedAt: now,
		RenewAt:      now,
		SEQ:          0,
		changedVars:  make(map[string]string),
	}
	return sid, timeout
}

// Renew extends an existing subscription's lifetime. It reports false if
// sid is unknown (callers should answer with HTTP 412 Precondition
// Failed, matching the client-side ErrSubscriptionNotFound convention).
func (n *Notifier) Renew(sid string, requestedTimeout, defaultTimeout time.Duration) (timeout time.Duration, ok bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	sub, found := n.subs[sid]
	if !found {
		return 0, false
	}
	timeout = requestedTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	sub.Timeout = timeout
	sub.SubscribedAt = n.now()
	sub.RenewAt = sub.SubscribedAt
	return timeout, true
}

// Unsubscribe removes sid. It is idempotent: unsubscribing an unknown
// SID is not an error.
func (n *Notifier) Unsubscribe(sid string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.subs, sid)
}

// MarkChanged records that variable name changed to value, to be bundled
// into the next NOTIFY sent to every current subscriber.
func (n *Notifier) MarkChanged(name, value string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, sub := range n.subs {
		sub.changedVars[name] = value
	}
}

// FlushAll sends a bundled NOTIFY to every subscriber with pending
// changes (and the initial NOTIFY, per spec.md §6, to a newly-subscribed
// one even with no changes yet recorded, handled by the caller invoking
// FlushOne directly at subscribe time). Subscribers whose NOTIFY fails
// have MissedNotifies incremented; after maxMissed consecutive failures
// they are dropped.
func (n *Notifier) FlushAll() {
	n.mu.Lock()
	now := n.now()
	toSend := make([]*Subscriber, 0, len(n.subs))
	for sid, sub := range n.subs {
		if sub.expired(now) {
			delete(n.subs, sid)
			continue
		}
		if len(sub.changedVars) > 0 {
			toSend = append(toSend, sub)
		}
	}
	n.mu.Unlock()

	for _, sub := range toSend {
		n.sendNotify(sub)
	}
}

// FlushOne sends the initial NOTIFY to a just-subscribed subscriber,
// bundling the full current-value set (every evented variable, per
// spec.md §6: "initial NOTIFY sent immediately with every evented
// variable").
func (n *Notifier) FlushOne(sid string, initialVars map[string]string) {
	n.mu.Lock()
	sub, ok := n.subs[sid]
	if ok {
		for k, v := range initialVars {
			sub.changedVars[k] = v
		}
	}
	n.mu.Unlock()
	if ok {
		n.sendNotify(sub)
	}
}

func (n *Notifier) sendNotify(sub *Subscriber) {
	n.mu.Lock()
	vars := sub.changedVars
	sub.changedVars = make(map[string]string)
	seq := sub.SEQ
	sub.SEQ++ // strictly monotonic per subscriber; wraps on overflow of uint32
	n.mu.Unlock()

	body := buildPropertySet(vars)
	req, err := http.NewRequest("NOTIFY", sub.CallbackURL, strings.NewReader(body))
	if err != nil {
		n.recordFailure(sub.SID)
		return
	}
	req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	req.Header.Set("NT", "upnp:event")
	req.Header.Set("NTS", "upnp:propchange")
	req.Header.Set("SID", sub.SID)
	req.Header.Set("SEQ", strconv.FormatUint(uint64(seq), 10))

	resp, err := n.httpClient.Do(req)
	if err != nil {
		n.logger.Printf("gena: NOTIFY to %s failed: %v", sub.CallbackURL, err)
		n.recordFailure(sub.SID)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		n.recordFailure(sub.SID)
		return
	}
	n.resetFailures(sub.SID)
}

func (n *Notifier) recordFailure(sid string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	sub, ok := n.subs[sid]
	if !ok {
		return
	}
	sub.MissedNotifies++
	if sub.MissedNotifies >= n.maxMissed {
		delete(n.subs, sid)
	}
}

func (n *Notifier) resetFailures(sid string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if sub, ok := n.subs[sid]; ok {
		sub.MissedNotifies = 0
	}
}

// Count returns the current number of live subscribers.
func (n *Notifier) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}

func buildPropertySet(vars map[string]string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?>`)
	b.WriteString(`<e:propertyset xmlns:e="urn:schemas-upnp-org:event-1-0">`)
	for name, value := range vars {
		fmt.Fprintf(&b, `<e:property><%s>%s</%s></e:property>`, name, escapeXML(value), name)
	}
	b.WriteString(`</e:propertyset>`)
	return b.String()
}

func escapeXML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

