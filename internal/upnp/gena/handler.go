package gena

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Handler serves one service's event subscription URL, dispatching
// SUBSCRIBE/RENEW/UNSUBSCRIBE by HTTP method and header combination —
// RENEW is a SUBSCRIBE with no CALLBACK/NT headers and an existing SID,
// matching the wire grammar internal/sonos/events/subscription.go's
// client already speaks, inverted here to the server side.
type Handler struct {
	Notifier       *Notifier
	DefaultTimeout time.Duration
	// InitialVars supplies every evented variable's current value for
	// the mandatory initial NOTIFY sent on a fresh SUBSCRIBE.
	InitialVars func() map[string]string
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "SUBSCRIBE":
		h.handleSubscribe(w, r)
	case "UNSUBSCRIBE":
		h.handleUnsubscribe(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	sid := r.Header.Get("SID")
	callback := extractCallback(r.Header.Get("CALLBACK"))
	nt := r.Header.Get("NT")
	requested := parseTimeoutHeader(r.Header.Get("TIMEOUT"))

	if sid != "" {
		// RENEW: existing SID, no CALLBACK/NT required.
		timeout, ok := h.Notifier.Renew(sid, requested, h.DefaultTimeout)
		if !ok {
			http.Error(w, "subscription not found", http.StatusPreconditionFailed)
			return
		}
		w.Header().Set("SID", sid)
		w.Header().Set("TIMEOUT", formatTimeoutHeader(timeout))
		w.WriteHeader(http.StatusOK)
		return
	}

	if callback == "" || nt != "upnp:event" {
		http.Error(w, "missing CALLBACK or NT: upnp:event", http.StatusPreconditionFailed)
		return
	}

	newSID, timeout := h.Notifier.Subscribe(callback, requested, h.DefaultTimeout)
	w.Header().Set("SID", newSID)
	w.Header().Set("TIMEOUT", formatTimeoutHeader(timeout))
	w.WriteHeader(http.StatusOK)

	if h.InitialVars != nil {
		go h.Notifier.FlushOne(newSID, h.InitialVars())
	}
}

func (h *Handler) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	sid := r.Header.Get("SID")
	if sid == "" {
		http.Error(w, "missing SID", http.StatusPreconditionFailed)
		return
	}
	h.Notifier.Unsubscribe(sid)
	w.WriteHeader(http.StatusOK)
}

// extractCallback pulls the URL out of a CALLBACK header of the form
// "<http://host:port/path>".
func extractCallback(header string) string {
	h := strings.TrimSpace(header)
	h = strings.TrimPrefix(h, "<")
	h = strings.TrimSuffix(h, ">")
	return h
}

// parseTimeoutHeader parses "Second-1800" or "Second-infinite" into a
// duration; 0 is returned for "infinite" or an unparsable header, and
// the caller substitutes its own default/max in that case (matching the
// client-side ParseTimeout's "infinite"-as-sentinel convention).
func parseTimeoutHeader(header string) time.Duration {
	h := strings.TrimPrefix(strings.TrimSpace(header), "Second-")
	if h == "" || h == "infinite" {
		return 0
	}
	n, err := strconv.Atoi(h)
	if err != nil || n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}

func formatTimeoutHeader(d time.Duration) string {
	return "Second-" + strconv.Itoa(int(d.Seconds()))
}
