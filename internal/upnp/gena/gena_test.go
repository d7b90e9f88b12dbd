package gena

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestSubscribeAssignsSIDAndTimeout(t *testing.T) {
	n := NewNotifier(3, nil)
	sid, timeout := n.Subscribe("http://127.0.0.1:9/cb", 0, 30*time.Minute)
	if !strings.HasPrefix(sid, "uuid:") {
		t.Fatalf("expected SID to start with uuid:, got %q", sid)
	}
	if timeout != 30*time.Minute {
		t.Fatalf("expected default timeout to be used, got %v", timeout)
	}
	if n.Count() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", n.Count())
	}
}

func TestRenewUnknownSIDFails(t *testing.T) {
	n := NewNotifier(3, nil)
	if _, ok := n.Renew("uuid:does-not-exist", 0, time.Minute); ok {
		t.Fatal("expected Renew to fail for unknown SID")
	}
}

func TestUnsubscribeIdempotent(t *testing.T) {
	n := NewNotifier(3, nil)
	sid, _ := n.Subscribe("http://127.0.0.1:9/cb", 0, time.Minute)
	n.Unsubscribe(sid)
	n.Unsubscribe(sid) // must not panic or error
	if n.Count() != 0 {
		t.Fatalf("expected 0 subscribers after unsubscribe, got %d", n.Count())
	}
}

func TestSEQStrictlyMonotonic(t *testing.T) {
	var mu sync.Mutex
	var seen []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Header.Get("SEQ"))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewNotifier(3, nil)
	sid, _ := n.Subscribe(srv.URL, 0, time.Minute)

	n.FlushOne(sid, map[string]string{"Volume": "10"})
	n.MarkChanged("Volume", "20")
	n.FlushAll()
	n.MarkChanged("Volume", "30")
	n.FlushAll()

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 3 {
		t.Fatalf("expected 3 NOTIFYs, got %d: %v", len(seen), seen)
	}
	if seen[0] != "0" || seen[1] != "1" || seen[2] != "2" {
		t.Fatalf("expected strictly increasing SEQ 0,1,2, got %v", seen)
	}
}

func TestSubscriberDroppedAfterMaxMissed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := NewNotifier(2, nil)
	sid, _ := n.Subscribe(srv.URL, 0, time.Minute)

	n.MarkChanged("Volume", "1")
	n.FlushAll()
	n.MarkChanged("Volume", "2")
	n.FlushAll()

	if n.Count() != 0 {
		t.Fatalf("expected subscriber dropped after 2 consecutive failures, got count=%d", n.Count())
	}
	_ = sid
}
