// Package api implements the Control-Point HTTP API surface named in
// spec.md §6: GET /api/renderers|servers|renderers/{id}/state|queue|
// binding, the play/pause/stop/next/seek/volume/mute command verbs, and
// the GET /api/events long-lived event stream.
//
// Kept near-verbatim from the teacher's internal/api/handler.go,
// response.go, request_id.go (the Handler func(w,r) error convention,
// Stripe-style JSON envelopes, RequestIDMiddleware via google/uuid,
// RecovererMiddleware) since this plumbing is domain-independent;
// routes.go is new, wired against internal/control/renderer, /queue,
// and /eventbus instead of the teacher's Sonos/scene/scheduler routes.
package api

import (
	"log"
	"net/http"

	"github.com/coissac/pmomusic/internal/apperrors"
)

// Handler adapts handlers that return errors into http.Handler.
type Handler func(w http.ResponseWriter, r *http.Request) error

// ServeHTTP implements http.Handler.
func (handler Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := handler(w, r); err != nil {
		WriteError(w, r, err)
	}
}

// RecovererMiddleware converts panics into 500 responses, mapped onto
// apperrors.ErrorCodeActionInvocation — the closest taxonomy entry to
// "something went wrong invoking the request" for a handler that
// panicked mid-flight rather than returning a typed error.
func RecovererMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if recovered := recover(); recovered != nil {
				log.Printf("panic recovered: %v", recovered)
				WriteError(w, r, apperrors.NewActionInvocationError("internal server error", 500, nil))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
