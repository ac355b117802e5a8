package web

import (
	"context"
	"net/http"

	"ipsentry/internal/constants"
	"ipsentry/internal/eventlog"
)

const eventCtxKey contextKey = "event_ctx"

// Gate decides whether enforcement should deny an address outright.
// The block classifier implements it.
type Gate interface {
	IsBlocked(ip string) (bool, int)
}

// EventContextMiddleware attaches a fresh per-request event-log context.
// All events appended while handling the request share its session id and
// dedup state.
func EventContextMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rctx := eventlog.NewRequestContext(ClientIP(r))
		rctx.ActingUserID = GetUserID(r)
		r = r.WithContext(context.WithValue(r.Context(), eventCtxKey, rctx))
		next.ServeHTTP(w, r)
	})
}

// EventContext returns the request's event-log context, or a detached one
// if the middleware did not run (tests, internal calls).
func EventContext(r *http.Request) *eventlog.RequestContext {
	if v, ok := r.Context().Value(eventCtxKey).(*eventlog.RequestContext); ok {
		return v
	}
	return eventlog.NewRequestContext(ClientIP(r))
}

// EnforcementMiddleware denies requests from blocked addresses before any
// handler runs. The block reason is stashed in the request context so the
// subsequent "IP blocked" event picks it up.
func EnforcementMiddleware(gate Gate, log *eventlog.Log) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)
			blocked, reason := gate.IsBlocked(ip)
			if !blocked {
				next.ServeHTTP(w, r)
				return
			}

			rctx := EventContext(r)
			rctx.LastBlockReason = reason
			log.Append(rctx, eventlog.AppendInput{
				Activity: constants.ActivityIPBlocked,
				URL:      r.URL.RequestURI(),
			})
			FailErr(w, r, ErrForbidden)
		})
	}
}
