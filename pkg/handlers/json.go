// Package handlers contains the HTTP API for Music-Enrich-Go.
// This file holds the JSON envelope helpers and the mapping from the music
// error taxonomy to HTTP status codes.
//
// Every response has the shape {"success": bool, ...}. Failures carry an
// "error" message and, outside production, the raw upstream body under
// "details".
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"Music-Enrich-Go/pkg/music"
)

// envelope is the top-level JSON object of every response.
type envelope map[string]any

// respondJSON writes v with the given status.
func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// respondJSONError writes a failure envelope with a plain message.
func respondJSONError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, envelope{"success": false, "error": msg})
}

// statusFor maps an error kind to the HTTP status returned to callers.
// Missing or rejected credentials are a server misconfiguration, not the
// caller's fault.
func statusFor(kind music.ErrorKind) int {
	switch kind {
	case music.KindInvalidInput:
		return http.StatusBadRequest
	case music.KindNotFound:
		return http.StatusNotFound
	case music.KindUnauthorized, music.KindNotConfigured:
		return http.StatusInternalServerError
	case music.KindRateLimited:
		return http.StatusTooManyRequests
	case music.KindTimeout:
		return http.StatusGatewayTimeout
	case music.KindUpstream:
		return http.StatusBadGateway
	case music.KindAllProvidersUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// respondError translates err into a failure envelope. Errors outside the
// taxonomy are logged and reported as "internal error".
func (app *Application) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var me *music.Error
	if !errors.As(err, &me) {
		app.requestLogger(r).WithError(err).Error("unexpected handler error")
		respondJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}

	status := statusFor(me.Kind)
	body := envelope{"success": false, "error": app.errorMessage(me), "kind": me.Kind.String()}
	if me.Provider != "" {
		body["provider"] = me.Provider
	}
	if !app.Production && me.Body != "" {
		body["details"] = me.Body
	}
	if me.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(me.RetryAfter.Seconds())))
	}
	entry := app.requestLogger(r).WithError(err).WithField("kind", me.Kind.String())
	if status >= http.StatusInternalServerError {
		entry.Warn("request failed")
	} else {
		entry.Debug("request failed")
	}
	respondJSON(w, status, body)
}

// kindMessages are the caller-facing texts used in production, where the
// error chain may carry text copied from upstream bodies.
var kindMessages = map[music.ErrorKind]string{
	music.KindNotConfigured:           "provider not configured",
	music.KindUnauthorized:            "provider rejected our credentials",
	music.KindRateLimited:             "provider rate limit reached",
	music.KindTimeout:                 "provider timed out",
	music.KindUpstream:                "upstream error",
	music.KindNotFound:                "not found",
	music.KindAllProvidersUnavailable: "all providers unavailable",
}

// errorMessage prefers the cause for caller mistakes so "title is required"
// reads naturally. Production gets a fixed message per kind; elsewhere the
// full error string is returned.
func (app *Application) errorMessage(e *music.Error) string {
	if e.Kind == music.KindInvalidInput && e.Err != nil {
		return e.Err.Error()
	}
	if !app.Production {
		return e.Error()
	}
	msg, ok := kindMessages[e.Kind]
	if !ok {
		return "internal error"
	}
	if e.Provider != "" {
		return e.Provider + ": " + msg
	}
	return msg
}
