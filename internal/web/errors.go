package web

// errors.go maps service errors to HTTP responses.
//
// Every error is logged with its technical detail and request id, then
// returned to the client as a core.UserMessage: JSON for API clients, an
// error page for browsers.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/cadboq/internal/auth"
	"github.com/JonMunkholm/cadboq/internal/boq"
	"github.com/JonMunkholm/cadboq/internal/core"
	"github.com/JonMunkholm/cadboq/internal/extract"
	"github.com/JonMunkholm/cadboq/internal/web/templates"
)

// loginPath is where a browser starts the sign-in handshake.
const loginPath = "/auth/login"

// ErrorResponse is the JSON body of an API error.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Action        string `json:"action,omitempty"`
	Code          string `json:"code"`
	LoginRequired bool   `json:"login_required,omitempty"`
	LoginURL      string `json:"login_url,omitempty"`
}

// statusFor picks the HTTP status for a service error.
func statusFor(err error) int {
	var uploadErr *extract.UploadError
	if errors.As(err, &uploadErr) {
		if uploadErr.Timeout() {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	}

	var authErr *auth.AuthError
	if errors.As(err, &authErr) {
		return http.StatusUnauthorized
	}

	switch {
	case errors.Is(err, extract.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, extract.ErrUnsupportedFile):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, extract.ErrNoFile):
		return http.StatusBadRequest
	case errors.Is(err, boq.ErrIndexOutOfRange):
		return http.StatusNotFound
	case errors.Is(err, core.ErrLoginRequired):
		return http.StatusUnauthorized
	case errors.Is(err, core.ErrUploadInProgress):
		return http.StatusConflict
	case errors.Is(err, core.ErrTooManyUploads), errors.Is(err, core.ErrAtCapacity):
		return http.StatusServiceUnavailable
	case errors.Is(err, core.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, core.ErrLoginDisabled):
		return http.StatusNotFound
	case errors.Is(err, core.ErrSessionNotFound):
		return http.StatusGone
	}

	var valErr *extract.ValidationError
	if errors.As(err, &valErr) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// respondError logs err and writes the mapped user message.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := core.MapError(err)

	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	slog.Log(r.Context(), level, "request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", msg.Code,
		"request_id", chimw.GetReqID(r.Context()),
		"workspace_id", core.WorkspaceIDFromContext(r.Context()),
	)

	loginRequired := errors.Is(err, core.ErrLoginRequired)

	if wantsJSON(r) {
		resp := ErrorResponse{
			Error:   msg.Message,
			Message: msg.Message,
			Action:  msg.Action,
			Code:    msg.Code,
		}
		if loginRequired {
			resp.LoginRequired = true
			resp.LoginURL = loginPath
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			slog.Error("json encode error", "error", err)
		}
		return
	}

	// A browser that must sign in goes straight to the provider.
	if loginRequired {
		http.Redirect(w, r, loginPath, http.StatusSeeOther)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := templates.ErrorPage(msg.Message, msg.Action, msg.Code).Render(r.Context(), w); err != nil {
		slog.Error("render error page", "error", err)
	}
}

// wantsJSON reports whether the client expects JSON. Browser form posts
// send Accept: text/html and get redirects or pages instead.
func wantsJSON(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	if strings.Contains(accept, "application/json") {
		return true
	}
	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		return true
	}
	if strings.Contains(accept, "text/html") {
		return false
	}
	return strings.HasPrefix(r.URL.Path, "/api/")
}
