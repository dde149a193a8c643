package web

import (
	"log/slog"
	"net/http"

	"github.com/JonMunkholm/cadboq/internal/core"
	"github.com/JonMunkholm/cadboq/internal/logging"
)

// workspaceID returns the id bound by middleware.Session.
func workspaceID(r *http.Request) string {
	return core.WorkspaceIDFromContext(r.Context())
}

// requestLogger returns a logger carrying request and workspace ids.
func requestLogger(r *http.Request) *slog.Logger {
	return logging.WithFields(r.Context(), "workspace_id", workspaceID(r))
}
