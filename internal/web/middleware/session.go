package middleware

import (
	"net/http"

	"github.com/JonMunkholm/cadboq/internal/core"
	"github.com/JonMunkholm/cadboq/internal/logging"
)

// WorkspaceStore resolves and creates workspaces.
type WorkspaceStore interface {
	Workspace(id string) (*core.Workspace, error)
	Open() (*core.Workspace, error)
}

// CookieOptions controls the session cookie.
type CookieOptions struct {
	Name   string
	Secure bool

	// OnError answers a request whose workspace could not be opened.
	// Nil writes a plain 503.
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

// Session binds a request to a workspace through a cookie. A missing,
// unknown or evicted id gets a fresh workspace and a new cookie. The id is
// stored in the request context for handlers.
//
// Use it only on routes that change state; read-only routes take
// LookupSession so that cookieless traffic opens nothing.
func Session(store WorkspaceStore, opts CookieOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := lookup(store, opts.Name, r)

			if id == "" {
				ws, err := store.Open()
				if err != nil {
					if opts.OnError != nil {
						opts.OnError(w, r, err)
					} else {
						http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
					}
					return
				}
				id = ws.ID
				http.SetCookie(w, &http.Cookie{
					Name:     opts.Name,
					Value:    id,
					Path:     "/",
					HttpOnly: true,
					Secure:   opts.Secure,
					SameSite: http.SameSiteLaxMode,
				})
				logging.FromContext(r.Context()).Debug("session: new workspace",
					"workspace_id", id,
					"path", r.URL.Path,
				)
			}

			ctx := core.ContextWithWorkspaceID(r.Context(), id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LookupSession binds the cookie's workspace when it still exists and
// otherwise leaves the request unbound. It never opens a workspace or
// sets a cookie.
func LookupSession(store WorkspaceStore, opts CookieOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id := lookup(store, opts.Name, r); id != "" {
				r = r.WithContext(core.ContextWithWorkspaceID(r.Context(), id))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func lookup(store WorkspaceStore, name string, r *http.Request) string {
	c, err := r.Cookie(name)
	if err != nil || c.Value == "" {
		return ""
	}
	if _, err := store.Workspace(c.Value); err != nil {
		return ""
	}
	return c.Value
}
