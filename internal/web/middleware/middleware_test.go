package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/JonMunkholm/cadboq/internal/core"
)

func TestTrustedRealIP(t *testing.T) {
	tests := []struct {
		name    string
		trusted []string
		remote  string
		headers map[string]string
		want    string
	}{
		{
			name:    "untrusted peer keeps address",
			trusted: []string{"10.0.0.0/8"},
			remote:  "203.0.113.9:5000",
			headers: map[string]string{"X-Real-IP": "1.2.3.4"},
			want:    "203.0.113.9:5000",
		},
		{
			name:    "trusted peer with X-Real-IP",
			trusted: []string{"10.0.0.0/8"},
			remote:  "10.1.2.3:5000",
			headers: map[string]string{"X-Real-IP": "1.2.3.4"},
			want:    "1.2.3.4",
		},
		{
			name:    "trusted bare address with X-Forwarded-For",
			trusted: []string{"127.0.0.1"},
			remote:  "127.0.0.1:5000",
			headers: map[string]string{"X-Forwarded-For": "5.6.7.8, 10.0.0.1"},
			want:    "5.6.7.8",
		},
		{
			name:    "invalid header ignored",
			trusted: []string{"127.0.0.1/32"},
			remote:  "127.0.0.1:5000",
			headers: map[string]string{"X-Real-IP": "not-an-ip"},
			want:    "127.0.0.1:5000",
		},
		{
			name:    "no trusted proxies",
			remote:  "127.0.0.1:5000",
			headers: map[string]string{"X-Real-IP": "1.2.3.4"},
			want:    "127.0.0.1:5000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			h := TrustedRealIP(tt.trusted)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = r.RemoteAddr
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)

			if got != tt.want {
				t.Errorf("RemoteAddr = %q, want %q", got, tt.want)
			}
		})
	}
}

type fakeStore struct {
	known   map[string]bool
	opened  int
	openErr error
}

func (f *fakeStore) Workspace(id string) (*core.Workspace, error) {
	if f.known[id] {
		return &core.Workspace{ID: id}, nil
	}
	return nil, errors.New("not found")
}

func (f *fakeStore) Open() (*core.Workspace, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.opened++
	return &core.Workspace{ID: "fresh", CreatedAt: time.Now()}, nil
}

func TestSession(t *testing.T) {
	store := &fakeStore{known: map[string]bool{"known": true}}
	var seen string
	h := Session(store, CookieOptions{Name: "sid", Secure: true})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = core.WorkspaceIDFromContext(r.Context())
	}))

	t.Run("known cookie reused", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: "sid", Value: "known"})
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if seen != "known" {
			t.Errorf("workspace = %q, want known", seen)
		}
		if len(rec.Result().Cookies()) != 0 {
			t.Error("no cookie should be set for a known workspace")
		}
	})

	t.Run("unknown cookie replaced", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: "sid", Value: "evicted"})
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if seen != "fresh" {
			t.Errorf("workspace = %q, want fresh", seen)
		}
		cookies := rec.Result().Cookies()
		if len(cookies) != 1 {
			t.Fatalf("cookies = %d, want 1", len(cookies))
		}
		c := cookies[0]
		if c.Value != "fresh" || !c.HttpOnly || !c.Secure || c.SameSite != http.SameSiteLaxMode {
			t.Errorf("cookie = %+v", c)
		}
	})

	if store.opened != 1 {
		t.Errorf("opened = %d, want 1", store.opened)
	}
}

func TestSession_OpenFailure(t *testing.T) {
	store := &fakeStore{openErr: core.ErrAtCapacity}
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

	rec := httptest.NewRecorder()
	Session(store, CookieOptions{Name: "sid"})(next).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/selection", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	if called {
		t.Error("handler ran without a workspace")
	}

	var got error
	opts := CookieOptions{Name: "sid", OnError: func(w http.ResponseWriter, r *http.Request, err error) {
		got = err
		w.WriteHeader(http.StatusTeapot)
	}}
	rec = httptest.NewRecorder()
	Session(store, opts)(next).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/selection", nil))
	if !errors.Is(got, core.ErrAtCapacity) || rec.Code != http.StatusTeapot {
		t.Errorf("OnError got %v, status %d", got, rec.Code)
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Error("no cookie should be set when no workspace was opened")
	}
}

func TestLookupSession(t *testing.T) {
	store := &fakeStore{known: map[string]bool{"known": true}}
	var seen string
	h := LookupSession(store, CookieOptions{Name: "sid"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = core.WorkspaceIDFromContext(r.Context())
	}))

	tests := []struct {
		name   string
		cookie string
		want   string
	}{
		{"known cookie bound", "known", "known"},
		{"unknown cookie left unbound", "evicted", ""},
		{"no cookie", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = "unset"
			req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: "sid", Value: tt.cookie})
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if seen != tt.want {
				t.Errorf("workspace = %q, want %q", seen, tt.want)
			}
			if len(rec.Result().Cookies()) != 0 {
				t.Error("lookup must not set a cookie")
			}
		})
	}

	if store.opened != 0 {
		t.Errorf("opened = %d, want 0", store.opened)
	}
}

func TestLogger_CapturesStatusAndBytes(t *testing.T) {
	var rw *responseWriter
	h := Logger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw = w.(*responseWriter)
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short"))
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if rw.status != http.StatusTeapot {
		t.Errorf("status = %d", rw.status)
	}
	if rw.bytes != 5 {
		t.Errorf("bytes = %d, want 5", rw.bytes)
	}
}
