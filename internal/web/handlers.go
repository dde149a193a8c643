package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/cadboq/internal/auth"
	"github.com/JonMunkholm/cadboq/internal/boq"
	"github.com/JonMunkholm/cadboq/internal/core"
	"github.com/JonMunkholm/cadboq/internal/export"
	"github.com/JonMunkholm/cadboq/internal/extract"
	"github.com/JonMunkholm/cadboq/internal/web/templates"
)

const (
	// multipartOverhead is headroom for form boundaries and the source field.
	multipartOverhead = 1 << 20

	// multipartMemory is kept in memory before spilling to temp files.
	multipartMemory = 32 << 20
)

type selectionResponse struct {
	Name       string      `json:"name"`
	Size       int64       `json:"size"`
	SizeHuman  string      `json:"size_human"`
	Source     core.Source `json:"source"`
	SelectedAt time.Time   `json:"selected_at"`
}

// stateResponse is the JSON view of a workspace.
type stateResponse struct {
	Items          []boq.LineItem       `json:"items"`
	ItemCount      int                  `json:"item_count"`
	EstimatedCount int                  `json:"estimated_count"`
	GrandTotal     float64              `json:"grand_total"`
	HasData        bool                 `json:"has_data"`
	Busy           bool                 `json:"busy"`
	Succeeded      bool                 `json:"succeeded"`
	Selection      *selectionResponse   `json:"selection"`
	EmailStatus    *extract.EmailStatus `json:"email_status"`
	User           *auth.Identity       `json:"user"`
	LoginRequired  bool                 `json:"login_required"`
	Error          *core.UserMessage    `json:"error,omitempty"`
}

func (s *Server) toResponse(st core.State) stateResponse {
	resp := stateResponse{
		Items:          st.Table.Items(),
		ItemCount:      st.Table.Len(),
		EstimatedCount: st.Table.EstimatedCount(),
		GrandTotal:     st.Table.GrandTotal(),
		HasData:        st.HasData,
		Busy:           st.Busy,
		Succeeded:      st.Succeeded,
		EmailStatus:    st.EmailStatus,
		LoginRequired:  s.service.RequireLogin(),
		Error:          st.Err,
	}
	if sel := st.Selection; sel != nil {
		resp.Selection = &selectionResponse{
			Name:       sel.Name,
			Size:       sel.Size(),
			SizeHuman:  units.HumanSize(float64(sel.Size())),
			Source:     sel.Source,
			SelectedAt: sel.SelectedAt,
		}
	}
	if st.Session != nil {
		id := st.Session.Identity
		resp.User = &id
	}
	return resp
}

// respondState answers a mutation: JSON for API clients, a redirect back
// to the page for browser forms.
func (s *Server) respondState(w http.ResponseWriter, r *http.Request, st core.State) {
	if wantsJSON(r) {
		writeJSON(w, s.toResponse(st))
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// snapshot returns the bound workspace's state. A request without a
// workspace sees the empty state.
func (s *Server) snapshot(r *http.Request) (core.State, error) {
	id := workspaceID(r)
	if id == "" {
		return core.State{}, nil
	}
	return s.service.Snapshot(id)
}

// handlePage renders the summary page.
func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	st, err := s.snapshot(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	data := templates.NewPageData(st, s.service.RequireLogin(), strings.Join(s.cfg.Upload.AllowedExtensions, ","))
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := templates.Page(data).Render(r.Context(), w); err != nil {
		requestLogger(r).Error("render page", "error", err)
	}
}

// handleHealth reports liveness and upload slot usage.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":     "ok",
		"workspaces": s.service.Count(),
		"uploads":    s.service.UploadLimiterStatus(),
	})
}

// handleSession returns the signed-in identity, if any.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	st, err := s.snapshot(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	var user *auth.Identity
	if st.Session != nil {
		id := st.Session.Identity
		user = &id
	}
	writeJSON(w, map[string]any{
		"user":           user,
		"login_required": s.service.RequireLogin(),
		"login_url":      loginPath,
	})
}

// handleLogin redirects to the identity provider.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	url, err := s.service.BeginLogin(workspaceID(r))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

// handleCallback completes the handshake. Failures are recorded in the
// workspace and shown on the page, so the browser always lands on "/".
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	id := workspaceID(r)
	q := r.URL.Query()
	logger := requestLogger(r)

	if reason := q.Get("error"); reason != "" {
		logger.Warn("login refused by provider", "reason", reason)
		if _, err := s.service.FailLogin(id, fmt.Errorf("provider returned %q", reason)); err != nil {
			s.respondError(w, r, err)
			return
		}
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	if _, err := s.service.CompleteLogin(r.Context(), id, q.Get("state"), q.Get("code")); err != nil {
		if errors.Is(err, core.ErrLoginDisabled) || errors.Is(err, core.ErrSessionNotFound) {
			s.respondError(w, r, err)
			return
		}
		logger.Warn("login callback failed", "error", err)
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// handleLogout ends the session. The table is kept.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	st, err := s.service.Logout(r.Context(), workspaceID(r))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondState(w, r, st)
}

// handleSelect stores the uploaded drawing as the current selection.
func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	sel, err := s.readDrawing(w, r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if sel == nil {
		s.respondError(w, r, &extract.ValidationError{Field: "file", Err: extract.ErrNoFile})
		return
	}

	st, err := s.service.SelectFile(workspaceID(r), sel.name, sel.data, sel.source)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondState(w, r, st)
}

// handleUpload submits the current selection. A file part in the request
// replaces the selection first.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	id := workspaceID(r)

	sel, err := s.readDrawing(w, r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if sel != nil {
		if _, err := s.service.SelectFile(id, sel.name, sel.data, sel.source); err != nil {
			s.respondError(w, r, err)
			return
		}
	}

	st, err := s.service.Upload(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondState(w, r, st)
}

// handleTable returns the current table and status.
func (s *Server) handleTable(w http.ResponseWriter, r *http.Request) {
	st, err := s.snapshot(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, s.toResponse(st))
}

// handleSetRate edits one item's rate. The body is either JSON
// {"rate": "..."} (string or number) or a form field named rate.
func (s *Server) handleSetRate(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		s.respondError(w, r, fmt.Errorf("%w: %q", boq.ErrIndexOutOfRange, chi.URLParam(r, "index")))
		return
	}

	raw, err := readRate(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	st, err := s.service.SetRate(workspaceID(r), index, raw)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondState(w, r, st)
}

// handleExport downloads the table as a spreadsheet.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var (
		a   *export.Artifact
		err error
	)
	if id := workspaceID(r); id != "" {
		a, err = s.service.Export(id)
	} else {
		a, err = export.Render(boq.Table{})
	}
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", a.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", a.Name))
	w.Header().Set("Content-Length", strconv.Itoa(len(a.Data)))
	if _, err := w.Write(a.Data); err != nil {
		requestLogger(r).Warn("export write failed", "error", err)
	}
}

type drawing struct {
	name   string
	data   []byte
	source core.Source
}

// readDrawing reads the "file" part of a multipart request. It returns nil
// without error when the request carries no file.
func (s *Server) readDrawing(w http.ResponseWriter, r *http.Request) (*drawing, error) {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		return nil, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Upload.MaxFileSize+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, &extract.ValidationError{Field: "file", Err: extract.ErrFileTooLarge}
		}
		return nil, &extract.ValidationError{Field: "form", Err: err}
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, &extract.ValidationError{Field: "file", Err: err}
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}

	return &drawing{
		name:   header.Filename,
		data:   data,
		source: core.ParseSource(r.FormValue("source")),
	}, nil
}

// readRate extracts the raw rate text from a JSON or form body.
func readRate(r *http.Request) (string, error) {
	if !strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		return r.FormValue("rate"), nil
	}

	var body struct {
		Rate json.RawMessage `json:"rate"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&body); err != nil {
		return "", err
	}

	var str string
	if err := json.Unmarshal(body.Rate, &str); err == nil {
		return str, nil
	}
	return string(body.Rate), nil
}
