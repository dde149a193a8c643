package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/cadboq/internal/auth"
	"github.com/JonMunkholm/cadboq/internal/export"
	"github.com/JonMunkholm/cadboq/internal/extract"
	"github.com/JonMunkholm/cadboq/internal/logging"
)

// Service errors.
var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrLoginRequired    = errors.New("login required")
	ErrUploadInProgress = errors.New("upload already in progress")
	ErrLoginDisabled    = errors.New("login is not configured")
	ErrAtCapacity       = errors.New("server at capacity")
	ErrRateLimited      = errors.New("rate limit exceeded")
)

// Extractor submits a drawing and returns the decoded response.
type Extractor interface {
	Submit(ctx context.Context, req extract.Request) (*extract.Result, error)
}

// Authenticator runs the login handshake.
type Authenticator interface {
	LoginURL(state string) string
	Login(ctx context.Context, code string) (*auth.Session, error)
	Logout(ctx context.Context, s *auth.Session)
}

// Options tune a Service.
type Options struct {
	MaxFileSize       int64
	AllowedExtensions []string
	RequireLogin      bool
	MaxConcurrent     int
	MaxWait           time.Duration
	IdleTimeout       time.Duration

	// MaxWorkspaces caps live workspaces. Zero means no cap.
	MaxWorkspaces int
	// MaxRetainedBytes caps selected drawings held across every workspace.
	// Zero means no cap.
	MaxRetainedBytes int64
}

// Service owns every live workspace.
type Service struct {
	extractor Extractor
	auth      Authenticator
	opts      Options
	limiter   *UploadLimiter
	now       func() time.Time

	mu         sync.RWMutex
	workspaces map[string]*Workspace

	// selectMu serializes the retained-bytes check with the selection it admits.
	selectMu sync.Mutex
}

// NewService creates a Service. authn may be nil when login is disabled.
func NewService(ext Extractor, authn Authenticator, opts Options) *Service {
	return &Service{
		extractor:  ext,
		auth:       authn,
		opts:       opts,
		limiter:    NewUploadLimiter(opts.MaxConcurrent, opts.MaxWait),
		now:        time.Now,
		workspaces: make(map[string]*Workspace),
	}
}

// RequireLogin reports whether uploads need a signed-in session.
func (s *Service) RequireLogin() bool {
	return s.opts.RequireLogin
}

// Open creates a new, empty workspace. At the workspace cap idle workspaces
// are swept first; if none can go, Open fails with ErrAtCapacity.
func (s *Service) Open() (*Workspace, error) {
	ws := newWorkspace(uuid.NewString(), s.now())

	if !s.insert(ws) {
		s.SweepIdle()
		if !s.insert(ws) {
			slog.Warn("workspace cap reached", "max_workspaces", s.opts.MaxWorkspaces)
			return nil, fmt.Errorf("%w: %d sessions open", ErrAtCapacity, s.opts.MaxWorkspaces)
		}
	}

	slog.Debug("workspace opened", "workspace_id", ws.ID)
	return ws, nil
}

func (s *Service) insert(ws *Workspace) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opts.MaxWorkspaces > 0 && len(s.workspaces) >= s.opts.MaxWorkspaces {
		return false
	}
	s.workspaces[ws.ID] = ws
	return true
}

// Workspace returns the workspace for id and marks it as recently used.
func (s *Service) Workspace(id string) (*Workspace, error) {
	s.mu.RLock()
	ws, ok := s.workspaces[id]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	ws.touch(s.now())
	return ws, nil
}

// Count returns the number of live workspaces.
func (s *Service) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.workspaces)
}

// RetainedBytes returns the size of every selected drawing still held.
func (s *Service) RetainedBytes() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, ws := range s.workspaces {
		if sel := ws.Snapshot().Selection; sel != nil {
			n += sel.Size()
		}
	}
	return n
}

// Snapshot returns the current state of workspace id.
func (s *Service) Snapshot(id string) (State, error) {
	ws, err := s.Workspace(id)
	if err != nil {
		return State{}, err
	}
	return ws.Snapshot(), nil
}

// SelectFile replaces the workspace's selection. The file is checked by
// extension and size, and against the retained-bytes cap.
func (s *Service) SelectFile(id, name string, data []byte, src Source) (State, error) {
	ws, err := s.Workspace(id)
	if err != nil {
		return State{}, err
	}

	if err := extract.CheckFile(name, int64(len(data)), s.opts.MaxFileSize, s.opts.AllowedExtensions); err != nil {
		return ws.Snapshot(), err
	}

	s.selectMu.Lock()
	defer s.selectMu.Unlock()

	if limit := s.opts.MaxRetainedBytes; limit > 0 {
		held := s.RetainedBytes()
		if sel := ws.Snapshot().Selection; sel != nil {
			held -= sel.Size()
		}
		if held+int64(len(data)) > limit {
			slog.Warn("retained bytes cap reached",
				"workspace_id", id,
				"held", held,
				"file_bytes", len(data),
				"limit", limit,
			)
			return ws.Snapshot(), fmt.Errorf("%w: drawing storage full", ErrAtCapacity)
		}
	}

	return ws.Dispatch(FileSelected{Name: name, Data: data, Source: src, At: s.now()})
}

// SetRate edits one item's rate. Input is parsed leniently.
func (s *Service) SetRate(id string, index int, raw string) (State, error) {
	ws, err := s.Workspace(id)
	if err != nil {
		return State{}, err
	}
	return ws.Dispatch(RateEdited{Index: index, Raw: raw})
}

// BeginLogin issues a fresh state nonce and returns the provider URL.
func (s *Service) BeginLogin(id string) (string, error) {
	if s.auth == nil {
		return "", ErrLoginDisabled
	}
	ws, err := s.Workspace(id)
	if err != nil {
		return "", err
	}

	state := uuid.NewString()
	if _, err := ws.Dispatch(LoginStarted{State: state}); err != nil {
		return "", err
	}
	return s.auth.LoginURL(state), nil
}

// CompleteLogin finishes the handshake started by BeginLogin. On failure the
// session stays absent and the error is recorded in the state.
func (s *Service) CompleteLogin(ctx context.Context, id, state, code string) (State, error) {
	if s.auth == nil {
		return State{}, ErrLoginDisabled
	}
	ws, err := s.Workspace(id)
	if err != nil {
		return State{}, err
	}

	logger := logging.WithFields(ctx, "workspace_id", id)

	if err := auth.CheckState(ws.Snapshot().LoginState, state); err != nil {
		logger.Warn("login rejected", "error", err)
		st, _ := ws.Dispatch(LoginFailed{Err: err})
		return st, err
	}

	sess, err := s.auth.Login(ctx, code)
	if err != nil {
		logger.Warn("login failed", "error", err)
		st, _ := ws.Dispatch(LoginFailed{Err: err})
		return st, err
	}

	logger.Info("login succeeded", "email", sess.Email)
	return ws.Dispatch(LoggedIn{Session: sess})
}

// FailLogin records a login the provider refused, such as a user who
// cancelled consent. The pending state nonce is discarded.
func (s *Service) FailLogin(id string, reason error) (State, error) {
	ws, err := s.Workspace(id)
	if err != nil {
		return State{}, err
	}
	return ws.Dispatch(LoginFailed{Err: &auth.AuthError{Op: auth.OpExchange, Err: reason}})
}

// Logout clears the session and email status. The table is kept.
func (s *Service) Logout(ctx context.Context, id string) (State, error) {
	ws, err := s.Workspace(id)
	if err != nil {
		return State{}, err
	}

	sess := ws.Snapshot().Session
	if s.auth != nil {
		s.auth.Logout(ctx, sess)
	}
	return ws.Dispatch(LoggedOut{})
}

// Upload submits the selected file and ingests the response.
//
// Preconditions are checked in order: a file must be selected, a session must
// exist when login is required, and no other upload may be in flight for this
// workspace. Failing any of them sends nothing. On a failed submission the
// table is left as it was.
func (s *Service) Upload(ctx context.Context, id string) (State, error) {
	ws, err := s.Workspace(id)
	if err != nil {
		return State{}, err
	}

	snap := ws.Snapshot()
	if snap.Selection == nil {
		return snap, &extract.ValidationError{Field: "file", Err: extract.ErrNoFile}
	}
	if s.opts.RequireLogin && snap.Session.Expired(s.now()) {
		return snap, ErrLoginRequired
	}

	release, ok := ws.gate.TryAcquire()
	if !ok {
		return snap, ErrUploadInProgress
	}
	defer release()

	// Busy covers the wait for a global slot as well as the submission.
	if _, err := ws.Dispatch(UploadStarted{}); err != nil {
		return snap, err
	}

	// A client that disconnects mid-upload does not abort the submission;
	// the extraction client applies its own deadline.
	ctx = context.WithoutCancel(ctx)
	logger := logging.WithFields(ctx, "workspace_id", id, "file", snap.Selection.Name)

	releaseSlot, err := s.limiter.Acquire(ctx)
	if err != nil {
		logger.Warn("upload slot unavailable", "error", err)
		st, _ := ws.Dispatch(UploadFailed{Err: err})
		return st, err
	}
	defer releaseSlot()

	req := extract.Request{File: &extract.File{Name: snap.Selection.Name, Data: snap.Selection.Data}}
	if snap.Session != nil {
		req.Credential = &extract.Credential{
			AccessToken: snap.Session.Credential.AccessToken,
			Email:       snap.Session.Email,
		}
	}

	start := time.Now()
	result, err := s.extractor.Submit(ctx, req)
	if err != nil {
		logger.Error("upload failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		st, _ := ws.Dispatch(UploadFailed{Err: err})
		return st, err
	}

	st, err := ws.Dispatch(UploadSucceeded{Result: result})
	if err != nil {
		return st, err
	}

	logger.Info("upload completed",
		"items", st.Table.Len(),
		"estimated", st.Table.EstimatedCount(),
		"grand_total", st.Table.GrandTotal(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return st, nil
}

// Export renders the workspace's table as it is at call time.
func (s *Service) Export(id string) (*export.Artifact, error) {
	ws, err := s.Workspace(id)
	if err != nil {
		return nil, err
	}

	a, err := export.Render(ws.Snapshot().Table)
	if err != nil {
		return nil, fmt.Errorf("export failed: %w", err)
	}
	return a, nil
}

// UploadLimiterStatus reports global upload slot usage.
func (s *Service) UploadLimiterStatus() UploadLimiterStatus {
	return s.limiter.Status()
}

// WaitForUploads blocks until in-flight uploads finish or ctx ends.
func (s *Service) WaitForUploads(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}
