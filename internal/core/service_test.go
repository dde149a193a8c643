package core

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/cadboq/internal/auth"
	"github.com/JonMunkholm/cadboq/internal/boq"
	"github.com/JonMunkholm/cadboq/internal/export"
	"github.com/JonMunkholm/cadboq/internal/extract"
)

type fakeExtractor struct {
	mu      sync.Mutex
	calls   atomic.Int32
	last    extract.Request
	result  *extract.Result
	err     error
	started chan struct{}
	block   chan struct{}
}

func (f *fakeExtractor) Submit(ctx context.Context, req extract.Request) (*extract.Result, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.last = req
	f.mu.Unlock()

	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	return f.result, f.err
}

func (f *fakeExtractor) lastRequest() extract.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

type fakeAuth struct {
	loginErr error
	logouts  int
}

func (a *fakeAuth) LoginURL(state string) string {
	return "https://idp.example.com/auth?state=" + state
}

func (a *fakeAuth) Login(ctx context.Context, code string) (*auth.Session, error) {
	if a.loginErr != nil {
		return nil, a.loginErr
	}
	return &auth.Session{
		Identity:   auth.Identity{Name: "Ada", Email: "ada@example.com"},
		Credential: auth.Credential{AccessToken: "tok-" + code},
	}, nil
}

func (a *fakeAuth) Logout(ctx context.Context, s *auth.Session) {
	a.logouts++
}

func defaultResult() *extract.Result {
	return &extract.Result{
		Items: []boq.RawItem{
			{ItemNo: 1, Component: "Wall", Quantity: 10, Unit: "m2"},
			{ItemNo: 2, Component: "Door", Quantity: 2, Unit: "nos", Rate: ptr(100)},
		},
		EmailStatus: &extract.EmailStatus{Success: true, Message: "sent"},
		Shape:       extract.ShapeEnvelope,
	}
}

func newTestService(ext *fakeExtractor, requireLogin bool) (*Service, *fakeAuth) {
	a := &fakeAuth{}
	svc := NewService(ext, a, Options{
		MaxFileSize:       1 << 20,
		AllowedExtensions: extract.DefaultAllowedExtensions,
		RequireLogin:      requireLogin,
		MaxConcurrent:     2,
		MaxWait:           time.Second,
		IdleTimeout:       time.Hour,
	})
	return svc, a
}

func login(t *testing.T, svc *Service, id string) {
	t.Helper()
	u, err := svc.BeginLogin(id)
	if err != nil {
		t.Fatalf("BeginLogin() error = %v", err)
	}
	state := u[len("https://idp.example.com/auth?state="):]
	if _, err := svc.CompleteLogin(context.Background(), id, state, "code"); err != nil {
		t.Fatalf("CompleteLogin() error = %v", err)
	}
}

func mustOpen(t *testing.T, svc *Service) *Workspace {
	t.Helper()
	ws, err := svc.Open()
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return ws
}

func TestService_UploadRequiresFile(t *testing.T) {
	ext := &fakeExtractor{result: defaultResult()}
	svc, _ := newTestService(ext, false)
	ws := mustOpen(t, svc)

	_, err := svc.Upload(context.Background(), ws.ID)
	var ve *extract.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("Upload() error = %v, want *ValidationError", err)
	}
	if ext.calls.Load() != 0 {
		t.Errorf("extractor calls = %d, want 0", ext.calls.Load())
	}
}

func TestService_UploadRequiresLogin(t *testing.T) {
	ext := &fakeExtractor{result: defaultResult()}
	svc, _ := newTestService(ext, true)
	ws := mustOpen(t, svc)

	if _, err := svc.SelectFile(ws.ID, "plan.dwg", []byte("data"), SourcePicker); err != nil {
		t.Fatalf("SelectFile() error = %v", err)
	}

	_, err := svc.Upload(context.Background(), ws.ID)
	if !errors.Is(err, ErrLoginRequired) {
		t.Fatalf("Upload() error = %v, want ErrLoginRequired", err)
	}
	if ext.calls.Load() != 0 {
		t.Errorf("extractor calls = %d, want 0", ext.calls.Load())
	}
}

func TestService_UploadWithSession(t *testing.T) {
	ext := &fakeExtractor{result: defaultResult()}
	svc, _ := newTestService(ext, true)
	ws := mustOpen(t, svc)

	login(t, svc, ws.ID)
	if _, err := svc.SelectFile(ws.ID, "plan.dxf", []byte("data"), SourceDrop); err != nil {
		t.Fatalf("SelectFile() error = %v", err)
	}

	st, err := svc.Upload(context.Background(), ws.ID)
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	req := ext.lastRequest()
	if req.Credential == nil || req.Credential.AccessToken != "tok-code" || req.Credential.Email != "ada@example.com" {
		t.Errorf("Credential = %+v", req.Credential)
	}
	if req.File.Name != "plan.dxf" {
		t.Errorf("File.Name = %q", req.File.Name)
	}

	if st.Table.Len() != 2 || st.Table.GrandTotal() != 200 {
		t.Errorf("table: Len=%d total=%v", st.Table.Len(), st.Table.GrandTotal())
	}
	if st.EmailStatus == nil || !st.EmailStatus.Success {
		t.Errorf("EmailStatus = %+v", st.EmailStatus)
	}
	if st.Busy {
		t.Error("Busy should be false after upload")
	}
}

func TestService_AnonymousUploadOmitsCredential(t *testing.T) {
	ext := &fakeExtractor{result: defaultResult()}
	svc, _ := newTestService(ext, false)
	ws := mustOpen(t, svc)

	svc.SelectFile(ws.ID, "plan.dwg", []byte("data"), SourcePicker)
	if _, err := svc.Upload(context.Background(), ws.ID); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if ext.lastRequest().Credential != nil {
		t.Error("Credential should be nil without a session")
	}
}

func TestService_UploadFailureKeepsTable(t *testing.T) {
	ext := &fakeExtractor{result: defaultResult()}
	svc, _ := newTestService(ext, false)
	ws := mustOpen(t, svc)

	svc.SelectFile(ws.ID, "plan.dwg", []byte("data"), SourcePicker)
	if _, err := svc.Upload(context.Background(), ws.ID); err != nil {
		t.Fatalf("first Upload() error = %v", err)
	}

	ext.result = nil
	ext.err = &extract.UploadError{StatusCode: 500, Err: errors.New("boom")}

	st, err := svc.Upload(context.Background(), ws.ID)
	if err == nil {
		t.Fatal("second Upload() expected error")
	}
	if st.Table.Len() != 2 {
		t.Errorf("table Len = %d, want 2", st.Table.Len())
	}
	if st.Err == nil || st.Err.Code != "UPL001" {
		t.Errorf("Err = %+v", st.Err)
	}
	if st.EmailStatus != nil {
		t.Error("email status from the earlier upload should be cleared")
	}
}

func TestService_RejectsOverlappingUpload(t *testing.T) {
	ext := &fakeExtractor{
		result:  defaultResult(),
		started: make(chan struct{}, 1),
		block:   make(chan struct{}),
	}
	svc, _ := newTestService(ext, false)
	ws := mustOpen(t, svc)
	svc.SelectFile(ws.ID, "plan.dwg", []byte("data"), SourcePicker)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Upload(context.Background(), ws.ID)
		done <- err
	}()
	<-ext.started

	if !mustSnapshot(t, svc, ws.ID).Busy {
		t.Error("state should be busy while an upload is in flight")
	}

	_, err := svc.Upload(context.Background(), ws.ID)
	if !errors.Is(err, ErrUploadInProgress) {
		t.Errorf("overlapping Upload() error = %v, want ErrUploadInProgress", err)
	}

	close(ext.block)
	if err := <-done; err != nil {
		t.Fatalf("first Upload() error = %v", err)
	}
	if ext.calls.Load() != 1 {
		t.Errorf("extractor calls = %d, want 1", ext.calls.Load())
	}
}

func TestService_BusyWhileWaitingForSlot(t *testing.T) {
	ext := &fakeExtractor{result: defaultResult()}
	svc, _ := newTestService(ext, false)
	ws := mustOpen(t, svc)
	svc.SelectFile(ws.ID, "plan.dwg", []byte("data"), SourcePicker)

	// Occupy every global slot.
	var held []func()
	for i := 0; i < 2; i++ {
		release, ok := svc.limiter.TryAcquire()
		if !ok {
			t.Fatalf("TryAcquire() #%d failed", i)
		}
		held = append(held, release)
	}

	done := make(chan error, 1)
	go func() {
		_, err := svc.Upload(context.Background(), ws.ID)
		done <- err
	}()

	deadline := time.Now().Add(time.Second)
	for !mustSnapshot(t, svc, ws.ID).Busy {
		if time.Now().After(deadline) {
			t.Fatal("state never became busy while queued")
		}
		time.Sleep(time.Millisecond)
	}
	if ext.calls.Load() != 0 {
		t.Errorf("extractor calls = %d before a slot was free", ext.calls.Load())
	}

	held[0]()
	if err := <-done; err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	held[1]()

	st := mustSnapshot(t, svc, ws.ID)
	if st.Busy || !st.Succeeded {
		t.Errorf("Busy = %v, Succeeded = %v after upload", st.Busy, st.Succeeded)
	}
}

func TestService_SlotTimeoutRecordsFailure(t *testing.T) {
	ext := &fakeExtractor{result: defaultResult()}
	svc := NewService(ext, nil, Options{
		MaxFileSize:       1 << 20,
		AllowedExtensions: extract.DefaultAllowedExtensions,
		MaxConcurrent:     1,
		MaxWait:           20 * time.Millisecond,
	})
	ws := mustOpen(t, svc)
	svc.SelectFile(ws.ID, "plan.dwg", []byte("data"), SourcePicker)

	release, ok := svc.limiter.TryAcquire()
	if !ok {
		t.Fatal("TryAcquire() failed")
	}
	defer release()

	st, err := svc.Upload(context.Background(), ws.ID)
	if !errors.Is(err, ErrTooManyUploads) {
		t.Fatalf("Upload() error = %v, want ErrTooManyUploads", err)
	}
	if st.Busy {
		t.Error("state still busy after giving up on a slot")
	}
	if st.Err == nil || st.Err.Code != "UPL003" {
		t.Errorf("Err = %+v, want UPL003", st.Err)
	}
	if ext.calls.Load() != 0 {
		t.Errorf("extractor calls = %d, want 0", ext.calls.Load())
	}
	if ws.Uploading() {
		t.Error("workspace gate not released")
	}
}

func mustSnapshot(t *testing.T, svc *Service, id string) State {
	t.Helper()
	st, err := svc.Snapshot(id)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	return st
}

func TestService_SelectFileValidation(t *testing.T) {
	svc, _ := newTestService(&fakeExtractor{}, false)
	ws := mustOpen(t, svc)

	_, err := svc.SelectFile(ws.ID, "photo.png", []byte("x"), SourcePicker)
	if !errors.Is(err, extract.ErrUnsupportedFile) {
		t.Errorf("SelectFile() error = %v, want ErrUnsupportedFile", err)
	}
	if mustSnapshot(t, svc, ws.ID).Selection != nil {
		t.Error("rejected file must not replace the selection")
	}

	_, err = svc.SelectFile(ws.ID, "big.dwg", make([]byte, 2<<20), SourcePicker)
	if !errors.Is(err, extract.ErrFileTooLarge) {
		t.Errorf("SelectFile() error = %v, want ErrFileTooLarge", err)
	}
}

func TestService_LoginStateMismatch(t *testing.T) {
	svc, _ := newTestService(&fakeExtractor{}, true)
	ws := mustOpen(t, svc)

	if _, err := svc.BeginLogin(ws.ID); err != nil {
		t.Fatalf("BeginLogin() error = %v", err)
	}

	st, err := svc.CompleteLogin(context.Background(), ws.ID, "forged", "code")
	if !errors.Is(err, auth.ErrStateMismatch) {
		t.Fatalf("CompleteLogin() error = %v, want ErrStateMismatch", err)
	}
	if st.Session != nil {
		t.Error("session should stay absent")
	}
}

func TestService_LoginFailure(t *testing.T) {
	svc, a := newTestService(&fakeExtractor{}, true)
	a.loginErr = &auth.AuthError{Op: auth.OpIdentity, Err: errors.New("401")}
	ws := mustOpen(t, svc)

	u, _ := svc.BeginLogin(ws.ID)
	state := u[len("https://idp.example.com/auth?state="):]

	st, err := svc.CompleteLogin(context.Background(), ws.ID, state, "code")
	if err == nil {
		t.Fatal("CompleteLogin() expected error")
	}
	if st.Session != nil {
		t.Error("session should stay absent")
	}
	if st.Err == nil || st.Err.Message != "Failed to fetch user info after login." {
		t.Errorf("Err = %+v", st.Err)
	}
}

func TestService_FailLogin(t *testing.T) {
	svc, _ := newTestService(&fakeExtractor{}, true)
	ws := mustOpen(t, svc)
	svc.BeginLogin(ws.ID)

	st, err := svc.FailLogin(ws.ID, errors.New("access_denied"))
	if err != nil {
		t.Fatalf("FailLogin() error = %v", err)
	}
	if st.LoginState != "" {
		t.Error("pending state should be discarded")
	}
	if st.Err == nil || st.Err.Code != "AUTH001" {
		t.Errorf("Err = %+v, want AUTH001", st.Err)
	}
}

func TestService_LoginDisabled(t *testing.T) {
	svc := NewService(&fakeExtractor{}, nil, Options{MaxConcurrent: 1})
	ws := mustOpen(t, svc)

	if _, err := svc.BeginLogin(ws.ID); !errors.Is(err, ErrLoginDisabled) {
		t.Errorf("BeginLogin() error = %v, want ErrLoginDisabled", err)
	}
}

func TestService_LogoutKeepsTable(t *testing.T) {
	ext := &fakeExtractor{result: defaultResult()}
	svc, a := newTestService(ext, true)
	ws := mustOpen(t, svc)

	login(t, svc, ws.ID)
	svc.SelectFile(ws.ID, "plan.dwg", []byte("data"), SourcePicker)
	if _, err := svc.Upload(context.Background(), ws.ID); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	st, err := svc.Logout(context.Background(), ws.ID)
	if err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if a.logouts != 1 {
		t.Errorf("provider logouts = %d, want 1", a.logouts)
	}
	if st.Session != nil || st.EmailStatus != nil {
		t.Error("session and email status should be cleared")
	}
	if st.Table.Len() != 2 {
		t.Errorf("table Len = %d, want 2", st.Table.Len())
	}
}

func TestService_SetRateAndExport(t *testing.T) {
	ext := &fakeExtractor{result: defaultResult()}
	svc, _ := newTestService(ext, false)
	ws := mustOpen(t, svc)

	svc.SelectFile(ws.ID, "plan.dwg", []byte("data"), SourcePicker)
	svc.Upload(context.Background(), ws.ID)

	st, err := svc.SetRate(ws.ID, 0, "₹12.5")
	if err != nil {
		t.Fatalf("SetRate() error = %v", err)
	}
	if st.Table.GrandTotal() != 325 {
		t.Errorf("GrandTotal() = %v, want 325", st.Table.GrandTotal())
	}
	if st.Table.EstimatedCount() != 2 {
		t.Errorf("EstimatedCount() = %d, want 2", st.Table.EstimatedCount())
	}

	if _, err := svc.SetRate(ws.ID, 5, "1"); !errors.Is(err, boq.ErrIndexOutOfRange) {
		t.Errorf("SetRate(5) error = %v, want ErrIndexOutOfRange", err)
	}

	a, err := svc.Export(ws.ID)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if a.Name != export.FileName {
		t.Errorf("Name = %q", a.Name)
	}

	f, err := excelize.OpenReader(bytes.NewReader(a.Data))
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	defer f.Close()
	total, _ := f.GetCellValue(export.SheetName, "G4", excelize.Options{RawCellValue: true})
	if total != "325" {
		t.Errorf("exported grand total = %q, want %q", total, "325")
	}
}

func TestService_UnknownSession(t *testing.T) {
	svc, _ := newTestService(&fakeExtractor{}, false)

	if _, err := svc.Snapshot("nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Snapshot() error = %v, want ErrSessionNotFound", err)
	}
	if _, err := svc.Upload(context.Background(), "nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Upload() error = %v, want ErrSessionNotFound", err)
	}
}

func TestService_SweepIdle(t *testing.T) {
	svc, _ := newTestService(&fakeExtractor{}, false)
	now := time.Now()
	svc.now = func() time.Time { return now }

	stale := mustOpen(t, svc)
	now = now.Add(30 * time.Minute)
	fresh := mustOpen(t, svc)
	now = now.Add(45 * time.Minute)

	if removed := svc.SweepIdle(); removed != 1 {
		t.Fatalf("SweepIdle() = %d, want 1", removed)
	}
	if _, err := svc.Workspace(stale.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Error("stale workspace should be evicted")
	}
	if _, err := svc.Workspace(fresh.ID); err != nil {
		t.Errorf("fresh workspace evicted: %v", err)
	}
}

func TestService_SweepSkipsBusyWorkspace(t *testing.T) {
	svc, _ := newTestService(&fakeExtractor{}, false)
	now := time.Now()
	svc.now = func() time.Time { return now }

	ws := mustOpen(t, svc)
	release, _ := ws.gate.TryAcquire()
	defer release()

	now = now.Add(2 * time.Hour)
	if removed := svc.SweepIdle(); removed != 0 {
		t.Errorf("SweepIdle() = %d, want 0", removed)
	}
}

func TestService_WorkspaceCap(t *testing.T) {
	svc := NewService(&fakeExtractor{}, nil, Options{MaxWorkspaces: 2, IdleTimeout: time.Hour})
	now := time.Now()
	svc.now = func() time.Time { return now }

	first := mustOpen(t, svc)
	mustOpen(t, svc)

	if _, err := svc.Open(); !errors.Is(err, ErrAtCapacity) {
		t.Fatalf("Open() at cap error = %v, want ErrAtCapacity", err)
	}
	if svc.Count() != 2 {
		t.Errorf("Count() = %d, want 2", svc.Count())
	}

	// Once a workspace has gone idle, Open reclaims its place.
	now = now.Add(2 * time.Hour)
	if _, err := svc.Workspace(first.ID); err != nil {
		t.Fatalf("Workspace() error = %v", err)
	}
	if _, err := svc.Open(); err != nil {
		t.Fatalf("Open() after idle error = %v", err)
	}
	if svc.Count() != 2 {
		t.Errorf("Count() = %d, want 2", svc.Count())
	}
	if _, err := svc.Workspace(first.ID); err != nil {
		t.Error("recently used workspace should survive the sweep")
	}
}

func TestService_RetainedBytesCap(t *testing.T) {
	svc := NewService(&fakeExtractor{}, nil, Options{
		MaxFileSize:       100,
		AllowedExtensions: extract.DefaultAllowedExtensions,
		MaxRetainedBytes:  100,
	})
	a := mustOpen(t, svc)
	b := mustOpen(t, svc)

	if _, err := svc.SelectFile(a.ID, "a.dwg", make([]byte, 60), SourcePicker); err != nil {
		t.Fatalf("SelectFile(a) error = %v", err)
	}

	st, err := svc.SelectFile(b.ID, "b.dwg", make([]byte, 50), SourcePicker)
	if !errors.Is(err, ErrAtCapacity) {
		t.Fatalf("SelectFile(b) error = %v, want ErrAtCapacity", err)
	}
	if st.Selection != nil {
		t.Error("rejected file should not be selected")
	}
	if got := svc.RetainedBytes(); got != 60 {
		t.Errorf("RetainedBytes() = %d, want 60", got)
	}

	// Replacing a selection only counts the difference.
	if _, err := svc.SelectFile(a.ID, "a2.dwg", make([]byte, 90), SourcePicker); err != nil {
		t.Errorf("replacing selection error = %v", err)
	}
	if _, err := svc.SelectFile(b.ID, "b.dwg", make([]byte, 10), SourcePicker); err != nil {
		t.Errorf("SelectFile(b) within cap error = %v", err)
	}
	if got := svc.RetainedBytes(); got != 100 {
		t.Errorf("RetainedBytes() = %d, want 100", got)
	}
}
