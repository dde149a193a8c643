package auth

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"time"
)

// Manager drives the login and logout transitions against a Provider.
type Manager struct {
	provider Provider
	revoke   bool
	now      func() time.Time
}

// NewManager creates a Manager. When revoke is true, Logout also revokes the
// credential at the provider.
func NewManager(p Provider, revoke bool) *Manager {
	return &Manager{provider: p, revoke: revoke, now: time.Now}
}

// LoginURL returns where to send the user agent to start login.
func (m *Manager) LoginURL(state string) string {
	return m.provider.BeginLogin(state)
}

// CheckState compares the state returned on the callback with the issued one.
func CheckState(issued, returned string) error {
	if issued == "" || returned == "" ||
		subtle.ConstantTimeCompare([]byte(issued), []byte(returned)) != 1 {
		return &AuthError{Op: OpState, Err: ErrStateMismatch}
	}
	return nil
}

// Login completes the handshake: the code is exchanged for a credential and
// the identity is fetched. On any failure no session is returned.
func (m *Manager) Login(ctx context.Context, code string) (*Session, error) {
	cred, err := m.provider.Exchange(ctx, code)
	if err != nil {
		return nil, &AuthError{Op: OpExchange, Err: err}
	}

	id, err := m.provider.FetchIdentity(ctx, cred)
	if err != nil {
		return nil, &AuthError{Op: OpIdentity, Err: err}
	}

	return &Session{
		Identity:   id,
		Credential: cred,
		CreatedAt:  m.now(),
	}, nil
}

// Logout ends the provider session. Revocation is best effort: failures are
// logged and never keep the caller from clearing its local session.
func (m *Manager) Logout(ctx context.Context, s *Session) {
	if s == nil || !m.revoke {
		return
	}
	if err := m.provider.EndSession(ctx, s.Credential); err != nil {
		slog.Warn("auth: token revocation failed", "email", s.Email, "error", err)
	}
}
