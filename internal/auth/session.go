// Package auth manages the signed-in identity used to gate uploads and to
// authorize the out-of-band email delivery performed by the extraction service.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Identity is the profile returned by the identity provider after login.
type Identity struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Picture string `json:"picture"`
}

// Credential is the delegated access token the extraction service uses to
// send the report on the user's behalf.
type Credential struct {
	AccessToken string
	TokenType   string
	Expiry      time.Time
}

// Session is an authenticated identity plus its credential.
// A nil *Session means no one is signed in.
type Session struct {
	Identity
	Credential Credential
	CreatedAt  time.Time
}

// Expired reports whether the credential has a known expiry that has passed.
func (s *Session) Expired(now time.Time) bool {
	if s == nil {
		return true
	}
	return !s.Credential.Expiry.IsZero() && now.After(s.Credential.Expiry)
}

// Provider is the identity-provider capability the Manager depends on.
type Provider interface {
	// BeginLogin returns the URL the user agent is sent to. state is echoed
	// back on the callback.
	BeginLogin(state string) string

	// Exchange trades an authorization code for a credential.
	Exchange(ctx context.Context, code string) (Credential, error)

	// FetchIdentity loads the profile of the credential's owner.
	FetchIdentity(ctx context.Context, cred Credential) (Identity, error)

	// EndSession revokes the credential at the provider.
	EndSession(ctx context.Context, cred Credential) error
}

// Login steps reported in AuthError.Op.
const (
	OpState    = "state"
	OpExchange = "exchange"
	OpIdentity = "identity"
)

// ErrStateMismatch means the callback state does not match the one issued
// when login began.
var ErrStateMismatch = errors.New("login state mismatch")

// AuthError reports a failed login step. The session stays absent.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth %s: %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}
