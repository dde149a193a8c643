package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// Default Google endpoints and scopes.
const (
	ScopeGmailSend     = "https://www.googleapis.com/auth/gmail.send"
	DefaultUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"
	DefaultRevokeURL   = "https://oauth2.googleapis.com/revoke"
)

// DefaultScopes lets the extraction service mail the report and identifies
// the user.
var DefaultScopes = []string{ScopeGmailSend, "email", "profile"}

// GoogleConfig configures GoogleProvider.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	UserInfoURL  string
	RevokeURL    string

	// Endpoint overrides google.Endpoint. Tests point it at a fake server.
	Endpoint *oauth2.Endpoint
}

// GoogleProvider implements Provider with Google's OAuth 2.0 endpoints.
type GoogleProvider struct {
	oauth       *oauth2.Config
	userInfoURL string
	revokeURL   string
	client      *http.Client
}

// NewGoogleProvider creates a provider. A nil client uses a client with a
// 30 second timeout.
func NewGoogleProvider(cfg GoogleConfig, client *http.Client) *GoogleProvider {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	endpoint := google.Endpoint
	if cfg.Endpoint != nil {
		endpoint = *cfg.Endpoint
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}

	userInfoURL := cfg.UserInfoURL
	if userInfoURL == "" {
		userInfoURL = DefaultUserInfoURL
	}
	revokeURL := cfg.RevokeURL
	if revokeURL == "" {
		revokeURL = DefaultRevokeURL
	}

	return &GoogleProvider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
		userInfoURL: userInfoURL,
		revokeURL:   revokeURL,
		client:      client,
	}
}

// BeginLogin implements Provider.
func (p *GoogleProvider) BeginLogin(state string) string {
	return p.oauth.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange implements Provider.
func (p *GoogleProvider) Exchange(ctx context.Context, code string) (Credential, error) {
	if code == "" {
		return Credential{}, fmt.Errorf("missing authorization code")
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)
	tok, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return Credential{}, fmt.Errorf("token exchange: %w", err)
	}

	return Credential{
		AccessToken: tok.AccessToken,
		TokenType:   tok.Type(),
		Expiry:      tok.Expiry,
	}, nil
}

// FetchIdentity implements Provider.
func (p *GoogleProvider) FetchIdentity(ctx context.Context, cred Credential) (Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return Identity{}, fmt.Errorf("build userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("userinfo request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Identity{}, fmt.Errorf("userinfo status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var id Identity
	if err := json.NewDecoder(resp.Body).Decode(&id); err != nil {
		return Identity{}, fmt.Errorf("decode userinfo: %w", err)
	}
	if id.Email == "" {
		return Identity{}, fmt.Errorf("userinfo response has no email")
	}
	return id, nil
}

// EndSession implements Provider.
func (p *GoogleProvider) EndSession(ctx context.Context, cred Credential) error {
	form := url.Values{"token": {cred.AccessToken}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("revoke request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("revoke status %d", resp.StatusCode)
	}
	return nil
}
