package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-oidc"
	"golang.org/x/oauth2"

	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/config"
	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/session"
)

var (
	// ErrUnsupported is returned for flows the OAuth2 server does not offer.
	ErrUnsupported = errors.New("operation not supported by the oauth2 provider")
	// ErrNoRefreshToken is returned when refreshing without a refresh token.
	ErrNoRefreshToken = errors.New("no refresh token")
)

// OAuthProvider is a session.Provider backed by the OAuth2 resource owner
// password grant. It holds a single token and publishes auth-state events
// to its subscribers.
type OAuthProvider struct {
	oauth  *oauth2.Config
	logger Logger

	mu        sync.Mutex
	token     *oauth2.Token
	email     string
	listeners map[int]func(session.AuthEvent)
	nextID    int
}

// NewOAuthProvider creates a provider over an oauth2 client configuration.
func NewOAuthProvider(oauth *oauth2.Config, logger Logger) *OAuthProvider {
	return &OAuthProvider{
		oauth:     oauth,
		logger:    logger,
		listeners: make(map[int]func(session.AuthEvent)),
	}
}

// NewOAuthProviderFromConfig discovers the token endpoint from the issuer
// unless auth.token_url is set explicitly.
func NewOAuthProviderFromConfig(ctx context.Context, cfg *config.Config, logger Logger) (*OAuthProvider, error) {
	endpoint := oauth2.Endpoint{TokenURL: cfg.Auth.TokenURL}
	if endpoint.TokenURL == "" {
		if cfg.Auth.Issuer == "" {
			return nil, errors.New("auth.issuer or auth.token_url is required")
		}
		provider, err := oidc.NewProvider(ctx, cfg.Auth.Issuer)
		if err != nil {
			return nil, fmt.Errorf("discover issuer: %w", err)
		}
		endpoint = provider.Endpoint()
	}
	return NewOAuthProvider(&oauth2.Config{
		ClientID:     cfg.Auth.ClientID,
		ClientSecret: cfg.Auth.ClientSecret,
		Endpoint:     endpoint,
		Scopes:       ClientScopes,
	}, logger), nil
}

// GetSession returns the session of the held token, or nil.
func (p *OAuthProvider) GetSession(context.Context) (*session.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessionLocked(), nil
}

// RefreshSession exchanges the refresh token for a new token.
func (p *OAuthProvider) RefreshSession(ctx context.Context) (*session.Session, error) {
	p.mu.Lock()
	current := p.token
	p.mu.Unlock()
	if current == nil || current.RefreshToken == "" {
		return nil, ErrNoRefreshToken
	}

	// An expired copy forces the token source to hit the token endpoint.
	stale := &oauth2.Token{RefreshToken: current.RefreshToken, Expiry: time.Now().Add(-time.Minute)}
	tok, err := p.oauth.TokenSource(ctx, stale).Token()
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = current.RefreshToken
	}

	s := p.store(tok, "")
	p.emit(session.TokenRefreshed{Session: s})
	return s, nil
}

// SignInWithPassword runs the password grant.
func (p *OAuthProvider) SignInWithPassword(ctx context.Context, email, password string) (*session.Session, error) {
	tok, err := p.oauth.PasswordCredentialsToken(ctx, email, password)
	if err != nil {
		return nil, fmt.Errorf("sign in: %w", err)
	}
	s := p.store(tok, email)
	if p.logger != nil {
		p.logger.Info("Signed in", "email", email, "expires_at", tok.Expiry)
	}
	p.emit(session.SignedIn{Session: s})
	return s, nil
}

// SignUp is not offered by a plain OAuth2 server.
func (p *OAuthProvider) SignUp(context.Context, string, string) (*session.Session, error) {
	return nil, ErrUnsupported
}

// ResetPasswordForEmail is not offered by a plain OAuth2 server.
func (p *OAuthProvider) ResetPasswordForEmail(context.Context, string) error {
	return ErrUnsupported
}

// SignOut drops the held token.
func (p *OAuthProvider) SignOut(context.Context) error {
	p.mu.Lock()
	p.token = nil
	p.mu.Unlock()
	p.emit(session.SignedOut{})
	return nil
}

// OnAuthStateChange subscribes fn and immediately delivers the current
// state as an InitialSession event.
func (p *OAuthProvider) OnAuthStateChange(fn func(session.AuthEvent)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	current := p.sessionLocked()
	p.mu.Unlock()

	fn(session.InitialSession{Session: current})

	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

func (p *OAuthProvider) store(tok *oauth2.Token, email string) *session.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = tok
	if email != "" {
		p.email = email
	}
	return p.sessionLocked()
}

func (p *OAuthProvider) emit(ev session.AuthEvent) {
	p.mu.Lock()
	listeners := make([]func(session.AuthEvent), 0, len(p.listeners))
	for _, fn := range p.listeners {
		listeners = append(listeners, fn)
	}
	p.mu.Unlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

func (p *OAuthProvider) sessionLocked() *session.Session {
	if p.token == nil || p.token.AccessToken == "" {
		return nil
	}
	user := &session.User{Email: p.email}
	if claims, err := ParseClaims(p.token.AccessToken); err == nil {
		user.ID = claims.Subject
		if claims.Email != "" {
			user.Email = claims.Email
		}
	}
	return &session.Session{
		AccessToken:  p.token.AccessToken,
		RefreshToken: p.token.RefreshToken,
		ExpiresAt:    session.ExpiresAt{Time: p.token.Expiry},
		User:         user,
	}
}
