package session

import (
	"context"
	"sync"
	"time"

	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/metrics"
)

// Provider is the auth backend. Implementations emit auth-state events to
// the subscribed listener and return an unsubscribe function.
type Provider interface {
	GetSession(ctx context.Context) (*Session, error)
	RefreshSession(ctx context.Context) (*Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)
	SignUp(ctx context.Context, email, password string) (*Session, error)
	SignOut(ctx context.Context) error
	ResetPasswordForEmail(ctx context.Context, email string) error
	OnAuthStateChange(fn func(AuthEvent)) (unsubscribe func())
}

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// State is the lifecycle state of the Manager.
type State int

const (
	StateUninitialized State = iota
	StateNone
	StateActive
	StateExpiring
	StateRefreshing
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateActive:
		return "active"
	case StateExpiring:
		return "expiring"
	case StateRefreshing:
		return "refreshing"
	default:
		return "uninitialized"
	}
}

// Options tunes a Manager. Zero values fall back to defaults.
type Options struct {
	// InitialTimeout bounds the first session fetch.
	InitialTimeout time.Duration
	// ExpiryGrace is how close to expiry a session must be to be refreshed
	// during initialization.
	ExpiryGrace time.Duration
	Now         func() time.Time
}

// Manager is the single writer of the current session. Readers call
// Session, AccessToken or IsSessionReady from any goroutine.
type Manager struct {
	provider Provider
	logger   Logger
	opts     Options

	mu          sync.RWMutex
	session     *Session
	initialized bool
	refreshing  bool
	ready       bool
	readyCh     chan struct{}
	started     bool
	unsubscribe func()
	onChange    []func(*Session)
	onSignedOut []func()
}

// NewManager creates a Manager over provider. Start must be called before
// the session is known.
func NewManager(provider Provider, opts Options, logger Logger) *Manager {
	if opts.InitialTimeout <= 0 {
		opts.InitialTimeout = 3 * time.Second
	}
	if opts.ExpiryGrace <= 0 {
		opts.ExpiryGrace = 60 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		provider: provider,
		logger:   logger,
		opts:     opts,
		readyCh:  make(chan struct{}),
	}
}

// Start subscribes to auth-state events and performs the initial session
// fetch. It is safe to call more than once; only the first call does work.
// A slow or failing fetch leaves the manager with no session rather than
// returning an error. A session delivered by an auth event while the fetch
// was pending wins over the fetch result.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	unsubscribe := m.provider.OnAuthStateChange(m.handle)
	m.mu.Lock()
	m.unsubscribe = unsubscribe
	m.mu.Unlock()

	fetchCtx, cancel := context.WithTimeout(ctx, m.opts.InitialTimeout)
	defer cancel()

	type result struct {
		s   *Session
		err error
	}
	ch := make(chan result, 1)
	go func() {
		s, err := m.provider.GetSession(fetchCtx)
		ch <- result{s, err}
	}()

	var s *Session
	select {
	case r := <-ch:
		if r.err != nil {
			m.logger.Warn("Initial session fetch failed, continuing without session", "error", r.err)
		} else {
			s = r.s
		}
	case <-fetchCtx.Done():
		m.logger.Warn("Initial session fetch timed out, continuing without session", "timeout", m.opts.InitialTimeout)
	}
	s = m.storeSession(s, true)

	if s != nil && s.ExpiresIn(m.opts.Now()) < m.opts.ExpiryGrace {
		m.logger.Info("Session near expiry at startup, refreshing")
		if _, err := m.refresh(ctx, "startup"); err != nil {
			m.logger.Warn("Startup refresh failed", "error", err)
		}
	}
	return nil
}

// Stop removes the auth-state subscription.
func (m *Manager) Stop() {
	m.mu.Lock()
	unsubscribe := m.unsubscribe
	m.unsubscribe = nil
	m.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

func (m *Manager) handle(ev AuthEvent) {
	m.logger.Debug("Auth state change", "event", EventName(ev))
	switch e := ev.(type) {
	case SignedOut:
		m.signedOut()
	case InitialSession, SignedIn, TokenRefreshed, UserUpdated:
		m.setSession(e.eventSession())
	case OtherEvent:
		if e.Session == nil {
			m.setSession(nil)
			return
		}
		m.setSession(e.Session)
	}
}

func (m *Manager) setSession(s *Session) {
	m.storeSession(s, false)
}

// storeSession installs s and notifies listeners. With initial set it only
// applies while no event has initialized the manager, and returns the
// session that is current afterwards.
func (m *Manager) storeSession(s *Session, initial bool) *Session {
	m.mu.Lock()
	if initial && m.initialized {
		current := m.session
		m.mu.Unlock()
		return current
	}
	m.session = s
	m.initialized = true
	ready := s != nil && s.User != nil && s.AccessToken != ""
	switch {
	case ready && !m.ready:
		close(m.readyCh)
	case !ready && m.ready:
		m.readyCh = make(chan struct{})
	}
	m.ready = ready
	listeners := append([]func(*Session){}, m.onChange...)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(s)
	}
	return s
}

// signedOut clears the session and runs sign-out hooks once per session.
func (m *Manager) signedOut() {
	m.mu.RLock()
	had := m.session != nil
	hooks := append([]func(){}, m.onSignedOut...)
	m.mu.RUnlock()

	m.setSession(nil)
	if !had {
		return
	}
	for _, fn := range hooks {
		fn()
	}
}

// OnChange registers fn to run after every session change. fn receives
// nil when the session is cleared.
func (m *Manager) OnChange(fn func(*Session)) {
	m.mu.Lock()
	m.onChange = append(m.onChange, fn)
	m.mu.Unlock()
}

// OnSignedOut registers fn to clear tenant-scoped state on sign-out.
func (m *Manager) OnSignedOut(fn func()) {
	m.mu.Lock()
	m.onSignedOut = append(m.onSignedOut, fn)
	m.mu.Unlock()
}

// Session returns the current session, or nil.
func (m *Manager) Session() *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session
}

// AccessToken returns the current bearer token, or "".
func (m *Manager) AccessToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return ""
	}
	return m.session.AccessToken
}

// State reports the lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	switch {
	case !m.initialized:
		return StateUninitialized
	case m.refreshing:
		return StateRefreshing
	case m.session == nil:
		return StateNone
	case m.session.ExpiresIn(m.opts.Now()) < m.opts.ExpiryGrace:
		return StateExpiring
	default:
		return StateActive
	}
}

// IsSessionReady reports whether a session with a user is present.
func (m *Manager) IsSessionReady() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ready && m.session != nil && m.session.User != nil
}

// WaitForSessionReady blocks until the session is ready, timeout elapses
// or ctx is done. It returns false when the session never became ready.
func (m *Manager) WaitForSessionReady(ctx context.Context, timeout time.Duration) bool {
	m.mu.RLock()
	ch := m.readyCh
	m.mu.RUnlock()
	if m.IsSessionReady() {
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return m.IsSessionReady()
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// Refresh exchanges the refresh token for a new session.
func (m *Manager) Refresh(ctx context.Context) (*Session, error) {
	return m.refresh(ctx, "manual")
}

func (m *Manager) refresh(ctx context.Context, trigger string) (*Session, error) {
	m.mu.Lock()
	m.refreshing = true
	m.mu.Unlock()

	s, err := m.provider.RefreshSession(ctx)

	m.mu.Lock()
	m.refreshing = false
	m.mu.Unlock()

	if err != nil {
		metrics.SessionRefreshes.WithLabelValues(trigger, "error").Inc()
		m.logger.Warn("Session refresh failed", "trigger", trigger, "error", err)
		return nil, err
	}
	if s == nil {
		metrics.SessionRefreshes.WithLabelValues(trigger, "error").Inc()
		return nil, ErrNoSession
	}
	metrics.SessionRefreshes.WithLabelValues(trigger, "ok").Inc()
	m.logger.Debug("Session refreshed", "trigger", trigger, "expires_at", s.ExpiresAt.Time)
	m.setSession(s)
	return s, nil
}

// ForceSignOut signs out at the provider and clears local state even if
// the provider call fails.
func (m *Manager) ForceSignOut(ctx context.Context, reason string) {
	m.logger.Info("Signing out", "reason", reason)
	if err := m.provider.SignOut(ctx); err != nil {
		m.logger.Warn("Provider sign-out failed", "error", err)
	}
	m.signedOut()
}

// SignInWithPassword authenticates and installs the resulting session.
func (m *Manager) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	s, err := m.provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}
	m.setSession(s)
	return s, nil
}

// SignUp registers a user. Providers that confirm by email return a nil
// session.
func (m *Manager) SignUp(ctx context.Context, email, password string) (*Session, error) {
	s, err := m.provider.SignUp(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if s != nil {
		m.setSession(s)
	}
	return s, nil
}

// SignOut is a user-initiated sign-out.
func (m *Manager) SignOut(ctx context.Context) error {
	err := m.provider.SignOut(ctx)
	m.signedOut()
	return err
}

// ResetPasswordForEmail starts the provider's password reset flow.
func (m *Manager) ResetPasswordForEmail(ctx context.Context, email string) error {
	return m.provider.ResetPasswordForEmail(ctx, email)
}
