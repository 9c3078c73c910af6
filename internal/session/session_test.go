package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/logging"
	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/pkg/models"
)

type fakeProvider struct {
	mu            sync.Mutex
	session       *Session
	getErr        error
	block         bool
	refreshed     *Session
	refreshErr    error
	refreshes     int
	signOuts      int
	subscriptions int
	listener      func(AuthEvent)
	emitSignOut   bool
	beforeGet     func()
}

func (p *fakeProvider) GetSession(ctx context.Context) (*Session, error) {
	if p.beforeGet != nil {
		p.beforeGet()
	}
	if p.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session, p.getErr
}

func (p *fakeProvider) RefreshSession(context.Context) (*Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshes++
	return p.refreshed, p.refreshErr
}

func (p *fakeProvider) SignInWithPassword(_ context.Context, email, _ string) (*Session, error) {
	return newSession(email, time.Now().Add(time.Hour)), nil
}

func (p *fakeProvider) SignUp(context.Context, string, string) (*Session, error) {
	return nil, nil
}

func (p *fakeProvider) SignOut(context.Context) error {
	p.mu.Lock()
	p.signOuts++
	emit := p.emitSignOut
	p.mu.Unlock()
	if emit {
		p.emit(SignedOut{})
	}
	return nil
}

func (p *fakeProvider) ResetPasswordForEmail(context.Context, string) error { return nil }

func (p *fakeProvider) OnAuthStateChange(fn func(AuthEvent)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscriptions++
	p.listener = fn
	return func() {
		p.mu.Lock()
		p.listener = nil
		p.mu.Unlock()
	}
}

func (p *fakeProvider) emit(ev AuthEvent) {
	p.mu.Lock()
	fn := p.listener
	p.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

func (p *fakeProvider) counts() (refreshes, signOuts int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshes, p.signOuts
}

func newSession(email string, expires time.Time) *Session {
	return &Session{
		AccessToken:  "access-" + email,
		RefreshToken: "refresh-" + email,
		ExpiresAt:    ExpiresAt{Time: expires},
		User:         &User{ID: "u-" + email, Email: email},
	}
}

func newManager(p Provider) *Manager {
	return NewManager(p, Options{InitialTimeout: 50 * time.Millisecond}, logging.Nop())
}

func TestExpiresAt_Unmarshal(t *testing.T) {
	want := time.Unix(1767225600, 0).UTC()
	cases := map[string]string{
		"epoch number":  `{"expires_at":1767225600}`,
		"epoch string":  `{"expires_at":"1767225600"}`,
		"rfc3339":       `{"expires_at":"2026-01-01T00:00:00Z"}`,
		"rfc3339 local": `{"expires_at":"2026-01-01T05:30:00+05:30"}`,
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			var s Session
			require.NoError(t, json.Unmarshal([]byte(in), &s))
			assert.True(t, want.Equal(s.ExpiresAt.Time), "got %s", s.ExpiresAt.Time)
		})
	}

	var s Session
	require.NoError(t, json.Unmarshal([]byte(`{"expires_at":null}`), &s))
	assert.True(t, s.ExpiresAt.IsZero())
	assert.False(t, s.Expired(time.Now()))

	assert.Error(t, json.Unmarshal([]byte(`{"expires_at":"tomorrow"}`), &s))

	out, err := json.Marshal(ExpiresAtUnix(1767225600))
	require.NoError(t, err)
	assert.Equal(t, "1767225600", string(out))
}

func TestParseAuthEvent(t *testing.T) {
	s := newSession("a@example.com", time.Now().Add(time.Hour))
	for _, name := range []string{"INITIAL_SESSION", "SIGNED_IN", "SIGNED_OUT", "TOKEN_REFRESHED", "USER_UPDATED", "PASSWORD_RECOVERY"} {
		ev := ParseAuthEvent(name, s)
		assert.Equal(t, name, EventName(ev))
	}
	_, ok := ParseAuthEvent("PASSWORD_RECOVERY", s).(OtherEvent)
	assert.True(t, ok)
	assert.Nil(t, ParseAuthEvent("SIGNED_OUT", s).eventSession())
}

func TestManager_StartLoadsSession(t *testing.T) {
	p := &fakeProvider{session: newSession("a@example.com", time.Now().Add(time.Hour))}
	m := newManager(p)
	assert.Equal(t, StateUninitialized, m.State())

	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Start(context.Background()))

	assert.Equal(t, 1, p.subscriptions)
	assert.True(t, m.IsSessionReady())
	assert.Equal(t, StateActive, m.State())
	assert.Equal(t, "access-a@example.com", m.AccessToken())
}

func TestManager_StartTimeoutIsNotAnError(t *testing.T) {
	p := &fakeProvider{block: true}
	m := newManager(p)

	start := time.Now()
	require.NoError(t, m.Start(context.Background()))
	assert.Less(t, time.Since(start), time.Second)

	assert.Nil(t, m.Session())
	assert.False(t, m.IsSessionReady())
	assert.Equal(t, StateNone, m.State())
	assert.Empty(t, m.AccessToken())
}

func TestManager_SignInDuringSlowFetchIsKept(t *testing.T) {
	p := &fakeProvider{block: true}
	signedIn := newSession("farmer@kisan.example", time.Now().Add(time.Hour))
	p.beforeGet = func() { p.emit(SignedIn{Session: signedIn}) }
	m := newManager(p)

	require.NoError(t, m.Start(context.Background()))

	assert.Same(t, signedIn, m.Session())
	assert.True(t, m.IsSessionReady())
	assert.Equal(t, StateActive, m.State())
	assert.Equal(t, signedIn.AccessToken, m.AccessToken())
}

func TestManager_RefreshDuringFailedFetchIsKept(t *testing.T) {
	p := &fakeProvider{getErr: errors.New("network down")}
	refreshed := newSession("farmer@kisan.example", time.Now().Add(time.Hour))
	p.beforeGet = func() { p.emit(TokenRefreshed{Session: refreshed}) }
	m := newManager(p)

	require.NoError(t, m.Start(context.Background()))

	assert.Same(t, refreshed, m.Session())
	assert.True(t, m.IsSessionReady())
}

func TestManager_StartFetchErrorLeavesNoSession(t *testing.T) {
	p := &fakeProvider{getErr: errors.New("network down")}
	m := newManager(p)
	require.NoError(t, m.Start(context.Background()))
	assert.Equal(t, StateNone, m.State())
}

func TestManager_StartRefreshesNearExpiry(t *testing.T) {
	p := &fakeProvider{
		session:   newSession("a@example.com", time.Now().Add(30*time.Second)),
		refreshed: newSession("a@example.com", time.Now().Add(time.Hour)),
	}
	m := newManager(p)
	require.NoError(t, m.Start(context.Background()))

	refreshes, _ := p.counts()
	assert.Equal(t, 1, refreshes)
	assert.Equal(t, StateActive, m.State())
}

func TestManager_Events(t *testing.T) {
	p := &fakeProvider{}
	m := newManager(p)
	require.NoError(t, m.Start(context.Background()))

	var changes []*Session
	m.OnChange(func(s *Session) { changes = append(changes, s) })
	signedOut := 0
	m.OnSignedOut(func() { signedOut++ })

	s := newSession("a@example.com", time.Now().Add(time.Hour))
	p.emit(SignedIn{Session: s})
	assert.True(t, m.IsSessionReady())
	assert.Same(t, s, m.Session())

	refreshed := newSession("a@example.com", time.Now().Add(2*time.Hour))
	p.emit(TokenRefreshed{Session: refreshed})
	assert.Same(t, refreshed, m.Session())

	p.emit(SignedOut{})
	assert.Nil(t, m.Session())
	assert.False(t, m.IsSessionReady())
	assert.Equal(t, 1, signedOut)

	p.emit(SignedOut{})
	assert.Equal(t, 1, signedOut, "hooks run once per session")
	assert.Len(t, changes, 4)
}

func TestManager_SessionWithoutUserIsNotReady(t *testing.T) {
	p := &fakeProvider{}
	m := newManager(p)
	require.NoError(t, m.Start(context.Background()))

	p.emit(SignedIn{Session: &Session{AccessToken: "t"}})
	assert.False(t, m.IsSessionReady())
}

func TestManager_WaitForSessionReady(t *testing.T) {
	p := &fakeProvider{}
	m := newManager(p)
	require.NoError(t, m.Start(context.Background()))

	assert.False(t, m.WaitForSessionReady(context.Background(), 20*time.Millisecond))

	go func() {
		time.Sleep(10 * time.Millisecond)
		p.emit(SignedIn{Session: newSession("a@example.com", time.Now().Add(time.Hour))})
	}()
	assert.True(t, m.WaitForSessionReady(context.Background(), 2*time.Second))
	assert.True(t, m.WaitForSessionReady(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.emit(SignedOut{})
	assert.False(t, m.WaitForSessionReady(ctx, time.Second))
}

func TestManager_ForceSignOutRunsHooksOnce(t *testing.T) {
	p := &fakeProvider{session: newSession("a@example.com", time.Now().Add(time.Hour)), emitSignOut: true}
	m := newManager(p)
	require.NoError(t, m.Start(context.Background()))

	hooks := 0
	m.OnSignedOut(func() { hooks++ })
	m.ForceSignOut(context.Background(), "test")

	_, signOuts := p.counts()
	assert.Equal(t, 1, signOuts)
	assert.Equal(t, 1, hooks)
	assert.Nil(t, m.Session())
}

func TestManager_SignInAndStop(t *testing.T) {
	p := &fakeProvider{}
	m := newManager(p)
	require.NoError(t, m.Start(context.Background()))

	s, err := m.SignInWithPassword(context.Background(), "b@example.com", "pw")
	require.NoError(t, err)
	assert.Same(t, s, m.Session())

	s, err = m.SignUp(context.Background(), "c@example.com", "pw")
	require.NoError(t, err)
	assert.Nil(t, s)
	assert.NotNil(t, m.Session(), "sign-up without confirmation keeps current session")

	m.Stop()
	p.emit(SignedOut{})
	assert.NotNil(t, m.Session(), "events after Stop are ignored")
}

func TestManager_RefreshFailure(t *testing.T) {
	p := &fakeProvider{
		session:    newSession("a@example.com", time.Now().Add(time.Hour)),
		refreshErr: errors.New("invalid refresh token"),
	}
	m := newManager(p)
	require.NoError(t, m.Start(context.Background()))

	_, err := m.Refresh(context.Background())
	assert.EqualError(t, err, "invalid refresh token")
	assert.NotNil(t, m.Session(), "a failed manual refresh does not sign out")
}

func TestRefreshDelay(t *testing.T) {
	lead, floor := 5*time.Minute, time.Minute
	cases := []struct {
		until time.Duration
		want  time.Duration
	}{
		{time.Hour, 55 * time.Minute},
		{10 * time.Minute, 5 * time.Minute},
		{6 * time.Minute, time.Minute},
		{5*time.Minute + 30*time.Second, time.Minute},
		{2 * time.Minute, time.Minute},
		{-time.Minute, time.Minute},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, RefreshDelay(tc.until, lead, floor), "until=%s", tc.until)
		assert.GreaterOrEqual(t, RefreshDelay(tc.until, lead, floor), floor)
	}
}

func TestAutoRefresher_SchedulesAndReschedules(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := &fakeProvider{session: newSession("a@example.com", now.Add(time.Hour))}
	m := NewManager(p, Options{Now: func() time.Time { return now }}, logging.Nop())
	require.NoError(t, m.Start(context.Background()))

	r := NewAutoRefresher(m, RefreshOptions{Now: func() time.Time { return now }}, logging.Nop())
	r.Start(context.Background())
	defer r.Stop()

	assert.Equal(t, now.Add(55*time.Minute), r.NextRefresh())

	p.emit(TokenRefreshed{Session: newSession("a@example.com", now.Add(2*time.Hour))})
	assert.Equal(t, now.Add(115*time.Minute), r.NextRefresh())

	p.emit(SignedOut{})
	assert.True(t, r.NextRefresh().IsZero())
}

func TestAutoRefresher_ReplacedTimerDoesNotRefresh(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := &fakeProvider{session: newSession("a@example.com", now.Add(time.Hour))}
	m := NewManager(p, Options{Now: func() time.Time { return now }}, logging.Nop())
	require.NoError(t, m.Start(context.Background()))

	r := NewAutoRefresher(m, RefreshOptions{Now: func() time.Time { return now }}, logging.Nop())
	r.Start(context.Background())
	defer r.Stop()

	r.mu.Lock()
	stale := r.gen
	r.mu.Unlock()
	p.emit(TokenRefreshed{Session: newSession("a@example.com", now.Add(2*time.Hour))})

	// The first timer fires after the session changed.
	r.fire(stale)

	assert.Equal(t, now.Add(115*time.Minute), r.NextRefresh(), "the newer timer stays armed")
	refreshes, _ := p.counts()
	assert.Zero(t, refreshes)
}

func TestAutoRefresher_FailedRefreshSignsOut(t *testing.T) {
	p := &fakeProvider{
		session:    newSession("a@example.com", time.Now().Add(2*time.Minute)),
		refreshErr: errors.New("refresh token revoked"),
	}
	m := NewManager(p, Options{ExpiryGrace: time.Second}, logging.Nop())
	require.NoError(t, m.Start(context.Background()))

	r := NewAutoRefresher(m, RefreshOptions{Floor: 10 * time.Millisecond}, logging.Nop())
	r.Start(context.Background())
	defer r.Stop()

	require.Eventually(t, func() bool { return m.Session() == nil }, 2*time.Second, 5*time.Millisecond)
	refreshes, signOuts := p.counts()
	assert.Equal(t, 1, refreshes)
	assert.Equal(t, 1, signOuts)
}

func TestAutoRefresher_CheckExpiry(t *testing.T) {
	now := time.Now()
	p := &fakeProvider{session: newSession("a@example.com", now.Add(time.Hour))}
	m := newManager(p)
	require.NoError(t, m.Start(context.Background()))

	clock := now
	r := NewAutoRefresher(m, RefreshOptions{Now: func() time.Time { return clock }}, logging.Nop())

	assert.False(t, r.CheckExpiry(context.Background()))
	clock = now.Add(2 * time.Hour)
	assert.True(t, r.CheckExpiry(context.Background()))
	assert.Nil(t, m.Session())
}

type fakeIntrospector struct {
	status models.JWTStatus
	err    error
}

func (f fakeIntrospector) JWTStatus(context.Context) (models.JWTStatus, error) {
	return f.status, f.err
}

func TestHealthChecker_Check(t *testing.T) {
	p := &fakeProvider{session: newSession("a@example.com", time.Now().Add(time.Hour))}
	m := newManager(p)
	require.NoError(t, m.Start(context.Background()))

	ok := func(context.Context) error { return nil }
	denied := func(context.Context) error { return errors.New("permission denied for table tenants") }

	h := NewHealthChecker(m, fakeIntrospector{status: models.JWTStatus{JWTPresent: true}}, ok, HealthOptions{}, logging.Nop())
	res := h.Check(context.Background())
	assert.True(t, res.IsHealthy)
	assert.True(t, res.CanAccessDatabase)
	assert.Equal(t, res, h.Last())

	h = NewHealthChecker(m, fakeIntrospector{status: models.JWTStatus{JWTPresent: true}}, denied, HealthOptions{}, logging.Nop())
	res = h.Check(context.Background())
	assert.False(t, res.IsHealthy)
	assert.False(t, res.CanAccessDatabase)
	assert.Contains(t, res.Error, "permission denied")

	h = NewHealthChecker(m, fakeIntrospector{status: models.JWTStatus{JWTPresent: true, IsExpired: true}}, ok, HealthOptions{}, logging.Nop())
	res = h.Check(context.Background())
	assert.True(t, res.JWTExpired)
	assert.False(t, res.IsHealthy)

	h = NewHealthChecker(m, fakeIntrospector{err: errors.New("rpc unavailable")}, ok, HealthOptions{}, logging.Nop())
	res = h.Check(context.Background())
	assert.False(t, res.IsHealthy)
	assert.Equal(t, "rpc unavailable", res.Error)
}

func TestHealthChecker_NoSession(t *testing.T) {
	m := newManager(&fakeProvider{})
	require.NoError(t, m.Start(context.Background()))

	h := NewHealthChecker(m, fakeIntrospector{status: models.JWTStatus{JWTPresent: true}}, nil, HealthOptions{}, logging.Nop())
	res := h.Check(context.Background())
	assert.False(t, res.IsHealthy)
	assert.Equal(t, ErrNoSession.Error(), res.Error)
}

func TestHealthChecker_ValidTokenWithoutReadIsUnhealthy(t *testing.T) {
	p := &fakeProvider{session: newSession("a@example.com", time.Now().Add(time.Hour))}
	m := newManager(p)
	require.NoError(t, m.Start(context.Background()))

	h := NewHealthChecker(m, fakeIntrospector{status: models.JWTStatus{JWTPresent: true}}, nil, HealthOptions{}, logging.Nop())
	res := h.Check(context.Background())
	assert.True(t, res.JWTPresent)
	assert.False(t, res.JWTExpired)
	assert.False(t, res.CanAccessDatabase)
	assert.False(t, res.IsHealthy)
	assert.Equal(t, ErrNoProtectedRead.Error(), res.Error)
}

func TestHealthChecker_RecoverSession(t *testing.T) {
	p := &fakeProvider{
		session:   newSession("a@example.com", time.Now().Add(time.Hour)),
		refreshed: newSession("a@example.com", time.Now().Add(2*time.Hour)),
	}
	m := newManager(p)
	require.NoError(t, m.Start(context.Background()))

	var slept []time.Duration
	ok := func(context.Context) error { return nil }
	h := NewHealthChecker(m, fakeIntrospector{status: models.JWTStatus{JWTPresent: true}}, ok, HealthOptions{
		Sleep: func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		},
	}, logging.Nop())

	res, err := h.RecoverSession(context.Background())
	require.NoError(t, err)
	assert.True(t, res.IsHealthy)
	assert.Equal(t, []time.Duration{time.Second}, slept)
	assert.Same(t, p.refreshed, m.Session())

	p.refreshErr = errors.New("refresh token revoked")
	_, err = h.RecoverSession(context.Background())
	assert.Error(t, err)
}
