package session

import (
	"context"
	"sync"
	"time"
)

// RefreshDelay is how long to wait before refreshing a session that
// expires in untilExpiry: lead before expiry, but never sooner than floor.
func RefreshDelay(untilExpiry, lead, floor time.Duration) time.Duration {
	d := untilExpiry - lead
	if d < floor {
		return floor
	}
	return d
}

// RefreshOptions tunes an AutoRefresher. Zero values fall back to defaults.
type RefreshOptions struct {
	Lead      time.Duration
	Floor     time.Duration
	Heartbeat time.Duration
	Now       func() time.Time
}

// AutoRefresher keeps one refresh timer armed per session and signs out
// when a refresh fails or the heartbeat finds the session expired.
type AutoRefresher struct {
	m      *Manager
	logger Logger
	opts   RefreshOptions

	mu      sync.Mutex
	ctx     context.Context
	timer   *time.Timer
	gen     uint64
	due     time.Time
	stopped bool
	done    chan struct{}
	once    sync.Once
}

// NewAutoRefresher creates an AutoRefresher for m.
func NewAutoRefresher(m *Manager, opts RefreshOptions, logger Logger) *AutoRefresher {
	if opts.Lead <= 0 {
		opts.Lead = 5 * time.Minute
	}
	if opts.Floor <= 0 {
		opts.Floor = time.Minute
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 5 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &AutoRefresher{m: m, logger: logger, opts: opts, done: make(chan struct{})}
}

// Start arms the timer for the current session, re-arms it on every
// session change and starts the expiry heartbeat.
func (r *AutoRefresher) Start(ctx context.Context) {
	r.mu.Lock()
	r.ctx = ctx
	r.mu.Unlock()

	r.m.OnChange(r.schedule)
	r.schedule(r.m.Session())
	go r.heartbeat(ctx)
}

// Stop disarms the timer and ends the heartbeat.
func (r *AutoRefresher) Stop() {
	r.once.Do(func() {
		r.mu.Lock()
		r.stopped = true
		if r.timer != nil {
			r.timer.Stop()
			r.timer = nil
		}
		r.mu.Unlock()
		close(r.done)
	})
}

// NextRefresh returns when the armed refresh fires, or the zero time.
func (r *AutoRefresher) NextRefresh() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer == nil {
		return time.Time{}
	}
	return r.due
}

func (r *AutoRefresher) schedule(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.gen++
	if r.stopped || s == nil || s.ExpiresAt.IsZero() {
		return
	}
	now := r.opts.Now()
	delay := RefreshDelay(s.ExpiresIn(now), r.opts.Lead, r.opts.Floor)
	r.due = now.Add(delay)
	gen := r.gen
	r.timer = time.AfterFunc(delay, func() { r.fire(gen) })
	r.logger.Debug("Session refresh scheduled", "in", delay)
}

// fire runs the refresh armed as generation gen. A timer that was replaced
// after it started firing finds a newer generation and does nothing.
func (r *AutoRefresher) fire(gen uint64) {
	r.mu.Lock()
	if r.stopped || gen != r.gen {
		r.mu.Unlock()
		return
	}
	ctx := r.ctx
	r.timer = nil
	r.mu.Unlock()

	if _, err := r.m.refresh(ctx, "scheduled"); err != nil {
		r.m.ForceSignOut(ctx, "scheduled refresh failed")
	}
}

func (r *AutoRefresher) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(r.opts.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-ticker.C:
			r.CheckExpiry(ctx)
		}
	}
}

// CheckExpiry signs out when the current session has expired. It reports
// whether a sign-out happened.
func (r *AutoRefresher) CheckExpiry(ctx context.Context) bool {
	s := r.m.Session()
	if s == nil || !s.Expired(r.opts.Now()) {
		return false
	}
	r.m.ForceSignOut(ctx, "session expired")
	return true
}
