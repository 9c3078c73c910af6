// Package errhandler is the process-wide error sink: it normalizes reports,
// de-duplicates them within a suppression window, keeps a bounded history
// and derives a coarse system health from it.
package errhandler

import (
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/gateway"
	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/metrics"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type HealthStatus string

const (
	StatusHealthy  HealthStatus = "healthy"
	StatusDegraded HealthStatus = "degraded"
	StatusCritical HealthStatus = "critical"
)

// reportNamespace seeds the deterministic report ids.
var reportNamespace = uuid.MustParse("6f1c2f8e-3b7a-4d2e-9a51-0c7d4e8b2a10")

// Context locates where an error happened.
type Context struct {
	Component string         `json:"component"`
	Operation string         `json:"operation"`
	TenantID  string         `json:"tenant_id,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Options adjust how a single report is surfaced.
type Options struct {
	// Severity overrides the severity derived from the error.
	Severity Severity
	// Silent records and logs the report without a toast.
	Silent bool
	// Title overrides the toast title.
	Title string
}

// Report is one handled error.
type Report struct {
	ID          string    `json:"id"`
	Message     string    `json:"message"`
	UserMessage string    `json:"user_message"`
	Severity    Severity  `json:"severity"`
	Context     Context   `json:"context"`
	Timestamp   time.Time `json:"timestamp"`
	Count       int       `json:"count"`
	Suppressed  bool      `json:"suppressed"`
	// Handled is set on every report that went through HandleError.
	Handled bool `json:"handled"`
	// Stack is captured for critical reports.
	Stack string `json:"stack,omitempty"`
}

// SystemHealth summarizes the error history.
type SystemHealth struct {
	Status         HealthStatus `json:"status"`
	RecentErrors   int          `json:"recent_errors"`
	CriticalErrors int          `json:"critical_errors"`
	TotalErrors    int          `json:"total_errors"`
}

// Toaster displays user-facing error messages.
type Toaster interface {
	Warning(title, message string)
	Error(title, message string)
}

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config tunes a Handler. Zero values fall back to defaults.
type Config struct {
	HistorySize       int
	SuppressionWindow time.Duration
	// HealthWindow is the look-back used by SystemHealth.
	HealthWindow      time.Duration
	DegradedThreshold int
	Now               func() time.Time
}

// Handler is safe for concurrent use.
type Handler struct {
	cfg     Config
	toaster Toaster
	logger  Logger

	mu        sync.Mutex
	history   []Report
	next      int
	size      int
	seen      map[string]*occurrence
	lastPrune time.Time
	critical  int
	total     int
}

// occurrence tracks one report id for counting and suppression.
type occurrence struct {
	count     int
	lastSeen  time.Time
	lastShown time.Time
}

// New creates a Handler. toaster may be nil.
func New(cfg Config, toaster Toaster, logger Logger) *Handler {
	if cfg.HistorySize < 1 {
		cfg.HistorySize = 100
	}
	if cfg.SuppressionWindow <= 0 {
		cfg.SuppressionWindow = 5 * time.Minute
	}
	if cfg.HealthWindow <= 0 {
		cfg.HealthWindow = 5 * time.Minute
	}
	if cfg.DegradedThreshold <= 0 {
		cfg.DegradedThreshold = 10
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Handler{
		cfg:     cfg,
		toaster: toaster,
		logger:  logger,
		history: make([]Report, cfg.HistorySize),
		seen:    make(map[string]*occurrence),
	}
}

// HandleError records err and, unless the same error was shown within the
// suppression window, shows a user-facing message.
func (h *Handler) HandleError(err any, ectx Context, opts Options) Report {
	msg := Message(err)
	severity := opts.Severity
	if severity == "" {
		severity = SeverityFor(err)
	}
	now := h.cfg.Now()

	r := Report{
		ID:          ReportID(ectx, msg),
		Message:     msg,
		UserMessage: UserMessage(msg, severity),
		Severity:    severity,
		Context:     ectx,
		Timestamp:   now,
		Handled:     true,
	}

	if severity == SeverityCritical {
		r.Stack = string(debug.Stack())
	}

	h.mu.Lock()
	h.prune(now)
	occ, seen := h.seen[r.ID]
	if !seen {
		occ = &occurrence{}
		h.seen[r.ID] = occ
	}
	occ.count++
	occ.lastSeen = now
	r.Count = occ.count
	r.Suppressed = seen && !occ.lastShown.IsZero() && now.Sub(occ.lastShown) < h.cfg.SuppressionWindow
	if !r.Suppressed {
		occ.lastShown = now
	}
	h.history[h.next] = r
	h.next = (h.next + 1) % len(h.history)
	if h.size < len(h.history) {
		h.size++
	}
	h.total++
	if severity == SeverityCritical {
		h.critical++
	}
	h.mu.Unlock()

	h.log(r)

	disposition := "shown"
	switch {
	case r.Suppressed:
		disposition = "suppressed"
	case opts.Silent || severity == SeverityLow || h.toaster == nil:
		disposition = "logged"
	default:
		h.toast(r, opts.Title)
	}
	metrics.ErrorsReported.WithLabelValues(string(severity), disposition).Inc()
	return r
}

// prune forgets ids not seen for a suppression window. It runs at most
// once per window. Callers hold h.mu.
func (h *Handler) prune(now time.Time) {
	if now.Sub(h.lastPrune) < h.cfg.SuppressionWindow {
		return
	}
	h.lastPrune = now
	for id, occ := range h.seen {
		if now.Sub(occ.lastSeen) >= h.cfg.SuppressionWindow {
			delete(h.seen, id)
		}
	}
}

func (h *Handler) log(r Report) {
	args := []any{
		"error_id", r.ID,
		"component", r.Context.Component,
		"operation", r.Context.Operation,
		"tenant_id", r.Context.TenantID,
		"severity", r.Severity,
		"count", r.Count,
		"suppressed", r.Suppressed,
		"error", r.Message,
	}
	switch r.Severity {
	case SeverityCritical, SeverityHigh:
		h.logger.Error("Error reported", args...)
	case SeverityMedium:
		h.logger.Warn("Error reported", args...)
	default:
		h.logger.Info("Error reported", args...)
	}
}

func (h *Handler) toast(r Report, title string) {
	switch r.Severity {
	case SeverityCritical:
		if title == "" {
			title = "Critical error"
		}
		h.toaster.Error(title, r.UserMessage)
	case SeverityHigh:
		if title == "" {
			title = "Error"
		}
		h.toaster.Error(title, r.UserMessage)
	default:
		if title == "" {
			title = "Warning"
		}
		h.toaster.Warning(title, r.UserMessage)
	}
}

// RecentErrors returns up to n reports, newest first. n <= 0 returns all.
func (h *Handler) RecentErrors(n int) []Report {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n <= 0 || n > h.size {
		n = h.size
	}
	out := make([]Report, 0, n)
	for i := 1; i <= n; i++ {
		idx := (h.next - i + len(h.history)) % len(h.history)
		out = append(out, h.history[idx])
	}
	return out
}

// ErrorCount returns how many times the report id was handled since it was
// last idle for a full suppression window.
func (h *Handler) ErrorCount(id string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if occ, ok := h.seen[id]; ok {
		return occ.count
	}
	return 0
}

// Clear drops history, counts and suppression state.
func (h *Handler) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.history = make([]Report, len(h.history))
	h.next, h.size, h.total, h.critical = 0, 0, 0, 0
	h.seen = make(map[string]*occurrence)
	h.lastPrune = time.Time{}
}

// SystemHealth is critical once any critical error was recorded, degraded
// when more than the threshold of errors fall inside the health window.
func (h *Handler) SystemHealth() SystemHealth {
	now := h.cfg.Now()
	h.mu.Lock()
	defer h.mu.Unlock()

	recent := 0
	for i := 0; i < h.size; i++ {
		if now.Sub(h.history[i].Timestamp) <= h.cfg.HealthWindow {
			recent++
		}
	}
	out := SystemHealth{
		Status:         StatusHealthy,
		RecentErrors:   recent,
		CriticalErrors: h.critical,
		TotalErrors:    h.total,
	}
	switch {
	case h.critical > 0:
		out.Status = StatusCritical
	case recent > h.cfg.DegradedThreshold:
		out.Status = StatusDegraded
	}
	return out
}

// ReportID is deterministic over where the error happened and its message.
func ReportID(ectx Context, msg string) string {
	key := strings.Join([]string{ectx.Component, ectx.Operation, ectx.TenantID, msg}, "|")
	return uuid.NewSHA1(reportNamespace, []byte(key)).String()
}

// Message normalizes the supported error shapes to a string.
func Message(err any) string {
	switch v := err.(type) {
	case nil:
		return "Unknown error"
	case string:
		if v == "" {
			return "Unknown error"
		}
		return v
	case error:
		return v.Error()
	case map[string]any:
		if m, ok := v["message"].(string); ok && m != "" {
			return m
		}
		switch e := v["error"].(type) {
		case string:
			if e != "" {
				return e
			}
		case map[string]any:
			return Message(e)
		}
		return "Unknown error"
	case map[string]string:
		if m := v["message"]; m != "" {
			return m
		}
		if e := v["error"]; e != "" {
			return e
		}
		return "Unknown error"
	case fmt.Stringer:
		return v.String()
	default:
		return "Unknown error"
	}
}

// SeverityFor derives a default severity from gateway error kinds.
func SeverityFor(err any) Severity {
	e, ok := err.(error)
	if !ok {
		return SeverityMedium
	}
	var gwErr *gateway.Error
	switch {
	case gateway.IsValidationError(e):
		return SeverityLow
	case gateway.IsClientError(e):
		return SeverityMedium
	case errors.As(e, &gwErr):
		return SeverityHigh
	}
	return SeverityMedium
}

type pattern struct {
	markers []string
	message string
}

// userPatterns are checked in order against the lowercased message.
var userPatterns = []pattern{
	{[]string{"circuit breaker is open"}, "Service is temporarily unavailable. Please try again in a few moments."},
	{[]string{"tenant id is required"}, "Your organization could not be identified. Please sign in again."},
	{[]string{"jwt expired", "token is expired", "invalid jwt", "session expired"}, "Your session has expired. Please sign in again."},
	{[]string{"failed to fetch", "network", "connection refused", "no such host"}, "Network error. Please check your connection and try again."},
	{[]string{"timeout", "timed out", "deadline exceeded"}, "The request timed out. Please try again."},
	{[]string{"permission denied", "forbidden", "row-level security"}, "You do not have permission to perform this action."},
	{[]string{"not found"}, "The requested item could not be found."},
}

// UserMessage renders what the user sees for msg at severity.
func UserMessage(msg string, severity Severity) string {
	lower := strings.ToLower(msg)
	for _, p := range userPatterns {
		for _, m := range p.markers {
			if strings.Contains(lower, m) {
				return p.message
			}
		}
	}
	switch severity {
	case SeverityCritical:
		return "A critical error occurred. Please contact support if the problem persists."
	case SeverityHigh:
		return "Something went wrong. Please try again."
	default:
		return msg
	}
}
