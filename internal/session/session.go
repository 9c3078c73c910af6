// Package session owns the authenticated session: it follows auth-state
// events, refreshes tokens ahead of expiry and checks whether the session
// can actually reach protected data.
package session

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrNoSession is returned by operations that need a signed-in user.
	ErrNoSession = errors.New("no active session")
	// ErrNotReady is returned when the session did not become ready in time.
	ErrNotReady = errors.New("session not ready")
)

// User is the authenticated principal.
type User struct {
	ID       string         `json:"id"`
	Email    string         `json:"email"`
	Metadata map[string]any `json:"user_metadata,omitempty"`
}

// Session is the credential set issued by the auth provider.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    ExpiresAt `json:"expires_at"`
	User         *User     `json:"user"`
}

// ExpiresIn returns the time left until expiry; negative once expired.
// A session without expiry never expires.
func (s *Session) ExpiresIn(now time.Time) time.Duration {
	if s == nil || s.ExpiresAt.IsZero() {
		return time.Duration(1<<63 - 1)
	}
	return s.ExpiresAt.Sub(now)
}

// Expired reports whether the session has passed its expiry.
func (s *Session) Expired(now time.Time) bool {
	return s.ExpiresIn(now) <= 0
}

// ExpiresAt is an expiry instant. Providers send it either as epoch seconds
// (number or numeric string) or as an RFC 3339 string; both decode here so
// the rest of the package only sees time.Time.
type ExpiresAt struct {
	time.Time
}

// ExpiresAtUnix builds an ExpiresAt from epoch seconds.
func ExpiresAtUnix(sec int64) ExpiresAt {
	return ExpiresAt{Time: time.Unix(sec, 0).UTC()}
}

// ParseExpiresAt normalizes the textual forms of an expiry.
func ParseExpiresAt(v string) (ExpiresAt, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return ExpiresAt{}, nil
	}
	if sec, err := strconv.ParseFloat(v, 64); err == nil {
		return ExpiresAtUnix(int64(sec)), nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return ExpiresAt{}, fmt.Errorf("unrecognized expires_at %q", v)
	}
	return ExpiresAt{Time: t.UTC()}, nil
}

func (e *ExpiresAt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*e = ExpiresAt{}
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		parsed, err := ParseExpiresAt(s)
		if err != nil {
			return err
		}
		*e = parsed
		return nil
	}
	var sec float64
	if err := json.Unmarshal(b, &sec); err != nil {
		return fmt.Errorf("unrecognized expires_at %s", b)
	}
	*e = ExpiresAtUnix(int64(sec))
	return nil
}

// MarshalJSON writes epoch seconds.
func (e ExpiresAt) MarshalJSON() ([]byte, error) {
	if e.IsZero() {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatInt(e.Unix(), 10)), nil
}
