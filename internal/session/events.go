package session

// AuthEvent is an auth-state change delivered by the provider. The set of
// implementations is closed: InitialSession, SignedIn, SignedOut,
// TokenRefreshed, UserUpdated and OtherEvent.
type AuthEvent interface {
	eventSession() *Session
}

type InitialSession struct{ Session *Session }

type SignedIn struct{ Session *Session }

type SignedOut struct{}

type TokenRefreshed struct{ Session *Session }

type UserUpdated struct{ Session *Session }

// OtherEvent carries any event outside the known vocabulary.
type OtherEvent struct {
	Name    string
	Session *Session
}

func (e InitialSession) eventSession() *Session { return e.Session }
func (e SignedIn) eventSession() *Session       { return e.Session }
func (SignedOut) eventSession() *Session        { return nil }
func (e TokenRefreshed) eventSession() *Session { return e.Session }
func (e UserUpdated) eventSession() *Session    { return e.Session }
func (e OtherEvent) eventSession() *Session     { return e.Session }

// ParseAuthEvent maps a provider event name to its AuthEvent.
func ParseAuthEvent(name string, s *Session) AuthEvent {
	switch name {
	case "INITIAL_SESSION":
		return InitialSession{Session: s}
	case "SIGNED_IN":
		return SignedIn{Session: s}
	case "SIGNED_OUT":
		return SignedOut{}
	case "TOKEN_REFRESHED":
		return TokenRefreshed{Session: s}
	case "USER_UPDATED":
		return UserUpdated{Session: s}
	default:
		return OtherEvent{Name: name, Session: s}
	}
}

// EventName returns the provider name of ev.
func EventName(ev AuthEvent) string {
	switch e := ev.(type) {
	case InitialSession:
		return "INITIAL_SESSION"
	case SignedIn:
		return "SIGNED_IN"
	case SignedOut:
		return "SIGNED_OUT"
	case TokenRefreshed:
		return "TOKEN_REFRESHED"
	case UserUpdated:
		return "USER_UPDATED"
	case OtherEvent:
		return e.Name
	}
	return ""
}
