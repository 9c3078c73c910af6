package auth

const (
	ScopeOpenID          = "openid"
	ScopeProfile         = "profile"
	ScopeEmail           = "email"
	ScopeOfflineAccess   = "offline_access"
	ScopeOnboardingRead  = "onboarding:read"
	ScopeOnboardingWrite = "onboarding:write"
)

// AllScopes is requested by the browser login flow.
var AllScopes = []string{
	ScopeOpenID,
	ScopeProfile,
	ScopeEmail,
	ScopeOnboardingRead,
	ScopeOnboardingWrite,
}

// ClientScopes is requested by the password-grant client; offline_access
// yields the refresh token the session manager rotates.
var ClientScopes = []string{
	ScopeOpenID,
	ScopeEmail,
	ScopeOfflineAccess,
	ScopeOnboardingRead,
	ScopeOnboardingWrite,
}
