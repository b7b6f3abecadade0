package domain

import "context"

// SessionCache persists the last-known identity across reloads.
// Read never fails: unreadable records are removed and reported as absent.
type SessionCache interface {
	Read(ctx context.Context) *Identity
	Write(ctx context.Context, identity Identity) error
	Clear(ctx context.Context) error
}

// TokenStore holds the bearer token used to talk to the API
type TokenStore interface {
	ReadToken(ctx context.Context) (string, bool)
	WriteToken(ctx context.Context, token string) error
	ClearToken(ctx context.Context) error
}

// CredentialCache is a cache that also keeps the access token, which is
// what every concrete cache implements
type CredentialCache interface {
	SessionCache
	TokenStore
}

// SessionValidator confirms a locally held identity against the server.
// It either returns the authoritative identity or a status-bearing error.
type SessionValidator interface {
	Validate(ctx context.Context) (RawIdentity, error)
}

// AuthAPI defines the session mutations exposed by the platform API
type AuthAPI interface {
	Login(ctx context.Context, email, password string) (*AuthResult, error)
	Logout(ctx context.Context, token string) error
}

// RegistrationAPI defines the OTP-gated sign-up calls
type RegistrationAPI interface {
	SendOTP(ctx context.Context, email, phone string) (string, error)
	VerifyOTP(ctx context.Context, email, otp string, payload RegistrationPayload) (*AuthResult, error)
	ResendOTP(ctx context.Context, email string) (string, error)
}

// AccessPolicy decides whether a role may reach a route
type AccessPolicy interface {
	Allowed(role Role, path, method string) (bool, error)
}
