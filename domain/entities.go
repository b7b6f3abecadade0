package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Role is the closed set of account roles on the platform
type Role string

const (
	RoleAdmin       Role = "admin"
	RoleClient      Role = "client"
	RoleCaretaker   Role = "caretaker"
	RoleAgencyOwner Role = "agency_owner"
)

// Roles lists every valid role
var Roles = []Role{RoleAdmin, RoleClient, RoleCaretaker, RoleAgencyOwner}

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleClient, RoleCaretaker, RoleAgencyOwner:
		return true
	}
	return false
}

// Identity represents the authenticated user's public profile
type Identity struct {
	ID           string `json:"id"`
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	Email        string `json:"email"`
	Role         Role   `json:"role"`
	ProfileImage string `json:"profileImage,omitempty"`
}

// Validate checks that every required field is present and the role is known
func (i Identity) Validate() error {
	for name, v := range map[string]string{
		"id":        i.ID,
		"firstName": i.FirstName,
		"lastName":  i.LastName,
		"email":     i.Email,
	} {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("%w: %s is empty", ErrMalformedIdentity, name)
		}
	}
	if !i.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrMalformedIdentity, i.Role)
	}
	return nil
}

// RawIdentity is an identity payload as received from the API or a caller,
// before sanitization
type RawIdentity map[string]any

// RawFromIdentity converts a typed identity back into its raw form
func RawFromIdentity(i Identity) RawIdentity {
	raw := RawIdentity{
		"id":        i.ID,
		"firstName": i.FirstName,
		"lastName":  i.LastName,
		"email":     i.Email,
		"role":      string(i.Role),
	}
	if i.ProfileImage != "" {
		raw["profileImage"] = i.ProfileImage
	}
	return raw
}

// SanitizeIdentity coerces a raw payload into a well-formed Identity.
// Required fields are coerced to strings (missing values become empty);
// any empty required field or unknown role makes the whole payload unusable.
func SanitizeIdentity(raw RawIdentity) (*Identity, error) {
	if raw == nil {
		return nil, fmt.Errorf("%w: no payload", ErrMalformedIdentity)
	}
	id := Identity{
		ID:           coerceString(raw["id"]),
		FirstName:    coerceString(raw["firstName"]),
		LastName:     coerceString(raw["lastName"]),
		Email:        coerceString(raw["email"]),
		Role:         Role(coerceString(raw["role"])),
		ProfileImage: coerceString(raw["profileImage"]),
	}
	if err := id.Validate(); err != nil {
		return nil, err
	}
	return &id, nil
}

func coerceString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, bool:
		return fmt.Sprint(t)
	case fmt.Stringer:
		return t.String()
	default:
		return ""
	}
}

// Session is the current identity paired with its authenticated flag.
// Use NewSession so the two never disagree.
type Session struct {
	Identity        *Identity `json:"user"`
	IsAuthenticated bool      `json:"isAuthenticated"`
}

// NewSession builds a session whose flag follows the identity
func NewSession(identity *Identity) Session {
	if identity == nil {
		return Session{}
	}
	cp := *identity
	return Session{Identity: &cp, IsAuthenticated: true}
}

// ValidationOutcome is the result kind of one server-side session check
type ValidationOutcome int

const (
	OutcomePending ValidationOutcome = iota
	OutcomeConfirmed
	OutcomeInvalid
	OutcomeUnreachable
)

func (o ValidationOutcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeConfirmed:
		return "confirmed"
	case OutcomeInvalid:
		return "invalid"
	case OutcomeUnreachable:
		return "unreachable"
	}
	return "unknown"
}

// ChallengeState tracks an OTP challenge through registration
type ChallengeState int

const (
	ChallengeNotSent ChallengeState = iota
	ChallengeSent
	ChallengeVerifying
	ChallengeVerified
	ChallengeFailed
)

func (s ChallengeState) String() string {
	switch s {
	case ChallengeNotSent:
		return "not_sent"
	case ChallengeSent:
		return "sent"
	case ChallengeVerifying:
		return "verifying"
	case ChallengeVerified:
		return "verified"
	case ChallengeFailed:
		return "failed"
	}
	return "unknown"
}

// MarshalJSON renders the state by name
func (s ChallengeState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// OTPChallenge is an in-flight one-time-code cycle. It only exists between
// send and verify/cancel and is never persisted.
type OTPChallenge struct {
	Email string         `json:"email"`
	Phone string         `json:"phone"`
	State ChallengeState `json:"state"`
}

// RegistrationPayload is the full sign-up form buffered while the OTP
// challenge is pending
type RegistrationPayload struct {
	FirstName string `json:"firstName" validate:"required,max=80"`
	LastName  string `json:"lastName" validate:"required,max=80"`
	Email     string `json:"email" validate:"required,email"`
	Phone     string `json:"phone" validate:"required,e164"`
	Password  string `json:"password" validate:"required,min=8,max=128"`
	Role      Role   `json:"role" validate:"required,oneof=client caretaker agency_owner"`
}

// AuthResult is the API's answer to a successful login or verification
type AuthResult struct {
	User        RawIdentity `json:"user,omitempty"`
	Message     string      `json:"message,omitempty"`
	AccessToken string      `json:"token,omitempty"`
}
