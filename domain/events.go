package domain

import (
	"context"
	"time"
)

// AuditEventType defines the type of audit event
type AuditEventType string

const (
	// Session lifecycle events
	SessionLoginEvent     AuditEventType = "SESSION_LOGIN"
	SessionLoginDropped   AuditEventType = "SESSION_LOGIN_DROPPED"
	SessionLogoutEvent    AuditEventType = "SESSION_LOGOUT"
	SessionConfirmedEvent AuditEventType = "SESSION_CONFIRMED"
	SessionRejectedEvent  AuditEventType = "SESSION_REJECTED"
	SessionDegradedEvent  AuditEventType = "SESSION_DEGRADED"

	// Registration events
	OTPSentEvent          AuditEventType = "OTP_SENT"
	OTPResentEvent        AuditEventType = "OTP_RESENT"
	OTPVerifiedEvent      AuditEventType = "OTP_VERIFIED"
	OTPVerifyFailureEvent AuditEventType = "OTP_VERIFICATION_FAILED"

	// Routing events
	AccessDeniedEvent AuditEventType = "ACCESS_DENIED"
)

// AuditEvent represents a business event that occurred in the session core
type AuditEvent struct {
	EventType AuditEventType         `json:"event_type"`
	UserID    string                 `json:"user_id,omitempty"`
	Email     string                 `json:"email,omitempty"`
	Role      Role                   `json:"role,omitempty"`
	DeviceID  string                 `json:"device_id,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	ErrorMsg  string                 `json:"error_msg,omitempty"`
	Success   bool                   `json:"success"`
}

// AuditLogger records audit events
type AuditLogger interface {
	LogEvent(ctx context.Context, event *AuditEvent)
}

// NewAuditEvent creates a new audit event with common fields populated
func NewAuditEvent(eventType AuditEventType) *AuditEvent {
	return &AuditEvent{
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		Metadata:  make(map[string]interface{}),
		Success:   true,
	}
}

// WithIdentity copies the identity's id, email and role onto the event
func (e *AuditEvent) WithIdentity(id *Identity) *AuditEvent {
	if id != nil {
		e.UserID = id.ID
		e.Email = id.Email
		e.Role = id.Role
	}
	return e
}

// WithDevice sets the device the event belongs to
func (e *AuditEvent) WithDevice(deviceID string) *AuditEvent {
	e.DeviceID = deviceID
	return e
}

// WithError sets error information on the audit event
func (e *AuditEvent) WithError(err error) *AuditEvent {
	e.Success = false
	if err != nil {
		e.ErrorMsg = err.Error()
	}
	return e
}

// WithEmail sets the email field
func (e *AuditEvent) WithEmail(email string) *AuditEvent {
	e.Email = email
	return e
}

// WithMetadata adds metadata to the event
func (e *AuditEvent) WithMetadata(key string, value interface{}) *AuditEvent {
	e.Metadata[key] = value
	return e
}
