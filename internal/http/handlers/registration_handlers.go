package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/you/carebook/domain"
	"github.com/you/carebook/internal/config"
	"github.com/you/carebook/internal/http/middleware"
	"github.com/you/carebook/internal/services"
)

// RegistrationHandlers drives the OTP-gated sign-up of the request's device
type RegistrationHandlers struct {
	routes config.Routes
	logger *slog.Logger
}

// NewRegistrationHandlers creates new registration handlers
func NewRegistrationHandlers(routes config.Routes, logger *slog.Logger) *RegistrationHandlers {
	return &RegistrationHandlers{routes: routes, logger: logger}
}

// OTPVerifyRequest represents OTP verification request
type OTPVerifyRequest struct {
	OTP string `json:"otp" binding:"required"`
}

// RegisterPage renders the sign-up page with the pending challenge, if any
func (h *RegistrationHandlers) RegisterPage(c *gin.Context) {
	challenge, _ := middleware.Session(c).Registration().Challenge()
	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"page":      "register",
			"challenge": challenge,
		},
	})
}

// SendOTP validates the sign-up form and sends a code to its email and phone
func (h *RegistrationHandlers) SendOTP(c *gin.Context) {
	var payload domain.RegistrationPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	flow := middleware.Session(c).Registration()
	msg, err := flow.Send(c.Request.Context(), payload)
	if err != nil {
		h.registrationError(c, err)
		return
	}

	challenge, _ := flow.Challenge()
	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"message":   msg,
			"challenge": challenge,
		},
	})
}

// VerifyOTP submits the code. A returned user is signed in right away.
func (h *RegistrationHandlers) VerifyOTP(c *gin.Context) {
	var req OTPVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sc := middleware.Session(c)
	result, err := sc.Registration().Verify(c.Request.Context(), req.OTP)
	if err != nil {
		h.registrationError(c, err)
		return
	}

	data := gin.H{
		"message":  result.Message,
		"redirect": result.Redirect,
	}
	if result.User != nil {
		auth := &domain.AuthResult{User: result.User, AccessToken: result.AccessToken}
		if sc.Login(c.Request.Context(), auth) {
			data["user"] = sc.View().User
		} else {
			h.logger.WarnContext(c.Request.Context(), "verified user could not be signed in", "device_id", sc.DeviceID())
			data["redirect"] = h.routes.Login
		}
	}

	c.JSON(http.StatusOK, gin.H{"data": data})
}

// ResendOTP asks for a fresh code for the pending challenge
func (h *RegistrationHandlers) ResendOTP(c *gin.Context) {
	flow := middleware.Session(c).Registration()
	msg, err := flow.Resend(c.Request.Context())
	if err != nil {
		h.registrationError(c, err)
		return
	}

	challenge, _ := flow.Challenge()
	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"message":   msg,
			"challenge": challenge,
		},
	})
}

// Cancel drops the pending challenge and the buffered form
func (h *RegistrationHandlers) Cancel(c *gin.Context) {
	middleware.Session(c).Registration().Cancel()
	c.Status(http.StatusNoContent)
}

func (h *RegistrationHandlers) registrationError(c *gin.Context, err error) {
	var fields domain.FieldErrors
	var regErr *services.RegistrationError

	switch {
	case errors.As(err, &fields):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Validation failed", "fields": fields})
	case errors.Is(err, domain.ErrOTPCodeRequired):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Verification code is required"})
	case errors.Is(err, domain.ErrChallengeNotSent):
		c.JSON(http.StatusConflict, gin.H{"error": "No verification code has been sent"})
	case errors.Is(err, domain.ErrChallengeBusy):
		c.JSON(http.StatusConflict, gin.H{"error": "Verification already in progress"})
	case errors.Is(err, domain.ErrChallengeState):
		c.JSON(http.StatusConflict, gin.H{"error": "Verification code is no longer valid, request a new one"})
	case errors.Is(err, domain.ErrOTPResendTooSoon):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	case errors.As(err, &regErr):
		status := domain.StatusOf(regErr.Err)
		if status < 400 || status >= 500 {
			status = http.StatusBadGateway
		}
		c.JSON(status, gin.H{"error": regErr.Message})
	default:
		h.logger.ErrorContext(c.Request.Context(), "registration step failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Registration failed"})
	}
}
