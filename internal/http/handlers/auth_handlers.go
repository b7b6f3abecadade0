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

// AuthHandlers serves the session pages and the login/logout actions
type AuthHandlers struct {
	routes config.Routes
	logger *slog.Logger
}

// NewAuthHandlers creates new auth handlers
func NewAuthHandlers(routes config.Routes, logger *slog.Logger) *AuthHandlers {
	return &AuthHandlers{routes: routes, logger: logger}
}

// LoginRequest represents login request
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// Session returns the device's merged session view
func (h *AuthHandlers) Session(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": middleware.Session(c).View()})
}

// Home is the public landing page
func (h *AuthHandlers) Home(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"page":    "home",
			"session": middleware.Session(c).View(),
		},
	})
}

// LoginPage renders the login page for anonymous users
func (h *AuthHandlers) LoginPage(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"page": "login"}})
}

// Login exchanges credentials for a session
func (h *AuthHandlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sc := middleware.Session(c)
	view, err := sc.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidCredentials):
			c.JSON(http.StatusUnauthorized, gin.H{"error": domain.UserMessage(err, "Invalid credentials")})
		default:
			h.logger.WarnContext(c.Request.Context(), "login failed", "device_id", sc.DeviceID(), "error", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "Login failed"})
		}
		return
	}

	redirect := h.routes.Login
	if view.User != nil {
		redirect = services.RoleRedirect(string(view.User.Role), h.routes)
	}
	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"user":     view.User,
			"redirect": redirect,
		},
	})
}

// Logout ends the session. It always succeeds locally.
func (h *AuthHandlers) Logout(c *gin.Context) {
	middleware.Session(c).Logout(c.Request.Context())

	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"message":  "Logged out successfully",
			"redirect": h.routes.Login,
		},
	})
}

// Dashboard renders the role dashboard of the signed-in user. A session
// cleared after the guards ran is sent to the login page.
func (h *AuthHandlers) Dashboard(c *gin.Context) {
	view := middleware.Session(c).View()
	if view.User == nil {
		c.Redirect(http.StatusFound, h.routes.Login)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"page": "dashboard",
			"role": view.User.Role,
			"user": view.User,
		},
	})
}
