package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/you/carebook/internal/services"
)

// SessionKey is the gin context key holding the device's SessionContext
const SessionKey = "session"

// DeviceMW attaches a SessionContext to every request, keyed by a device
// cookie that is issued on first contact
type DeviceMW struct {
	registry *services.SessionRegistry
	cookie   string
	secure   bool
	maxAge   int
}

// NewDeviceMW creates the device middleware. maxAge is the cookie lifetime
// in seconds.
func NewDeviceMW(registry *services.SessionRegistry, cookie string, secure bool, maxAge int) *DeviceMW {
	return &DeviceMW{registry: registry, cookie: cookie, secure: secure, maxAge: maxAge}
}

// Attach returns the middleware function
func (mw *DeviceMW) Attach() gin.HandlerFunc {
	return func(c *gin.Context) {
		deviceID, err := c.Cookie(mw.cookie)
		if err != nil || uuid.Validate(deviceID) != nil {
			deviceID = uuid.NewString()
		}
		// refresh on every request so an active device keeps its cookie
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(mw.cookie, deviceID, mw.maxAge, "/", "", mw.secure, true)

		sc := mw.registry.Get(deviceID)
		sc.Start(c.Request.Context())
		c.Set(SessionKey, sc)
		c.Next()
	}
}

// Session returns the request's SessionContext. It panics when DeviceMW
// did not run, which is a routing bug.
func Session(c *gin.Context) *services.SessionContext {
	return c.MustGet(SessionKey).(*services.SessionContext)
}
