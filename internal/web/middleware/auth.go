package middleware

import (
	"net/http"
	"strings"

	"gardenhub/auth"

	"github.com/gin-gonic/gin"
)

const (
	identityKey = "identity"
	deviceKey   = "device_credentials"
)

// Device credential headers sent by firmware
const (
	HeaderDeviceKey = "X-Device-Key"
	HeaderDeviceMAC = "X-Device-MAC"
	HeaderDeviceID  = "X-Device-ID"
)

// DeviceCredentials are the headers a device identifies itself with. They are
// not verified cryptographically.
type DeviceCredentials struct {
	Key      string
	MAC      string
	DeviceID string
}

func (m *MiddlewareManager) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := m.auth.ValidateTokenJWT(c.GetHeader("Authorization"))
		if err != nil {
			m.lg.Debug().Err(err).Str("path", c.FullPath()).Msg("authentication failed")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}

		c.Set(identityKey, identity)
		c.Set("user_id", identity.UserID)

		c.Next()
	}
}

// RequireDevice rejects requests carrying neither a device key nor a MAC
func (m *MiddlewareManager) RequireDevice() gin.HandlerFunc {
	return func(c *gin.Context) {
		creds := DeviceCredentials{
			Key:      strings.TrimSpace(c.GetHeader(HeaderDeviceKey)),
			MAC:      strings.TrimSpace(c.GetHeader(HeaderDeviceMAC)),
			DeviceID: strings.TrimSpace(c.GetHeader(HeaderDeviceID)),
		}
		if creds.Key == "" && creds.MAC == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Device authentication required"})
			return
		}
		c.Set(deviceKey, creds)
		c.Next()
	}
}

// IdentityFrom returns the caller set by RequireAuth
func IdentityFrom(c *gin.Context) auth.Identity {
	v, _ := c.Get(identityKey)
	id, _ := v.(auth.Identity)
	return id
}

// DeviceFrom returns the credentials set by RequireDevice
func DeviceFrom(c *gin.Context) DeviceCredentials {
	v, _ := c.Get(deviceKey)
	creds, _ := v.(DeviceCredentials)
	return creds
}
