package session

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/entrance/internal/config"
)

const DefaultCookieName = "_sid"

// Manager reads and writes the session cookie. The cookie holds the raw
// session token; only its hash is stored server-side.
type Manager struct {
	cookieName string
	secure     bool
	now        func() time.Time
}

func NewManager(cfg config.Config) *Manager {
	return &Manager{
		cookieName: DefaultCookieName,
		secure:     cfg.AuthCookieSecure,
		now:        time.Now,
	}
}

func (m *Manager) CookieName() string {
	return m.cookieName
}

// ReadToken returns the raw token presented by the client, if any.
func (m *Manager) ReadToken(c *gin.Context) (string, bool) {
	raw, err := c.Cookie(m.cookieName)
	if err != nil {
		return "", false
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	return raw, true
}

// Set writes rawToken as an HttpOnly, SameSite=Lax cookie that expires with
// the session.
func (m *Manager) Set(c *gin.Context, rawToken string, expiresAt time.Time) {
	maxAge := int(expiresAt.Sub(m.now()).Seconds())
	if maxAge < 0 {
		maxAge = 0
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(m.cookieName, rawToken, maxAge, "/", "", m.secure, true)
}

func (m *Manager) Clear(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(m.cookieName, "", -1, "/", "", m.secure, true)
}
