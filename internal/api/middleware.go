package api

import "github.com/gin-gonic/gin"

// securityHeaders adds standard response headers mitigating clickjacking,
// MIME-sniffing, and information leakage, matching the teacher's
// SecurityHeadersMiddleware (internal/radio/middleware.go). Authentication
// is an explicit spec Non-goal (§1), so unlike the teacher there is no
// AuthRequired middleware here — every route below is open.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
		c.Next()
	}
}
