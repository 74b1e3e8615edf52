package middleware

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/hostel-announce-api/internal/models"
	"github.com/noah-isme/hostel-announce-api/internal/repository"
)

// Audit writes an audit-log row after each successful request on the wrapped
// route. Failed requests (4xx/5xx) leave no trail; the domain services record
// their own state-change audits.
func Audit(repo *repository.UserRepository, action, resource string) gin.HandlerFunc {
	return func(c *gin.Context) {
		began := time.Now().UTC()
		c.Next()

		if c.Writer.Status() >= 400 {
			return
		}

		entry := models.AuditLog{
			Action:    action,
			Resource:  resource,
			IPAddress: c.ClientIP(),
			UserAgent: c.GetHeader("User-Agent"),
		}
		if raw, ok := c.Get(ContextUserKey); ok {
			if claims, ok := raw.(*models.JWTClaims); ok {
				entry.UserID = &claims.UserID
			}
		}
		entry.NewValues, _ = json.Marshal(map[string]interface{}{
			"path":    c.FullPath(),
			"method":  c.Request.Method,
			"status":  c.Writer.Status(),
			"latency": time.Since(began).Milliseconds(),
		})

		_ = repo.CreateAuditLog(c.Request.Context(), &entry)
	}
}
