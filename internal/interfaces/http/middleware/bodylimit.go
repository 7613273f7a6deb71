package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lukgber-glitch/operate-sub002/internal/interfaces/http/dto"
)

// BodyLimit caps request bodies at maxBytes. Declared oversize bodies are refused
// up front; chunked ones fail on read once the cap is crossed.
func BodyLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			msg := fmt.Sprintf("Request body of %d bytes exceeds the %d byte limit", c.Request.ContentLength, maxBytes)
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge,
				dto.NewErrorResponseWithRequestID(dto.ErrCodeTooLarge, msg, c.GetString(RequestIDKey)))
			return
		}
		if c.Request.Body != nil && c.Request.Body != http.NoBody {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}
