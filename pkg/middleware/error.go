package middleware

import (
	"errors"
	"net/http"

	"linktrace/pkg/errutil"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Error renders the last handler error as the generic client body for its
// kind. Internal detail stays in the log, never in the response.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		ginErr := c.Errors.Last()
		if ginErr == nil || c.Writer.Written() {
			return
		}

		var e errutil.Error
		if !errors.As(ginErr.Err, &e) {
			e = errutil.Error{Kind: errutil.KindPermanentStore, Message: "internal error"}
		}

		if e.Kind.HTTPStatus() == http.StatusInternalServerError {
			zap.L().Error("request failed",
				zap.String("path", c.FullPath()),
				zap.Error(ginErr.Err),
			)
			// generic body for server-side failures
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": gin.H{"message": "internal error"},
			})
			return
		}

		c.JSON(e.Kind.HTTPStatus(), e.JSON())
	}
}
