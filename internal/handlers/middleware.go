package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/olie-orders/internal/apperr"
	"github.com/imrishuroy/olie-orders/internal/auth"
)

const identityKey = "identity"

// CORS allows any origin and answers preflight requests directly.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "authorization, x-client-info, apikey, content-type, idempotency-key, x-webhook-secret")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}

// Logger logs one line per request, plus any errors handlers attached.
func Logger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		if len(c.Errors) > 0 {
			log.Error("request failed", append(fields, zap.String("error", c.Errors.String()))...)
			return
		}
		log.Info("request", fields...)
	}
}

// Authenticate resolves the bearer token, if any, into an identity stored on
// the context. A missing or rejected token leaves the identity unset so each
// operation can report Unauthorized in its own order of checks.
func Authenticate(v auth.Verifier, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := auth.BearerToken(c.GetHeader("Authorization"))
		if token == "" {
			c.Next()
			return
		}
		id, err := v.Verify(c.Request.Context(), token)
		switch {
		case err == nil:
			c.Set(identityKey, id)
		case errors.Is(err, auth.ErrInvalidToken):
		default:
			log.Error("token verification failed", zap.Error(err))
			respondError(c, &apperr.Error{Kind: apperr.KindUpstream, Msg: "auth provider unavailable", Err: err})
			return
		}
		c.Next()
	}
}

// identity returns the caller set by Authenticate, or nil.
func identity(c *gin.Context) *auth.Identity {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil
	}
	id, _ := v.(*auth.Identity)
	return id
}
