package server

import (
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	obscontext "github.com/learnify/learnify/internal/observability/context"
	"github.com/learnify/learnify/internal/usercontext"
	"go.uber.org/zap"
)

// HeaderOwner identifies the acting user. Authentication happens upstream
// (the app gateway terminates the session); the ledger only needs a stable
// owner ID per request.
const HeaderOwner = "X-Learnify-User"

func (s *Server) OwnerRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(HeaderOwner))
		if raw == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ownerID, err := snowflake.ParseString(raw)
		if err != nil || ownerID == 0 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := usercontext.WithUserID(c.Request.Context(), ownerID)
		ctx = obscontext.WithOwnerID(ctx, ownerID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// BillableRateLimit gates the tutor routes with the per-owner token bucket.
// A nil or disabled limiter passes everything through.
func (s *Server) BillableRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Enabled() {
			c.Next()
			return
		}

		ownerID, ok := usercontext.UserIDFromContext(c.Request.Context())
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		res, err := s.limiter.AllowOwner(c.Request.Context(), ownerID.String())
		if err != nil {
			// Redis being down must not take billing down with it.
			s.log.Warn("rate limit check failed, allowing request", zap.Error(err))
			c.Next()
			return
		}
		if !res.Allowed {
			retryAfter := res.RetryAfter
			if retryAfter <= 0 {
				retryAfter = time.Second
			}
			c.Header("Retry-After", strconv.Itoa(int(retryAfter.Seconds()+0.5)))
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}

func ownerFrom(c *gin.Context) (snowflake.ID, bool) {
	return usercontext.UserIDFromContext(c.Request.Context())
}
