package middleware

import (
	"github.com/gin-gonic/gin"

	"sfucore/pkg/logger"
	"sfucore/pkg/utils"
)

const (
	// AccessTokenHeader carries the caller's token on every REST call.
	AccessTokenHeader = "x-access-token"
	// RequestIDHeader is echoed back so clients can correlate logs.
	RequestIDHeader = "X-Request-ID"

	accessTokenKey = "access_token"
)

// AccessTokenMiddleware lifts the access token and the route's room and
// user ids into the request. It does not reject anything: the Controller
// authenticates every call, so REST and websocket callers see the same
// error codes.
func AccessTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(accessTokenKey, c.GetHeader(AccessTokenHeader))

		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = utils.GenerateRequestID()
		}
		c.Header(RequestIDHeader, requestID)

		ctx := logger.WithValue(c.Request.Context(), logger.RequestIDKey, requestID)
		if roomID := c.Param("roomId"); roomID != "" {
			ctx = logger.WithValue(ctx, logger.RoomIDKey, roomID)
		}
		if userID := c.Param("userId"); userID != "" {
			ctx = logger.WithValue(ctx, logger.UserIDKey, userID)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// AccessToken returns the token captured by AccessTokenMiddleware.
func AccessToken(c *gin.Context) string {
	return c.GetString(accessTokenKey)
}
