package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/gin-contrib/requestid"
	"github.com/google/uuid"
)

// RequestIDHeader is the HTTP header used to propagate the request ID.
const RequestIDHeader = "X-Request-Id"

// RequestID generates (or reuses an inbound) request ID for every request
// via gin-contrib/requestid, using google/uuid as the generator.
func RequestID() gin.HandlerFunc {
	return requestid.New(
		requestid.WithGenerator(func() string { return uuid.New().String() }),
		requestid.WithCustomHeaderStrKey(requestid.HeaderStrKey(RequestIDHeader)),
	)
}

// IDFromContext returns the request ID gin-contrib/requestid attached to c.
func IDFromContext(c *gin.Context) string {
	return requestid.Get(c)
}
