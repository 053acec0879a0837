package obs

import (
	"context"
	"crypto/rand"
	"encoding/hex"

	"github.com/gin-gonic/gin"
)

type traceIDKey struct{}

// TraceHeader is the header both incoming requests and outbound calls
// to shards (coordinator-to-shard and follower-to-leader) use to carry
// a trace id end to end.
const TraceHeader = "X-Trace-Id"

// TraceMiddleware extracts X-Trace-Id (falling back to X-Request-Id)
// from the incoming request, minting one if neither is present, and
// stores it on the request context for handlers and logs to pick up.
func TraceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(TraceHeader)
		if id == "" {
			id = c.GetHeader("X-Request-Id")
		}
		if id == "" {
			id = newTraceID()
		}
		c.Writer.Header().Set(TraceHeader, id)
		c.Request = c.Request.WithContext(WithTraceID(c.Request.Context(), id))
		c.Set(traceIDGinKey, id)
		c.Next()
	}
}

const traceIDGinKey = "trace_id"

// WithTraceID attaches id to ctx.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, id)
}

// TraceID returns the trace id carried by ctx, or "" if none was set.
func TraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey{}).(string)
	return id
}

// GinTraceID returns the trace id attached by TraceMiddleware to a
// gin.Context, for handlers that have not reached into c.Request yet.
func GinTraceID(c *gin.Context) string {
	if id, ok := c.Get(traceIDGinKey); ok {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return ""
}

func newTraceID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "unknown-trace"
	}
	return hex.EncodeToString(b[:])
}
