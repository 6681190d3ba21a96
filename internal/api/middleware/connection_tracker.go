package middleware

import (
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

// ConnectionTracker counts in-flight requests. Streaming responses keep their
// slot until the last SSE frame is flushed, so the count doubles as the number
// of open boost loops during graceful shutdown.
type ConnectionTracker struct {
	count atomic.Int64
}

func (ct *ConnectionTracker) Increment() { ct.count.Add(1) }

func (ct *ConnectionTracker) Decrement() { ct.count.Add(-1) }

// Count returns the current number of in-flight requests.
func (ct *ConnectionTracker) Count() int64 {
	return ct.count.Load()
}

// Track returns a Gin middleware bound to this tracker.
func (ct *ConnectionTracker) Track() gin.HandlerFunc {
	return func(c *gin.Context) {
		ct.Increment()
		defer ct.Decrement()
		c.Next()
	}
}
