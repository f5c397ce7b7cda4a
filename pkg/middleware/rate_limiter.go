package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

// RateLimiter returns a per-client-IP limiter for the HTTP surface. rate uses
// the "<count>-<period>" format, e.g. "100-M" for 100 requests per minute.
func RateLimiter(rate string) gin.HandlerFunc {
	r, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		r, _ = limiter.NewRateFromFormatted("100-M")
	}
	return mgin.NewMiddleware(limiter.New(memory.NewStore(), r))
}
