package httpserver

import (
	"math"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	apperrors "github.com/pscheid92/medidash/internal/platform/errors"
	"golang.org/x/time/rate"
)

// Buckets of callers idle this long are dropped from the store.
const callerBucketTTL = 5 * time.Minute

// newRateLimiter throttles notification and presence callers. Each client IP
// owns a token bucket refilled at perSecond up to burst; a refused call gets a
// rate_limited error and a Retry-After of one token's refill time.
func newRateLimiter(perSecond float64, burst int) echo.MiddlewareFunc {
	buckets := middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(perSecond),
		Burst:     burst,
		ExpiresIn: callerBucketTTL,
	})
	retryAfter := strconv.Itoa(int(math.Ceil(1 / perSecond)))

	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: buckets,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		DenyHandler: func(c echo.Context, callerIP string, _ error) error {
			c.Response().Header().Set("Retry-After", retryAfter)
			return HandleError(c, apperrors.RateLimitedError("rate limit exceeded").WithField("client_ip", callerIP))
		},
	})
}
