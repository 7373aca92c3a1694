package admission

import (
	"net/http"
	"strconv"
	"time"

	"github.com/aman-churiwal/api-ratelimiter/internal/ratelimit"
)

const (
	HeaderAlgorithm  = "X-RateLimit-Algorithm"
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderCapacity   = "X-RateLimit-Capacity"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

// Writes the rate limit headers describing d. Unknown values are omitted.
func ApplyHeaders(h http.Header, d ratelimit.Decision, now time.Time) {
	h.Set(HeaderAlgorithm, string(d.Algorithm))

	if d.Capacity != nil {
		h.Set(HeaderLimit, strconv.Itoa(*d.Capacity))
	}
	if d.Remaining != nil {
		h.Set(HeaderRemaining, strconv.Itoa(*d.Remaining))
	}
	if d.Capacity != nil {
		h.Set(HeaderCapacity, strconv.Itoa(*d.Capacity))
	}

	if !d.Allowed && d.RetryAfterSec > 0 {
		h.Set(HeaderRetryAfter, strconv.Itoa(d.RetryAfterSec))
		h.Set(HeaderReset, strconv.FormatInt(now.Unix()+int64(d.RetryAfterSec), 10))
	}
}
