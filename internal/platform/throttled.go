package platform

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/ricesearch/rice-eval/internal/pkg/errors"
)

// Throttled limits the query rate sent to a platform. Load and Close pass
// through unthrottled.
type Throttled struct {
	Platform
	limiter *rate.Limiter
}

// NewThrottled wraps p with a token bucket of rps queries per second.
func NewThrottled(p Platform, rps float64, burst int) *Throttled {
	if burst <= 0 {
		burst = 1
	}
	return &Throttled{
		Platform: p,
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// ExecuteQuery waits for a token, then delegates. A token the context
// deadline cannot wait for is a transient platform failure; only a done
// context interrupts.
func (t *Throttled) ExecuteQuery(ctx context.Context, indexName, version, query string, fields []string, maxRows int) (Response, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return Response{}, errors.Wrap(errors.CodeInterrupted, "rate limiter wait", err)
		}
		return Response{}, errors.PlatformError("rate limiter wait", err)
	}
	return t.Platform.ExecuteQuery(ctx, indexName, version, query, fields, maxRows)
}
