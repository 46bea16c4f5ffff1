package embedding

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"lexmatch/internal/domain"
)

// RateLimitedEmbedder wraps a domain.EmbeddingProvider with a token-bucket
// rate limiter. The hosted inference API throttles aggressively on free
// tiers; bounding our own request rate keeps bursts of profile saves from
// tripping remote 429s.
type RateLimitedEmbedder struct {
	inner   domain.EmbeddingProvider
	limiter *rate.Limiter
}

// NewRateLimitedEmbedder wraps inner, allowing requestsPerSecond sustained
// calls with the given burst. Non-positive values return inner unchanged.
func NewRateLimitedEmbedder(inner domain.EmbeddingProvider, requestsPerSecond float64, burst int) domain.EmbeddingProvider {
	if requestsPerSecond <= 0 || burst <= 0 {
		return inner
	}
	return &RateLimitedEmbedder{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
	}
}

// Embed implements domain.EmbeddingProvider. Blocks until a token is
// available or ctx is done; a cancelled wait surfaces as ErrServiceUnavailable
// so callers treat it like any other transient failure.
func (r *RateLimitedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limit wait: %v", domain.ErrServiceUnavailable, err)
	}
	return r.inner.Embed(ctx, texts)
}

// Dimensions implements domain.EmbeddingProvider.
func (r *RateLimitedEmbedder) Dimensions() int { return r.inner.Dimensions() }

// Name implements domain.EmbeddingProvider.
func (r *RateLimitedEmbedder) Name() string { return r.inner.Name() }

// Compile-time interface check.
var _ domain.EmbeddingProvider = (*RateLimitedEmbedder)(nil)
