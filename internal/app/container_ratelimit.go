package app

import (
	"parcelflow/internal/config"
	"parcelflow/internal/http/middleware/ratelimit"
	"parcelflow/internal/logx"
)

// provideRateLimit returns nil when limiting is off; the router then mounts no limiter.
func provideRateLimit(cfg *config.Config, logger logx.Logger, m *Metrics) *ratelimit.Middleware {
	rl := cfg.RateLimit
	if !rl.Enabled {
		return nil
	}
	logger.Info("rate limiting mutating routes",
		logx.Any("rate", rl.Rate),
		logx.Int("burst", rl.Burst),
		logx.Int("max_buckets", rl.MaxBuckets),
	)
	limiter := ratelimit.NewTokenBucketLimiter(ratelimit.RealClock{}, ratelimit.Config{
		Rate:       rl.Rate,
		Burst:      rl.Burst,
		TTL:        rl.TTL,
		MaxBuckets: rl.MaxBuckets,
	})
	return ratelimit.New(logger.With(logx.String("component", "ratelimit")), m.RateLimitExceeded, limiter)
}
