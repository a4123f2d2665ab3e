// Package ratelimit paces requests to the Civitai API and its image hosts.
//
// TokenBucket refills continuously and is used for metadata pages, where a
// burst of one gives the steady one-request-per-interval cadence the API
// tolerates. SlidingWindow caps image transfers: with
// rate_limit.downloads_per_minute set, no more than that many transfers
// start within any one-minute span, while a short batch may go at once.
//
// Both implement Limiter, whose Wait honours context cancellation:
//
//	limiter := ratelimit.PerMinute(60, 1)
//	if err := limiter.Wait(ctx); err != nil {
//		return err
//	}
package ratelimit
