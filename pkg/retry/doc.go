// Package retry decides and drives retries of transient failures for the
// Civitai API client and the image downloader.
//
// A Policy is a pure decision function: given the 1-based attempt number
// and the failure, ShouldRetry returns a Decision telling the caller
// whether to try again and how long to wait. Only failures classified as
// transient by the errors package are retried. A 429 response carrying a
// Retry-After header overrides the computed backoff, capped at
// Policy.MaxRetryAfter (DefaultMaxRetryAfter when unset). Do logs a
// warning whenever the cap shortens the wait.
//
// Basic usage:
//
//	policy := retry.NewPolicy(3, 2*time.Second, 10*time.Second)
//	attempts, err := retry.Do(ctx, &retry.Config{Policy: policy, Op: "fetch page"},
//		func(ctx context.Context, attempt int) error {
//			return client.Ping(ctx)
//		})
//
// Callers that need their own loop consult the policy directly:
//
//	for attempt := 1; ; attempt++ {
//		err := transfer(ctx)
//		if err == nil {
//			break
//		}
//		d := policy.ShouldRetry(attempt, err)
//		if !d.Retry {
//			return err
//		}
//		if err := retry.Wait(ctx, d.Delay); err != nil {
//			return err
//		}
//	}
package retry
