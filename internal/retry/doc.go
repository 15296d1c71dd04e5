// Package retry provides bounded retries with exponential backoff and
// jitter for calls to the cloud gateway API.
//
// Execute an operation with retry:
//
//	res, err := retry.Do(ctx, retry.DefaultConfig(), func(ctx context.Context, attempt int) error {
//	    return api.DeleteEndpoint(ctx, handle)
//	}, &retry.Options{ShouldRetry: isThrottled})
//
// Errors wrapped with Permanent stop the loop immediately.
package retry
