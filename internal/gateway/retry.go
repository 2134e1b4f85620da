package gateway

import (
	"context"
)

// RunWithRetry executes Run once and retries transient failures up to
// maxRetries more times, so a budget of n allows n+1 attempts in total.
// The delay before retry n is backoffBase<<(n-1), doubling each time.
// 4xx responses abort immediately: the request will not get better.
func (c *Client) RunWithRetry(ctx context.Context, req Request) (*Result, error) {
	var last error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			retriesTotal.WithLabelValues(req.Capability).Inc()
			delay := c.backoffBase << (attempt - 1)
			c.log.Warn().Str("capability", req.Capability).Int("attempt", attempt+1).
				Dur("delay", delay).Err(last).Msg("retrying inference")
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}
		res, err := c.Run(ctx, req)
		if err == nil {
			return res, nil
		}
		last = err
		if !retryable(err) {
			c.log.Error().Str("capability", req.Capability).Err(err).
				Msg("non-retryable inference failure")
			return nil, err
		}
	}
	return nil, &exhaustedError{capability: req.Capability, attempts: c.maxRetries + 1, last: last}
}
