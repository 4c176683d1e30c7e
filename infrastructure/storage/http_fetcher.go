package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"retreat-photos/domain/services"
	"retreat-photos/pkg/metrics"
	"retreat-photos/pkg/retry"
)

// HTTPFetcher downloads images through their public URL, the same way the
// dashboards load them.
type HTTPFetcher struct {
	client *http.Client
	policy retry.Policy
}

func NewHTTPFetcher(timeout time.Duration, policy retry.Policy) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPFetcher{client: &http.Client{Timeout: timeout}, policy: policy}
}

// Fetch returns services.ErrImageTooLarge as soon as the body is known to exceed maxBytes.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string, maxBytes int64) ([]byte, error) {
	return retry.Do(ctx, f.policy, func(ctx context.Context) ([]byte, error) {
		start := time.Now()
		data, err := f.fetch(ctx, url, maxBytes)
		metrics.ObserveProvider("storage", "fetch", start, err)
		return data, err
	})
}

func (f *HTTPFetcher) fetch(ctx context.Context, url string, maxBytes int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, retry.Transient(fmt.Errorf("failed to download image: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, retry.Transient(fmt.Errorf("image download failed with status %d", resp.StatusCode))
	default:
		return nil, retry.Permanent(fmt.Errorf("image download failed with status %d", resp.StatusCode))
	}

	if maxBytes > 0 && resp.ContentLength > maxBytes {
		return nil, retry.Permanent(fmt.Errorf("%w: %d bytes", services.ErrImageTooLarge, resp.ContentLength))
	}

	reader := io.Reader(resp.Body)
	if maxBytes > 0 {
		reader = io.LimitReader(resp.Body, maxBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, retry.Transient(fmt.Errorf("failed to read image: %w", err))
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, retry.Permanent(fmt.Errorf("%w: more than %d bytes", services.ErrImageTooLarge, maxBytes))
	}
	return data, nil
}
