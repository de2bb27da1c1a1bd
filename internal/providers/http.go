package providers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// PostStream sends a streaming request and returns the open response body.
// Only dial failures are retried. Any response, 5xx included, is the single
// upstream call; a non-2xx status is classified and returned.
func PostStream(ctx context.Context, opts HTTPOptions, provider Kind, endpoint string, header http.Header, body []byte) (io.ReadCloser, error) {
	opts = opts.withDefaults()

	var lastErr error
	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		rc, retry, err := postOnce(ctx, opts.Client, provider, endpoint, header, body)
		if err == nil {
			return rc, nil
		}
		lastErr = err
		if !retry || attempt == opts.MaxRetries {
			break
		}
		backoff := opts.BackoffBase * (1 << attempt)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return nil, lastErr
}

func postOnce(ctx context.Context, client *http.Client, provider Kind, endpoint string, header http.Header, body []byte) (io.ReadCloser, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("build request: %w", err)
	}
	req.Header = header.Clone()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, isDialError(err), fmt.Errorf("%s request failed: %w", provider, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return resp.Body, false, nil
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	classified := Classify(provider, resp.StatusCode, respBody)
	return nil, false, classified
}

func isDialError(err error) bool {
	var op *net.OpError
	return errors.As(err, &op) && op.Op == "dial"
}
