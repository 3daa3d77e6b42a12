// Copyright 2025 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package platform

import (
	"bytes"
	"context"
	"net/http"
	"strconv"
	"time"
)

// rateLimitAttempts bounds how many times a 429 response is retried before
// the send is abandoned. Other 4xx/5xx responses are terminal for the
// current send and handled by the caller.
const rateLimitAttempts = 3

const defaultRetryAfter = time.Second

// postJSON issues a JSON POST, honoring 429 Retry-After by sleeping and
// retrying. Any other response, success or failure, is returned to the
// caller as-is for its own status handling.
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, body []byte) (*http.Response, error) {
	var resp *http.Response
	for attempt := 0; attempt < rateLimitAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		resp, err = client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusTooManyRequests || attempt == rateLimitAttempts-1 {
			return resp, nil
		}
		wait := retryAfter(resp)
		resp.Body.Close()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return resp, nil
}

func retryAfter(resp *http.Response) time.Duration {
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return defaultRetryAfter
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds < 0 {
		return defaultRetryAfter
	}
	return time.Duration(seconds) * time.Second
}
