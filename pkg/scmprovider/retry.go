package scmprovider

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff"
)

// retryTransport retries 5xx responses with doubling backoff up to a maximum
// interval ceiling. Transport errors and non-5xx responses are returned
// immediately; callers see the retry as a single slow call.
type retryTransport struct {
	base     http.RoundTripper
	maxDelay time.Duration
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, err
		}
	}
	b := backoff.NewExponentialBackOff()
	if b.InitialInterval > t.maxDelay {
		b.InitialInterval = t.maxDelay
	}
	b.Multiplier = 2
	b.MaxInterval = t.maxDelay
	b.MaxElapsedTime = 4 * t.maxDelay
	b.Reset()
	for {
		// RoundTrip must not modify the caller's request
		attempt := req.Clone(req.Context())
		if body != nil {
			attempt.Body = io.NopCloser(bytes.NewReader(body))
		}
		resp, err := base.RoundTrip(attempt)
		if err != nil {
			return resp, err
		}
		if resp.StatusCode < http.StatusInternalServerError {
			return resp, nil
		}
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return resp, nil
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		time.Sleep(wait)
	}
}
