// Package transport implements the network collaborators of PackScript runs:
// `http get` over net/http and `socket connect` over line-delimited TCP.
package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/iotaledger/hive.go/logger"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/dueldanov/packscript/internal/logging"
)

var ErrResponseTooLarge = errors.New("response body too large")

// DefaultMaxBodySize caps response bodies read by HTTPFetcher
const DefaultMaxBodySize = 4 << 20

// HTTPFetcher satisfies packscript.Fetcher. Requests share one token bucket.
type HTTPFetcher struct {
	*logger.WrappedLogger

	client      *http.Client
	limiter     *rate.Limiter
	maxBodySize int64
}

// NewHTTPFetcher allows requestsPerSecond with the given burst; a
// non-positive rate disables limiting
func NewHTTPFetcher(log *logger.Logger, timeout time.Duration, requestsPerSecond float64, burst int) *HTTPFetcher {
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	if burst <= 0 {
		burst = 1
	}

	return &HTTPFetcher{
		WrappedLogger: logger.NewWrappedLogger(log),
		client:        &http.Client{Timeout: timeout},
		limiter:       rate.NewLimiter(limit, burst),
		maxBodySize:   DefaultMaxBodySize,
	}
}

// Get returns the body of a 2xx response
func (f *HTTPFetcher) Get(ctx context.Context, url string) (body []byte, err error) {
	start := time.Now()
	defer func() {
		logging.MeasureStepWithError(ctx, logging.PhaseCollaborator, "HTTPGet", "url="+url, start, err)
	}()

	if err := f.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "rate limit wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "invalid request")
	}
	req.Header.Set("Accept", "application/json, text/plain")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "GET %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("GET %s: unexpected status %s", url, resp.Status)
	}

	body, err = io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize+1))
	if err != nil {
		return nil, errors.Wrapf(err, "reading body of %s", url)
	}
	if int64(len(body)) > f.maxBodySize {
		return nil, errors.Wrapf(ErrResponseTooLarge, "GET %s", url)
	}

	f.LogDebugf("GET %s: %d bytes", url, len(body))
	return body, nil
}
