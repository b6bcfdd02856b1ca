package ua

import (
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mediacrawl/webagent/pkg/config"
)

// errTooManyRedirects is returned by the client's CheckRedirect hook once the
// hop budget is spent. The executor treats it as "give up and return what you
// have", mirroring classic user-agent behavior, not as a failure.
var errTooManyRedirects = errors.New("stopped after too many redirects")

// Status codes on which determined retries fire when retry timing is
// configured.
var determinedHTTPCodes = map[int]bool{
	http.StatusRequestTimeout:      true, // 408
	http.StatusTooManyRequests:     true, // 429
	http.StatusInternalServerError: true, // 500
	http.StatusBadGateway:          true, // 502
	http.StatusServiceUnavailable:  true, // 503
	http.StatusGatewayTimeout:      true, // 504
}

// newTransport creates the base HTTP transport from the configured settings.
func newTransport(cfg config.HTTPClientConfig) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   cfg.DialerTimeout.Std(),
		KeepAlive: cfg.DialerKeepAlive.Std(),
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout.Std(),
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout.Std(),
		ExpectContinueTimeout: cfg.ExpectContinueTimeout.Std(),
	}
	if cfg.ForceAttemptHTTP2 != nil {
		transport.ForceAttemptHTTP2 = *cfg.ForceAttemptHTTP2
	}
	return transport
}

// retryTransport retries requests on the determined status codes with
// exponential backoff. It wraps the base transport so that retries happen
// below the redirect-following layer: each redirect hop gets its own retry
// budget, the way a retrying adapter mounted on a session would behave.
type retryTransport struct {
	next    http.RoundTripper
	retries int           // retry count on top of the initial attempt
	backoff time.Duration // delay before retry n is backoff * 2^(n-1)
	log     *logrus.Entry
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	var err error

	for attempt := 0; attempt <= t.retries; attempt++ {
		if attempt > 0 {
			delay := t.backoff << (attempt - 1)
			t.log.WithFields(logrus.Fields{
				"url":     req.URL.String(),
				"attempt": attempt,
				"delay":   delay,
			}).Warn("Retrying request...")

			select {
			case <-time.After(delay):
			case <-req.Context().Done():
				return nil, req.Context().Err()
			}
		}

		resp, err = t.next.RoundTrip(req)
		if err != nil {
			// Transport-level fault: the executor classifies it, the
			// retry policy only covers determined status codes.
			return resp, err
		}
		if !determinedHTTPCodes[resp.StatusCode] {
			return resp, nil
		}
		if attempt == t.retries {
			break
		}

		// Drain and close so the connection returns to the pool
		// before the next attempt.
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
	return resp, err
}
