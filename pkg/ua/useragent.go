package ua

import (
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/html/charset"

	"github.com/mediacrawl/webagent/pkg/auditlog"
	"github.com/mediacrawl/webagent/pkg/config"
	"github.com/mediacrawl/webagent/pkg/urlutil"
	"github.com/mediacrawl/webagent/pkg/utils"
)

// blacklistedHostPrefix is what blacklisted request URLs are rewritten to.
// The request still round-trips through the network stack so it shows up in
// the audit log, but it never reaches the real target.
const blacklistedHostPrefix = "http://blacklistedsite.localhost/"

// UserAgent downloads stuff from the web. It owns a private HTTP client with
// a session cookie jar, so it must not be shared across workers; each worker
// constructs its own instance.
type UserAgent struct {
	log      *logrus.Entry
	auditLog *auditlog.Logger

	timeout     time.Duration
	maxRedirect int
	maxSize     int64
	timing      []time.Duration

	defaultHeaders http.Header
	blacklistRe    *regexp.Regexp
	authLookup     map[string]config.Credentials

	client        *http.Client
	baseTransport http.RoundTripper
}

// New constructs a UserAgent from the application config. Session limits
// start at the configured defaults and can be adjusted per instance with the
// setters below.
func New(cfg *config.AppConfig, log *logrus.Entry) (*UserAgent, error) {
	auditLog, err := auditlog.New(cfg.DataDir, log)
	if err != nil {
		return nil, err
	}

	var blacklistRe *regexp.Regexp
	if cfg.BlacklistURLPattern != "" {
		blacklistRe, err = regexp.Compile("(?i)" + cfg.BlacklistURLPattern)
		if err != nil {
			return nil, fmt.Errorf("%w: blacklist_url_pattern does not compile: %v",
				utils.ErrConfigValidation, err)
		}
	}

	// Session cookie pool; interstitial pages that set cookies before
	// redirecting (see redirects.go) need it carried across hops.
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: creating cookie jar: %v", utils.ErrConfigValidation, err)
	}

	defaultHeaders := make(http.Header)
	defaultHeaders.Set("From", cfg.Owner)
	defaultHeaders.Set("User-Agent", cfg.UserAgent)
	defaultHeaders.Set("Accept-Charset", "utf-8")

	ua := &UserAgent{
		log:            log,
		auditLog:       auditLog,
		timeout:        cfg.DefaultTimeout.Std(),
		maxRedirect:    cfg.DefaultMaxRedirect,
		maxSize:        cfg.DefaultMaxSizeBytes,
		defaultHeaders: defaultHeaders,
		blacklistRe:    blacklistRe,
		authLookup:     cfg.AuthLookup(),
		baseTransport:  newTransport(cfg.HTTPClientSettings),
	}
	if ua.timeout == 0 {
		ua.timeout = config.DefaultTimeout
	}
	if ua.maxRedirect == 0 {
		ua.maxRedirect = config.DefaultMaxRedirect
	}
	if ua.maxSize == 0 {
		ua.maxSize = config.DefaultMaxSize
	}

	ua.client = &http.Client{
		Transport: ua.baseTransport,
		Jar:       jar,
		Timeout:   ua.timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= ua.maxRedirect {
				return errTooManyRedirects
			}
			ua.log.Debugf("Redirecting: %s -> %s (hop %d)", via[len(via)-1].URL, req.URL, len(via))
			return nil
		},
	}

	return ua, nil
}

// Timeout returns the per-request timeout; zero means no timeout.
func (ua *UserAgent) Timeout() time.Duration {
	return ua.timeout
}

// SetTimeout sets the per-request timeout. Zero disables the timeout;
// negative values are rejected.
func (ua *UserAgent) SetTimeout(timeout time.Duration) error {
	if timeout < 0 {
		return fmt.Errorf("%w: timeout is negative", utils.ErrConfigValidation)
	}
	ua.timeout = timeout
	ua.client.Timeout = timeout
	return nil
}

// MaxRedirect returns the maximum number of HTTP redirects per request.
func (ua *UserAgent) MaxRedirect() int {
	return ua.maxRedirect
}

// SetMaxRedirect sets the maximum number of HTTP redirects per request.
// Zero disallows redirects entirely; negative values are rejected.
func (ua *UserAgent) SetMaxRedirect(maxRedirect int) error {
	if maxRedirect < 0 {
		return fmt.Errorf("%w: max redirect count is negative", utils.ErrConfigValidation)
	}
	ua.maxRedirect = maxRedirect
	return nil
}

// MaxSize returns the download size cap in bytes; zero means unbounded.
func (ua *UserAgent) MaxSize() int64 {
	return ua.maxSize
}

// SetMaxSize sets the download size cap in bytes. Zero removes the cap;
// negative values are rejected.
func (ua *UserAgent) SetMaxSize(maxSize int64) error {
	if maxSize < 0 {
		return fmt.Errorf("%w: max size is negative", utils.ErrConfigValidation)
	}
	ua.maxSize = maxSize
	return nil
}

// Timing returns the retry delay sequence; nil means retries are disabled.
func (ua *UserAgent) Timing() []time.Duration {
	return ua.timing
}

// SetTiming configures determined retries from an ordered delay sequence,
// e.g. 1s,2s,4s,8s. The total retry count is the sequence length; the
// exponential backoff factor is the first delay for a single-element
// sequence, otherwise the delta between the first two. An empty or nil
// sequence disables retries.
func (ua *UserAgent) SetTiming(timing []time.Duration) {
	if len(timing) == 0 {
		ua.timing = nil
		ua.client.Transport = ua.baseTransport
		return
	}

	ua.timing = append([]time.Duration(nil), timing...)

	backoff := timing[0]
	if len(timing) > 1 {
		backoff = timing[1] - timing[0]
	}
	ua.client.Transport = &retryTransport{
		next:    ua.baseTransport,
		retries: len(timing),
		backoff: backoff,
		log:     ua.log,
	}
}

// Get fetches a URL: repairs common URL mistakes, validates the scheme,
// injects configured per-domain basic-auth credentials and executes a GET.
func (ua *UserAgent) Get(rawURL string) (*Response, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("%w: URL is empty", utils.ErrRequestValidation)
	}

	rawURL = urlutil.FixCommonMistakes(rawURL)

	if !urlutil.IsHTTPURL(rawURL) {
		return nil, fmt.Errorf("%w: %s", utils.ErrURLNotHTTP, rawURL)
	}

	req := NewRequest(http.MethodGet, rawURL)
	if creds, ok := ua.authLookup[urlutil.DistinctiveDomain(rawURL)]; ok {
		req.SetAuth(creds.User, creds.Password)
	}

	return ua.Execute(req)
}

// GetString returns the body content of a successful fetch, or
// utils.ErrUnsuccessfulResponse if the response was not a 2xx.
func (ua *UserAgent) GetString(rawURL string) (string, error) {
	resp, err := ua.Get(rawURL)
	if err != nil {
		return "", err
	}
	if !resp.IsSuccess() {
		return "", fmt.Errorf("%w: %s: %s", utils.ErrUnsuccessfulResponse, rawURL, resp.StatusLine())
	}
	return resp.Content(), nil
}

// Execute performs a single request and never returns a nil Response with a
// nil error. Contract violations (nil request, missing method or URL, bad
// auth pairing, audit log failure) return errors; network-level faults
// return synthetic client-side-error Responses instead, so callers inspect
// IsSuccess / ErrorIsClientSide rather than catching errors for ordinary
// flakiness. All higher-level helpers funnel through Execute, as it
// implements the size cap, the blacklist and the audit log.
func (ua *UserAgent) Execute(req *Request) (*Response, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: request is nil", utils.ErrRequestValidation)
	}
	if req.Method() == "" {
		return nil, fmt.Errorf("%w: request method is empty", utils.ErrRequestValidation)
	}
	if req.URL() == "" {
		return nil, fmt.Errorf("%w: request URL is empty", utils.ErrRequestValidation)
	}

	req = ua.blacklistRequestIfNeeded(req)

	if err := ua.auditLog.Append(req.URL()); err != nil {
		return nil, err
	}

	authUsername, authPassword, hasAuth := req.Auth()
	if hasAuth && (authUsername == "") != (authPassword == "") {
		return nil, fmt.Errorf(
			"%w: either both or none of HTTP authentication credentials must be set",
			utils.ErrAuthCredentials)
	}

	httpReq, err := http.NewRequest(req.Method(), req.URL(), strings.NewReader(req.Content()))
	if err != nil {
		// Malformed request; same class as any other client-side fault.
		ua.log.Warnf("Unable to prepare request for %s: %v", req.URL(), err)
		return newClientSideErrorResponse(req, err.Error()), nil
	}
	for name, values := range ua.defaultHeaders {
		for _, v := range values {
			httpReq.Header.Set(name, v)
		}
	}
	for name, values := range req.Headers() {
		for _, v := range values {
			httpReq.Header.Set(name, v)
		}
	}
	if hasAuth && authUsername != "" {
		httpReq.SetBasicAuth(authUsername, authPassword)
	}

	httpResp, err := ua.client.Do(httpReq)
	if err != nil {
		urlErr, _ := err.(*url.Error)

		switch {
		case urlErr != nil && urlErr.Err == errTooManyRedirects && httpResp != nil:
			// Give up and return the last fetched page, the way classic
			// user agents do. Its body is already closed by the
			// transport, so the error text stands in for the content.
			ua.log.Warnf("Exceeded max. redirects for URL %s", req.URL())
			resp := ua.responseFromHTTP(httpResp, err.Error())
			return resp, nil

		case urlErr != nil && urlErr.Timeout():
			ua.log.Warnf("Timeout for URL %s", req.URL())
			resp := NewResponse(http.StatusRequestTimeout, http.StatusText(http.StatusRequestTimeout), nil)
			resp.SetContent(err.Error())
			resp.SetErrorIsClientSide(true)
			resp.SetRequest(req)
			return resp, nil

		default:
			ua.log.Warnf("Client-side error while processing request for %s: %v", req.URL(), err)
			return newClientSideErrorResponse(req, err.Error()), nil
		}
	}
	defer httpResp.Body.Close()

	content, truncated, readErr := ua.readBody(httpResp)
	if readErr != nil {
		if os.IsTimeout(readErr) {
			ua.log.Warnf("Timeout reading body of URL %s", req.URL())
			resp := NewResponse(http.StatusRequestTimeout, http.StatusText(http.StatusRequestTimeout), nil)
			resp.SetContent(readErr.Error())
			resp.SetErrorIsClientSide(true)
			resp.SetRequest(req)
			return resp, nil
		}
		ua.log.Warnf("Client-side error reading body of URL %s: %v", req.URL(), readErr)
		return newClientSideErrorResponse(req, readErr.Error()), nil
	}
	if truncated {
		ua.log.Warnf("Data size exceeds %d for URL %s", ua.maxSize, req.URL())
	}

	return ua.responseFromHTTP(httpResp, content), nil
}

// readBody streams the response body, decoding it to UTF-8 per the
// Content-Type charset and stopping early once the accumulated size first
// exceeds the configured maximum. Truncation is not an error.
func (ua *UserAgent) readBody(httpResp *http.Response) (content string, truncated bool, err error) {
	var reader io.Reader = httpResp.Body
	if decoded, decErr := charset.NewReader(httpResp.Body, httpResp.Header.Get("Content-Type")); decErr == nil {
		reader = decoded
	}

	if ua.maxSize <= 0 {
		data, readErr := io.ReadAll(reader)
		return string(data), false, readErr
	}

	data, readErr := io.ReadAll(io.LimitReader(reader, ua.maxSize+1))
	if readErr != nil {
		return "", false, readErr
	}
	return string(data), int64(len(data)) > ua.maxSize, nil
}

// responseFromHTTP converts the net/http response into a Response and
// rebuilds the previous-chain from the redirect history the transport
// recorded (each hop's *http.Response hangs off the next request's Response
// field, oldest hop last).
func (ua *UserAgent) responseFromHTTP(httpResp *http.Response, content string) *Response {
	resp := NewResponse(httpResp.StatusCode, reasonPhrase(httpResp), httpResp.Header)
	resp.SetContent(content)

	// Redirects might have happened, so the request is recreated from the
	// latest page that was redirected to.
	resp.SetRequest(requestFromHTTP(httpResp.Request))

	current := resp
	for hop := httpResp.Request; hop != nil && hop.Response != nil; {
		prior := hop.Response
		previous := NewResponse(prior.StatusCode, reasonPhrase(prior), prior.Header)
		previous.SetRequest(requestFromHTTP(prior.Request))
		current.SetPrevious(previous)
		current = previous
		hop = prior.Request
	}

	return resp
}

// blacklistRequestIfNeeded substitutes the URL of a blacklisted request on a
// derived copy, leaving the caller's request untouched.
func (ua *UserAgent) blacklistRequestIfNeeded(req *Request) *Request {
	if ua.blacklistRe == nil || !ua.blacklistRe.MatchString(req.URL()) {
		return req
	}
	derived := req.clone()
	derived.SetURL(blacklistedHostPrefix + req.URL())
	return derived
}

// requestFromHTTP rebuilds a Request value from a dispatched http.Request.
func requestFromHTTP(httpReq *http.Request) *Request {
	if httpReq == nil {
		return nil
	}
	req := NewRequest(httpReq.Method, httpReq.URL.String())
	for name, values := range httpReq.Header {
		for _, v := range values {
			req.Headers().Add(name, v)
		}
	}
	return req
}

// reasonPhrase extracts the reason phrase from a status line like "200 OK",
// falling back to the standard text for the code.
func reasonPhrase(httpResp *http.Response) string {
	phrase := strings.TrimSpace(strings.TrimPrefix(httpResp.Status, strconv.Itoa(httpResp.StatusCode)))
	if phrase == "" {
		phrase = http.StatusText(httpResp.StatusCode)
	}
	return phrase
}
