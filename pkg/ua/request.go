// Package ua implements the web user agent: a single-request HTTP executor
// with blacklist substitution, request auditing, basic-auth injection,
// size-capped streaming downloads and determined retries, plus a redirect
// resolver that follows HTTP and HTML (application-layer) redirects.
package ua

import (
	"net/http"
)

// Request describes one outbound HTTP request. It is a plain value object;
// the executor never mutates a Request it was handed (blacklist substitution
// produces a derived copy).
type Request struct {
	method  string
	url     string
	headers http.Header
	content string

	// Basic-auth credentials. Both must be set together; the executor
	// rejects a mismatched pair (one empty, one not).
	authUsername string
	authPassword string
	hasAuth      bool
}

// NewRequest creates a Request for the given method and absolute URL.
func NewRequest(method string, url string) *Request {
	return &Request{
		method:  method,
		url:     url,
		headers: make(http.Header),
	}
}

// Method returns the HTTP method.
func (r *Request) Method() string {
	return r.method
}

// URL returns the request URL.
func (r *Request) URL() string {
	return r.url
}

// SetURL replaces the request URL.
func (r *Request) SetURL(url string) {
	r.url = url
}

// Header returns the first value of the named header.
func (r *Request) Header(name string) string {
	return r.headers.Get(name)
}

// SetHeader sets a header, replacing any existing value.
func (r *Request) SetHeader(name string, value string) {
	r.headers.Set(name, value)
}

// Headers returns the full header map.
func (r *Request) Headers() http.Header {
	return r.headers
}

// Content returns the request body content.
func (r *Request) Content() string {
	return r.content
}

// SetContent sets the request body content.
func (r *Request) SetContent(content string) {
	r.content = content
}

// SetAuth sets HTTP basic-auth credentials. The executor validates that
// username and password are either both empty or both non-empty.
func (r *Request) SetAuth(username string, password string) {
	r.authUsername = username
	r.authPassword = password
	r.hasAuth = true
}

// Auth returns the basic-auth credentials and whether any were set.
func (r *Request) Auth() (username string, password string, ok bool) {
	return r.authUsername, r.authPassword, r.hasAuth
}

// clone returns a copy of the request with its own header map, used for
// blacklist URL substitution so the caller's Request stays untouched.
func (r *Request) clone() *Request {
	dup := &Request{
		method:       r.method,
		url:          r.url,
		headers:      make(http.Header, len(r.headers)),
		content:      r.content,
		authUsername: r.authUsername,
		authPassword: r.authPassword,
		hasAuth:      r.hasAuth,
	}
	for name, values := range r.headers {
		for _, v := range values {
			dup.headers.Add(name, v)
		}
	}
	return dup
}
