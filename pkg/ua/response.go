package ua

import (
	"fmt"
	"net/http"
	"strings"
)

// Response describes one inbound HTTP response. Responses that went through
// redirects form a singly-linked backward chain via Previous; callers hold
// the last response and walk toward the first hop.
type Response struct {
	statusCode    int
	statusMessage string
	headers       http.Header
	content       string

	// True when the fault originated in the requesting process (timeout,
	// connection failure) rather than in the remote server's response.
	errorIsClientSide bool

	request  *Request
	previous *Response
}

// NewResponse creates a Response with the given status code, reason phrase
// and headers. A nil header map is replaced with an empty one.
func NewResponse(statusCode int, statusMessage string, headers http.Header) *Response {
	if headers == nil {
		headers = make(http.Header)
	}
	return &Response{
		statusCode:    statusCode,
		statusMessage: statusMessage,
		headers:       headers,
	}
}

// newClientSideErrorResponse builds the synthetic 400 response the executor
// returns for transport-level faults (DNS failure, connection refused,
// malformed request).
func newClientSideErrorResponse(req *Request, content string) *Response {
	resp := NewResponse(http.StatusBadRequest, "Client-side error", nil)
	resp.headers.Set("Client-Warning", "Client-side error")
	resp.content = content
	resp.errorIsClientSide = true
	resp.request = req
	return resp
}

// NewFailedResponse builds a synthetic client-side-error Response for a URL
// that could not be fetched at all (bad scheme, unparseable URL). Batch
// fetching uses it so that one broken URL never fails a whole batch.
func NewFailedResponse(rawURL string, err error) *Response {
	return newClientSideErrorResponse(NewRequest(http.MethodGet, rawURL), err.Error())
}

// StatusCode returns the HTTP status code.
func (r *Response) StatusCode() int {
	return r.statusCode
}

// StatusMessage returns the reason phrase ("OK", "Not Found", ...).
func (r *Response) StatusMessage() string {
	return r.statusMessage
}

// StatusLine returns "<code> <message>", e.g. "200 OK".
func (r *Response) StatusLine() string {
	return fmt.Sprintf("%d %s", r.statusCode, r.statusMessage)
}

// IsSuccess reports whether the status code is in the 2xx range.
func (r *Response) IsSuccess() bool {
	return r.statusCode >= 200 && r.statusCode < 300
}

// Header returns the first value of the named header.
func (r *Response) Header(name string) string {
	return r.headers.Get(name)
}

// Headers returns the full header map.
func (r *Response) Headers() http.Header {
	return r.headers
}

// ContentType returns the media type portion of the Content-Type header,
// without parameters.
func (r *Response) ContentType() string {
	ct := r.headers.Get("Content-Type")
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.TrimSpace(ct)
}

// Content returns the decoded (UTF-8) body content.
func (r *Response) Content() string {
	return r.content
}

// SetContent sets the decoded body content.
func (r *Response) SetContent(content string) {
	r.content = content
}

// ErrorIsClientSide reports whether the failure originated client-side.
func (r *Response) ErrorIsClientSide() bool {
	return r.errorIsClientSide
}

// SetErrorIsClientSide marks the response as a client-side failure.
func (r *Response) SetErrorIsClientSide(clientSide bool) {
	r.errorIsClientSide = clientSide
}

// Request returns the request that produced this response. After redirects
// this reflects the final hop's (post-redirect) request.
func (r *Response) Request() *Request {
	return r.request
}

// SetRequest sets the originating request.
func (r *Response) SetRequest(req *Request) {
	r.request = req
}

// Previous returns the response earlier in the redirect chain, or nil if
// this is the first hop.
func (r *Response) Previous() *Response {
	return r.previous
}

// SetPrevious links the response that preceded this one in the chain.
func (r *Response) SetPrevious(previous *Response) {
	r.previous = previous
}

// OriginalRequest walks the Previous chain to its head and returns that
// response's request, i.e. the request as it was before any redirects.
func (r *Response) OriginalRequest() *Request {
	first := r
	for first.previous != nil {
		first = first.previous
	}
	return first.request
}
