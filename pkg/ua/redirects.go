package ua

import (
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/mediacrawl/webagent/pkg/urlutil"
	"github.com/mediacrawl/webagent/pkg/utils"
)

// HTML (application-layer) redirect signals, checked in priority order.
// Each one inspects the decoded page content and/or the URL it was fetched
// from and returns the request to follow, or nil if the signal doesn't fire.
var htmlRedirectFuncs = []func(content string, sourceURL string) *Request{
	targetFromMetaRefresh,
	targetFromArchiveOrg,
	targetFromArchiveIs,
	targetFromLinkis,
	targetFromAlarabiya,
}

// GetFollowHTTPHTMLRedirects fetches a URL and resolves both HTTP redirects
// (followed transparently by the transport) and HTML redirects, up to the
// configured hop budget. A broken intermediate hop degrades to the first
// response rather than failing: one unreachable redirect target must not
// abort retrieval of the page that is reachable.
func (ua *UserAgent) GetFollowHTTPHTMLRedirects(rawURL string) (*Response, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("%w: URL is empty", utils.ErrRequestValidation)
	}

	rawURL = urlutil.FixCommonMistakes(rawURL)

	if !urlutil.IsHTTPURL(rawURL) {
		return nil, fmt.Errorf("%w: %s", utils.ErrURLNotHTTP, rawURL)
	}

	if ua.maxRedirect == 0 {
		return nil, fmt.Errorf(
			"%w: max redirect count is 0, resolution could loop indefinitely",
			utils.ErrRedirectBudget)
	}

	first, err := ua.Get(rawURL)
	if err != nil {
		return nil, err
	}

	if resolved := ua.followHTMLRedirects(first); resolved != nil {
		return resolved, nil
	}
	// One of the redirects failed, or nothing better was found behind a
	// paywall wrapper; fall back to the original response.
	return first, nil
}

// followHTMLRedirects walks HTML redirect hops starting from first. It
// returns nil when resolution should fall back to the first response.
func (ua *UserAgent) followHTMLRedirects(first *Response) *Response {
	current := first

	for budget := ua.maxRedirect; ; budget-- {
		if budget <= 0 {
			return ua.targetBehindPaywall(current)
		}

		if !current.IsSuccess() {
			ua.log.Debugf("Request to %s was unsuccessful: %s",
				current.Request().URL(), current.StatusLine())
			return nil
		}

		target := htmlRedirectTarget(current.Content(), current.Request().URL())
		if target == nil {
			// No redirect signal fired; the current URL is the final one.
			return current
		}
		ua.log.Debugf("URL after HTML redirects: %s", target.URL())

		next, err := ua.Execute(target)
		if err != nil {
			ua.log.Warnf("Failed to follow HTML redirect to %s: %v", target.URL(), err)
			return nil
		}

		// The follow-up fetch may have gone through HTTP redirects of its
		// own, so the prior response is stitched in at its chain's head.
		head := chainHead(next, ua.maxRedirect+1)
		if head == nil {
			ua.log.Warnf("Can't find the initial redirected response; URL: %s", target.URL())
			return nil
		}
		ua.log.Debugf("Setting previous of URL %s to %s",
			head.Request().URL(), current.Request().URL())
		head.SetPrevious(current)

		current = next
	}
}

// targetBehindPaywall is the recovery heuristic once the hop budget is
// exhausted: paywall and tracking redirectors tend to embed the original
// URL, encoded, inside their own redirect URLs. Walking the chain backward,
// the first prior hop whose encoded URL appears inside an already-scanned
// later URL is assumed to be the real target. Returns nil if no hop's URL is
// embedded that way.
func (ua *UserAgent) targetBehindPaywall(last *Response) *Response {
	var urlsRedirectedTo []string

	current := last
	for i := 0; i <= ua.maxRedirect; i++ {
		previous := current.Previous()
		if previous == nil {
			break
		}

		urlRedirectedTo := previous.Request().URL()
		encodedURL := strings.ToLower(url.QueryEscape(urlRedirectedTo))

		for _, redirURL := range urlsRedirectedTo {
			if strings.Contains(strings.ToLower(redirURL), encodedURL) {
				ua.log.Debugf(
					"Encoded URL %s is a substring of another URL %s, assuming %s is the correct one",
					encodedURL, redirURL, urlRedirectedTo)
				return previous
			}
		}

		urlsRedirectedTo = append(urlsRedirectedTo, urlRedirectedTo)
		current = previous
	}

	return nil
}

// htmlRedirectTarget returns the first redirect signal that yields a URL
// different from the one the page was fetched from.
func htmlRedirectTarget(content string, sourceURL string) *Request {
	for _, redirectFunc := range htmlRedirectFuncs {
		if req := redirectFunc(content, sourceURL); req != nil && req.URL() != sourceURL {
			return req
		}
	}
	return nil
}

// chainHead walks the previous-chain to its first response, giving up after
// maxSteps links (a longer chain than the transport could have produced
// indicates a malformed chain).
func chainHead(resp *Response, maxSteps int) *Response {
	head := resp
	for i := 0; i < maxSteps; i++ {
		if head.Previous() == nil {
			return head
		}
		head = head.Previous()
	}
	if head.Previous() == nil {
		return head
	}
	return nil
}

var metaRefreshContentRe = regexp.MustCompile(`(?i)^\s*\d+\s*[;,]\s*url\s*=\s*['"]?\s*([^'"]+?)\s*['"]?\s*$`)

// targetFromMetaRefresh extracts the target of an HTML
// <meta http-equiv="refresh" content="0; url=..."> tag, resolved against the
// URL the page was fetched from.
func targetFromMetaRefresh(content string, sourceURL string) *Request {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return nil
	}

	var target string
	doc.Find("meta").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if equiv, _ := s.Attr("http-equiv"); !strings.EqualFold(equiv, "refresh") {
			return true
		}
		refresh, ok := s.Attr("content")
		if !ok {
			return true
		}
		if m := metaRefreshContentRe.FindStringSubmatch(refresh); m != nil {
			target = m[1]
			return false
		}
		return true
	})
	if target == "" {
		return nil
	}

	absolute := resolveURL(sourceURL, target)
	if absolute == "" {
		return nil
	}
	return NewRequest(http.MethodGet, absolute)
}

var archiveOrgRe = regexp.MustCompile(`(?i)^https?://web\.archive\.org/web/(\d+?/)?(https?://.+?)$`)

// targetFromArchiveOrg unwraps Wayback Machine URLs, which carry the
// archived page's URL verbatim after the snapshot timestamp.
func targetFromArchiveOrg(_ string, sourceURL string) *Request {
	m := archiveOrgRe.FindStringSubmatch(sourceURL)
	if m == nil {
		return nil
	}
	return NewRequest(http.MethodGet, m[2])
}

var archiveIsRe = regexp.MustCompile(`(?i)^https?://archive\.is/(.+?)$`)

// targetFromArchiveIs unwraps archive.is snapshots via the canonical link
// the snapshot page declares.
func targetFromArchiveIs(content string, sourceURL string) *Request {
	if !archiveIsRe.MatchString(sourceURL) {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return nil
	}
	canonical, ok := doc.Find(`link[rel="canonical"]`).Attr("href")
	if !ok || !urlutil.IsHTTPURL(canonical) {
		return nil
	}
	return NewRequest(http.MethodGet, canonical)
}

var (
	linkisRe        = regexp.MustCompile(`(?i)^https?://[^/]*linkis\.com/`)
	linkisLongURLRe = regexp.MustCompile(`"longUrl":\s*"([^"]+)"`)
)

// targetFromLinkis unwraps linkis.com social-share wrappers. The wrapped URL
// shows up in one of several places depending on the content type the
// wrapper recognized.
func targetFromLinkis(content string, sourceURL string) *Request {
	if !linkisRe.MatchString(sourceURL) {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return nil
	}

	if target, ok := doc.Find(`meta[property="og:url"]`).Attr("content"); ok && target != "" {
		return NewRequest(http.MethodGet, target)
	}
	if target, ok := doc.Find("a.js-youtube-ln-event").Attr("href"); ok && target != "" {
		return NewRequest(http.MethodGet, target)
	}
	if target, ok := doc.Find("iframe#source_site").Attr("src"); ok && target != "" {
		return NewRequest(http.MethodGet, target)
	}
	if m := linkisLongURLRe.FindStringSubmatch(content); m != nil {
		return NewRequest(http.MethodGet, strings.ReplaceAll(m[1], `\/`, "/"))
	}
	return nil
}

var (
	alarabiyaRe = regexp.MustCompile(`(?i)^https?://[^/]*alarabiya\.net/`)
	setCookieRe = regexp.MustCompile(`setCookie\('([^']+)',\s*'([^']+)'`)
)

// targetFromAlarabiya handles the alarabiya.net cookie interstitial: the
// page sets a cookie via JavaScript and expects a reload with it. The
// returned request targets the same URL, so it only takes effect through the
// cookie header it carries.
func targetFromAlarabiya(content string, sourceURL string) *Request {
	if !alarabiyaRe.MatchString(sourceURL) {
		return nil
	}
	m := setCookieRe.FindStringSubmatch(content)
	if m == nil {
		return nil
	}
	req := NewRequest(http.MethodGet, sourceURL)
	req.SetHeader("Cookie", m[1]+"="+m[2])
	return req
}

// resolveURL resolves a possibly-relative redirect target against the URL
// of the page it appeared on, returning "" unless the result is http(s).
func resolveURL(sourceURL string, target string) string {
	base, err := url.Parse(sourceURL)
	if err != nil {
		return ""
	}
	ref, err := url.Parse(strings.TrimSpace(target))
	if err != nil {
		return ""
	}
	absolute := base.ResolveReference(ref)
	scheme := strings.ToLower(absolute.Scheme)
	if scheme != "http" && scheme != "https" {
		return ""
	}
	return absolute.String()
}
