package webstore

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/mediacrawl/webagent/pkg/urlutil"
)

// scheduledURL is a URL paired with its scheduled offset from batch start.
type scheduledURL struct {
	url    string
	offset time.Duration
}

var (
	countryTLDRe  = regexp.MustCompile(`\...$`)
	multiTenantRe = regexp.MustCompile(`localhost|blogspot\.com|wordpress\.com`)
)

// urlDomain derives the effective domain a URL is throttled under. Non-HTTP
// URLs key on themselves so they sort together without merging with real
// domains; two-letter country TLDs keep three labels; large multi-tenant
// hosts key on the whole URL since each sub-site is an independent origin;
// everything else keeps the last two labels.
func urlDomain(rawURL string) string {
	if !urlutil.IsHTTPURL(rawURL) {
		return strings.ToLower(rawURL)
	}

	host := urlutil.Host(rawURL)
	parts := strings.Split(host, ".")
	n := len(parts) - 1

	var domain string
	switch {
	case countryTLDRe.MatchString(host):
		domain = label(parts, n-2) + "." + label(parts, n-1) + "." + label(parts, 0)
	case multiTenantRe.MatchString(host):
		domain = rawURL
	default:
		domain = label(parts, n-1) + "." + label(parts, n)
	}
	return strings.ToLower(domain)
}

// label indexes into host labels with wraparound, so hosts with fewer
// labels than the domain shape expects still produce a stable key.
func label(parts []string, i int) string {
	n := len(parts)
	return parts[((i%n)+n)%n]
}

// scheduleURLs buckets URLs by effective domain (preserving arrival order)
// and assigns each one an offset from batch start. Within a bucket, every
// burstSize-th URL advances the running offset by perDomainTimeout after
// taking its own, yielding bursts of up to burstSize same-domain requests
// per throttle tick. The result is sorted ascending by offset, stable with
// respect to bucket order on ties.
func scheduleURLs(urls []string, perDomainTimeout time.Duration, burstSize int) []scheduledURL {
	domainURLs := make(map[string][]string)
	var domainOrder []string

	for _, u := range urls {
		domain := urlDomain(u)
		if _, seen := domainURLs[domain]; !seen {
			domainOrder = append(domainOrder, domain)
		}
		domainURLs[domain] = append(domainURLs[domain], u)
	}

	var scheduled []scheduledURL
	for _, domain := range domainOrder {
		offset := time.Duration(0)
		for i, u := range domainURLs[domain] {
			scheduled = append(scheduled, scheduledURL{url: u, offset: offset})
			if i%burstSize == 0 {
				offset += perDomainTimeout
			}
		}
	}

	sort.SliceStable(scheduled, func(i, j int) bool {
		return scheduled[i].offset < scheduled[j].offset
	})

	return scheduled
}

// partitionURLs splits the scheduled list into per-worker blocks by popping
// from the end of the list and assigning each popped entry to block
// (remaining-count mod numParallel). The reverse-order round-robin is kept
// exactly as-is for behavioral compatibility; blockOrder records the order
// in which blocks first appeared, which is also the result concatenation
// order.
func partitionURLs(scheduled []scheduledURL, numParallel int) (blocks map[int][]scheduledURL, blockOrder []int) {
	blocks = make(map[int][]scheduledURL)

	stack := append([]scheduledURL(nil), scheduled...)
	for len(stack) > 0 {
		blockIndex := len(stack) % numParallel

		if _, seen := blocks[blockIndex]; !seen {
			blockOrder = append(blockOrder, blockIndex)
		}

		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		blocks[blockIndex] = append(blocks[blockIndex], top)
	}

	return blocks, blockOrder
}
