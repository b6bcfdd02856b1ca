package config

import (
	"fmt"
	"regexp"
	"time"

	"github.com/mediacrawl/webagent/pkg/utils"
)

// Default session limits applied when the config leaves them unset.
const (
	DefaultOwner       = "webagent@localhost"
	DefaultUserAgent   = "webagent/1.0 (+https://github.com/mediacrawl/webagent)"
	DefaultTimeout     = 20 * time.Second
	DefaultMaxSize     = 10 * 1024 * 1024
	DefaultMaxRedirect = 15
	DefaultBurstSize   = 5
)

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	// Owner / UserAgent headers
	if c.Owner == "" {
		warnings = append(warnings, fmt.Sprintf("owner is empty, defaulting to '%s'", DefaultOwner))
		c.Owner = DefaultOwner
	}
	if c.UserAgent == "" {
		warnings = append(warnings, fmt.Sprintf("user_agent is empty, defaulting to '%s'", DefaultUserAgent))
		c.UserAgent = DefaultUserAgent
	}

	// DataDir
	if c.DataDir == "" {
		warnings = append(warnings, "data_dir is empty, defaulting to './data'")
		c.DataDir = "./data"
	}

	// Blacklist pattern must compile; a broken pattern would let requests that
	// should be blocked leak out, so this one is fatal.
	if c.BlacklistURLPattern != "" {
		if _, compileErr := regexp.Compile("(?i)" + c.BlacklistURLPattern); compileErr != nil {
			return warnings, fmt.Errorf("%w: blacklist_url_pattern does not compile: %v",
				utils.ErrConfigValidation, compileErr)
		}
	}

	// Authenticated domain entries must be complete
	for i, d := range c.CrawlerAuthenticatedDomains {
		if d.Domain == "" || d.User == "" || d.Password == "" {
			return warnings, fmt.Errorf(
				"%w: crawler_authenticated_domains[%d] needs domain, user and password",
				utils.ErrConfigValidation, i)
		}
	}

	// Session defaults
	if c.DefaultTimeout < 0 {
		warnings = append(warnings, "default_timeout cannot be negative, using 20s")
		c.DefaultTimeout = Duration(DefaultTimeout)
	}
	if c.DefaultTimeout == 0 {
		c.DefaultTimeout = Duration(DefaultTimeout)
	}
	if c.DefaultMaxSizeBytes < 0 {
		warnings = append(warnings, "default_max_size_bytes cannot be negative, using 10MB")
		c.DefaultMaxSizeBytes = DefaultMaxSize
	}
	if c.DefaultMaxSizeBytes == 0 {
		c.DefaultMaxSizeBytes = DefaultMaxSize
	}
	if c.DefaultMaxRedirect < 0 {
		warnings = append(warnings, "default_max_redirect cannot be negative, using 15")
		c.DefaultMaxRedirect = DefaultMaxRedirect
	}
	if c.DefaultMaxRedirect == 0 {
		c.DefaultMaxRedirect = DefaultMaxRedirect
	}

	// WebStore settings are required only for batch fetching, so absence is
	// fine here; negatives are still nonsense.
	if c.WebStore.NumParallel < 0 {
		warnings = append(warnings, "web_store.num_parallel cannot be negative, setting to 0 (unset)")
		c.WebStore.NumParallel = 0
	}
	if c.WebStore.Timeout < 0 {
		warnings = append(warnings, "web_store.timeout cannot be negative, setting to 0 (unset)")
		c.WebStore.Timeout = 0
	}
	if c.WebStore.PerDomainTimeout < 0 {
		warnings = append(warnings, "web_store.per_domain_timeout cannot be negative, setting to 0 (unset)")
		c.WebStore.PerDomainTimeout = 0
	}
	if c.WebStore.StaggerBurstSize <= 0 {
		c.WebStore.StaggerBurstSize = DefaultBurstSize
	}

	// HTTPClientSettings defaults
	c.validateHTTPClientSettings()

	return warnings, nil
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClientSettings
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 100
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = 2
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = Duration(90 * time.Second)
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = Duration(10 * time.Second)
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = Duration(1 * time.Second)
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = Duration(15 * time.Second)
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = Duration(30 * time.Second)
	}
}
