package config

import (
	"strings"
)

// AuthenticatedDomain holds HTTP basic-auth credentials for one domain.
// The domain is matched case-insensitively against the distinctive domain
// of each requested URL.
type AuthenticatedDomain struct {
	Domain   string `yaml:"domain"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// Credentials is a resolved user/password pair.
type Credentials struct {
	User     string
	Password string
}

// WebStoreConfig holds the parallel batch-fetch settings. All three primary
// fields are required for batch fetching; they are validated at fetcher
// construction rather than config load so that single-request usage does not
// demand them.
type WebStoreConfig struct {
	NumParallel      int      `yaml:"num_parallel"`
	Timeout          Duration `yaml:"timeout"`
	PerDomainTimeout Duration `yaml:"per_domain_timeout"`
	StaggerBurstSize int      `yaml:"stagger_burst_size,omitempty"`
}

// AppConfig holds the global application configuration
type AppConfig struct {
	Owner                       string                `yaml:"owner"`      // Outbound From header
	UserAgent                   string                `yaml:"user_agent"` // Outbound User-Agent header
	DataDir                     string                `yaml:"data_dir"`   // Audit log lives at <data_dir>/logs/http_request.log
	BlacklistURLPattern         string                `yaml:"blacklist_url_pattern,omitempty"`
	CrawlerAuthenticatedDomains []AuthenticatedDomain `yaml:"crawler_authenticated_domains,omitempty"`
	WebStore                    WebStoreConfig        `yaml:"web_store,omitempty"`
	DefaultTimeout              Duration              `yaml:"default_timeout,omitempty"`
	DefaultMaxSizeBytes         int64                 `yaml:"default_max_size_bytes,omitempty"`
	DefaultMaxRedirect          int                   `yaml:"default_max_redirect,omitempty"`
	HTTPClientSettings          HTTPClientConfig      `yaml:"http_client_settings,omitempty"`
	LogLevel                    string                `yaml:"log_level,omitempty"`
}

// HTTPClientConfig holds settings for the underlying HTTP transport
type HTTPClientConfig struct {
	MaxIdleConns          int      `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost   int      `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout       Duration `yaml:"idle_conn_timeout,omitempty"`       // Timeout for idle connections
	TLSHandshakeTimeout   Duration `yaml:"tls_handshake_timeout,omitempty"`   // Timeout for TLS handshake
	ExpectContinueTimeout Duration `yaml:"expect_continue_timeout,omitempty"` // Timeout for 100-continue
	ForceAttemptHTTP2     *bool    `yaml:"force_attempt_http2,omitempty"`     // Explicitly enable/disable HTTP/2 attempt (use pointer for tri-state: nil=default, true=force, false=disable)
	DialerTimeout         Duration `yaml:"dialer_timeout,omitempty"`          // Connection dial timeout
	DialerKeepAlive       Duration `yaml:"dialer_keep_alive,omitempty"`       // TCP keep-alive interval
}

// AuthLookup builds a lowercase-domain → credentials map from the configured
// authenticated domains list. Callers build it once per client instance; the
// result is read-only after that.
func (c *AppConfig) AuthLookup() map[string]Credentials {
	if len(c.CrawlerAuthenticatedDomains) == 0 {
		return nil
	}
	lookup := make(map[string]Credentials, len(c.CrawlerAuthenticatedDomains))
	for _, d := range c.CrawlerAuthenticatedDomains {
		lookup[strings.ToLower(d.Domain)] = Credentials{User: d.User, Password: d.Password}
	}
	return lookup
}
