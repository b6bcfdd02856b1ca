package ua

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediacrawl/webagent/pkg/config"
	"github.com/mediacrawl/webagent/pkg/utils"
)

// testLogger returns a logger entry that discards output.
func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

// testConfig returns a minimal valid config rooted in a per-test temp dir.
func testConfig(t *testing.T) *config.AppConfig {
	t.Helper()
	cfg := &config.AppConfig{
		Owner:     "tests@example.com",
		UserAgent: "webagent-test/1.0",
		DataDir:   t.TempDir(),
	}
	_, err := cfg.Validate()
	require.NoError(t, err)
	return cfg
}

// newTestAgent builds a UserAgent over testConfig, with optional config
// mutations applied before construction.
func newTestAgent(t *testing.T, mutate ...func(*config.AppConfig)) *UserAgent {
	t.Helper()
	cfg := testConfig(t)
	for _, m := range mutate {
		m(cfg)
	}
	agent, err := New(cfg, testLogger())
	require.NoError(t, err)
	return agent
}

func TestGet_RoundTrip(t *testing.T) {
	tests := []struct {
		name        string
		path        string
		handler     http.HandlerFunc
		wantStatus  int
		wantMessage string
		wantBody    string
	}{
		{
			name: "200 OK",
			path: "/ok",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/html; charset=utf-8")
				fmt.Fprint(w, "<html>hello</html>")
			},
			wantStatus:  200,
			wantMessage: "OK",
			wantBody:    "<html>hello</html>",
		},
		{
			name: "404 Not Found",
			path: "/missing",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "no such page", http.StatusNotFound)
			},
			wantStatus:  404,
			wantMessage: "Not Found",
			wantBody:    "no such page\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			agent := newTestAgent(t)
			resp, err := agent.Get(srv.URL + tt.path)
			require.NoError(t, err)

			assert.Equal(t, tt.wantStatus, resp.StatusCode())
			assert.Equal(t, tt.wantMessage, resp.StatusMessage())
			assert.Equal(t, fmt.Sprintf("%d %s", tt.wantStatus, tt.wantMessage), resp.StatusLine())
			assert.Equal(t, tt.wantBody, resp.Content())
			assert.False(t, resp.ErrorIsClientSide())
			assert.Equal(t, srv.URL+tt.path, resp.Request().URL())
			assert.Nil(t, resp.Previous())
		})
	}
}

func TestGet_SendsDefaultHeaders(t *testing.T) {
	var gotFrom, gotUA, gotCharset string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotFrom = r.Header.Get("From")
		gotUA = r.Header.Get("User-Agent")
		gotCharset = r.Header.Get("Accept-Charset")
	}))
	defer srv.Close()

	agent := newTestAgent(t)
	_, err := agent.Get(srv.URL + "/")
	require.NoError(t, err)

	assert.Equal(t, "tests@example.com", gotFrom)
	assert.Equal(t, "webagent-test/1.0", gotUA)
	assert.Equal(t, "utf-8", gotCharset)
}

func TestGet_NonHTTPURL(t *testing.T) {
	agent := newTestAgent(t)

	for _, u := range []string{
		"gopher://gopher.floodgap.com/",
		"ftp://ftp.example.com/file",
		"totally not a url",
	} {
		_, err := agent.Get(u)
		assert.ErrorIs(t, err, utils.ErrURLNotHTTP, "URL: %s", u)
	}

	_, err := agent.Get("")
	assert.ErrorIs(t, err, utils.ErrRequestValidation)
}

func TestGet_RepairsCommonMistakes(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
	}))
	defer srv.Close()

	agent := newTestAgent(t)
	// Doubled scheme is repaired before dispatch.
	_, err := agent.Get("http://" + srv.URL + "/fixed")
	require.NoError(t, err)
	assert.Equal(t, "/fixed", gotPath)
}

func TestGetString(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ok" {
			fmt.Fprint(w, "body content")
			return
		}
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	agent := newTestAgent(t)

	body, err := agent.GetString(srv.URL + "/ok")
	require.NoError(t, err)
	assert.Equal(t, "body content", body)

	_, err = agent.GetString(srv.URL + "/gone")
	assert.ErrorIs(t, err, utils.ErrUnsuccessfulResponse)
}

func TestExecute_Validation(t *testing.T) {
	agent := newTestAgent(t)

	_, err := agent.Execute(nil)
	assert.ErrorIs(t, err, utils.ErrRequestValidation)

	_, err = agent.Execute(NewRequest("", "http://example.com/"))
	assert.ErrorIs(t, err, utils.ErrRequestValidation)

	_, err = agent.Execute(NewRequest(http.MethodGet, ""))
	assert.ErrorIs(t, err, utils.ErrRequestValidation)
}

func TestExecute_AuthPairMismatch(t *testing.T) {
	agent := newTestAgent(t)

	req := NewRequest(http.MethodGet, "http://example.com/")
	req.SetAuth("alice", "")
	_, err := agent.Execute(req)
	assert.ErrorIs(t, err, utils.ErrAuthCredentials)

	req = NewRequest(http.MethodGet, "http://example.com/")
	req.SetAuth("", "secret")
	_, err = agent.Execute(req)
	assert.ErrorIs(t, err, utils.ErrAuthCredentials)
}

func TestExecute_BasicAuthReachesServer(t *testing.T) {
	var gotUser, gotPass string
	var gotOK bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotPass, gotOK = r.BasicAuth()
	}))
	defer srv.Close()

	agent := newTestAgent(t)
	req := NewRequest(http.MethodGet, srv.URL+"/private")
	req.SetAuth("alice", "s3cret")

	_, err := agent.Execute(req)
	require.NoError(t, err)

	require.True(t, gotOK)
	assert.Equal(t, "alice", gotUser)
	assert.Equal(t, "s3cret", gotPass)
}

func TestGet_InjectsConfiguredDomainAuth(t *testing.T) {
	var gotUser string
	var gotOK bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, _, gotOK = r.BasicAuth()
	}))
	defer srv.Close()

	// "0.1" is the distinctive domain of the 127.0.0.1 test server host.
	agent := newTestAgent(t, func(cfg *config.AppConfig) {
		cfg.CrawlerAuthenticatedDomains = []config.AuthenticatedDomain{
			{Domain: "0.1", User: "bob", Password: "hunter2"},
		}
	})

	_, err := agent.Get(srv.URL + "/")
	require.NoError(t, err)

	require.True(t, gotOK)
	assert.Equal(t, "bob", gotUser)
}

func TestExecute_BlacklistedURLNeverReachesHost(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	agent := newTestAgent(t, func(cfg *config.AppConfig) {
		cfg.BlacklistURLPattern = `127\.0\.0\.1`
	})

	req := NewRequest(http.MethodGet, srv.URL+"/secret")
	resp, err := agent.Execute(req)
	require.NoError(t, err)

	// The real host was never dialed; the synthetic blacklist host was.
	assert.Equal(t, int32(0), hits.Load())
	assert.True(t, strings.HasPrefix(resp.Request().URL(), blacklistedHostPrefix))
	assert.True(t, resp.ErrorIsClientSide())

	// The caller's request was not mutated.
	assert.Equal(t, srv.URL+"/secret", req.URL())
}

func TestExecute_BodyTruncatedAtMaxSize(t *testing.T) {
	body := strings.Repeat("x", 1000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	agent := newTestAgent(t)
	require.NoError(t, agent.SetMaxSize(100))

	resp, err := agent.Get(srv.URL + "/big")
	require.NoError(t, err)

	// Reading stops as soon as the accumulated size first exceeds the cap.
	assert.Equal(t, 200, resp.StatusCode())
	assert.Len(t, resp.Content(), 101)
	assert.False(t, resp.ErrorIsClientSide())
}

func TestExecute_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	agent := newTestAgent(t)
	require.NoError(t, agent.SetTimeout(50*time.Millisecond))

	resp, err := agent.Get(srv.URL + "/slow")
	require.NoError(t, err)

	assert.Equal(t, http.StatusRequestTimeout, resp.StatusCode())
	assert.True(t, resp.ErrorIsClientSide())
	assert.NotEmpty(t, resp.Content())
}

func TestExecute_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	deadURL := srv.URL
	srv.Close()

	agent := newTestAgent(t)
	resp, err := agent.Get(deadURL + "/")
	require.NoError(t, err)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode())
	assert.Equal(t, "Client-side error", resp.StatusMessage())
	assert.Equal(t, "Client-side error", resp.Header("Client-Warning"))
	assert.True(t, resp.ErrorIsClientSide())
}

func TestExecute_RedirectChain(t *testing.T) {
	const hops = 3
	mux := http.NewServeMux()
	for i := 0; i < hops; i++ {
		next := fmt.Sprintf("/hop%d", i+1)
		mux.HandleFunc(fmt.Sprintf("/hop%d", i), func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, next, http.StatusMovedPermanently)
		})
	}
	mux.HandleFunc(fmt.Sprintf("/hop%d", hops), func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "landed")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	agent := newTestAgent(t)
	resp, err := agent.Get(srv.URL + "/hop0")
	require.NoError(t, err)

	assert.Equal(t, 200, resp.StatusCode())
	assert.Equal(t, "landed", resp.Content())
	assert.Equal(t, srv.URL+fmt.Sprintf("/hop%d", hops), resp.Request().URL())

	// The previous chain has exactly one link per redirect hop and
	// terminates at the original request.
	var chainLinks int
	first := resp
	for first.Previous() != nil {
		first = first.Previous()
		chainLinks++
		assert.Equal(t, http.StatusMovedPermanently, first.StatusCode())
	}
	assert.Equal(t, hops, chainLinks)
	assert.Equal(t, srv.URL+"/hop0", first.Request().URL())
	assert.Equal(t, srv.URL+"/hop0", resp.OriginalRequest().URL())
}

func TestExecute_TooManyRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/loop", http.StatusFound)
	}))
	defer srv.Close()

	agent := newTestAgent(t)
	require.NoError(t, agent.SetMaxRedirect(2))

	// Give up and return the last fetched page, not an error.
	resp, err := agent.Get(srv.URL + "/loop")
	require.NoError(t, err)
	assert.Equal(t, http.StatusFound, resp.StatusCode())
	assert.False(t, resp.ErrorIsClientSide())
}

func TestSetTiming_RetriesDeterminedCodes(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, "recovered")
	}))
	defer srv.Close()

	agent := newTestAgent(t)
	agent.SetTiming([]time.Duration{time.Millisecond, 2 * time.Millisecond})

	resp, err := agent.Get(srv.URL + "/flaky")
	require.NoError(t, err)

	assert.Equal(t, 200, resp.StatusCode())
	assert.Equal(t, "recovered", resp.Content())
	assert.Equal(t, int32(3), hits.Load())
}

func TestSetTiming_DoesNotRetryOtherCodes(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	agent := newTestAgent(t)
	agent.SetTiming([]time.Duration{time.Millisecond, 2 * time.Millisecond})

	resp, err := agent.Get(srv.URL + "/missing")
	require.NoError(t, err)

	assert.Equal(t, 404, resp.StatusCode())
	assert.Equal(t, int32(1), hits.Load())
}

func TestSetTiming_RetriesExhausted(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	agent := newTestAgent(t)
	agent.SetTiming([]time.Duration{time.Millisecond})

	resp, err := agent.Get(srv.URL + "/down")
	require.NoError(t, err)

	// One retry on top of the initial attempt, then the response surfaces.
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode())
	assert.Equal(t, int32(2), hits.Load())
}

func TestExecute_AuditLogRecordsRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	cfg := testConfig(t)
	agent, err := New(cfg, testLogger())
	require.NoError(t, err)

	_, err = agent.Get(srv.URL + "/audited")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(cfg.DataDir, "logs", "http_request.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), srv.URL+"/audited")
}

func TestSessionSetters(t *testing.T) {
	agent := newTestAgent(t)

	// Defaults
	assert.Equal(t, 20*time.Second, agent.Timeout())
	assert.Equal(t, 15, agent.MaxRedirect())
	assert.Equal(t, int64(10*1024*1024), agent.MaxSize())
	assert.Nil(t, agent.Timing())

	require.NoError(t, agent.SetTimeout(time.Minute))
	assert.Equal(t, time.Minute, agent.Timeout())
	assert.ErrorIs(t, agent.SetTimeout(-time.Second), utils.ErrConfigValidation)

	require.NoError(t, agent.SetMaxRedirect(0))
	assert.Equal(t, 0, agent.MaxRedirect())
	assert.ErrorIs(t, agent.SetMaxRedirect(-1), utils.ErrConfigValidation)

	require.NoError(t, agent.SetMaxSize(0))
	assert.Equal(t, int64(0), agent.MaxSize())
	assert.ErrorIs(t, agent.SetMaxSize(-1), utils.ErrConfigValidation)

	agent.SetTiming([]time.Duration{time.Second, 3 * time.Second})
	assert.Equal(t, []time.Duration{time.Second, 3 * time.Second}, agent.Timing())
	agent.SetTiming(nil)
	assert.Nil(t, agent.Timing())
}
