package utils

import (
	"context"
	"errors"
	"net"
	"strings"
)

// --- Sentinel Errors for Categorization ---
var (
	ErrRequestValidation    = errors.New("request validation error")          // Nil request or missing method/URL
	ErrURLNotHTTP           = errors.New("URL is not HTTP(s)")                // Wraps the offending URL
	ErrAuthCredentials      = errors.New("mismatched basic auth credentials") // Username without password or vice versa
	ErrRedirectBudget       = errors.New("redirect budget is zero")           // Resolver refuses to start with max_redirect == 0
	ErrConfigValidation     = errors.New("configuration validation error")
	ErrAuditLog             = errors.New("request audit log error") // Wraps open/lock/write/chmod failures
	ErrUnsuccessfulResponse = errors.New("response was unsuccessful")
)

// CategorizeError maps an error to a predefined category string for logging/metrics.
func CategorizeError(err error) string {
	if err == nil {
		return "None"
	}

	// Check against sentinel errors first
	switch {
	case errors.Is(err, ErrRequestValidation):
		return "Request_Validation"
	case errors.Is(err, ErrURLNotHTTP):
		return "URL_NotHTTP"
	case errors.Is(err, ErrAuthCredentials):
		return "Auth_Credentials"
	case errors.Is(err, ErrRedirectBudget):
		return "Redirect_ZeroBudget"
	case errors.Is(err, ErrConfigValidation):
		return "Config_Validation"
	case errors.Is(err, ErrAuditLog):
		return "AuditLog_IO"
	case errors.Is(err, ErrUnsuccessfulResponse):
		return "HTTP_Unsuccessful"
	}

	// --- Fallback checks for common underlying error types/strings ---

	// Context errors
	if errors.Is(err, context.Canceled) {
		return "System_ContextCanceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "System_ContextDeadlineExceeded"
	}

	// Network errors (if not wrapped by custom sentinels)
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return "Network_Timeout"
		}
	}
	lowerErrMsg := strings.ToLower(err.Error())
	if strings.Contains(lowerErrMsg, "timeout") {
		return "Network_TimeoutGeneric"
	}
	if strings.Contains(lowerErrMsg, "connection refused") {
		return "Network_ConnectionRefused"
	}
	if strings.Contains(lowerErrMsg, "no such host") {
		return "Network_DNSLookup"
	}
	if strings.Contains(lowerErrMsg, "tls") || strings.Contains(lowerErrMsg, "certificate") {
		return "Network_TLS"
	}
	if strings.Contains(lowerErrMsg, "reset by peer") {
		return "Network_ConnectionReset"
	}
	if strings.Contains(lowerErrMsg, "broken pipe") {
		return "Network_BrokenPipe"
	}

	return "Unknown"
}
