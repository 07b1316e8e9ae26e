package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"pingup/internal/httputil"
	"pingup/internal/privacy"
	"pingup/internal/service"
	"pingup/internal/tracing"

	"github.com/sirupsen/logrus"
)

// DebugLoggingConfig controls what gets logged
type DebugLoggingConfig struct {
	LogRequestHeaders bool
	LogRequestBody    bool
	MaxBodySize       int
	SensitiveHeaders  []string
	SkipPrefixes      []string
}

// DefaultDebugLoggingConfig returns sensible defaults
func DefaultDebugLoggingConfig() DebugLoggingConfig {
	return DebugLoggingConfig{
		LogRequestHeaders: true,
		LogRequestBody:    true,
		MaxBodySize:       1024,
		SensitiveHeaders: []string{
			"authorization", "cookie", "x-pingup-signature",
		},
		SkipPrefixes: []string{
			"/metrics", "/health",
		},
	}
}

// DebugLoggingMiddleware logs request headers and small JSON bodies at
// debug level. Authorization headers are masked and JSON bodies pass
// through privacy masking.
func DebugLoggingMiddleware(logger *logrus.Logger, config DebugLoggingConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !logger.IsLevelEnabled(logrus.DebugLevel) || skipPath(r.URL.Path, config.SkipPrefixes) {
				next.ServeHTTP(w, r)
				return
			}

			fields := logrus.Fields{
				service.LogFieldRequestID: tracing.GetRequestID(r.Context()),
				service.LogFieldMethod:    r.Method,
				service.LogFieldURL:       r.URL.Path,
				service.LogFieldRemoteIP:  httputil.GetClientIP(r),
				"protocol":                r.Proto,
			}

			if config.LogRequestHeaders {
				headers := make(map[string]string, len(r.Header))
				for name, values := range r.Header {
					if isSensitiveHeader(name, config.SensitiveHeaders) {
						headers[name] = "***MASKED***"
					} else {
						headers[name] = strings.Join(values, ", ")
					}
				}
				fields["request_headers"] = headers
			}

			if config.LogRequestBody && isJSON(r) && r.ContentLength > 0 && r.ContentLength <= int64(config.MaxBodySize) {
				body, err := io.ReadAll(r.Body)
				if err == nil {
					r.Body = io.NopCloser(bytes.NewReader(body))
					fields["request_body"] = maskBody(body)
				}
			}

			logger.WithFields(fields).Debug("Request details")
			next.ServeHTTP(w, r)
		})
	}
}

func maskBody(body []byte) interface{} {
	var decoded map[string]interface{}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return privacy.MaskText(string(body))
	}
	return privacy.MaskSensitiveFields(decoded)
}

func skipPath(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func isSensitiveHeader(headerName string, sensitiveHeaders []string) bool {
	for _, sensitive := range sensitiveHeaders {
		if strings.EqualFold(sensitive, headerName) {
			return true
		}
	}
	return false
}

func isJSON(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
}
