package log

import (
	"log/slog"
	"net/http"
	"time"
)

// NewHTTPClient returns an HTTP client that logs every upstream request at
// debug level. Provider SDKs receive it when agentround runs with --debug.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Transport: &loggingTransport{next: http.DefaultTransport},
	}
}

type loggingTransport struct {
	next http.RoundTripper
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.next.RoundTrip(req)
	if err != nil {
		slog.Debug("Upstream request failed",
			"method", req.Method,
			"url", req.URL.Redacted(),
			"duration", time.Since(start),
			"error", err,
		)
		return nil, err
	}
	slog.Debug("Upstream request",
		"method", req.Method,
		"url", req.URL.Redacted(),
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)
	return resp, nil
}
