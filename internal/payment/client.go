package payment

import (
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// NewHTTPClient returns the outbound client used for processor calls. Requests
// carrying the API key in the query string are not traced by otelhttp so the
// key never lands in span attributes; those calls get their own spans.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 8
	return &http.Client{
		Timeout: timeout,
		Transport: otelhttp.NewTransport(transport,
			otelhttp.WithFilter(func(r *http.Request) bool {
				return !r.URL.Query().Has("api_key")
			}),
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return "tzsmmpay " + r.Method + " " + r.URL.Path
			}),
		),
	}
}
