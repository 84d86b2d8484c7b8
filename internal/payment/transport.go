package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultTimeout bounds every outbound processor call.
	DefaultTimeout  = 45 * time.Second
	maxResponseBody = 1 << 20
)

// Doer executes outbound requests. resilience.HTTPClient satisfies it.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Transport performs the two call shapes the processor API needs: a
// form-encoded POST and a query-string GET, both answering with a JSON object.
type Transport struct {
	HTTP      Doer
	Timeout   time.Duration
	UserAgent string
}

// PostForm sends fields as an application/x-www-form-urlencoded body.
func (t *Transport) PostForm(ctx context.Context, endpoint string, fields url.Values) (map[string]any, error) {
	req, err := http.NewRequest(http.MethodPost, endpoint, strings.NewReader(fields.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return t.do(ctx, req)
}

// GetQuery sends params in the query string, replacing any query already on endpoint.
func (t *Transport) GetQuery(ctx context.Context, endpoint string, params url.Values) (map[string]any, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: parse url: %v", ErrTransport, err)
	}
	u.RawQuery = params.Encode()
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrTransport, err)
	}
	return t.do(ctx, req)
}

func (t *Transport) do(ctx context.Context, req *http.Request) (map[string]any, error) {
	if t == nil || t.HTTP == nil {
		return nil, fmt.Errorf("%w: http client not configured", ErrTransport)
	}
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req.Header.Set("Accept", "application/json")
	if t.UserAgent != "" {
		req.Header.Set("User-Agent", t.UserAgent)
	}
	resp, err := t.HTTP.Do(ctx, req.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, redactURL(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("%w: unexpected status %d", ErrTransport, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrTransport, err)
	}
	return decodeObject(body)
}

// redactURL drops the query string from url errors; it carries the API key.
func redactURL(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		if u, perr := url.Parse(uerr.URL); perr == nil && u.RawQuery != "" {
			u.RawQuery = ""
			uerr.URL = u.String()
		}
	}
	return err
}

func decodeObject(body []byte) (map[string]any, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrInvalidResponse)
	}
	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if out == nil {
		return nil, fmt.Errorf("%w: body is not a JSON object", ErrInvalidResponse)
	}
	return out, nil
}

// stringField reads key from a decoded body, accepting strings and numbers.
func stringField(body map[string]any, key string) string {
	switch v := body[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strings.TrimSpace(fmt.Sprintf("%v", v))
	case json.Number:
		return v.String()
	default:
		return ""
	}
}
