package payment_test

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-tzsmmpay/internal/order"
	"github.com/noah-isme/toko-tzsmmpay/internal/payment"
	"github.com/noah-isme/toko-tzsmmpay/internal/resilience"
)

// fakeProcessor mimics the processor API. Replies are raw bodies so tests can
// send malformed payloads.
type fakeProcessor struct {
	mu           sync.Mutex
	createStatus int
	createBody   string
	verifyStatus int
	verifyBody   string
	createForms  []url.Values
	verifyQuery  []url.Values
	srv          *httptest.Server
}

func newFakeProcessor(t *testing.T) *fakeProcessor {
	t.Helper()
	fp := &fakeProcessor{
		createStatus: http.StatusOK,
		createBody:   `{"payment_url":"https://proc.example/pay/abc"}`,
		verifyStatus: http.StatusOK,
		verifyBody:   `{"status":"Completed"}`,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/payment/create", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		fp.mu.Lock()
		fp.createForms = append(fp.createForms, r.PostForm)
		status, body := fp.createStatus, fp.createBody
		fp.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	})
	mux.HandleFunc("/api/payment/verify", func(w http.ResponseWriter, r *http.Request) {
		fp.mu.Lock()
		fp.verifyQuery = append(fp.verifyQuery, r.URL.Query())
		status, body := fp.verifyStatus, fp.verifyBody
		fp.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	})
	fp.srv = httptest.NewServer(mux)
	t.Cleanup(fp.srv.Close)
	return fp
}

func (fp *fakeProcessor) setCreate(status int, body string) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	fp.createStatus, fp.createBody = status, body
}

func (fp *fakeProcessor) setVerify(status int, body string) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	fp.verifyStatus, fp.verifyBody = status, body
}

func (fp *fakeProcessor) creates() []url.Values {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return append([]url.Values(nil), fp.createForms...)
}

func (fp *fakeProcessor) verifies() []url.Values {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return append([]url.Values(nil), fp.verifyQuery...)
}

func (fp *fakeProcessor) transport() *payment.Transport {
	return &payment.Transport{
		HTTP:    resilience.HTTPClient{Client: fp.srv.Client(), Timeout: 2 * time.Second},
		Timeout: 2 * time.Second,
	}
}

func (fp *fakeProcessor) verifier() *payment.Verifier {
	return &payment.Verifier{Transport: fp.transport(), BaseURL: fp.srv.URL}
}

func (fp *fakeProcessor) initiator() *payment.SessionInitiator {
	return &payment.SessionInitiator{
		Transport: fp.transport(),
		Validate:  payment.NewValidator(),
		Config: payment.GatewayConfig{
			APIKey:      "key-123",
			BaseURL:     fp.srv.URL,
			CallbackURL: "https://shop.example/api/v1/webhooks/payment/tzsmmpay",
			SuccessURL:  func(ref string) string { return "https://shop.example/orders/" + ref + "/received" },
			CancelURL:   "https://shop.example/checkout",
		},
	}
}

func pendingOrder(ref string) order.Order {
	return order.Order{
		Ref:           ref,
		Status:        order.StatusPending,
		Total:         decimal.RequireFromString("25.00"),
		Currency:      "USD",
		CustomerName:  "Rahim Uddin",
		CustomerEmail: "Rahim@Example.com",
	}
}

func (fp *fakeProcessor) initiatorWithBase(base string) *payment.SessionInitiator {
	return &payment.SessionInitiator{
		Validate: payment.NewValidator(),
		Config: payment.GatewayConfig{
			APIKey:      "key-123",
			BaseURL:     base,
			CallbackURL: "https://shop.example/api/v1/webhooks/payment/tzsmmpay",
			SuccessURL:  func(ref string) string { return "https://shop.example/orders/" + ref + "/received" },
			CancelURL:   "https://shop.example/checkout",
		},
	}
}
