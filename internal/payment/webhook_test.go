package payment_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-tzsmmpay/internal/events"
	"github.com/noah-isme/toko-tzsmmpay/internal/order"
	"github.com/noah-isme/toko-tzsmmpay/internal/payment"
)

// recordingStore wraps MemoryStore and counts calls so tests can assert that
// nothing was touched.
type recordingStore struct {
	*order.MemoryStore
	mu        sync.Mutex
	finds     int
	mutations int
	findErr   error
}

func (s *recordingStore) FindByID(ctx context.Context, ref string) (order.Order, error) {
	s.mu.Lock()
	s.finds++
	err := s.findErr
	s.mu.Unlock()
	if err != nil {
		return order.Order{}, err
	}
	return s.MemoryStore.FindByID(ctx, ref)
}

func (s *recordingStore) MarkPaid(ctx context.Context, ref, trxID string) (bool, error) {
	s.count()
	return s.MemoryStore.MarkPaid(ctx, ref, trxID)
}

func (s *recordingStore) MarkFailed(ctx context.Context, ref, reason string) (bool, error) {
	s.count()
	return s.MemoryStore.MarkFailed(ctx, ref, reason)
}

func (s *recordingStore) AppendNote(ctx context.Context, ref, text string) error {
	s.count()
	return s.MemoryStore.AppendNote(ctx, ref, text)
}

func (s *recordingStore) count() {
	s.mu.Lock()
	s.mutations++
	s.mu.Unlock()
}

type webhookFixture struct {
	fp     *fakeProcessor
	store  *recordingStore
	events *events.MemoryStore
	h      *payment.WebhookHandler
}

func newWebhookFixture(t *testing.T, seed ...order.Order) *webhookFixture {
	t.Helper()
	fp := newFakeProcessor(t)
	store := &recordingStore{MemoryStore: order.NewMemoryStore(seed...)}
	evStore := events.NewMemoryStore(0)
	return &webhookFixture{
		fp:     fp,
		store:  store,
		events: evStore,
		h: &payment.WebhookHandler{
			Orders:   store,
			Verifier: fp.verifier(),
			APIKey:   "key-123",
			Events:   &events.Bus{Store: evStore},
			Validate: payment.NewValidator(),
		},
	}
}

func (f *webhookFixture) order(t *testing.T, ref string) order.Order {
	t.Helper()
	ord, err := f.store.MemoryStore.FindByID(context.Background(), ref)
	require.NoError(t, err)
	return ord
}

func (f *webhookFixture) topics() []string {
	var out []string
	for _, ev := range f.events.Events() {
		out = append(out, ev.Topic)
	}
	return out
}

func postForm(h http.HandlerFunc, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payment/tzsmmpay", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestWebhookCompletedAndVerifiedMarksPaid(t *testing.T) {
	f := newWebhookFixture(t, pendingOrder("1042"))

	rec := postForm(f.h.Handle, url.Values{"cus_number": {"1042"}, "status": {"Completed"}, "trx_id": {"T1"}})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, payment.BodySuccess, rec.Body.String())
	require.Contains(t, rec.Header().Get("Content-Type"), "text/plain")

	ord := f.order(t, "1042")
	require.Equal(t, order.StatusPaid, ord.Status)
	require.Equal(t, "T1", ord.TransactionID)
	require.Len(t, ord.Notes, 1)
	require.Equal(t, payment.NotePaymentVerified, ord.Notes[0].Body)
	require.Equal(t, []string{events.TopicOrderPaid}, f.topics())
	require.Equal(t, "T1", f.fp.verifies()[0].Get("trx_id"))
}

func TestWebhookVerificationDisagreesMarksFailed(t *testing.T) {
	f := newWebhookFixture(t, pendingOrder("1042"))
	f.fp.setVerify(http.StatusOK, `{"status":"Pending"}`)

	out := f.h.Process(context.Background(), payment.WebhookPayload{OrderRef: "1042", Status: "Completed", TransactionID: "T1"})
	require.Equal(t, http.StatusPaymentRequired, out.HTTPStatus)
	require.Equal(t, payment.BodyVerificationFailed, out.Body)
	require.ErrorIs(t, out.Err, payment.ErrVerificationMismatch)

	ord := f.order(t, "1042")
	require.Equal(t, order.StatusFailed, ord.Status)
	require.Len(t, ord.Notes, 1)
	require.Equal(t, payment.ReasonVerificationFailed, ord.Notes[0].Body)
	require.Equal(t, []string{events.TopicPaymentFailed}, f.topics())
}

func TestWebhookForgedCompletedNeverPays(t *testing.T) {
	verifyReplies := []struct {
		status int
		body   string
	}{
		{http.StatusOK, `{"status":"Failed"}`},
		{http.StatusOK, ``},
		{http.StatusOK, `{"message":"transaction not found"}`},
		{http.StatusInternalServerError, `{"status":"Completed"}`},
		{http.StatusOK, `{"status":"Completed","cus_number":"2001"}`},
	}
	for _, reply := range verifyReplies {
		t.Run(reply.body, func(t *testing.T) {
			f := newWebhookFixture(t, pendingOrder("1042"))
			f.fp.setVerify(reply.status, reply.body)

			out := f.h.Process(context.Background(), payment.WebhookPayload{OrderRef: "1042", Status: "Completed", TransactionID: "FORGED"})
			require.NotEqual(t, http.StatusOK, out.HTTPStatus)
			require.NotEqual(t, order.StatusPaid, f.order(t, "1042").Status)
		})
	}
}

func TestWebhookCompletedWithoutTransactionIDFails(t *testing.T) {
	f := newWebhookFixture(t, pendingOrder("1042"))

	out := f.h.Process(context.Background(), payment.WebhookPayload{OrderRef: "1042", Status: "Completed"})
	require.Equal(t, http.StatusPaymentRequired, out.HTTPStatus)
	require.Empty(t, f.fp.verifies())
	require.Equal(t, order.StatusFailed, f.order(t, "1042").Status)
}

func TestWebhookRedeliveryIsIdempotent(t *testing.T) {
	f := newWebhookFixture(t, pendingOrder("1042"))
	payload := url.Values{"cus_number": {"1042"}, "status": {"Completed"}, "trx_id": {"T1"}}

	first := postForm(f.h.Handle, payload)
	second := postForm(f.h.Handle, payload)
	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, http.StatusOK, second.Code)
	require.Equal(t, payment.BodySuccess, second.Body.String())

	ord := f.order(t, "1042")
	require.Equal(t, order.StatusPaid, ord.Status)
	require.Len(t, ord.Notes, 1)
	require.Equal(t, []string{events.TopicOrderPaid}, f.topics())
	require.Len(t, f.fp.verifies(), 2)
}

func TestWebhookConcurrentRedeliveriesTransitionOnce(t *testing.T) {
	f := newWebhookFixture(t, pendingOrder("1042"))
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out := f.h.Process(context.Background(), payment.WebhookPayload{OrderRef: "1042", Status: "Completed", TransactionID: "T1"})
			require.Equal(t, http.StatusOK, out.HTTPStatus)
		}()
	}
	wg.Wait()
	require.Len(t, f.order(t, "1042").Notes, 1)
	require.Equal(t, []string{events.TopicOrderPaid}, f.topics())
}

func TestWebhookMissingParameters(t *testing.T) {
	for name, form := range map[string]url.Values{
		"no cus_number": {"status": {"Completed"}, "trx_id": {"T1"}},
		"no status":     {"cus_number": {"1042"}, "trx_id": {"T1"}},
		"blank status":  {"cus_number": {"1042"}, "status": {"   "}},
		"control only":  {"cus_number": {"\x00\x01"}, "status": {"Completed"}},
		"empty":         {},
	} {
		t.Run(name, func(t *testing.T) {
			f := newWebhookFixture(t, pendingOrder("1042"))
			rec := postForm(f.h.Handle, form)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Equal(t, payment.BodyMissingParams, rec.Body.String())
			require.Zero(t, f.store.finds)
			require.Zero(t, f.store.mutations)
			require.Empty(t, f.fp.verifies())
		})
	}
}

func TestWebhookUnknownOrder(t *testing.T) {
	f := newWebhookFixture(t, pendingOrder("1042"))

	rec := postForm(f.h.Handle, url.Values{"cus_number": {"5555"}, "status": {"Completed"}, "trx_id": {"T1"}})
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, payment.BodyOrderNotFound, rec.Body.String())
	require.Zero(t, f.store.mutations)
	require.Empty(t, f.fp.verifies())
	require.Equal(t, order.StatusPending, f.order(t, "1042").Status)
}

func TestWebhookNonCompletedStatusFailsWithoutVerification(t *testing.T) {
	f := newWebhookFixture(t, pendingOrder("9999"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/webhooks/payment/tzsmmpay?cus_number=9999&status=Failed&extra=ignored", nil)
	rec := httptest.NewRecorder()
	f.h.Handle(rec, req)

	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	require.Equal(t, payment.BodyPaymentFailed, rec.Body.String())
	require.Empty(t, f.fp.verifies())

	ord := f.order(t, "9999")
	require.Equal(t, order.StatusFailed, ord.Status)
	require.Equal(t, payment.ReasonPaymentFailed, ord.Notes[0].Body)
}

func TestWebhookNeverDowngradesPaidOrder(t *testing.T) {
	paid := pendingOrder("1042")
	paid.Status = order.StatusPaid
	f := newWebhookFixture(t, paid)

	out := f.h.Process(context.Background(), payment.WebhookPayload{OrderRef: "1042", Status: "Failed"})
	require.Equal(t, http.StatusConflict, out.HTTPStatus)
	require.Equal(t, payment.BodyAlreadyPaid, out.Body)

	f.fp.setVerify(http.StatusOK, `{"status":"Pending"}`)
	out = f.h.Process(context.Background(), payment.WebhookPayload{OrderRef: "1042", Status: "Completed", TransactionID: "T1"})
	require.Equal(t, http.StatusConflict, out.HTTPStatus)

	require.Equal(t, order.StatusPaid, f.order(t, "1042").Status)
	require.Empty(t, f.topics())
}

func TestWebhookFailedOrderCanStillBePaid(t *testing.T) {
	failed := pendingOrder("1042")
	failed.Status = order.StatusFailed
	f := newWebhookFixture(t, failed)

	out := f.h.Process(context.Background(), payment.WebhookPayload{OrderRef: "1042", Status: "Completed", TransactionID: "T2"})
	require.Equal(t, http.StatusOK, out.HTTPStatus)
	require.Equal(t, order.StatusPaid, f.order(t, "1042").Status)
}

func TestWebhookStoreErrorIs500(t *testing.T) {
	f := newWebhookFixture(t, pendingOrder("1042"))
	f.store.findErr = errors.New("connection reset")

	out := f.h.Process(context.Background(), payment.WebhookPayload{OrderRef: "1042", Status: "Completed", TransactionID: "T1"})
	require.Equal(t, http.StatusInternalServerError, out.HTTPStatus)
	require.Equal(t, payment.BodyInternal, out.Body)
	require.Empty(t, f.fp.verifies())
}

func TestWebhookTransactionReplayAcrossOrdersNeverPays(t *testing.T) {
	f := newWebhookFixture(t, pendingOrder("1042"), pendingOrder("1043"))
	ctx := context.Background()

	first := f.h.Process(ctx, payment.WebhookPayload{OrderRef: "1042", Status: "Completed", TransactionID: "T1"})
	require.Equal(t, http.StatusOK, first.HTTPStatus)
	require.Equal(t, order.StatusPaid, f.order(t, "1042").Status)

	replay := f.h.Process(ctx, payment.WebhookPayload{OrderRef: "1043", Status: "Completed", TransactionID: "T1"})
	require.Equal(t, http.StatusPaymentRequired, replay.HTTPStatus)
	require.Equal(t, payment.BodyVerificationFailed, replay.Body)
	require.ErrorIs(t, replay.Err, order.ErrTransactionInUse)
	require.ErrorIs(t, replay.Err, payment.ErrVerificationMismatch)

	other := f.order(t, "1043")
	require.Equal(t, order.StatusFailed, other.Status)
	require.Empty(t, other.TransactionID)
	require.Equal(t, "T1", f.order(t, "1042").TransactionID)
	require.Equal(t, []string{events.TopicOrderPaid, events.TopicPaymentFailed}, f.topics())
}
