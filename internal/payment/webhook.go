package payment

import (
	"context"
	"errors"
	"net/http"
	"strings"

	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/toko-tzsmmpay/internal/common"
	"github.com/noah-isme/toko-tzsmmpay/internal/events"
	"github.com/noah-isme/toko-tzsmmpay/internal/order"
)

// Plain-text bodies returned to the processor.
const (
	BodyMissingParams      = "Error: Missing required parameters (cus_number or status)"
	BodyOrderNotFound      = "Error: Order not found"
	BodySuccess            = "Success: Payment processed successfully"
	BodyVerificationFailed = "Error: Payment verification failed"
	BodyPaymentFailed      = "Error: Payment failed via TZSMM Pay"
	BodyAlreadyPaid        = "Error: Order already paid"
	BodyInternal           = "Error: Unable to process notification"
)

// Notes and failure reasons recorded on the order.
const (
	NotePaymentVerified      = "Payment verified and received via TZSMM Pay."
	ReasonVerificationFailed = "Payment verification failed."
	ReasonPaymentFailed      = "Payment failed via TZSMM Pay."
)

// WebhookPayload is the untrusted notification sent by the processor.
type WebhookPayload struct {
	OrderRef      string `validate:"required"`
	Status        string `validate:"required"`
	TransactionID string
}

// PayloadFromRequest reads cus_number, status and trx_id from the form body
// or the query string. Other fields are ignored.
func PayloadFromRequest(r *http.Request) (WebhookPayload, error) {
	if err := r.ParseForm(); err != nil {
		return WebhookPayload{}, err
	}
	return WebhookPayload{
		OrderRef:      strings.TrimSpace(r.Form.Get("cus_number")),
		Status:        strings.TrimSpace(r.Form.Get("status")),
		TransactionID: strings.TrimSpace(r.Form.Get("trx_id")),
	}, nil
}

// WebhookOutcome is the response the handler decided on. Err carries the
// underlying cause for logging and is never sent to the processor.
type WebhookOutcome struct {
	HTTPStatus int
	Body       string
	Result     string
	Err        error
}

// TransactionVerifier is satisfied by *Verifier.
type TransactionVerifier interface {
	Verify(ctx context.Context, apiKey, trxID string) VerificationResult
}

// WebhookHandler reconciles processor notifications against the verify
// endpoint before changing order state.
type WebhookHandler struct {
	Orders   order.Store
	Verifier TransactionVerifier
	APIKey   string
	Events   *events.Bus
	Validate *validator.Validate
	Logger   zerolog.Logger
}

// Handle is the HTTP entry point registered for GET and POST callbacks.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	payload, err := PayloadFromRequest(r)
	if err != nil {
		countWebhook("bad_request")
		common.Text(w, http.StatusBadRequest, BodyMissingParams)
		return
	}
	out := h.Process(r.Context(), payload)
	common.Text(w, out.HTTPStatus, out.Body)
}

// Process runs the reconciliation for one notification. An order only becomes
// paid when the processor independently confirms the transaction.
func (h *WebhookHandler) Process(ctx context.Context, p WebhookPayload) WebhookOutcome {
	ctx, span := tracer.Start(ctx, "tzsmmpay.webhook")
	defer span.End()

	out := h.process(ctx, p)
	countWebhook(out.Result)
	span.SetAttributes(
		attribute.String("payment.webhook.result", out.Result),
		attribute.Int("http.response.status_code", out.HTTPStatus),
	)
	logger := h.loggerFor(ctx).With().
		Str("order_ref", SanitizeOrderRef(p.OrderRef)).
		Str("status", common.SanitizeText(p.Status, 64)).
		Str("result", out.Result).
		Int("http_status", out.HTTPStatus).
		Logger()
	switch {
	case out.HTTPStatus >= http.StatusInternalServerError:
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, out.Result)
		logger.Error().Err(out.Err).Msg("payment_webhook_failed")
	case out.Err != nil:
		logger.Warn().Err(out.Err).Msg("payment_webhook_rejected")
	default:
		logger.Info().Msg("payment_webhook_processed")
	}
	return out
}

func (h *WebhookHandler) process(ctx context.Context, p WebhookPayload) WebhookOutcome {
	p.OrderRef = SanitizeOrderRef(p.OrderRef)
	p.Status = strings.TrimSpace(p.Status)
	if err := h.validator().Struct(p); err != nil {
		return WebhookOutcome{HTTPStatus: http.StatusBadRequest, Body: BodyMissingParams, Result: "bad_request", Err: err}
	}
	if h.Orders == nil {
		return internalOutcome(errors.New("order store not configured"))
	}

	ord, err := h.Orders.FindByID(ctx, p.OrderRef)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			return WebhookOutcome{HTTPStatus: http.StatusNotFound, Body: BodyOrderNotFound, Result: "not_found", Err: ErrOrderNotFound}
		}
		return internalOutcome(err)
	}

	if p.Status != StatusCompleted {
		return h.fail(ctx, ord.Ref, ReasonPaymentFailed, BodyPaymentFailed, "failed", nil)
	}

	if h.Verifier == nil {
		return internalOutcome(errors.New("verifier not configured"))
	}
	verification := h.Verifier.Verify(ctx, h.APIKey, p.TransactionID)
	if !verification.Completed() {
		return h.fail(ctx, ord.Ref, ReasonVerificationFailed, BodyVerificationFailed, "verification_failed", ErrVerificationMismatch)
	}
	if verification.OrderRef != "" && verification.OrderRef != ord.Ref {
		return h.fail(ctx, ord.Ref, ReasonVerificationFailed, BodyVerificationFailed, "verification_failed", ErrVerificationMismatch)
	}

	changed, err := h.Orders.MarkPaid(ctx, ord.Ref, verification.TransactionID)
	if err != nil {
		if errors.Is(err, order.ErrTransactionInUse) {
			return h.fail(ctx, ord.Ref, ReasonVerificationFailed, BodyVerificationFailed, "verification_failed", errors.Join(ErrVerificationMismatch, err))
		}
		if errors.Is(err, order.ErrNotFound) {
			return WebhookOutcome{HTTPStatus: http.StatusNotFound, Body: BodyOrderNotFound, Result: "not_found", Err: ErrOrderNotFound}
		}
		return internalOutcome(err)
	}
	if !changed {
		return WebhookOutcome{HTTPStatus: http.StatusOK, Body: BodySuccess, Result: "duplicate"}
	}
	countTransition(string(order.StatusPaid))
	if err := h.Orders.AppendNote(ctx, ord.Ref, NotePaymentVerified); err != nil {
		h.loggerFor(ctx).Error().Err(err).Str("order_ref", ord.Ref).Msg("payment_note_failed")
	}
	h.emit(ctx, events.TopicOrderPaid, ord.Ref, map[string]any{
		"orderRef": ord.Ref,
		"trxId":    verification.TransactionID,
		"amount":   ord.Total.StringFixed(2),
		"currency": ord.Currency,
	})
	return WebhookOutcome{HTTPStatus: http.StatusOK, Body: BodySuccess, Result: "paid"}
}

// fail marks the order failed. A paid order is never downgraded; the
// notification is answered with 409 instead.
func (h *WebhookHandler) fail(ctx context.Context, ref, reason, body, result string, cause error) WebhookOutcome {
	changed, err := h.Orders.MarkFailed(ctx, ref, reason)
	if err != nil {
		switch {
		case errors.Is(err, order.ErrInvalidTransition):
			return WebhookOutcome{HTTPStatus: http.StatusConflict, Body: BodyAlreadyPaid, Result: "already_paid", Err: errors.Join(cause, err)}
		case errors.Is(err, order.ErrNotFound):
			return WebhookOutcome{HTTPStatus: http.StatusNotFound, Body: BodyOrderNotFound, Result: "not_found", Err: ErrOrderNotFound}
		default:
			return internalOutcome(err)
		}
	}
	if changed {
		countTransition(string(order.StatusFailed))
		h.emit(ctx, events.TopicPaymentFailed, ref, map[string]any{
			"orderRef": ref,
			"reason":   reason,
		})
	}
	if cause == nil {
		cause = errors.New(strings.TrimSuffix(reason, "."))
	}
	return WebhookOutcome{HTTPStatus: http.StatusPaymentRequired, Body: body, Result: result, Err: cause}
}

func (h *WebhookHandler) emit(ctx context.Context, topic, ref string, payload map[string]any) {
	if h.Events == nil {
		return
	}
	if _, err := h.Events.Emit(ctx, topic, ref, payload); err != nil {
		h.loggerFor(ctx).Warn().Err(err).Str("topic", topic).Str("order_ref", ref).Msg("payment_event_emit_failed")
	}
}

func (h *WebhookHandler) validator() *validator.Validate {
	if h.Validate != nil {
		return h.Validate
	}
	return NewValidator()
}

func (h *WebhookHandler) loggerFor(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &h.Logger
}

func internalOutcome(err error) WebhookOutcome {
	return WebhookOutcome{HTTPStatus: http.StatusInternalServerError, Body: BodyInternal, Result: "error", Err: err}
}
