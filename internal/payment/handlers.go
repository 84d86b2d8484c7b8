package payment

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-tzsmmpay/internal/common"
	"github.com/noah-isme/toko-tzsmmpay/internal/events"
	"github.com/noah-isme/toko-tzsmmpay/internal/order"
)

// Shopper-facing notice prefixes.
const (
	NoticePaymentError    = "Payment error: Could not process payment. Please try again."
	NoticeConnectionError = "Connection error: "
)

// MethodID identifies this gateway in checkout payloads.
const MethodID = "tzsmmpay"

// SessionCreator is satisfied by *SessionInitiator.
type SessionCreator interface {
	Create(ctx context.Context, ord order.Order) (SessionResult, error)
}

// Settings are the merchant-facing gateway options.
type Settings struct {
	Enabled     bool
	Title       string
	Description string
}

// Handler exposes the checkout and payment-method endpoints.
type Handler struct {
	Orders   order.Store
	Sessions SessionCreator
	Settings Settings
	Events   *events.Bus
}

type checkoutResp struct {
	Result   string `json:"result"`
	Redirect string `json:"redirect"`
}

// Checkout opens a processor session for the order in the URL and returns
// the redirect target for the shopper.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Orders == nil || h.Sessions == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "payment handler unavailable", nil)
		return
	}
	if !h.Settings.Enabled {
		common.JSONError(w, http.StatusServiceUnavailable, "GATEWAY_DISABLED", "payment method is not available", nil)
		return
	}
	ctx := r.Context()
	ref := SanitizeOrderRef(chi.URLParam(r, "orderRef"))
	if ref == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "order reference is required", nil)
		return
	}
	ord, err := h.Orders.FindByID(ctx, ref)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			common.WriteError(w, common.NewAppError("ORDER_NOT_FOUND", "order not found", http.StatusNotFound, ErrOrderNotFound))
			return
		}
		zerolog.Ctx(ctx).Error().Err(err).Str("order_ref", ref).Msg("checkout_order_lookup_failed")
		common.WriteError(w, err)
		return
	}
	if ord.Status == order.StatusPaid {
		common.JSONError(w, http.StatusConflict, "ORDER_ALREADY_PAID", "order has already been paid", nil)
		return
	}

	res, err := h.Sessions.Create(ctx, ord)
	if err != nil {
		common.WriteError(w, checkoutError(err))
		return
	}
	if res.Outcome != SessionSuccess {
		common.WriteError(w, common.NewAppError("PAYMENT_DECLINED", NoticePaymentError+" "+res.Message, http.StatusUnprocessableEntity, nil))
		return
	}
	if h.Events != nil {
		if _, err := h.Events.Emit(ctx, events.TopicPaymentSessionCreated, ord.Ref, map[string]any{"orderRef": ord.Ref}); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("order_ref", ord.Ref).Msg("payment_event_emit_failed")
		}
	}
	common.JSON(w, http.StatusOK, checkoutResp{Result: "success", Redirect: res.PaymentURL})
}

// Method describes the gateway for checkout pages. The API key is never exposed.
func (h *Handler) Method(w http.ResponseWriter, _ *http.Request) {
	common.JSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"id":          MethodID,
			"title":       common.SanitizeText(h.Settings.Title, 128),
			"description": strings.TrimSpace(h.Settings.Description),
			"enabled":     h.Settings.Enabled,
		},
	})
}

func checkoutError(err error) *common.AppError {
	switch {
	case errors.Is(err, ErrValidation):
		return common.NewAppError("VALIDATION_ERROR", NoticePaymentError, http.StatusUnprocessableEntity, err)
	case errors.Is(err, ErrInvalidResponse):
		return common.NewAppError("PROCESSOR_INVALID_RESPONSE", NoticePaymentError, http.StatusBadGateway, err)
	case errors.Is(err, context.DeadlineExceeded):
		return common.NewAppError("PROCESSOR_TIMEOUT", NoticeConnectionError+"request timed out", http.StatusGatewayTimeout, err)
	case errors.Is(err, ErrTransport):
		return common.NewAppError("PROCESSOR_UNAVAILABLE", NoticeConnectionError+connectionDetail(err), http.StatusBadGateway, err)
	default:
		return common.NewAppError("INTERNAL", "internal error", http.StatusInternalServerError, err)
	}
}

// connectionDetail strips the package prefix so shoppers see the cause only.
func connectionDetail(err error) string {
	msg := strings.TrimPrefix(err.Error(), ErrTransport.Error()+": ")
	return common.SanitizeText(msg, 200)
}
