package payment

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/toko-tzsmmpay/internal/common"
	"github.com/noah-isme/toko-tzsmmpay/internal/order"
)

const (
	createPath = "/api/payment/create"
	// MaxOrderRefLen bounds the order reference echoed through the processor.
	MaxOrderRefLen = 64
	// DefaultFailureMessage is used when the processor rejects a session without saying why.
	DefaultFailureMessage = "Unable to create payment session."
)

var tracer = otel.Tracer("payment/tzsmmpay")

// FormPoster is the transport capability the session initiator needs.
type FormPoster interface {
	PostForm(ctx context.Context, endpoint string, fields url.Values) (map[string]any, error)
}

// GatewayConfig carries the merchant settings used to open a session.
type GatewayConfig struct {
	APIKey      string
	BaseURL     string
	CallbackURL string
	SuccessURL  func(orderRef string) string
	CancelURL   string
}

// SessionRequest is the form body sent to the session-create endpoint.
type SessionRequest struct {
	CustomerName  string          `validate:"max=128"`
	CustomerEmail string          `validate:"omitempty,email"`
	Amount        decimal.Decimal `validate:"gt=0"`
	Currency      string          `validate:"required,iso4217"`
	APIKey        string          `validate:"required"`
	CallbackURL   string          `validate:"required,url"`
	SuccessURL    string          `validate:"required,url"`
	CancelURL     string          `validate:"required,url"`
	OrderRef      string          `validate:"required,max=64"`
}

// Form encodes the request with the processor's field names.
func (r SessionRequest) Form() url.Values {
	return url.Values{
		"cus_name":     {r.CustomerName},
		"cus_email":    {r.CustomerEmail},
		"amount":       {r.Amount.StringFixed(2)},
		"api_key":      {r.APIKey},
		"currency":     {r.Currency},
		"callback_url": {r.CallbackURL},
		"success_url":  {r.SuccessURL},
		"cancel_url":   {r.CancelURL},
		"cus_number":   {r.OrderRef},
	}
}

// SessionOutcome distinguishes an accepted session from a rejected one.
type SessionOutcome int

const (
	SessionFailure SessionOutcome = iota
	SessionSuccess
)

func (o SessionOutcome) String() string {
	if o == SessionSuccess {
		return "success"
	}
	return "failure"
}

// SessionResult is the interpreted processor reply. PaymentURL is set on
// success, Message on failure.
type SessionResult struct {
	Outcome    SessionOutcome
	PaymentURL string
	Message    string
}

// SessionInitiator opens payment sessions for pending orders.
type SessionInitiator struct {
	Transport FormPoster
	Config    GatewayConfig
	Validate  *validator.Validate
	Logger    zerolog.Logger
}

// BuildRequest validates the order and assembles the session request without
// touching the network. Violations wrap ErrValidation.
func (s *SessionInitiator) BuildRequest(ord order.Order) (SessionRequest, error) {
	ref := SanitizeOrderRef(ord.Ref)
	successURL := ""
	if s.Config.SuccessURL != nil {
		successURL = s.Config.SuccessURL(url.PathEscape(ref))
	}
	req := SessionRequest{
		CustomerName:  common.SanitizeText(ord.CustomerName, 128),
		CustomerEmail: common.SanitizeEmail(ord.CustomerEmail),
		Amount:        ord.Total.Round(2),
		Currency:      strings.ToUpper(strings.TrimSpace(ord.Currency)),
		APIKey:        strings.TrimSpace(s.Config.APIKey),
		CallbackURL:   s.Config.CallbackURL,
		SuccessURL:    successURL,
		CancelURL:     s.Config.CancelURL,
		OrderRef:      ref,
	}
	v := s.Validate
	if v == nil {
		v = NewValidator()
	}
	if err := v.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return SessionRequest{}, fmt.Errorf("%w: %s failed %q", ErrValidation, verrs[0].Field(), verrs[0].Tag())
		}
		return SessionRequest{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return req, nil
}

// Create opens a processor session for ord. A rejected session is reported as
// a Failure result with a nil error; transport problems are returned as errors.
// The order itself is never modified here.
func (s *SessionInitiator) Create(ctx context.Context, ord order.Order) (SessionResult, error) {
	ctx, span := tracer.Start(ctx, "tzsmmpay.session.create")
	defer span.End()
	span.SetAttributes(attribute.String("order.ref", ord.Ref))

	logger := s.loggerFor(ctx).With().Str("order_ref", ord.Ref).Logger()

	req, err := s.BuildRequest(ord)
	if err != nil {
		countSession("invalid")
		span.SetStatus(codes.Error, "validation")
		logger.Warn().Err(err).Msg("payment_session_rejected_locally")
		return SessionResult{}, err
	}
	if s.Transport == nil {
		return SessionResult{}, fmt.Errorf("%w: transport not configured", ErrTransport)
	}

	started := time.Now()
	body, err := s.Transport.PostForm(ctx, strings.TrimRight(s.Config.BaseURL, "/")+createPath, req.Form())
	observeLatency("create", started)
	if err != nil {
		countSession("error")
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport")
		logger.Error().Err(err).Msg("payment_session_transport_failed")
		return SessionResult{}, err
	}

	result := interpretSession(body)
	countSession(result.Outcome.String())
	span.SetAttributes(attribute.String("payment.session.outcome", result.Outcome.String()))
	if result.Outcome == SessionSuccess {
		logger.Info().Msg("payment_session_created")
	} else {
		logger.Warn().Str("processor_message", result.Message).Msg("payment_session_declined")
	}
	return result, nil
}

func (s *SessionInitiator) loggerFor(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &s.Logger
}

func interpretSession(body map[string]any) SessionResult {
	if raw := stringField(body, "payment_url"); raw != "" {
		if u, ok := safeRedirectURL(raw); ok {
			return SessionResult{Outcome: SessionSuccess, PaymentURL: u}
		}
	}
	msg := ""
	for _, key := range []string{"messages", "message", "error"} {
		if msg = messageField(body[key]); msg != "" {
			break
		}
	}
	if msg == "" {
		msg = DefaultFailureMessage
	}
	return SessionResult{Outcome: SessionFailure, Message: msg}
}

// messageField flattens the processor's message shapes: a string, a list of
// strings, or an object of field errors.
func messageField(v any) string {
	switch m := v.(type) {
	case string:
		return common.SanitizeText(m, 512)
	case []any:
		parts := make([]string, 0, len(m))
		for _, item := range m {
			if s := messageField(item); s != "" {
				parts = append(parts, s)
			}
		}
		return common.SanitizeText(strings.Join(parts, " "), 512)
	case map[string]any:
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(m))
		for _, k := range keys {
			if s := messageField(m[k]); s != "" {
				parts = append(parts, s)
			}
		}
		return common.SanitizeText(strings.Join(parts, " "), 512)
	default:
		return ""
	}
}

// safeRedirectURL accepts only absolute http(s) URLs with a host and returns
// their normalised, escaped form.
func safeRedirectURL(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", false
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return "", false
	}
	if u.Host == "" || u.User != nil {
		return "", false
	}
	return u.String(), true
}

// SanitizeOrderRef reduces an order identifier to the token sent as cus_number.
func SanitizeOrderRef(ref string) string {
	return common.SanitizeText(ref, MaxOrderRefLen)
}
