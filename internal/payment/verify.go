package payment

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/toko-tzsmmpay/internal/common"
)

const (
	verifyPath = "/api/payment/verify"
	// StatusCompleted is the only processor status treated as a settled payment.
	StatusCompleted = "Completed"
	// StatusError marks a verification that could not reach a verdict.
	StatusError = "error"
	// InvalidResponseMessage is reported when the verify endpoint returns nothing usable.
	InvalidResponseMessage = "Invalid response from TZSMM Pay API"
)

// QueryGetter is the transport capability the verification client needs.
type QueryGetter interface {
	GetQuery(ctx context.Context, endpoint string, params url.Values) (map[string]any, error)
}

// VerificationResult is the processor's authoritative view of a transaction.
// OrderRef is filled when the processor echoes cus_number back.
type VerificationResult struct {
	Status        string
	Message       string
	TransactionID string
	OrderRef      string
}

// Completed reports whether the processor confirmed the payment.
func (r VerificationResult) Completed() bool {
	return r.Status == StatusCompleted
}

// Verifier queries the processor for the status of a transaction id.
type Verifier struct {
	Transport QueryGetter
	BaseURL   string
	Logger    zerolog.Logger
}

// Verify asks the processor about trxID. It never reports success on a
// transport failure or an unusable body.
func (v *Verifier) Verify(ctx context.Context, apiKey, trxID string) VerificationResult {
	ctx, span := tracer.Start(ctx, "tzsmmpay.verify")
	defer span.End()

	trxID = common.SanitizeText(trxID, 128)
	logger := v.Logger.With().Str("trx_id", trxID).Logger()
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		logger = l.With().Str("trx_id", trxID).Logger()
	}
	span.SetAttributes(attribute.String("payment.trx_id", trxID))

	if trxID == "" {
		countVerify(StatusError)
		span.SetStatus(codes.Error, "missing transaction id")
		return VerificationResult{Status: StatusError, Message: "Missing transaction id"}
	}
	if v.Transport == nil {
		countVerify(StatusError)
		return VerificationResult{Status: StatusError, Message: "Verification transport not configured", TransactionID: trxID}
	}

	params := url.Values{
		"api_key": {strings.TrimSpace(apiKey)},
		"trx_id":  {trxID},
	}
	started := time.Now()
	body, err := v.Transport.GetQuery(ctx, strings.TrimRight(v.BaseURL, "/")+verifyPath, params)
	observeLatency("verify", started)
	if err != nil {
		countVerify(StatusError)
		span.RecordError(err)
		span.SetStatus(codes.Error, "verify failed")
		msg := err.Error()
		if errors.Is(err, ErrInvalidResponse) {
			msg = InvalidResponseMessage
		}
		logger.Error().Err(err).Msg("payment_verify_failed")
		return VerificationResult{Status: StatusError, Message: msg, TransactionID: trxID}
	}

	res := VerificationResult{
		Status:        stringField(body, "status"),
		Message:       messageField(body["message"]),
		TransactionID: trxID,
		OrderRef:      SanitizeOrderRef(stringField(body, "cus_number")),
	}
	if res.Status == "" {
		res.Status = StatusError
		if res.Message == "" {
			res.Message = InvalidResponseMessage
		}
	}
	countVerify(verifyLabel(res.Status))
	span.SetAttributes(attribute.String("payment.verify.status", res.Status))
	logger.Info().Str("status", res.Status).Msg("payment_verified")
	return res
}

func verifyLabel(status string) string {
	switch status {
	case StatusCompleted:
		return "completed"
	case StatusError:
		return StatusError
	default:
		return "other"
	}
}
