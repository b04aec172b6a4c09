package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/multierr"

	"github.com/mcourselabs/mcourse-backend/api/responses"
	"github.com/mcourselabs/mcourse-backend/api/validators"
	"github.com/mcourselabs/mcourse-backend/internal/reconcile"
	sepaywebhook "github.com/mcourselabs/mcourse-backend/internal/webhooks/sepay"
	pkgerrors "github.com/mcourselabs/mcourse-backend/pkg/errors"
	"github.com/mcourselabs/mcourse-backend/pkg/logger"
)

// SignatureHeader carries the HMAC over the raw IPN body.
const SignatureHeader = "X-Sepay-Signature"

type SepayWebhookService interface {
	HandleWebhook(ctx context.Context, payload sepaywebhook.WebhookPayload) (*reconcile.Result, error)
	HandleIPN(ctx context.Context, raw []byte, signature string, payload sepaywebhook.IPNPayload) (*reconcile.Result, error)
}

type sepayWebhookGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

type sepaySignatureVerifier interface {
	VerifySignature(payload []byte, signature string) bool
}

// SepayWebhook handles bank statement pushes. Transactions that do not
// reference a known payment are acknowledged so the provider stops retrying.
func SepayWebhook(svc SepayWebhookService, guard sepayWebhookGuard, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}
		if guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "idempotency guard unavailable"))
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		var payload sepaywebhook.WebhookPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode webhook payload"))
			return
		}

		// A zero id would collapse every such delivery onto one guard key, so
		// fall back to the bank reference and refuse payloads carrying neither.
		eventID := ""
		switch {
		case payload.ID > 0:
			eventID = fmt.Sprintf("webhook:%d", payload.ID)
		case strings.TrimSpace(payload.ReferenceCode) != "":
			eventID = "webhook:" + strings.TrimSpace(payload.ReferenceCode)
		default:
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "webhook event id missing"))
			return
		}

		alreadyProcessed, err := guard.CheckAndMark(ctx, eventID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
			return
		}
		if alreadyProcessed {
			responses.WriteSuccess(w, &reconcile.Result{AlreadyProcessed: true})
			return
		}

		result, err := svc.HandleWebhook(ctx, payload)
		if err != nil {
			if retryable(err) {
				err = multierr.Append(err, guard.Delete(ctx, eventID))
				responses.WriteError(ctx, logg, w, err)
				return
			}
			// Non-retryable rejections still acknowledge so the bank does
			// not redeliver a transaction we will never match.
			logg.Warn(logg.WithField(ctx, "error", err.Error()), "sepay.webhook.rejected")
			responses.WriteSuccess(w, &reconcile.Result{Reason: "unmatched"})
			return
		}

		responses.WriteSuccess(w, result)
	}
}

// SepayIPN handles the signed gateway callback. The signature is verified
// against the raw body before the replay guard or any payment is touched, so
// an unauthenticated caller learns nothing, not even that an event id was
// seen before.
func SepayIPN(svc SepayWebhookService, verifier sepaySignatureVerifier, guard sepayWebhookGuard, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}
		if verifier == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "signature verifier unavailable"))
			return
		}
		if guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "idempotency guard unavailable"))
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		signature := strings.TrimSpace(r.Header.Get(SignatureHeader))
		if signature == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "ipn signature missing"))
			return
		}
		if !verifier.VerifySignature(body, signature) {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid ipn signature"))
			return
		}

		var payload sepaywebhook.IPNPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode ipn payload"))
			return
		}
		if err := validators.ValidateStruct(&payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		eventID := strings.TrimSpace(payload.GatewayTxnID)
		if eventID == "" {
			eventID = payload.TxnRef
		}
		eventID = "ipn:" + eventID

		alreadyProcessed, err := guard.CheckAndMark(ctx, eventID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
			return
		}
		if alreadyProcessed {
			responses.WriteSuccess(w, &reconcile.Result{AlreadyProcessed: true})
			return
		}

		result, err := svc.HandleIPN(ctx, body, signature, payload)
		if err != nil {
			err = multierr.Append(err, guard.Delete(ctx, eventID))
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, result)
	}
}

// retryable reports whether the provider should redeliver the event.
func retryable(err error) bool {
	appErr := pkgerrors.As(err)
	if appErr == nil {
		return true
	}
	switch appErr.Code() {
	case pkgerrors.CodeDependency, pkgerrors.CodeInternal:
		return true
	default:
		return false
	}
}
