package sepaywebhook

import (
	"context"
	"regexp"
	"strconv"

	"github.com/mcourselabs/mcourse-backend/internal/orders"
	"github.com/mcourselabs/mcourse-backend/internal/reconcile"
	pkgerrors "github.com/mcourselabs/mcourse-backend/pkg/errors"
	"github.com/mcourselabs/mcourse-backend/pkg/logger"
)

// contentRe pulls the order reference out of free-form transfer content.
// Banks sometimes inject whitespace between the tag and the digits.
var contentRe = regexp.MustCompile(orders.TxnRefPrefix + `\s*(\d+)`)

// WebhookPayload is the bank transfer notice Sepay posts for incoming money.
type WebhookPayload struct {
	ID                 int64  `json:"id"`
	Gateway            string `json:"gateway"`
	TransactionDate    string `json:"transaction_date"`
	AccountNumber      string `json:"account_number"`
	TransactionContent string `json:"transaction_content"`
	TransferType       string `json:"transfer_type"`
	TransferAmount     int64  `json:"transfer_amount"`
	ReferenceCode      string `json:"reference_code"`
}

// IPNPayload is the signed gateway callback matched by transfer reference.
type IPNPayload struct {
	TxnRef       string `json:"txn_ref" validate:"required"`
	Status       string `json:"status" validate:"required"`
	Amount       int64  `json:"amount"`
	GatewayTxnID string `json:"gateway_txn_id"`
}

type ServiceParams struct {
	Engine reconcile.Engine
	Logger *logger.Logger
}

// Service turns provider payloads into reconciliation evidence.
type Service struct {
	engine reconcile.Engine
	logg   *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Engine == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "reconcile engine required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{engine: params.Engine, logg: params.Logger}, nil
}

// HandleWebhook parses the transfer content and feeds the engine. Incoming
// transfers only; outgoing notices are ignored.
func (s *Service) HandleWebhook(ctx context.Context, payload WebhookPayload) (*reconcile.Result, error) {
	if payload.TransferType != "" && payload.TransferType != "in" {
		return &reconcile.Result{Reason: "ignored_transfer_type"}, nil
	}

	orderNumber, ok := parseOrderNumber(payload.TransactionContent)
	if !ok {
		s.logg.Warn(ctx, "webhook content carries no order reference")
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction content carries no order reference")
	}

	return s.engine.Reconcile(ctx, reconcile.WebhookPush{
		OrderNumber:         orderNumber,
		ReportedAmountCents: payload.TransferAmount,
		GatewayTxnID:        payload.ReferenceCode,
	})
}

// HandleIPN forwards the signed callback. The engine verifies the signature
// before touching the database.
func (s *Service) HandleIPN(ctx context.Context, raw []byte, signature string, payload IPNPayload) (*reconcile.Result, error) {
	return s.engine.Reconcile(ctx, reconcile.IPNPush{
		TxnRef:       payload.TxnRef,
		Status:       payload.Status,
		AmountCents:  payload.Amount,
		GatewayTxnID: payload.GatewayTxnID,
		Signature:    signature,
		Raw:          raw,
	})
}

func parseOrderNumber(content string) (int64, bool) {
	m := contentRe.FindStringSubmatch(content)
	if m == nil {
		return 0, false
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
