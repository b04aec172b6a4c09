package reconcile

import (
	"github.com/google/uuid"

	"github.com/mcourselabs/mcourse-backend/pkg/enums"
)

// Channel identifies the source a piece of payment evidence arrived through.
type Channel string

const (
	ChannelPoll    Channel = "poll"
	ChannelWebhook Channel = "webhook"
	ChannelIPN     Channel = "ipn"
	ChannelManual  Channel = "manual"
)

// Evidence is one observation that a transfer may have landed. Each channel
// carries different fields and different validation rules; the engine is the
// only place evidence turns into a status transition.
type Evidence interface {
	Channel() Channel
}

// Polled is a client status poll. It observes and can expire an overdue
// payment, but never completes one.
type Polled struct {
	PaymentID uuid.UUID
	UserID    uuid.UUID
}

func (Polled) Channel() Channel { return ChannelPoll }

// WebhookPush is a bank transfer notice. OrderNumber was parsed out of the
// transfer content; the reported amount must match the payment exactly.
type WebhookPush struct {
	OrderNumber         int64
	ReportedAmountCents int64
	GatewayTxnID        string
}

func (WebhookPush) Channel() Channel { return ChannelWebhook }

// IPNPush is a gateway callback matched by transfer reference. Raw is the
// exact request body the signature signs.
type IPNPush struct {
	TxnRef       string
	Status       string
	AmountCents  int64
	GatewayTxnID string
	Signature    string
	Raw          []byte
}

func (IPNPush) Channel() Channel { return ChannelIPN }

// ManualReport is a user's own claim of having paid. Only the payment owner
// may file one; it otherwise carries the same completion authority as the
// automated channels.
type ManualReport struct {
	PaymentID    uuid.UUID
	ActingUserID uuid.UUID
}

func (ManualReport) Channel() Channel { return ChannelManual }

// Result reports what the engine decided for one piece of evidence.
type Result struct {
	// Settled is true only when this call performed the pending to completed
	// transition.
	Settled bool `json:"settled"`
	// AlreadyProcessed is true when the payment was already terminal, or a
	// concurrent caller won the transition.
	AlreadyProcessed bool `json:"already_processed"`
	// Status is the payment status after the call.
	Status enums.PaymentStatus `json:"status"`
	// Reason explains a rejection (amount mismatch, ignored gateway status).
	Reason string `json:"reason,omitempty"`
}
