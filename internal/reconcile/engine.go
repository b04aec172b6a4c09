package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mcourselabs/mcourse-backend/internal/enrollments"
	"github.com/mcourselabs/mcourse-backend/pkg/config"
	"github.com/mcourselabs/mcourse-backend/pkg/db/models"
	"github.com/mcourselabs/mcourse-backend/pkg/enums"
	pkgerrors "github.com/mcourselabs/mcourse-backend/pkg/errors"
	"github.com/mcourselabs/mcourse-backend/pkg/logger"
)

const (
	ReasonAmountMismatch = "amount_mismatch"
	ReasonIgnoredStatus  = "ignored_gateway_status"
	ReasonObserveOnly    = "observe_only"
)

// ipnSettledStatuses are the gateway statuses that count as money received.
var ipnSettledStatuses = map[string]bool{
	"success":   true,
	"completed": true,
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type signatureVerifier interface {
	VerifySignature(payload []byte, signature string) bool
}

// Engine folds payment evidence from every channel into at most one
// pending to completed transition per payment.
type Engine interface {
	Reconcile(ctx context.Context, evidence Evidence) (*Result, error)
}

type engine struct {
	repo      Repository
	tx        txRunner
	activator enrollments.Activator
	verifier  signatureVerifier
	cfg       config.PaymentsConfig
	logger    *logger.Logger
	now       func() time.Time
}

// NewEngine builds the reconciliation engine with the required dependencies.
func NewEngine(repo Repository, tx txRunner, activator enrollments.Activator, verifier signatureVerifier, cfg config.PaymentsConfig, logg *logger.Logger) (Engine, error) {
	if repo == nil {
		return nil, fmt.Errorf("reconcile repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if activator == nil {
		return nil, fmt.Errorf("enrollment activator required")
	}
	if verifier == nil {
		return nil, fmt.Errorf("signature verifier required")
	}
	if cfg.ExpiryWindow <= 0 {
		return nil, fmt.Errorf("expiry window must be positive")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &engine{
		repo:      repo,
		tx:        tx,
		activator: activator,
		verifier:  verifier,
		cfg:       cfg,
		logger:    logg,
		now:       time.Now,
	}, nil
}

func (e *engine) Reconcile(ctx context.Context, evidence Evidence) (*Result, error) {
	if evidence == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "evidence required")
	}
	ctx = e.logger.WithChannel(ctx, string(evidence.Channel()))

	// The IPN signature gates everything else: an unsigned payload earns no
	// database reads.
	if ipn, ok := evidence.(IPNPush); ok {
		if !e.verifier.VerifySignature(ipn.Raw, ipn.Signature) {
			e.logger.Warn(ctx, "ipn signature rejected")
			return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid ipn signature")
		}
	}

	payment, err := e.resolve(ctx, evidence)
	if err != nil {
		return nil, err
	}
	ctx = e.logger.WithPaymentID(ctx, payment.ID.String())

	if payment.Status.IsTerminal() {
		return &Result{AlreadyProcessed: true, Status: payment.Status}, nil
	}

	switch ev := evidence.(type) {
	case Polled:
		return e.observe(ctx, payment)
	case WebhookPush:
		if ev.ReportedAmountCents != payment.AmountCents {
			e.logger.Warn(ctx, "webhook amount mismatch")
			return &Result{Status: payment.Status, Reason: ReasonAmountMismatch}, nil
		}
		return e.complete(ctx, payment, strPtr(ev.GatewayTxnID))
	case IPNPush:
		if !ipnSettledStatuses[ev.Status] {
			return &Result{Status: payment.Status, Reason: ReasonIgnoredStatus}, nil
		}
		// The signed gateway confirmation is authoritative; a divergent
		// amount is logged for support, not rejected.
		if ev.AmountCents != 0 && ev.AmountCents != payment.AmountCents {
			mctx := e.logger.WithFields(ctx, map[string]any{
				"reported_amount_cents": ev.AmountCents,
				"payment_amount_cents":  payment.AmountCents,
			})
			e.logger.Warn(mctx, "ipn amount differs from payment")
		}
		return e.complete(ctx, payment, strPtr(ev.GatewayTxnID))
	case ManualReport:
		// An owner's self-report settles with the same authority as the
		// automated channels. Support reconciles disputes after the fact.
		return e.complete(ctx, payment, nil)
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown evidence channel %q", evidence.Channel()))
	}
}

func (e *engine) resolve(ctx context.Context, evidence Evidence) (*models.Payment, error) {
	var (
		payment *models.Payment
		err     error
	)
	switch ev := evidence.(type) {
	case Polled:
		if ev.PaymentID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id required")
		}
		payment, err = e.repo.FindByID(ctx, ev.PaymentID)
		if err == nil && ev.UserID != payment.UserID {
			return nil, pkgerrors.New(pkgerrors.CodeForbidden, "payment does not belong to user")
		}
	case WebhookPush:
		if ev.OrderNumber <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "order reference required")
		}
		payment, err = e.repo.FindByOrderNumber(ctx, ev.OrderNumber)
	case IPNPush:
		if ev.TxnRef == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "txn ref required")
		}
		payment, err = e.repo.FindByTxnRef(ctx, ev.TxnRef)
	case ManualReport:
		if ev.PaymentID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id required")
		}
		payment, err = e.repo.FindByID(ctx, ev.PaymentID)
		if err == nil && ev.ActingUserID != payment.UserID {
			return nil, pkgerrors.New(pkgerrors.CodeForbidden, "payment does not belong to user")
		}
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown evidence channel %q", evidence.Channel()))
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	return payment, nil
}

// observe handles a poll: it never completes, but an overdue payment is
// expired on the spot rather than waiting for the sweeper.
func (e *engine) observe(ctx context.Context, payment *models.Payment) (*Result, error) {
	cutoff := e.now().UTC().Add(-e.cfg.ExpiryWindow)
	if payment.CreatedAt.Before(cutoff) {
		won, err := e.repo.ExpirePending(ctx, payment.ID, cutoff)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "expire payment")
		}
		if won {
			e.logger.Info(ctx, "pending payment expired on poll")
			return &Result{Status: enums.PaymentStatusExpired, Reason: ReasonObserveOnly}, nil
		}
		// Lost the race; report whatever the row says now.
		current, err := e.repo.FindByID(ctx, payment.ID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload payment")
		}
		return &Result{AlreadyProcessed: current.Status.IsTerminal(), Status: current.Status, Reason: ReasonObserveOnly}, nil
	}
	return &Result{Status: payment.Status, Reason: ReasonObserveOnly}, nil
}

// complete attempts the conditional transition and, on winning, activates
// enrollments inside the same transaction so a failed activation rolls the
// transition back.
func (e *engine) complete(ctx context.Context, payment *models.Payment, gatewayTxnID *string) (*Result, error) {
	now := e.now().UTC()
	var result *Result
	err := e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := e.repo.WithTx(tx)

		won, err := repo.CompletePending(ctx, payment.ID, now, gatewayTxnID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "complete payment")
		}
		if !won {
			current, err := repo.FindByID(ctx, payment.ID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload payment")
			}
			result = &Result{AlreadyProcessed: true, Status: current.Status}
			return nil
		}

		payment.Status = enums.PaymentStatusCompleted
		payment.PaidAt = &now
		if gatewayTxnID != nil && *gatewayTxnID != "" {
			payment.GatewayTxnID = gatewayTxnID
		}
		if err := e.activator.Activate(ctx, tx, payment); err != nil {
			return err
		}
		result = &Result{Settled: true, Status: enums.PaymentStatusCompleted}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result.Settled {
		e.logger.Info(ctx, "payment settled")
	}
	return result, nil
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
