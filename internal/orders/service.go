package orders

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/mcourselabs/mcourse-backend/internal/courses"
	"github.com/mcourselabs/mcourse-backend/pkg/config"
	"github.com/mcourselabs/mcourse-backend/pkg/db/models"
	"github.com/mcourselabs/mcourse-backend/pkg/enums"
	pkgerrors "github.com/mcourselabs/mcourse-backend/pkg/errors"
	"github.com/mcourselabs/mcourse-backend/pkg/sepay"
)

// TxnRefPrefix tags bank transfer content so incoming evidence can be matched
// back to a payment.
const TxnRefPrefix = "MCOURSE"

// FormatTxnRef renders the transfer reference for a payment's order number.
func FormatTxnRef(orderNumber int64) string {
	return fmt.Sprintf("%s%d", TxnRefPrefix, orderNumber)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type bankRail interface {
	BankInfo() sepay.BankInfo
	QRImageURL(txnRef string, amountVND int64) string
}

// Service builds pending orders ready for bank-transfer settlement.
type Service interface {
	CreateOrder(ctx context.Context, input CreateOrderInput) (*CheckoutResult, error)
}

type service struct {
	repo    Repository
	courses courses.Repository
	tx      txRunner
	rail    bankRail
	cfg     config.PaymentsConfig
}

// NewService builds the order builder with the required dependencies.
func NewService(repo Repository, catalog courses.Repository, tx txRunner, rail bankRail, cfg config.PaymentsConfig) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if catalog == nil {
		return nil, fmt.Errorf("courses repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if rail == nil {
		return nil, fmt.Errorf("bank rail required")
	}
	if cfg.ExpiryWindow <= 0 {
		return nil, fmt.Errorf("expiry window must be positive")
	}
	if cfg.USDToVNDRate <= 0 {
		return nil, fmt.Errorf("usd to vnd rate must be positive")
	}
	return &service{repo: repo, courses: catalog, tx: tx, rail: rail, cfg: cfg}, nil
}

func (s *service) CreateOrder(ctx context.Context, input CreateOrderInput) (*CheckoutResult, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if len(input.CourseIDs) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one course is required")
	}

	ids := dedupe(input.CourseIDs)
	found, err := s.courses.FindByIDs(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve courses")
	}
	if len(found) != len(ids) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "course not found")
	}

	lines := make([]CourseLine, 0, len(found))
	var total int64
	for _, course := range found {
		amount, err := s.amountVND(course)
		if err != nil {
			return nil, err
		}
		lines = append(lines, CourseLine{
			CourseID:    course.ID,
			Title:       course.Title,
			AmountCents: amount,
		})
		total += amount
	}

	payment := &models.Payment{
		UserID:      input.UserID,
		Provider:    enums.PaymentProviderSepay,
		AmountCents: total,
		Currency:    enums.CurrencyVND,
		Status:      enums.PaymentStatusPending,
	}

	var (
		invoices []models.Invoice
		txnRef   string
	)
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		if _, err := repo.CreatePayment(ctx, payment); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment")
		}

		invoices = make([]models.Invoice, 0, len(lines))
		for _, line := range lines {
			invoices = append(invoices, models.Invoice{
				UserID:      input.UserID,
				CourseID:    line.CourseID,
				PaymentID:   payment.ID,
				AmountCents: line.AmountCents,
				Status:      enums.InvoiceStatusPending,
			})
		}
		if err := repo.CreateInvoices(ctx, invoices); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create invoices")
		}

		// OrderNumber is generated by the insert, so the transfer reference
		// can only be assigned afterwards.
		txnRef = FormatTxnRef(payment.OrderNumber)
		if err := repo.SetTxnRef(ctx, payment.ID, txnRef); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "assign txn ref")
		}
		payment.TxnRef = &txnRef
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &CheckoutResult{
		PaymentID:   payment.ID,
		TxnRef:      txnRef,
		AmountCents: total,
		Currency:    enums.CurrencyVND.String(),
		Courses:     lines,
		QRImageURL:  s.rail.QRImageURL(txnRef, total),
		BankInfo:    s.rail.BankInfo(),
		ExpiresAt:   payment.CreatedAt.Add(s.cfg.ExpiryWindow),
		Invoices:    invoices,
	}, nil
}

// amountVND normalizes a catalog price to whole VND using the stored currency.
func (s *service) amountVND(course models.Course) (int64, error) {
	if course.PriceCents < 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "course price is negative")
	}
	switch course.Currency {
	case enums.CurrencyVND:
		return course.PriceCents, nil
	case enums.CurrencyUSD:
		vnd := decimal.NewFromInt(course.PriceCents).
			Mul(decimal.NewFromInt(s.cfg.USDToVNDRate)).
			Div(decimal.NewFromInt(100)).
			Round(0)
		return vnd.IntPart(), nil
	default:
		return 0, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unsupported currency %q", course.Currency))
	}
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
