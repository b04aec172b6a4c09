package enrollments

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/mcourselabs/mcourse-backend/internal/notifications"
	"github.com/mcourselabs/mcourse-backend/pkg/db/models"
	"github.com/mcourselabs/mcourse-backend/pkg/enums"
	pkgerrors "github.com/mcourselabs/mcourse-backend/pkg/errors"
	"github.com/mcourselabs/mcourse-backend/pkg/logger"
)

const myLearningLink = "/my-learning"

// Activator grants course access once a payment settles. Activate is
// idempotent and always runs inside the caller's transaction, so a failed
// activation rolls the settlement back with it.
type Activator interface {
	Activate(ctx context.Context, tx *gorm.DB, payment *models.Payment) error
}

type activator struct {
	repo          Repository
	notifications notifications.Repository
	logger        *logger.Logger
	now           func() time.Time
}

// NewActivator builds the activator with the required dependencies.
func NewActivator(repo Repository, notifs notifications.Repository, logg *logger.Logger) (Activator, error) {
	if repo == nil {
		return nil, fmt.Errorf("enrollments repository required")
	}
	if notifs == nil {
		return nil, fmt.Errorf("notifications repository required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &activator{repo: repo, notifications: notifs, logger: logg, now: time.Now}, nil
}

func (a *activator) Activate(ctx context.Context, tx *gorm.DB, payment *models.Payment) error {
	if payment == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "payment required for activation")
	}

	repo := a.repo.WithTx(tx)
	notifs := a.notifications.WithTx(tx)
	now := a.now().UTC()

	invoices, err := repo.FindInvoicesByPayment(ctx, payment.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load invoices")
	}
	if len(invoices) == 0 {
		return pkgerrors.New(pkgerrors.CodeInternal, "payment has no invoices")
	}

	if _, err := repo.MarkInvoicesPaid(ctx, payment.ID, now); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark invoices paid")
	}

	for _, invoice := range invoices {
		created, err := repo.CreateEnrollment(ctx, &models.Enrollment{
			UserID:     invoice.UserID,
			CourseID:   invoice.CourseID,
			Status:     enums.EnrollmentStatusActive,
			EnrolledAt: now,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create enrollment")
		}
		if !created {
			ctx := a.logger.WithPaymentID(ctx, payment.ID.String())
			a.logger.Info(ctx, "enrollment already exists, skipping")
		}
	}

	dedupeKey := completionDedupeKey(payment)
	_, err = notifs.Create(ctx, &models.Notification{
		UserID:    payment.UserID,
		Type:      enums.NotificationTypeSuccess,
		Title:     "Thanh toán thành công",
		Message:   fmt.Sprintf("Thanh toán cho %d khóa học đã được xác nhận.", len(invoices)),
		Link:      ptr(myLearningLink),
		DedupeKey: &dedupeKey,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create completion notification")
	}
	return nil
}

func completionDedupeKey(payment *models.Payment) string {
	return fmt.Sprintf("payment:%s:completed", payment.ID)
}

func ptr[T any](v T) *T { return &v }
