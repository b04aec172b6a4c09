package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/mcourselabs/mcourse-backend/pkg/db/models"
	"github.com/mcourselabs/mcourse-backend/pkg/sepay"
)

// CreateOrderInput captures the checkout request for one or more courses.
type CreateOrderInput struct {
	UserID    uuid.UUID
	CourseIDs []uuid.UUID
}

// CourseLine is one resolved catalog entry inside a checkout.
type CourseLine struct {
	CourseID    uuid.UUID `json:"course_id"`
	Title       string    `json:"title"`
	AmountCents int64     `json:"amount_cents"`
}

// CheckoutResult is everything the client needs to pay: the pending payment,
// the transfer reference, the QR image, and the deadline.
type CheckoutResult struct {
	PaymentID   uuid.UUID        `json:"payment_id"`
	TxnRef      string           `json:"txn_ref"`
	AmountCents int64            `json:"amount_cents"`
	Currency    string           `json:"currency"`
	Courses     []CourseLine     `json:"courses"`
	QRImageURL  string           `json:"qr_image_url"`
	BankInfo    sepay.BankInfo   `json:"bank_info"`
	ExpiresAt   time.Time        `json:"expires_at"`
	Invoices    []models.Invoice `json:"-"`
}
