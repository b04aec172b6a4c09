package orders

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mcourselabs/mcourse-backend/internal/courses"
	"github.com/mcourselabs/mcourse-backend/pkg/config"
	"github.com/mcourselabs/mcourse-backend/pkg/db/models"
	"github.com/mcourselabs/mcourse-backend/pkg/enums"
	pkgerrors "github.com/mcourselabs/mcourse-backend/pkg/errors"
	"github.com/mcourselabs/mcourse-backend/pkg/sepay"
)

type fakeOrdersRepo struct {
	payment    *models.Payment
	invoices   []models.Invoice
	txnRef     string
	createErr  error
	nextNumber int64
}

func (f *fakeOrdersRepo) WithTx(tx *gorm.DB) Repository { return f }

func (f *fakeOrdersRepo) CreatePayment(ctx context.Context, payment *models.Payment) (*models.Payment, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	payment.ID = uuid.New()
	payment.OrderNumber = f.nextNumber
	payment.CreatedAt = time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	f.payment = payment
	return payment, nil
}

func (f *fakeOrdersRepo) CreateInvoices(ctx context.Context, invoices []models.Invoice) error {
	f.invoices = invoices
	return nil
}

func (f *fakeOrdersRepo) SetTxnRef(ctx context.Context, paymentID uuid.UUID, txnRef string) error {
	f.txnRef = txnRef
	return nil
}

type fakeCatalog struct {
	courses map[uuid.UUID]models.Course
}

func (f *fakeCatalog) WithTx(tx *gorm.DB) courses.Repository { return f }

func (f *fakeCatalog) FindByID(ctx context.Context, id uuid.UUID) (*models.Course, error) {
	c, ok := f.courses[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &c, nil
}

func (f *fakeCatalog) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Course, error) {
	var out []models.Course
	for _, id := range ids {
		if c, ok := f.courses[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

type fakeTx struct {
	calls int
	fail  error
}

func (f *fakeTx) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	f.calls++
	if err := fn(nil); err != nil {
		return err
	}
	return f.fail
}

type fakeRail struct{}

func (fakeRail) BankInfo() sepay.BankInfo {
	return sepay.BankInfo{BankCode: "OCB", AccountNo: "0123456789", AccountName: "MCOURSE JSC"}
}

func (fakeRail) QRImageURL(txnRef string, amountVND int64) string {
	return "https://img.vietqr.io/qr?ref=" + txnRef
}

func testPaymentsConfig() config.PaymentsConfig {
	return config.PaymentsConfig{ExpiryWindow: 15 * time.Minute, USDToVNDRate: 25000}
}

func TestCreateOrderSingleCourseVND(t *testing.T) {
	courseID := uuid.New()
	catalog := &fakeCatalog{courses: map[uuid.UUID]models.Course{
		courseID: {ID: courseID, Title: "Intro to Go", PriceCents: 500000, Currency: enums.CurrencyVND},
	}}
	repo := &fakeOrdersRepo{nextNumber: 42}
	svc, err := NewService(repo, catalog, &fakeTx{}, fakeRail{}, testPaymentsConfig())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	userID := uuid.New()
	result, err := svc.CreateOrder(context.Background(), CreateOrderInput{UserID: userID, CourseIDs: []uuid.UUID{courseID}})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	if result.TxnRef != "MCOURSE42" {
		t.Fatalf("unexpected txn ref %q", result.TxnRef)
	}
	if repo.txnRef != result.TxnRef {
		t.Fatalf("txn ref not persisted: %q vs %q", repo.txnRef, result.TxnRef)
	}
	if result.AmountCents != 500000 {
		t.Fatalf("unexpected amount %d", result.AmountCents)
	}
	if repo.payment.Status != enums.PaymentStatusPending {
		t.Fatalf("unexpected payment status %s", repo.payment.Status)
	}
	if len(repo.invoices) != 1 || repo.invoices[0].CourseID != courseID || repo.invoices[0].UserID != userID {
		t.Fatalf("unexpected invoices %+v", repo.invoices)
	}
	if !strings.Contains(result.QRImageURL, "MCOURSE42") {
		t.Fatalf("QR URL missing txn ref: %q", result.QRImageURL)
	}
	want := repo.payment.CreatedAt.Add(15 * time.Minute)
	if !result.ExpiresAt.Equal(want) {
		t.Fatalf("expires at %s, want %s", result.ExpiresAt, want)
	}
}

func TestCreateOrderConvertsUSDPrices(t *testing.T) {
	courseID := uuid.New()
	catalog := &fakeCatalog{courses: map[uuid.UUID]models.Course{
		// $19.99 at 25000 VND/USD.
		courseID: {ID: courseID, Title: "Advanced Go", PriceCents: 1999, Currency: enums.CurrencyUSD},
	}}
	repo := &fakeOrdersRepo{nextNumber: 7}
	svc, err := NewService(repo, catalog, &fakeTx{}, fakeRail{}, testPaymentsConfig())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	result, err := svc.CreateOrder(context.Background(), CreateOrderInput{UserID: uuid.New(), CourseIDs: []uuid.UUID{courseID}})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if result.AmountCents != 499750 {
		t.Fatalf("unexpected converted amount %d", result.AmountCents)
	}
	if result.Currency != "VND" {
		t.Fatalf("unexpected currency %q", result.Currency)
	}
}

func TestCreateOrderDeduplicatesCourses(t *testing.T) {
	courseID := uuid.New()
	catalog := &fakeCatalog{courses: map[uuid.UUID]models.Course{
		courseID: {ID: courseID, Title: "Intro to Go", PriceCents: 100000, Currency: enums.CurrencyVND},
	}}
	repo := &fakeOrdersRepo{nextNumber: 1}
	svc, _ := NewService(repo, catalog, &fakeTx{}, fakeRail{}, testPaymentsConfig())

	result, err := svc.CreateOrder(context.Background(), CreateOrderInput{
		UserID:    uuid.New(),
		CourseIDs: []uuid.UUID{courseID, courseID},
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if len(result.Courses) != 1 || result.AmountCents != 100000 {
		t.Fatalf("duplicate course not collapsed: %+v", result)
	}
}

func TestCreateOrderUnknownCourse(t *testing.T) {
	catalog := &fakeCatalog{courses: map[uuid.UUID]models.Course{}}
	svc, _ := NewService(&fakeOrdersRepo{}, catalog, &fakeTx{}, fakeRail{}, testPaymentsConfig())

	_, err := svc.CreateOrder(context.Background(), CreateOrderInput{UserID: uuid.New(), CourseIDs: []uuid.UUID{uuid.New()}})
	var domainErr *pkgerrors.Error
	if !errors.As(err, &domainErr) || domainErr.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCreateOrderValidation(t *testing.T) {
	catalog := &fakeCatalog{courses: map[uuid.UUID]models.Course{}}
	svc, _ := NewService(&fakeOrdersRepo{}, catalog, &fakeTx{}, fakeRail{}, testPaymentsConfig())

	if _, err := svc.CreateOrder(context.Background(), CreateOrderInput{CourseIDs: []uuid.UUID{uuid.New()}}); err == nil {
		t.Fatal("expected error for missing user")
	}
	if _, err := svc.CreateOrder(context.Background(), CreateOrderInput{UserID: uuid.New()}); err == nil {
		t.Fatal("expected error for empty course list")
	}
}
