package reconcile

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mcourselabs/mcourse-backend/pkg/config"
	"github.com/mcourselabs/mcourse-backend/pkg/db/models"
	"github.com/mcourselabs/mcourse-backend/pkg/enums"
	pkgerrors "github.com/mcourselabs/mcourse-backend/pkg/errors"
	"github.com/mcourselabs/mcourse-backend/pkg/logger"
)

// fakePaymentStore keeps payments in memory with the same compare-and-set
// transition semantics the SQL statements provide.
type fakePaymentStore struct {
	mu       sync.Mutex
	payments map[uuid.UUID]*models.Payment
	reads    int
}

func newFakeStore(payments ...*models.Payment) *fakePaymentStore {
	m := make(map[uuid.UUID]*models.Payment, len(payments))
	for _, p := range payments {
		m[p.ID] = p
	}
	return &fakePaymentStore{payments: m}
}

func (f *fakePaymentStore) WithTx(tx *gorm.DB) Repository { return f }

func (f *fakePaymentStore) get(id uuid.UUID) (*models.Payment, error) {
	f.reads++
	p, ok := f.payments[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *p
	return &copied, nil
}

func (f *fakePaymentStore) FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.get(id)
}

func (f *fakePaymentStore) FindByOrderNumber(ctx context.Context, orderNumber int64) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, p := range f.payments {
		if p.OrderNumber == orderNumber {
			return f.get(id)
		}
	}
	f.reads++
	return nil, gorm.ErrRecordNotFound
}

func (f *fakePaymentStore) FindByTxnRef(ctx context.Context, txnRef string) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, p := range f.payments {
		if p.TxnRef != nil && *p.TxnRef == txnRef {
			return f.get(id)
		}
	}
	f.reads++
	return nil, gorm.ErrRecordNotFound
}

func (f *fakePaymentStore) CompletePending(ctx context.Context, id uuid.UUID, now time.Time, gatewayTxnID *string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[id]
	if !ok || p.Status != enums.PaymentStatusPending {
		return false, nil
	}
	p.Status = enums.PaymentStatusCompleted
	p.PaidAt = &now
	if gatewayTxnID != nil && *gatewayTxnID != "" {
		p.GatewayTxnID = gatewayTxnID
	}
	return true, nil
}

func (f *fakePaymentStore) ExpirePending(ctx context.Context, id uuid.UUID, createdBefore time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[id]
	if !ok || p.Status != enums.PaymentStatusPending || !p.CreatedAt.Before(createdBefore) {
		return false, nil
	}
	p.Status = enums.PaymentStatusExpired
	return true, nil
}

func (f *fakePaymentStore) ExpirePendingBefore(ctx context.Context, createdBefore time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, p := range f.payments {
		if p.Status == enums.PaymentStatusPending && p.CreatedAt.Before(createdBefore) {
			p.Status = enums.PaymentStatusExpired
			n++
		}
	}
	return n, nil
}

func (f *fakePaymentStore) snapshot() map[uuid.UUID]models.Payment {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[uuid.UUID]models.Payment, len(f.payments))
	for id, p := range f.payments {
		out[id] = *p
	}
	return out
}

func (f *fakePaymentStore) restore(snap map[uuid.UUID]models.Payment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id := range f.payments {
		p := snap[id]
		copied := p
		f.payments[id] = &copied
	}
}

// fakeTx snapshots the store and restores it when fn fails, mirroring a
// rolled-back transaction.
type fakeTx struct {
	store *fakePaymentStore
}

func (f *fakeTx) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	snap := f.store.snapshot()
	if err := fn(nil); err != nil {
		f.store.restore(snap)
		return err
	}
	return nil
}

type fakeActivator struct {
	mu    sync.Mutex
	calls []uuid.UUID
	err   error
}

func (f *fakeActivator) Activate(ctx context.Context, tx *gorm.DB, payment *models.Payment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, payment.ID)
	return nil
}

func (f *fakeActivator) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeVerifier struct {
	valid string
}

func (f fakeVerifier) VerifySignature(payload []byte, signature string) bool {
	return signature == f.valid
}

type engineFixture struct {
	store     *fakePaymentStore
	activator *fakeActivator
	engine    Engine
}

func pendingPayment(amount int64, age time.Duration) *models.Payment {
	ref := "MCOURSE7"
	return &models.Payment{
		ID:          uuid.New(),
		UserID:      uuid.New(),
		AmountCents: amount,
		Currency:    enums.CurrencyVND,
		Status:      enums.PaymentStatusPending,
		OrderNumber: 7,
		TxnRef:      &ref,
		CreatedAt:   time.Now().UTC().Add(-age),
	}
}

func newFixture(t *testing.T, payments ...*models.Payment) *engineFixture {
	t.Helper()
	store := newFakeStore(payments...)
	activator := &fakeActivator{}
	eng, err := NewEngine(
		store,
		&fakeTx{store: store},
		activator,
		fakeVerifier{valid: "good-signature"},
		config.PaymentsConfig{ExpiryWindow: 15 * time.Minute, USDToVNDRate: 25000},
		logger.New(logger.Options{}),
	)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return &engineFixture{store: store, activator: activator, engine: eng}
}

func TestWebhookSettlesPendingPayment(t *testing.T) {
	payment := pendingPayment(500000, time.Minute)
	fx := newFixture(t, payment)

	result, err := fx.engine.Reconcile(context.Background(), WebhookPush{
		OrderNumber:         7,
		ReportedAmountCents: 500000,
		GatewayTxnID:        "bank-123",
	})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !result.Settled || result.Status != enums.PaymentStatusCompleted {
		t.Fatalf("unexpected result %+v", result)
	}
	if fx.activator.count() != 1 {
		t.Fatalf("activator called %d times", fx.activator.count())
	}

	stored, _ := fx.store.FindByID(context.Background(), payment.ID)
	if stored.Status != enums.PaymentStatusCompleted || stored.PaidAt == nil {
		t.Fatalf("payment not completed: %+v", stored)
	}
	if stored.GatewayTxnID == nil || *stored.GatewayTxnID != "bank-123" {
		t.Fatalf("gateway txn id not recorded")
	}
}

func TestWebhookAmountMismatchLeavesPending(t *testing.T) {
	payment := pendingPayment(500000, time.Minute)
	fx := newFixture(t, payment)

	for _, reported := range []int64{499999, 500001} {
		result, err := fx.engine.Reconcile(context.Background(), WebhookPush{OrderNumber: 7, ReportedAmountCents: reported})
		if err != nil {
			t.Fatalf("Reconcile(%d): %v", reported, err)
		}
		if result.Settled || result.Reason != ReasonAmountMismatch {
			t.Fatalf("amount %d: unexpected result %+v", reported, result)
		}
	}

	stored, _ := fx.store.FindByID(context.Background(), payment.ID)
	if stored.Status != enums.PaymentStatusPending {
		t.Fatalf("payment mutated on mismatch: %s", stored.Status)
	}
	if fx.activator.count() != 0 {
		t.Fatal("activator ran on mismatch")
	}
}

func TestIPNSignatureCheckedBeforeLookup(t *testing.T) {
	payment := pendingPayment(500000, time.Minute)
	fx := newFixture(t, payment)

	_, err := fx.engine.Reconcile(context.Background(), IPNPush{
		TxnRef:    "MCOURSE7",
		Status:    "success",
		Signature: "forged",
		Raw:       []byte("{}"),
	})
	var domainErr *pkgerrors.Error
	if !errors.As(err, &domainErr) || domainErr.Code() != pkgerrors.CodeUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if fx.store.reads != 0 {
		t.Fatalf("payment looked up before signature check (%d reads)", fx.store.reads)
	}
}

func TestIPNSettlesOnValidSignature(t *testing.T) {
	payment := pendingPayment(500000, time.Minute)
	fx := newFixture(t, payment)

	result, err := fx.engine.Reconcile(context.Background(), IPNPush{
		TxnRef:       "MCOURSE7",
		Status:       "success",
		AmountCents:  500000,
		GatewayTxnID: "ipn-9",
		Signature:    "good-signature",
		Raw:          []byte("{}"),
	})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !result.Settled {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestIPNSettlesDespiteAmountDivergenceAndLogsIt(t *testing.T) {
	payment := pendingPayment(500000, time.Minute)
	store := newFakeStore(payment)
	var logs bytes.Buffer
	eng, err := NewEngine(
		store,
		&fakeTx{store: store},
		&fakeActivator{},
		fakeVerifier{valid: "good-signature"},
		config.PaymentsConfig{ExpiryWindow: 15 * time.Minute, USDToVNDRate: 25000},
		logger.New(logger.Options{ServiceName: "test", Output: &logs}),
	)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	result, err := eng.Reconcile(context.Background(), IPNPush{
		TxnRef:      "MCOURSE7",
		Status:      "success",
		AmountCents: 499000,
		Signature:   "good-signature",
		Raw:         []byte("{}"),
	})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !result.Settled {
		t.Fatalf("gateway confirmation must settle, got %+v", result)
	}
	if !strings.Contains(logs.String(), "ipn amount differs from payment") {
		t.Fatalf("expected divergence log, got %s", logs.String())
	}
}

func TestIPNIgnoresNonSettledStatus(t *testing.T) {
	payment := pendingPayment(500000, time.Minute)
	fx := newFixture(t, payment)

	result, err := fx.engine.Reconcile(context.Background(), IPNPush{
		TxnRef:    "MCOURSE7",
		Status:    "failed",
		Signature: "good-signature",
		Raw:       []byte("{}"),
	})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if result.Settled || result.Reason != ReasonIgnoredStatus {
		t.Fatalf("unexpected result %+v", result)
	}

	stored, _ := fx.store.FindByID(context.Background(), payment.ID)
	if stored.Status != enums.PaymentStatusPending {
		t.Fatalf("payment mutated: %s", stored.Status)
	}
}

func TestManualReportRequiresOwner(t *testing.T) {
	payment := pendingPayment(500000, time.Minute)
	fx := newFixture(t, payment)

	_, err := fx.engine.Reconcile(context.Background(), ManualReport{PaymentID: payment.ID, ActingUserID: uuid.New()})
	var domainErr *pkgerrors.Error
	if !errors.As(err, &domainErr) || domainErr.Code() != pkgerrors.CodeForbidden {
		t.Fatalf("expected forbidden, got %v", err)
	}

	result, err := fx.engine.Reconcile(context.Background(), ManualReport{PaymentID: payment.ID, ActingUserID: payment.UserID})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !result.Settled {
		t.Fatalf("owner report did not settle: %+v", result)
	}
}

func TestPollObservesWithoutCompleting(t *testing.T) {
	payment := pendingPayment(500000, time.Minute)
	fx := newFixture(t, payment)

	result, err := fx.engine.Reconcile(context.Background(), Polled{PaymentID: payment.ID, UserID: payment.UserID})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if result.Settled || result.Status != enums.PaymentStatusPending {
		t.Fatalf("unexpected result %+v", result)
	}
	if fx.activator.count() != 0 {
		t.Fatal("poll triggered activation")
	}
}

func TestPollExpiresOverduePayment(t *testing.T) {
	payment := pendingPayment(500000, 16*time.Minute)
	fx := newFixture(t, payment)

	result, err := fx.engine.Reconcile(context.Background(), Polled{PaymentID: payment.ID, UserID: payment.UserID})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if result.Status != enums.PaymentStatusExpired {
		t.Fatalf("unexpected result %+v", result)
	}

	// Expiry forecloses later completion evidence.
	late, err := fx.engine.Reconcile(context.Background(), WebhookPush{OrderNumber: 7, ReportedAmountCents: 500000})
	if err != nil {
		t.Fatalf("Reconcile after expiry: %v", err)
	}
	if !late.AlreadyProcessed || late.Status != enums.PaymentStatusExpired {
		t.Fatalf("expired payment completed: %+v", late)
	}
	if fx.activator.count() != 0 {
		t.Fatal("activator ran for expired payment")
	}
}

func TestReplayedEvidenceIsIdempotent(t *testing.T) {
	payment := pendingPayment(500000, time.Minute)
	fx := newFixture(t, payment)
	push := WebhookPush{OrderNumber: 7, ReportedAmountCents: 500000, GatewayTxnID: "bank-1"}

	first, err := fx.engine.Reconcile(context.Background(), push)
	if err != nil {
		t.Fatalf("first Reconcile: %v", err)
	}
	second, err := fx.engine.Reconcile(context.Background(), push)
	if err != nil {
		t.Fatalf("second Reconcile: %v", err)
	}

	if !first.Settled {
		t.Fatalf("first push did not settle: %+v", first)
	}
	if second.Settled || !second.AlreadyProcessed || second.Status != enums.PaymentStatusCompleted {
		t.Fatalf("replay not idempotent: %+v", second)
	}
	if fx.activator.count() != 1 {
		t.Fatalf("activator called %d times", fx.activator.count())
	}
}

func TestConcurrentEvidenceSettlesExactlyOnce(t *testing.T) {
	payment := pendingPayment(500000, time.Minute)
	fx := newFixture(t, payment)

	mixed := []Evidence{
		WebhookPush{OrderNumber: 7, ReportedAmountCents: 500000},
		IPNPush{TxnRef: "MCOURSE7", Status: "success", Signature: "good-signature", Raw: []byte("{}")},
		ManualReport{PaymentID: payment.ID, ActingUserID: payment.UserID},
	}

	const rounds = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		settled int
	)
	for i := 0; i < rounds; i++ {
		for _, ev := range mixed {
			wg.Add(1)
			go func(ev Evidence) {
				defer wg.Done()
				result, err := fx.engine.Reconcile(context.Background(), ev)
				if err != nil {
					t.Errorf("Reconcile: %v", err)
					return
				}
				if result.Settled {
					mu.Lock()
					settled++
					mu.Unlock()
				}
			}(ev)
		}
	}
	wg.Wait()

	if settled != 1 {
		t.Fatalf("expected exactly one settlement, got %d", settled)
	}
	if fx.activator.count() != 1 {
		t.Fatalf("activator called %d times", fx.activator.count())
	}
}

func TestActivationFailureRollsBackSettlement(t *testing.T) {
	payment := pendingPayment(500000, time.Minute)
	fx := newFixture(t, payment)
	fx.activator.err = errors.New("enrollment insert failed")

	_, err := fx.engine.Reconcile(context.Background(), WebhookPush{OrderNumber: 7, ReportedAmountCents: 500000})
	if err == nil {
		t.Fatal("expected activation failure to surface")
	}

	stored, _ := fx.store.FindByID(context.Background(), payment.ID)
	if stored.Status != enums.PaymentStatusPending {
		t.Fatalf("transition not rolled back: %s", stored.Status)
	}

	// Once the fault clears, the same evidence settles normally.
	fx.activator.err = nil
	result, err := fx.engine.Reconcile(context.Background(), WebhookPush{OrderNumber: 7, ReportedAmountCents: 500000})
	if err != nil {
		t.Fatalf("retry Reconcile: %v", err)
	}
	if !result.Settled {
		t.Fatalf("retry did not settle: %+v", result)
	}
}

func TestUnknownPaymentIsNotFound(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.engine.Reconcile(context.Background(), Polled{PaymentID: uuid.New(), UserID: uuid.New()})
	var domainErr *pkgerrors.Error
	if !errors.As(err, &domainErr) || domainErr.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}
