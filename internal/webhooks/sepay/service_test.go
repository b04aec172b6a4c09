package sepaywebhook

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mcourselabs/mcourse-backend/internal/reconcile"
	pkgerrors "github.com/mcourselabs/mcourse-backend/pkg/errors"
	"github.com/mcourselabs/mcourse-backend/pkg/logger"
)

type fakeEngine struct {
	lastEvidence reconcile.Evidence
	result       *reconcile.Result
	err          error
}

func (f *fakeEngine) Reconcile(ctx context.Context, evidence reconcile.Evidence) (*reconcile.Result, error) {
	f.lastEvidence = evidence
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &reconcile.Result{Settled: true}, nil
}

func newTestService(t *testing.T, engine reconcile.Engine) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{Engine: engine, Logger: logger.New(logger.Options{})})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestHandleWebhookParsesOrderReference(t *testing.T) {
	tests := []struct {
		content string
		want    int64
	}{
		{"MCOURSE42", 42},
		{"MCOURSE 42", 42},
		{"CK chuyen tien MCOURSE  1007 thanh toan", 1007},
	}
	for _, tc := range tests {
		engine := &fakeEngine{}
		svc := newTestService(t, engine)

		result, err := svc.HandleWebhook(context.Background(), WebhookPayload{
			TransactionContent: tc.content,
			TransferType:       "in",
			TransferAmount:     500000,
			ReferenceCode:      "FT123",
		})
		if err != nil {
			t.Fatalf("HandleWebhook(%q): %v", tc.content, err)
		}
		if !result.Settled {
			t.Fatalf("HandleWebhook(%q): not settled", tc.content)
		}
		push, ok := engine.lastEvidence.(reconcile.WebhookPush)
		if !ok {
			t.Fatalf("unexpected evidence type %T", engine.lastEvidence)
		}
		if push.OrderNumber != tc.want || push.ReportedAmountCents != 500000 || push.GatewayTxnID != "FT123" {
			t.Fatalf("unexpected push %+v", push)
		}
	}
}

func TestHandleWebhookRejectsUnreferencedContent(t *testing.T) {
	engine := &fakeEngine{}
	svc := newTestService(t, engine)

	_, err := svc.HandleWebhook(context.Background(), WebhookPayload{
		TransactionContent: "chuyen tien an trua",
		TransferType:       "in",
	})
	var domainErr *pkgerrors.Error
	if !errors.As(err, &domainErr) || domainErr.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if engine.lastEvidence != nil {
		t.Fatal("engine called for unreferenced content")
	}
}

func TestHandleWebhookIgnoresOutgoingTransfers(t *testing.T) {
	engine := &fakeEngine{}
	svc := newTestService(t, engine)

	result, err := svc.HandleWebhook(context.Background(), WebhookPayload{
		TransactionContent: "MCOURSE42",
		TransferType:       "out",
	})
	if err != nil {
		t.Fatalf("HandleWebhook: %v", err)
	}
	if result.Settled || engine.lastEvidence != nil {
		t.Fatalf("outgoing transfer reached the engine: %+v", result)
	}
}

func TestHandleIPNForwardsSignatureAndRawBody(t *testing.T) {
	engine := &fakeEngine{}
	svc := newTestService(t, engine)
	raw := []byte(`{"txn_ref":"MCOURSE42","status":"success"}`)

	_, err := svc.HandleIPN(context.Background(), raw, "sig-hex", IPNPayload{
		TxnRef:       "MCOURSE42",
		Status:       "success",
		Amount:       500000,
		GatewayTxnID: "ipn-1",
	})
	if err != nil {
		t.Fatalf("HandleIPN: %v", err)
	}
	push, ok := engine.lastEvidence.(reconcile.IPNPush)
	if !ok {
		t.Fatalf("unexpected evidence type %T", engine.lastEvidence)
	}
	if push.Signature != "sig-hex" || string(push.Raw) != string(raw) || push.TxnRef != "MCOURSE42" {
		t.Fatalf("unexpected push %+v", push)
	}
}

type fakeIdempotencyStore struct {
	keys map[string]bool
	err  error
}

func (f *fakeIdempotencyStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.keys == nil {
		f.keys = map[string]bool{}
	}
	if f.keys[key] {
		return false, nil
	}
	f.keys[key] = true
	return true, nil
}

func (f *fakeIdempotencyStore) Get(ctx context.Context, key string) (string, error) {
	if f.keys[key] {
		return "1", nil
	}
	return "", nil
}

func (f *fakeIdempotencyStore) Del(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.keys, key)
	}
	return nil
}

func (f *fakeIdempotencyStore) IdempotencyKey(scope, id string) string {
	return "mc:idempotency:" + scope + ":" + id
}

func TestIdempotencyGuardMarksAndReleases(t *testing.T) {
	store := &fakeIdempotencyStore{}
	guard, err := NewIdempotencyGuard(store, time.Hour, "sepay-ipn")
	if err != nil {
		t.Fatalf("NewIdempotencyGuard: %v", err)
	}

	seen, err := guard.CheckAndMark(context.Background(), "ipn-1")
	if err != nil {
		t.Fatalf("CheckAndMark: %v", err)
	}
	if seen {
		t.Fatal("first delivery reported as replay")
	}

	seen, err = guard.CheckAndMark(context.Background(), "ipn-1")
	if err != nil {
		t.Fatalf("CheckAndMark replay: %v", err)
	}
	if !seen {
		t.Fatal("replay not detected")
	}

	if err := guard.Delete(context.Background(), "ipn-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	seen, err = guard.CheckAndMark(context.Background(), "ipn-1")
	if err != nil {
		t.Fatalf("CheckAndMark after delete: %v", err)
	}
	if seen {
		t.Fatal("deleted mark still detected as replay")
	}
}
