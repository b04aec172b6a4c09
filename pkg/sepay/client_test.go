package sepay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/mcourselabs/mcourse-backend/pkg/config"
	"github.com/mcourselabs/mcourse-backend/pkg/logger"
)

func testConfig() config.SepayConfig {
	return config.SepayConfig{
		BankCode:      "OCB",
		AccountNo:     "0123456789",
		AccountName:   "MCOURSE JSC",
		WebhookSecret: "test-secret",
	}
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(context.Background(), testConfig(), logger.New(logger.Options{}))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestNewClientValidatesCredentials(t *testing.T) {
	logg := logger.New(logger.Options{})

	cfg := testConfig()
	cfg.AccountNo = " "
	if _, err := NewClient(context.Background(), cfg, logg); err == nil {
		t.Fatal("expected error for missing account number")
	}

	cfg = testConfig()
	cfg.WebhookSecret = ""
	if _, err := NewClient(context.Background(), cfg, logg); err == nil {
		t.Fatal("expected error for missing webhook secret")
	}

	if _, err := NewClient(context.Background(), testConfig(), nil); err == nil {
		t.Fatal("expected error for nil logger")
	}
}

func TestQRImageURL(t *testing.T) {
	c := newTestClient(t)

	got := c.QRImageURL("MCOURSE42", 500000)
	if !strings.HasPrefix(got, "https://img.vietqr.io/image/OCB-0123456789-compact2.png?") {
		t.Fatalf("unexpected QR URL prefix: %q", got)
	}
	for _, sub := range []string{"amount=500000", "addInfo=MCOURSE42", "accountName=MCOURSE+JSC"} {
		if !strings.Contains(got, sub) {
			t.Errorf("QR URL %q missing %q", got, sub)
		}
	}
}

func TestVerifySignature(t *testing.T) {
	c := newTestClient(t)
	payload := []byte(`{"txn_ref":"MCOURSE42","amount":500000}`)

	mac := hmac.New(sha256.New, []byte("test-secret"))
	mac.Write(payload)
	valid := hex.EncodeToString(mac.Sum(nil))

	if !c.VerifySignature(payload, valid) {
		t.Fatal("expected valid signature to verify")
	}
	// Uppercase hex from the provider is accepted.
	if !c.VerifySignature(payload, strings.ToUpper(valid)) {
		t.Fatal("expected uppercase signature to verify")
	}
	if c.VerifySignature(payload, "deadbeef") {
		t.Fatal("expected bogus signature to fail")
	}
	if c.VerifySignature([]byte("tampered"), valid) {
		t.Fatal("expected tampered payload to fail")
	}
	if c.VerifySignature(payload, "") {
		t.Fatal("expected empty signature to fail")
	}
}
