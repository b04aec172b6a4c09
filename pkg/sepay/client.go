package sepay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/mcourselabs/mcourse-backend/pkg/config"
	"github.com/mcourselabs/mcourse-backend/pkg/logger"
)

const qrImageBaseURL = "https://img.vietqr.io/image"

var (
	errAccountNoRequired     = errors.New("sepay account number is required")
	errAccountNameRequired   = errors.New("sepay account name is required")
	errWebhookSecretRequired = errors.New("sepay webhook secret is required")
	errLoggerRequired        = errors.New("sepay logger is required")
)

// BankInfo is the receiving account shown to buyers alongside the QR code.
type BankInfo struct {
	BankCode    string `json:"bank_code"`
	AccountNo   string `json:"account_no"`
	AccountName string `json:"account_name"`
}

// Client exposes the Sepay transfer rail: receiving account details, QR
// image URLs, and IPN signature verification.
type Client struct {
	bankCode      string
	accountNo     string
	accountName   string
	webhookSecret string
	logger        *logger.Logger
}

// NewClient validates the Sepay credentials and builds the wrapper.
func NewClient(ctx context.Context, cfg config.SepayConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}

	accountNo := strings.TrimSpace(cfg.AccountNo)
	if accountNo == "" {
		return nil, errAccountNoRequired
	}
	accountName := strings.TrimSpace(cfg.AccountName)
	if accountName == "" {
		return nil, errAccountNameRequired
	}
	webhookSecret := strings.TrimSpace(cfg.WebhookSecret)
	if webhookSecret == "" {
		return nil, errWebhookSecretRequired
	}

	c := &Client{
		bankCode:      strings.TrimSpace(cfg.BankCode),
		accountNo:     accountNo,
		accountName:   accountName,
		webhookSecret: webhookSecret,
		logger:        logg,
	}

	logg.Info(ctx, "sepay client initialized")
	return c, nil
}

// BankInfo returns the receiving account details.
func (c *Client) BankInfo() BankInfo {
	if c == nil {
		return BankInfo{}
	}
	return BankInfo{
		BankCode:    c.bankCode,
		AccountNo:   c.accountNo,
		AccountName: c.accountName,
	}
}

// SigningSecret returns the shared IPN secret.
func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.webhookSecret
}

// QRImageURL builds the VietQR image URL for a transfer of amountVND with
// txnRef as the transfer content.
func (c *Client) QRImageURL(txnRef string, amountVND int64) string {
	if c == nil {
		return ""
	}
	q := url.Values{}
	q.Set("amount", fmt.Sprintf("%d", amountVND))
	q.Set("addInfo", txnRef)
	q.Set("accountName", c.accountName)
	return fmt.Sprintf("%s/%s-%s-compact2.png?%s", qrImageBaseURL, c.bankCode, c.accountNo, q.Encode())
}

// VerifySignature checks an IPN signature: lowercase hex HMAC-SHA256 of the
// raw request body under the shared secret. Comparison is constant time.
func (c *Client) VerifySignature(payload []byte, signature string) bool {
	if c == nil || signature == "" || c.webhookSecret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(c.webhookSecret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}
