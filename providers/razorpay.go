package providers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "reconciliation-service/common/errors"
	"reconciliation-service/models"
)

const defaultRazorpayBaseURL = "https://api.razorpay.com"

// RazorpayClient creates Razorpay orders and checks checkout signatures.
type RazorpayClient struct {
	keyID      string
	keySecret  string
	baseURL    string
	httpClient *http.Client
}

func NewRazorpayClient(keyID, keySecret, baseURL string) *RazorpayClient {
	if baseURL == "" {
		baseURL = defaultRazorpayBaseURL
	}
	return &RazorpayClient{
		keyID:      keyID,
		keySecret:  keySecret,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *RazorpayClient) Name() models.Gateway { return models.GatewayRazorpay }

type razorpayOrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type razorpayOrderResponse struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

func (c *RazorpayClient) CreateIntent(ctx context.Context, orderID uuid.UUID, amount int64, currency string) (*Intent, error) {
	body, err := json.Marshal(razorpayOrderRequest{
		Amount:   amount,
		Currency: strings.ToUpper(currency),
		// receipts are capped at 40 characters
		Receipt: strings.ReplaceAll(orderID.String(), "-", ""),
		Notes:   map[string]string{"order_id": orderID.String()},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.keyID, c.keySecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.Transient("razorpay unreachable", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, apperrors.Transient(fmt.Sprintf("razorpay returned %d", resp.StatusCode), nil)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("razorpay returned %d", resp.StatusCode)
	}

	var out razorpayOrderResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode razorpay order: %w", err)
	}
	if out.ID == "" {
		return nil, fmt.Errorf("razorpay order response has no id")
	}
	return &Intent{
		Gateway:         models.GatewayRazorpay,
		ProviderOrderID: out.ID,
		Amount:          out.Amount,
		Currency:        out.Currency,
		KeyID:           c.keyID,
	}, nil
}

// Sign returns the signature Razorpay attaches to a successful checkout.
func (c *RazorpayClient) Sign(providerOrderID, providerPaymentID string) string {
	mac := hmac.New(sha256.New, []byte(c.keySecret))
	mac.Write([]byte(providerOrderID + "|" + providerPaymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *RazorpayClient) VerifySignature(cb models.GatewayCallback) bool {
	if c.keySecret == "" || cb.Signature == "" {
		return false
	}
	expected := c.Sign(cb.ProviderOrderID, cb.ProviderPaymentID)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(cb.Signature)))
}
