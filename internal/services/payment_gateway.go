package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/certhub/backend/internal/models"
)

// Order is a created payment gateway order. AmountMinor is the amount
// in the currency's minor unit, which is what gateways bill in.
type Order struct {
	OrderID     string
	AmountMinor int64
	Currency    string
}

// Gateway is the payment gateway collaborator: it creates orders for
// top-ups and payouts and verifies callback authenticity. The core
// never trusts a callback payload the gateway has not verified.
type Gateway interface {
	CreateOrder(ctx context.Context, amount decimal.Decimal, merchantOrderID string) (*Order, error)
	VerifyCallback(payload *models.GatewayCallback) error
}

// HTTPGateway talks to the gateway's REST API.
type HTTPGateway struct {
	baseURL  string
	keyID    string
	secret   string
	currency string
	client   *http.Client
}

// NewHTTPGateway builds a gateway client from gateway.* viper keys.
func NewHTTPGateway() *HTTPGateway {
	viper.SetDefault("gateway.base_url", "http://localhost:9090")
	viper.SetDefault("gateway.currency", "INR")
	viper.SetDefault("gateway.timeout", 10*time.Second)

	return &HTTPGateway{
		baseURL:  viper.GetString("gateway.base_url"),
		keyID:    viper.GetString("gateway.key_id"),
		secret:   viper.GetString("gateway.secret"),
		currency: viper.GetString("gateway.currency"),
		client:   &http.Client{Timeout: viper.GetDuration("gateway.timeout")},
	}
}

func (g *HTTPGateway) CreateOrder(ctx context.Context, amount decimal.Decimal, merchantOrderID string) (*Order, error) {
	amountMinor := amount.Mul(decimal.NewFromInt(100)).IntPart()

	reqBody, err := json.Marshal(map[string]any{
		"amount":   amountMinor,
		"currency": g.currency,
		"receipt":  merchantOrderID,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/orders", bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(g.keyID, g.secret)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("gateway order creation returned status %d", resp.StatusCode)
	}

	var result struct {
		ID       string `json:"id"`
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	if result.ID == "" {
		return nil, errors.New("gateway order response missing id")
	}

	return &Order{
		OrderID:     result.ID,
		AmountMinor: result.Amount,
		Currency:    result.Currency,
	}, nil
}

// VerifyCallback checks the HMAC-SHA256 signature the gateway computes
// over "<merchantOrderId>|<transactionId>|<state>|<amount>".
func (g *HTTPGateway) VerifyCallback(payload *models.GatewayCallback) error {
	data := fmt.Sprintf("%s|%s|%s|%s",
		payload.MerchantOrderID, payload.TransactionID, payload.State, payload.Amount)

	h := hmac.New(sha256.New, []byte(g.secret))
	h.Write([]byte(data))
	expected := hex.EncodeToString(h.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(payload.Signature)) {
		return errors.New("signature mismatch")
	}
	return nil
}
