package payment

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

// GatewayOrder is a payment intent registered with the gateway. The client
// completes checkout against it and returns the signed payment id.
type GatewayOrder struct {
	ID       string
	Amount   int64 // minor units
	Currency string
	Receipt  string
}

// Gateway creates payment intents.
type Gateway interface {
	CreateOrder(ctx context.Context, amount decimal.Decimal, currency, receipt string) (*GatewayOrder, error)
}

// MinorUnits converts an amount to the gateway's integer minor units.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// RazorpayConfig configures the Razorpay Orders API client.
type RazorpayConfig struct {
	KeyID     string
	KeySecret string
	BaseURL   string
	Client    *http.Client
}

// Razorpay is a Gateway backed by the Razorpay Orders API.
type Razorpay struct {
	keyID   string
	secret  string
	baseURL string
	client  *http.Client
}

var _ Gateway = (*Razorpay)(nil)

// NewRazorpay creates a Razorpay client.
func NewRazorpay(cfg RazorpayConfig) *Razorpay {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.razorpay.com/v1"
	}
	return &Razorpay{
		keyID:   cfg.KeyID,
		secret:  cfg.KeySecret,
		baseURL: baseURL,
		client:  client,
	}
}

// KeyID is the public key the checkout widget needs.
func (r *Razorpay) KeyID() string { return r.keyID }

// CreateOrder implements Gateway.
func (r *Razorpay) CreateOrder(ctx context.Context, amount decimal.Decimal, currency, receipt string) (*GatewayOrder, error) {
	minor := MinorUnits(amount)
	if minor <= 0 {
		return nil, errors.Errorf("amount must be positive, got %s", amount)
	}

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("amount", func(e *jx.Encoder) { e.Int64(minor) })
		e.Field("currency", func(e *jx.Encoder) { e.Str(currency) })
		e.Field("receipt", func(e *jx.Encoder) { e.Str(receipt) })
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/orders", bytes.NewReader(e.Bytes()))
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.SetBasicAuth(r.keyID, r.secret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "create gateway order")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(err, "read gateway response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("gateway returned %d: %s", resp.StatusCode, gatewayErrorDescription(body))
	}

	out := &GatewayOrder{Receipt: receipt}
	if err := jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			out.ID, err = d.Str()
		case "amount":
			out.Amount, err = d.Int64()
		case "currency":
			out.Currency, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		return nil, errors.Wrap(err, "decode gateway order")
	}
	if out.ID == "" {
		return nil, errors.New("gateway order without id")
	}
	return out, nil
}

// gatewayErrorDescription extracts error.description from a Razorpay error
// body, falling back to the raw payload.
func gatewayErrorDescription(body []byte) string {
	var desc string
	_ = jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		if key != "error" {
			return d.Skip()
		}
		return d.Obj(func(d *jx.Decoder, key string) error {
			if key != "description" {
				return d.Skip()
			}
			v, err := d.Str()
			desc = v
			return err
		})
	})
	if desc == "" {
		return fmt.Sprintf("%.200s", body)
	}
	return desc
}
