// pkg/lnbits/client.go
package lnbits

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// InvoiceStatus is the state of an incoming invoice.
type InvoiceStatus string

const (
	InvoicePaid      InvoiceStatus = "PAID"
	InvoiceExpired   InvoiceStatus = "EXPIRED"
	InvoiceCancelled InvoiceStatus = "CANCELLED"
	InvoicePending   InvoiceStatus = "PENDING"
)

// PaymentStatus is the state of an outgoing payment as reported by the
// executor's own transaction history.
type PaymentStatus string

const (
	PaymentSuccess  PaymentStatus = "SUCCESS"
	PaymentPending  PaymentStatus = "PENDING"
	PaymentNotFound PaymentStatus = "NOT_FOUND"
)

// Invoice is a concrete, routable payment request.
type Invoice struct {
	Bolt11      string
	PaymentHash string
	// AmountSat is 0 for amount-less invoices.
	AmountSat int64
}

// ErrPaymentFailed wraps the executor's reported payment error. The
// caller must not assume the payment did not go out; see the withdrawal
// reconciliation protocol.
var ErrPaymentFailed = errors.New("payment failed")

// Client talks to an LNbits wallet over its REST API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("lnbits base URL is empty")
	}
	if apiKey == "" {
		return nil, errors.New("lnbits API key is empty")
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type paymentResponse struct {
	PaymentRequest string `json:"payment_request"`
	Bolt11         string `json:"bolt11"`
	PaymentHash    string `json:"payment_hash"`
	CheckingID     string `json:"checking_id"`
}

// CreateInvoice asks the wallet for a fresh incoming invoice.
func (c *Client) CreateInvoice(ctx context.Context, amountSat int64, memo string) (*Invoice, error) {
	body := map[string]any{"out": false, "amount": amountSat, "memo": memo}
	var resp paymentResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/payments", body, &resp); err != nil {
		return nil, fmt.Errorf("failed to create invoice: %w", err)
	}
	bolt11 := resp.PaymentRequest
	if bolt11 == "" {
		bolt11 = resp.Bolt11
	}
	return &Invoice{Bolt11: bolt11, PaymentHash: resp.PaymentHash, AmountSat: amountSat}, nil
}

type paymentDetails struct {
	Paid    bool `json:"paid"`
	Details struct {
		Pending bool  `json:"pending"`
		Expiry  int64 `json:"expiry"`
		Time    int64 `json:"time"`
	} `json:"details"`
}

// CheckInvoiceStatus reports whether the invoice with the given payment
// hash has been settled.
func (c *Client) CheckInvoiceStatus(ctx context.Context, paymentHash string) (InvoiceStatus, error) {
	var resp paymentDetails
	err := c.do(ctx, http.MethodGet, "/api/v1/payments/"+url.PathEscape(paymentHash), nil, &resp)
	if err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.status == http.StatusNotFound {
			return InvoiceCancelled, nil
		}
		return "", fmt.Errorf("failed to check invoice: %w", err)
	}
	if resp.Paid {
		return InvoicePaid, nil
	}
	if exp := resp.Details.Expiry; exp > 0 && time.Now().Unix() > exp {
		return InvoiceExpired, nil
	}
	return InvoicePending, nil
}

// DecodeInvoice resolves a caller-supplied bolt11 string to its payment
// hash and encoded amount.
func (c *Client) DecodeInvoice(ctx context.Context, bolt11 string) (*Invoice, error) {
	var resp struct {
		PaymentHash string `json:"payment_hash"`
		AmountMsat  int64  `json:"amount_msat"`
	}
	body := map[string]any{"data": bolt11}
	if err := c.do(ctx, http.MethodPost, "/api/v1/payments/decode", body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode invoice: %w", err)
	}
	return &Invoice{
		Bolt11:      bolt11,
		PaymentHash: resp.PaymentHash,
		AmountSat:   resp.AmountMsat / 1000,
	}, nil
}

// ProbeFee estimates the routing fee for paying bolt11, in sats. A fee
// of exactly zero means the payment settles inside the same provider.
func (c *Client) ProbeFee(ctx context.Context, bolt11 string) (int64, error) {
	var resp struct {
		FeeReserveMsat int64 `json:"fee_reserve"`
	}
	path := "/api/v1/payments/fee-reserve?invoice=" + url.QueryEscape(bolt11)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return 0, fmt.Errorf("failed to probe fee: %w", err)
	}
	return resp.FeeReserveMsat / 1000, nil
}

// Pay submits an outgoing payment for an invoice that encodes its own
// amount. A returned error does not mean the payment did not go out.
func (c *Client) Pay(ctx context.Context, bolt11 string) error {
	body := map[string]any{"out": true, "bolt11": bolt11}
	var resp paymentResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/payments", body, &resp); err != nil {
		return fmt.Errorf("%w: %v", ErrPaymentFailed, err)
	}
	return nil
}

// PayFixedAmount submits an outgoing payment for an amount-less invoice.
func (c *Client) PayFixedAmount(ctx context.Context, bolt11 string, amountSat int64) error {
	body := map[string]any{"out": true, "bolt11": bolt11, "amount": amountSat}
	var resp paymentResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/payments", body, &resp); err != nil {
		return fmt.Errorf("%w: %v", ErrPaymentFailed, err)
	}
	return nil
}

// FindOutgoingPaymentByHash queries the wallet's transaction history for
// an outgoing record matching the payment hash. This is the
// authoritative check used to reconcile an indeterminate payment error.
func (c *Client) FindOutgoingPaymentByHash(ctx context.Context, paymentHash string) (PaymentStatus, error) {
	var resp paymentDetails
	err := c.do(ctx, http.MethodGet, "/api/v1/payments/"+url.PathEscape(paymentHash), nil, &resp)
	if err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.status == http.StatusNotFound {
			return PaymentNotFound, nil
		}
		return "", fmt.Errorf("failed to look up payment: %w", err)
	}
	if resp.Paid {
		return PaymentSuccess, nil
	}
	if resp.Details.Pending {
		return PaymentPending, nil
	}
	return PaymentNotFound, nil
}

// ResolveAddress turns a lightning address (name@host) or LNURL-pay
// endpoint into a freshly issued invoice for amountSat.
func (c *Client) ResolveAddress(ctx context.Context, address string, amountSat int64) (*Invoice, error) {
	name, host, ok := strings.Cut(address, "@")
	if !ok || name == "" || host == "" {
		return nil, fmt.Errorf("invalid lightning address %q", address)
	}

	var params struct {
		Callback    string `json:"callback"`
		MinSendable int64  `json:"minSendable"`
		MaxSendable int64  `json:"maxSendable"`
		Tag         string `json:"tag"`
	}
	endpoint := fmt.Sprintf("https://%s/.well-known/lnurlp/%s", host, name)
	if err := c.getJSON(ctx, endpoint, &params); err != nil {
		return nil, fmt.Errorf("failed to resolve lightning address: %w", err)
	}
	if params.Tag != "payRequest" || params.Callback == "" {
		return nil, fmt.Errorf("%q is not a pay endpoint", address)
	}

	msat := amountSat * 1000
	if msat < params.MinSendable || (params.MaxSendable > 0 && msat > params.MaxSendable) {
		return nil, fmt.Errorf("amount %d sat outside the receiver's accepted range", amountSat)
	}

	cb, err := url.Parse(params.Callback)
	if err != nil {
		return nil, fmt.Errorf("invalid LNURL callback: %w", err)
	}
	q := cb.Query()
	q.Set("amount", fmt.Sprintf("%d", msat))
	cb.RawQuery = q.Encode()

	var payResp struct {
		PR     string `json:"pr"`
		Status string `json:"status"`
		Reason string `json:"reason"`
	}
	if err := c.getJSON(ctx, cb.String(), &payResp); err != nil {
		return nil, fmt.Errorf("failed to fetch invoice from LNURL callback: %w", err)
	}
	if payResp.PR == "" {
		return nil, fmt.Errorf("LNURL callback returned no invoice: %s", payResp.Reason)
	}

	return c.DecodeInvoice(ctx, payResp.PR)
}

type apiError struct {
	status int
	detail string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("lnbits: status %d: %s", e.status, e.detail)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp struct {
			Detail string `json:"detail"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		return &apiError{status: resp.StatusCode, detail: errResp.Detail}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// getJSON fetches an absolute URL without LNbits auth, for LNURL hosts.
func (c *Client) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, rawURL)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
