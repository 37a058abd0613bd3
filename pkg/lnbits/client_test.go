package lnbits

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		c, err := NewClient("https://lnbits.example.com/", "key")
		require.NoError(t, err)
		require.NotNil(t, c)
	})

	t.Run("empty URL", func(t *testing.T) {
		_, err := NewClient("", "key")
		require.Error(t, err)
	})

	t.Run("empty API key", func(t *testing.T) {
		_, err := NewClient("https://lnbits.example.com", "")
		require.Error(t, err)
	})
}

func TestCreateInvoice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v1/payments", r.URL.Path)
		require.Equal(t, "key", r.Header.Get("X-Api-Key"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, false, body["out"])
		require.Equal(t, float64(1000), body["amount"])

		json.NewEncoder(w).Encode(map[string]string{
			"payment_request": "lnbc10u1...",
			"payment_hash":    "abc123",
		})
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "key")
	require.NoError(t, err)

	inv, err := c.CreateInvoice(context.Background(), 1000, "deposit")
	require.NoError(t, err)
	require.Equal(t, "lnbc10u1...", inv.Bolt11)
	require.Equal(t, "abc123", inv.PaymentHash)
	require.Equal(t, int64(1000), inv.AmountSat)
}

func TestCheckInvoiceStatus(t *testing.T) {
	tests := []struct {
		name string
		code int
		body string
		want InvoiceStatus
	}{
		{"paid", 200, `{"paid": true}`, InvoicePaid},
		{"pending", 200, `{"paid": false, "details": {"pending": true}}`, InvoicePending},
		{"unknown hash", 404, `{"detail": "not found"}`, InvoiceCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c, err := NewClient(srv.URL, "key")
			require.NoError(t, err)

			got, err := c.CheckInvoiceStatus(context.Background(), "abc123")
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestProbeFee(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/payments/fee-reserve", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]int64{"fee_reserve": 2000})
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "key")
	require.NoError(t, err)

	fee, err := c.ProbeFee(context.Background(), "lnbc10u1...")
	require.NoError(t, err)
	require.Equal(t, int64(2), fee)
}

func TestPayReportsExecutorError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"detail": "no route"}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "key")
	require.NoError(t, err)

	err = c.Pay(context.Background(), "lnbc10u1...")
	require.ErrorIs(t, err, ErrPaymentFailed)
}

func TestFindOutgoingPaymentByHash(t *testing.T) {
	tests := []struct {
		name string
		code int
		body string
		want PaymentStatus
	}{
		{"settled", 200, `{"paid": true}`, PaymentSuccess},
		{"in flight", 200, `{"paid": false, "details": {"pending": true}}`, PaymentPending},
		{"never sent", 404, `{"detail": "not found"}`, PaymentNotFound},
		{"recorded but dead", 200, `{"paid": false, "details": {"pending": false}}`, PaymentNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c, err := NewClient(srv.URL, "key")
			require.NoError(t, err)

			got, err := c.FindOutgoingPaymentByHash(context.Background(), "abc123")
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestResolveAddressRejectsMalformed(t *testing.T) {
	c, err := NewClient("https://lnbits.example.com", "key")
	require.NoError(t, err)

	for _, addr := range []string{"", "nobody", "@host", "name@"} {
		_, err := c.ResolveAddress(context.Background(), addr, 1000)
		require.Error(t, err, addr)
	}
}
