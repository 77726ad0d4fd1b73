package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newStubDaraja(t *testing.T, handler http.HandlerFunc) (*DarajaProvider, *httptest.Server) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]string{"access_token": "tok", "expires_in": "3599"})
	})
	mux.HandleFunc("/", handler)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	p := NewDarajaProvider(ts.URL, "key", "secret", "174379", "passkey", "initiator", "cred", "https://callbacks.example.com", zap.NewNop())
	return p, ts
}

func TestInitiateSTKPush(t *testing.T) {
	var got map[string]any
	p, _ := newStubDaraja(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/mpesa/stkpush/v1/processrequest", r.URL.Path)
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]string{
			"MerchantRequestID": "mr-1",
			"CheckoutRequestID": "ws_CO_1",
			"ResponseCode":      "0",
			"CustomerMessage":   "Success",
		})
	})

	resp, err := p.InitiateSTKPush(context.Background(), STKPushRequest{
		PhoneNumber:      "254712345678",
		Amount:           1500,
		AccountReference: "ZEM-ABC123",
	})
	require.NoError(t, err)
	assert.Equal(t, "ws_CO_1", resp.CheckoutRequestID)

	assert.Equal(t, "174379", got["BusinessShortCode"])
	assert.Equal(t, "1500", got["Amount"])
	assert.Equal(t, "254712345678", got["PhoneNumber"])
	assert.Equal(t, "ZEM-ABC123", got["AccountReference"])
	assert.Equal(t, "CustomerPayBillOnline", got["TransactionType"])
	assert.Equal(t, "https://callbacks.example.com/api/v1/webhooks/mpesa", got["CallBackURL"])
	assert.NotEmpty(t, got["Password"])
	assert.NotEmpty(t, got["Timestamp"])
}

func TestQueryStatusOutcomes(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    map[string]any
		outcome string
	}{
		{
			name:    "success",
			status:  http.StatusOK,
			body:    map[string]any{"ResultCode": "0", "ResultDesc": "processed successfully"},
			outcome: StatusSuccess,
		},
		{
			name:    "cancelled by user",
			status:  http.StatusOK,
			body:    map[string]any{"ResultCode": "1032", "ResultDesc": "Request cancelled by user"},
			outcome: StatusFailed,
		},
		{
			// Daraja answers in-flight queries with this error code on a 500.
			name:    "still processing",
			status:  http.StatusInternalServerError,
			body:    map[string]any{"errorCode": "500.001.1001", "errorMessage": "The transaction is being processed"},
			outcome: StatusPending,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, _ := newStubDaraja(t, func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, "/mpesa/stkpushquery/v1/query", r.URL.Path)
				w.WriteHeader(tc.status)
				json.NewEncoder(w).Encode(tc.body)
			})
			result, err := p.QueryStatus(context.Background(), "ws_CO_1")
			require.NoError(t, err)
			assert.Equal(t, tc.outcome, result.Outcome)
		})
	}
}

func TestQueryStatusUnreachable(t *testing.T) {
	p, _ := newStubDaraja(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("<html>gateway error</html>"))
	})
	_, err := p.QueryStatus(context.Background(), "ws_CO_1")
	require.Error(t, err)
}

func TestInitiateB2C(t *testing.T) {
	var got map[string]any
	p, _ := newStubDaraja(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/mpesa/b2c/v1/paymentrequest", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]string{
			"ConversationID":           "AG_1",
			"OriginatorConversationID": "og-1",
			"ResponseCode":             "0",
		})
	})

	resp, err := p.InitiateB2C(context.Background(), B2CRequest{
		Amount:      1500,
		PhoneNumber: "254712345678",
		OrderID:     "ZEM-ABC123",
	})
	require.NoError(t, err)
	assert.Equal(t, "AG_1", resp.ConversationID)

	assert.Equal(t, "BusinessPayment", got["CommandID"])
	assert.Equal(t, "1500", got["Amount"])
	assert.Equal(t, "254712345678", got["PartyB"])
	assert.Equal(t, "https://callbacks.example.com/api/v1/webhooks/payout", got["ResultURL"])
}
