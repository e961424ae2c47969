package claim

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRelayClient_Succeeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req relayRequest
		json.NewDecoder(r.Body).Decode(&req)
		require.Equal(t, "addr1", req.ClaimantAddress)
		json.NewEncoder(w).Encode(relaySuccessResponse{TxHash: "0xabc"})
	}))
	defer srv.Close()

	c := NewRelayClient(RelayConfig{Endpoint: srv.URL})
	res := c.Submit(context.Background(), "addr1", make([]byte, FinalSealLen), make([]byte, 24))
	require.Equal(t, RelaySucceeded, res.Kind)
	require.Equal(t, "0xabc", res.TxHash)
}

func TestRelayClient_ClassifiesTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(relayErrorResponse{Error: "rpc request failed: upstream unavailable"})
	}))
	defer srv.Close()

	c := NewRelayClient(RelayConfig{Endpoint: srv.URL})
	res := c.Submit(context.Background(), "addr1", make([]byte, FinalSealLen), make([]byte, 24))
	require.Equal(t, RelayTransient, res.Kind)
}

func TestRelayClient_ClassifiesFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(relayErrorResponse{Error: "HostError: Error(Contract, #5)"})
	}))
	defer srv.Close()

	c := NewRelayClient(RelayConfig{Endpoint: srv.URL})
	res := c.Submit(context.Background(), "addr1", make([]byte, FinalSealLen), make([]byte, 24))
	require.Equal(t, RelayFatal, res.Kind)
}

func TestClassify_UnrecognizedDefaultsFatal(t *testing.T) {
	res := classify("some completely novel error text")
	require.Equal(t, RelayFatal, res.Kind)
}
