// internal/chain/remote_test.go
package chain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemoteLedgerAppend(t *testing.T) {
	var received remoteAppendRequest
	var gotAuth string

	node := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/transactions", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(remoteAppendResponse{
			TxHash:      "0xabc",
			BlockNumber: 42,
			BlockHash:   "0xdef",
		})
	}))
	defer node.Close()

	ledger := NewRemoteLedger(node.URL, "node-key", 5*time.Second)
	attestation, err := ledger.Append(context.Background(), Fact{
		Type:    "purchase",
		Payload: map[string]interface{}{"order_id": "o-1"},
	})
	require.NoError(t, err)

	assert.Equal(t, "0xabc", attestation.TxHash)
	assert.Equal(t, int64(42), attestation.BlockNumber)
	assert.Equal(t, "Bearer node-key", gotAuth)
	assert.Equal(t, "purchase", received.Type)
	assert.NotEmpty(t, received.FactHash)
}

func TestRemoteLedgerAppendNodeDown(t *testing.T) {
	node := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer node.Close()

	ledger := NewRemoteLedger(node.URL, "", 5*time.Second)
	_, err := ledger.Append(context.Background(), Fact{Type: "purchase"})
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestRemoteLedgerAppendUnreachable(t *testing.T) {
	ledger := NewRemoteLedger("http://127.0.0.1:1", "", 500*time.Millisecond)
	_, err := ledger.Append(context.Background(), Fact{Type: "purchase"})
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestRemoteLedgerVerify(t *testing.T) {
	node := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/transactions/0xabc":
			json.NewEncoder(w).Encode(remoteVerifyResponse{
				Verified:    true,
				BlockNumber: 42,
				BlockHash:   "0xdef",
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer node.Close()

	ledger := NewRemoteLedger(node.URL, "", 5*time.Second)

	found, err := ledger.Verify(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.True(t, found.Verified)
	assert.Equal(t, int64(42), found.BlockNumber)

	missing, err := ledger.Verify(context.Background(), "0xmissing")
	require.NoError(t, err)
	assert.False(t, missing.Verified)
}
