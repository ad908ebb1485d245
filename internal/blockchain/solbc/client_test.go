// internal/blockchain/solbc/client_test.go
package solbc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rovshanmuradov/solana-sniper/internal/blockchain/solbc/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type rpcRequest struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
}

// fakeNode answers JSON-RPC calls with canned results per method.
func fakeNode(t *testing.T, results map[string]any, rpcErr map[string]any) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if e, ok := rpcErr[req.Method]; ok {
			resp["error"] = e
		} else {
			resp["result"] = results[req.Method]
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newTestClient(t *testing.T, urls ...string) *Client {
	t.Helper()
	var cfgs []rpc.EndpointConfig
	for _, u := range urls {
		cfgs = append(cfgs, rpc.EndpointConfig{URL: u, WindowCapacity: 100})
	}
	pool, err := rpc.NewPool("rpc", cfgs, rpc.DefaultPoolConfig(), nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	rc := rpc.NewResilientClient(pool, rpc.RetryConfig{
		MaxRetries:     2,
		BaseDelay:      time.Millisecond,
		MaxDelay:       2 * time.Millisecond,
		AttemptTimeout: 2 * time.Second,
	}, zaptest.NewLogger(t))
	return NewClient(rc, zaptest.NewLogger(t))
}

func TestGetBalance(t *testing.T) {
	srv, _ := fakeNode(t, map[string]any{
		"getBalance": map[string]any{"context": map[string]any{"slot": 1}, "value": 1_500_000_000},
	}, nil)
	c := newTestClient(t, srv.URL)

	lamports, err := c.GetBalance(context.Background(), solana.NewWallet().PublicKey())
	require.NoError(t, err)
	assert.Equal(t, uint64(1_500_000_000), lamports)
}

func TestGetBalance_FailsOverOnUnhealthyNode(t *testing.T) {
	bad, badCalls := fakeNode(t, nil, map[string]any{
		"getBalance": map[string]any{"code": -32005, "message": "Node is behind"},
	})
	good, _ := fakeNode(t, map[string]any{
		"getBalance": map[string]any{"context": map[string]any{"slot": 1}, "value": 7},
	}, nil)
	c := newTestClient(t, bad.URL, good.URL)

	lamports, err := c.GetBalance(context.Background(), solana.NewWallet().PublicKey())
	require.NoError(t, err)
	assert.Equal(t, uint64(7), lamports)
	assert.Equal(t, int32(1), atomic.LoadInt32(badCalls))
}

func TestGetBalance_InvalidParamsIsFatal(t *testing.T) {
	srv, calls := fakeNode(t, nil, map[string]any{
		"getBalance": map[string]any{"code": -32602, "message": "Invalid param"},
	})
	c := newTestClient(t, srv.URL)

	_, err := c.GetBalance(context.Background(), solana.NewWallet().PublicKey())
	require.Error(t, err)
	assert.ErrorIs(t, err, rpc.ErrInvalidResponse)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
}

func TestSignatureStatus(t *testing.T) {
	sig := solana.Signature{1, 2, 3}

	tests := []struct {
		name  string
		value any
		want  ConfirmationState
	}{
		{"unknown", []any{nil}, StatePending},
		{"processed", []any{map[string]any{"slot": 5, "confirmationStatus": "processed", "err": nil}}, StatePending},
		{"confirmed", []any{map[string]any{"slot": 5, "confirmationStatus": "confirmed", "err": nil}}, StateConfirmed},
		{"failed", []any{map[string]any{"slot": 5, "confirmationStatus": "confirmed", "err": map[string]any{"InstructionError": []any{0, "Custom"}}}}, StateFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := fakeNode(t, map[string]any{
				"getSignatureStatuses": map[string]any{"context": map[string]any{"slot": 5}, "value": tt.value},
			}, nil)
			c := newTestClient(t, srv.URL)

			st, err := c.SignatureStatus(context.Background(), sig)
			require.NoError(t, err)
			assert.Equal(t, tt.want, st.State)
			if tt.want == StateFailed {
				assert.ErrorIs(t, st.Err, ErrTransactionFailed)
			}
		})
	}
}

func TestBlockhashValid(t *testing.T) {
	for _, valid := range []bool{true, false} {
		srv, _ := fakeNode(t, map[string]any{
			"isBlockhashValid": map[string]any{"context": map[string]any{"slot": 1}, "value": valid},
		}, nil)
		c := newTestClient(t, srv.URL)

		got, err := c.BlockhashValid(context.Background(), solana.Hash{1})
		require.NoError(t, err)
		assert.Equal(t, valid, got)
	}
}

func TestSOLDelta(t *testing.T) {
	srv, _ := fakeNode(t, map[string]any{
		"getTransaction": map[string]any{
			"slot": 42,
			"meta": map[string]any{
				"err":          nil,
				"fee":          5000,
				"preBalances":  []uint64{3_000_000_000, 1},
				"postBalances": []uint64{3_089_995_000, 1},
			},
		},
	}, nil)
	c := newTestClient(t, srv.URL)

	delta, err := c.SOLDelta(context.Background(), solana.Signature{1})
	require.NoError(t, err)
	assert.Equal(t, int64(89_995_000), delta)
}

func TestSOLDelta_NoMeta(t *testing.T) {
	srv, _ := fakeNode(t, map[string]any{
		"getTransaction": map[string]any{"slot": 42},
	}, nil)
	c := newTestClient(t, srv.URL)

	_, err := c.SOLDelta(context.Background(), solana.Signature{1})
	assert.ErrorIs(t, err, rpc.ErrInvalidResponse)
}

func TestGetTokenBalance(t *testing.T) {
	srv, _ := fakeNode(t, map[string]any{
		"getTokenAccountBalance": map[string]any{
			"context": map[string]any{"slot": 1},
			"value":   map[string]any{"amount": "2500000", "decimals": 6, "uiAmountString": "2.5"},
		},
	}, nil)
	c := newTestClient(t, srv.URL)

	amt, err := c.GetTokenBalance(context.Background(), solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey())
	require.NoError(t, err)
	assert.Equal(t, uint64(2_500_000), amt.Raw)
	assert.Equal(t, uint8(6), amt.Decimals)
	assert.InDelta(t, 2.5, amt.UI(), 1e-9)
}

func TestGetTokenBalance_MissingAccountIsZero(t *testing.T) {
	srv, _ := fakeNode(t, nil, map[string]any{
		"getTokenAccountBalance": map[string]any{"code": -32602, "message": "Invalid param: could not find account"},
	})
	c := newTestClient(t, srv.URL)

	amt, err := c.GetTokenBalance(context.Background(), solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey())
	require.NoError(t, err)
	assert.Zero(t, amt.Raw)
}

func TestSendTransaction_Unsigned(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:1")
	_, err := c.SendTransaction(context.Background(), &solana.Transaction{})
	assert.ErrorIs(t, err, rpc.ErrInvalidResponse)
}
