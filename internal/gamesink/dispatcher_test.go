package gamesink

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopmaze/invoicecore/internal/config"
)

func TestEmitGameOverDeliversPayload(t *testing.T) {
	var received atomic.Bool
	var gotSignature string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Store(true)
		gotSignature = r.Header.Get("X-Invoicecore-Signature")
		assert.Equal(t, "game_over", r.Header.Get("X-Invoicecore-Event-Type"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := NewDispatcher(config.GameSinkConfig{
		GameOverURL: server.URL,
		TimeoutSec:  2,
		WorkerCount: 1,
		HMACSecret:  "s3cr3t",
	})
	defer d.Shutdown()

	d.EmitGameOver(map[string]interface{}{"winner": "player-1"})

	require.Eventually(t, received.Load, time.Second, 10*time.Millisecond)
	assert.Contains(t, gotSignature, "sha256=")
}

func TestEmitGameOverNoURLIsNoop(t *testing.T) {
	d := NewDispatcher(config.GameSinkConfig{WorkerCount: 1})
	defer d.Shutdown()

	assert.NotPanics(t, func() {
		d.EmitGameOver(map[string]interface{}{"winner": "player-1"})
	})
}

func TestProcessOrderRelaysResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Alice", body["customerName"])

		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":  "success",
			"orderId": "order-123",
		})
	}))
	defer server.Close()

	d := NewDispatcher(config.GameSinkConfig{
		ProcessOrderURL: server.URL,
		TimeoutSec:      2,
		WorkerCount:     1,
	})
	defer d.Shutdown()

	resp, err := d.ProcessOrder(map[string]interface{}{"customerName": "Alice"})
	require.NoError(t, err)
	assert.Equal(t, "order-123", resp["orderId"])
}

func TestProcessOrderNoURLReturnsTransportError(t *testing.T) {
	d := NewDispatcher(config.GameSinkConfig{WorkerCount: 1})
	defer d.Shutdown()

	_, err := d.ProcessOrder(map[string]interface{}{})
	assert.Error(t, err)
}

func TestProcessOrderErrorStatusIsReturnedAsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]interface{}{"status": "error"})
	}))
	defer server.Close()

	d := NewDispatcher(config.GameSinkConfig{
		ProcessOrderURL: server.URL,
		TimeoutSec:      2,
		WorkerCount:     1,
	})
	defer d.Shutdown()

	_, err := d.ProcessOrder(map[string]interface{}{})
	assert.Error(t, err)
}
