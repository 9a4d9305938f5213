package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"locker-backend/internal/config"
)

func TestExecutorClient_Execute(t *testing.T) {
	var got ExecuteRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/execute", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(ExecuteResponse{TxHash: "0xfeed"})
	}))
	defer server.Close()

	client := NewExecutorClient(config.ExecutorConfig{BaseURL: server.URL + "/", AuthToken: "secret"})
	hash, err := client.Execute(context.Background(), ExecuteRequest{
		Policy:      ExecutionPolicy{LockerID: "locker-1", ChainID: 137, EncryptedCredential: "0xsealed"},
		CallPayload: CallPayload{To: "0xtoken", Value: "0", Data: "0xa9059cbb"},
	})
	require.NoError(t, err)
	assert.Equal(t, "0xfeed", hash)
	assert.Equal(t, "locker-1", got.Policy.LockerID)
	assert.Equal(t, int64(137), got.Policy.ChainID)
	assert.Equal(t, "0xa9059cbb", got.CallPayload.Data)
}

func TestExecutorClient_ServerErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewExecutorClient(config.ExecutorConfig{BaseURL: server.URL})
	_, err := client.Execute(context.Background(), ExecuteRequest{})
	var execErr *ExecutorError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, http.StatusBadGateway, execErr.StatusCode)
	assert.Equal(t, int32(1), calls.Load(), "submissions are never retried")
}

func TestExecutorClient_RejectedAndEmptyResponses(t *testing.T) {
	cases := map[string]string{
		`{"error":"insufficient balance"}`: "insufficient balance",
		`{}`:                               "no transaction hash",
		`not json`:                         "failed to parse",
	}
	for body, want := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		}))

		client := NewExecutorClient(config.ExecutorConfig{BaseURL: server.URL})
		_, err := client.Execute(context.Background(), ExecuteRequest{})
		assert.ErrorContains(t, err, want)
		server.Close()
	}
}

func TestExecutorClient_HealthCheck(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		if !healthy.Load() {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	client := NewExecutorClient(config.ExecutorConfig{BaseURL: server.URL})
	assert.NoError(t, client.HealthCheck(context.Background()))

	healthy.Store(false)
	assert.ErrorContains(t, client.HealthCheck(context.Background()), "executor health check failed")
}
