package clients

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"locker-backend/internal/config"
)

func newTestOffRampClient(url string) *OffRampClient {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	client := NewOffRampClient(config.OffRampConfig{BaseURL: url, APIKey: "key", MaxRetries: 3}, logger)
	client.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return client
}

func TestOffRampClient_Resolves(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/accounts/acct-1/settlement-address", r.URL.Path)
		assert.Equal(t, "137", r.URL.Query().Get("chainId"))
		assert.Equal(t, "key", r.Header.Get("X-API-Key"))
		_, _ = w.Write([]byte(`{"address":"0xABCDEFabcdefABCDEFabcdefABCDEFabcdefABCD"}`))
	}))
	defer server.Close()

	address, err := newTestOffRampClient(server.URL).ResolveSettlementAddress(context.Background(), "acct-1", 137)
	require.NoError(t, err)
	assert.Equal(t, "0xabcdefabcdefabcdefabcdefabcdefabcdefabcd", address)
}

func TestOffRampClient_NotFoundIsUnresolved(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	address, err := newTestOffRampClient(server.URL).ResolveSettlementAddress(context.Background(), "acct-1", 137)
	require.NoError(t, err)
	assert.Empty(t, address)
}

func TestOffRampClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"address":"0x1111111111111111111111111111111111111111"}`))
	}))
	defer server.Close()

	address, err := newTestOffRampClient(server.URL).ResolveSettlementAddress(context.Background(), "acct-1", 137)
	require.NoError(t, err)
	assert.Equal(t, "0x1111111111111111111111111111111111111111", address)
	assert.Equal(t, int32(3), calls.Load())
}

func TestOffRampClient_ClientErrorsArePermanent(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	_, err := newTestOffRampClient(server.URL).ResolveSettlementAddress(context.Background(), "acct-1", 137)
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestOffRampClient_GivesUpAfterMaxTries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := newTestOffRampClient(server.URL).ResolveSettlementAddress(context.Background(), "acct-1", 137)
	assert.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())

	address, err := newTestOffRampClient(server.URL).ResolveSettlementAddress(context.Background(), "", 137)
	require.NoError(t, err)
	assert.Empty(t, address)
}
