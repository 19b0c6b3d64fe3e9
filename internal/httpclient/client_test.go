package httpclient

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoReturnsImmediatelyOnSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(WithMaxRetries(3))
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := c.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDoGivesUpAfterMaxRetriesOnServerError(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(WithMaxRetries(1), WithBaseDelay(0))
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	_, err = c.Do(req)
	require.Error(t, err)
	assert.Equal(t, 2, calls) // initial attempt + 1 retry
}

func TestDefaultStrategyClassifiesStatusCodes(t *testing.T) {
	assert.Equal(t, SmartRetry, DefaultStrategy(http.StatusTooManyRequests))
	assert.Equal(t, ConservativeRetry, DefaultStrategy(http.StatusBadGateway))
	assert.Equal(t, NoRetry, DefaultStrategy(http.StatusNotFound))
}
