package agentbrowser

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/restockhq/restock-backend/pkg/config"
	pkgerrors "github.com/restockhq/restock-backend/pkg/errors"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(config.AgentBrowserConfig{
		BaseURL:        server.URL,
		APIKey:         "test-key",
		RequestTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	return client
}

func TestOpenSession(t *testing.T) {
	var gotAuth string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/sessions", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]any{
			"handle":     "sess-42",
			"expires_at": time.Now().Add(time.Hour).UTC(),
		})
	}))

	session, err := client.OpenSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sess-42", session.Handle)
	assert.Equal(t, "Bearer test-key", gotAuth)
}

func TestExecuteCheckoutDecodesResult(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/sessions/sess-42/checkout", r.URL.Path)
		var req CheckoutRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "https://example.com/p/soap", req.ProductRef)
		json.NewEncoder(w).Encode(CheckoutResult{
			Completed:        true,
			ExternalOrderRef: "ORD-99",
			Merchant:         "example.com",
			PriceCents:       1499,
		})
	}))

	result, err := client.ExecuteCheckout(context.Background(), "sess-42", CheckoutRequest{
		ProductRef: "https://example.com/p/soap",
	})
	require.NoError(t, err)
	assert.True(t, result.Completed)
	assert.Equal(t, "ORD-99", result.ExternalOrderRef)
	assert.Equal(t, int64(1499), result.PriceCents)
}

func TestClientSurfacesUpstreamFailure(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "session not found", http.StatusNotFound)
	}))

	_, err := client.ExecuteCheckout(context.Background(), "missing", CheckoutRequest{ProductRef: "ref"})
	require.Error(t, err)
	appErr := pkgerrors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, pkgerrors.CodeDependency, appErr.Code())
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	_, err := NewClient(config.AgentBrowserConfig{})
	require.Error(t, err)
}
