package intentextract

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/restockhq/restock-backend/pkg/config"
	pkgerrors "github.com/restockhq/restock-backend/pkg/errors"
)

func completionServer(t *testing.T, answer string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "test-model", req.Model)
		require.Len(t, req.Messages, 2)

		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": answer}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := NewClient(config.ExtractorConfig{
		BaseURL: baseURL,
		APIKey:  "key-1",
		Model:   "test-model",
	})
	require.NoError(t, err)
	return client
}

func TestExtractParsesDraft(t *testing.T) {
	server := completionServer(t, `{
		"title": "Coffee beans",
		"product_ref": "https://example.com/p/coffee",
		"cadence_days": 14,
		"price_cap_cents": 2500,
		"constraints": {"grind": "whole bean"},
		"clarification": null
	}`)
	defer server.Close()

	result, err := newTestClient(t, server.URL).Extract(context.Background(), "coffee every two weeks, max $25")
	require.NoError(t, err)
	require.NotNil(t, result.Draft)
	assert.Empty(t, result.Clarification)
	assert.Equal(t, "Coffee beans", result.Draft.Title)
	assert.Equal(t, 14, result.Draft.CadenceDays)
	require.NotNil(t, result.Draft.PriceCapCents)
	assert.Equal(t, int64(2500), *result.Draft.PriceCapCents)
	assert.JSONEq(t, `{"grind": "whole bean"}`, string(result.Draft.Constraints))
}

func TestExtractReturnsClarification(t *testing.T) {
	server := completionServer(t, `{
		"title": null,
		"product_ref": null,
		"cadence_days": null,
		"clarification": "How often would you like this delivered?"
	}`)
	defer server.Close()

	result, err := newTestClient(t, server.URL).Extract(context.Background(), "I want soap")
	require.NoError(t, err)
	assert.Nil(t, result.Draft)
	assert.Equal(t, "How often would you like this delivered?", result.Clarification)
}

func TestExtractDefaultsTitleToProductRef(t *testing.T) {
	server := completionServer(t, `{
		"product_ref": "https://example.com/p/soap",
		"cadence_days": 30
	}`)
	defer server.Close()

	result, err := newTestClient(t, server.URL).Extract(context.Background(), "soap monthly")
	require.NoError(t, err)
	require.NotNil(t, result.Draft)
	assert.Equal(t, "https://example.com/p/soap", result.Draft.Title)
}

func TestExtractRejectsIncompleteAnswer(t *testing.T) {
	server := completionServer(t, `{"title": "Soap", "cadence_days": 30}`)
	defer server.Close()

	_, err := newTestClient(t, server.URL).Extract(context.Background(), "soap monthly")
	require.Error(t, err)
	appErr := pkgerrors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, pkgerrors.CodeDependency, appErr.Code())
}

func TestExtractRejectsEmptyText(t *testing.T) {
	client := newTestClient(t, "http://localhost:1")

	_, err := client.Extract(context.Background(), "   ")
	require.Error(t, err)
	appErr := pkgerrors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, pkgerrors.CodeValidation, appErr.Code())
}

func TestExtractSurfacesUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := newTestClient(t, server.URL).Extract(context.Background(), "soap monthly")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}
