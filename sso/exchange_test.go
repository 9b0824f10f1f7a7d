package sso

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	serrors "go.pilab.hu/standhub/errors"
)

func TestCreateExchangeToken(t *testing.T) {
	expires := time.Date(2026, 3, 1, 12, 2, 0, 0, time.UTC)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, createPath, r.URL.Path)
		assert.Equal(t, "Bearer session", r.Header.Get("Authorization"))
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "shop.example.com", body["targetDomain"])
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"ssoToken": "xchg-1", "expiresAt": expires.UnixMilli()})
	}))
	defer server.Close()

	c := New(Config{BaseURL: server.URL})
	tok, err := c.CreateExchangeToken(context.Background(), "session", "shop.example.com")
	require.NoError(t, err)
	assert.Equal(t, "xchg-1", tok.Token)
	assert.Equal(t, "shop.example.com", tok.TargetDomain)
	assert.True(t, expires.Equal(tok.ExpiresAt))
}

func TestCreateExchangeToken_Validation(t *testing.T) {
	c := New(Config{BaseURL: "http://127.0.0.1:1"})

	_, err := c.CreateExchangeToken(context.Background(), "", "shop.example.com")
	assert.ErrorIs(t, err, serrors.ErrNoSession)
	_, err = c.CreateExchangeToken(context.Background(), "session", "")
	assert.ErrorIs(t, err, serrors.ErrInvalidArgument)
}

func TestCreateExchangeToken_Unauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := New(Config{BaseURL: server.URL}).CreateExchangeToken(context.Background(), "session", "shop.example.com")
	assert.ErrorIs(t, err, serrors.ErrUnauthorized)
}

func TestRedeemExchangeToken(t *testing.T) {
	expires := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, verifyPath, r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"token": "target-session", "expiresAt": expires.UnixMilli(), "userId": "user-9"})
	}))
	defer server.Close()

	rec, err := New(Config{BaseURL: server.URL}).RedeemExchangeToken(context.Background(), "xchg-1")
	require.NoError(t, err)
	assert.Equal(t, "target-session", rec.Token)
	assert.Equal(t, "user-9", rec.UserID)
	assert.True(t, expires.Equal(rec.ExpiresAt))
}

func TestRedeemExchangeToken_Reused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"sso token already used"}`))
	}))
	defer server.Close()

	_, err := New(Config{BaseURL: server.URL}).RedeemExchangeToken(context.Background(), "xchg-1")
	var apiErr *serrors.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "sso token already used", apiErr.Message)
	assert.ErrorIs(t, err, serrors.ErrUnauthorized)
}

func TestRedeemExchangeToken_IncompleteResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"token":"x"}`))
	}))
	defer server.Close()

	_, err := New(Config{BaseURL: server.URL}).RedeemExchangeToken(context.Background(), "xchg-1")
	assert.ErrorIs(t, err, serrors.ErrInvalidResponse)
}
