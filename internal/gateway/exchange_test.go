package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	serrors "go.pilab.hu/standhub/errors"
)

func TestExchangeStore_SingleUse(t *testing.T) {
	s := NewExchangeStore(time.Minute)

	token, expiresAt, err := s.Create("user-1", "shop.example.com")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Minute), expiresAt, 5*time.Second)

	grant, err := s.Redeem(token)
	require.NoError(t, err)
	assert.Equal(t, ExchangeGrant{UserID: "user-1", TargetDomain: "shop.example.com"}, grant)

	_, err = s.Redeem(token)
	assert.ErrorIs(t, err, serrors.ErrUnauthorized)
}

func TestExchangeStore_Expired(t *testing.T) {
	s := NewExchangeStore(10 * time.Millisecond)
	token, _, err := s.Create("user-1", "shop.example.com")
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	_, err = s.Redeem(token)
	assert.ErrorIs(t, err, serrors.ErrUnauthorized)
}

func TestExchangeStore_Validation(t *testing.T) {
	s := NewExchangeStore(time.Minute)
	_, _, err := s.Create("", "shop.example.com")
	assert.ErrorIs(t, err, serrors.ErrInvalidArgument)
	_, _, err = s.Create("user-1", "")
	assert.ErrorIs(t, err, serrors.ErrInvalidArgument)
	_, err = s.Redeem("unknown")
	assert.ErrorIs(t, err, serrors.ErrUnauthorized)
}
