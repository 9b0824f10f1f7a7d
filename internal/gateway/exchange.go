package gateway

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	serrors "go.pilab.hu/standhub/errors"
)

// ExchangeGrant is what an exchange token stands for.
type ExchangeGrant struct {
	UserID       string
	TargetDomain string
}

// ExchangeStore holds single-use SSO exchange tokens until they expire.
type ExchangeStore struct {
	ttl   time.Duration
	mu    sync.Mutex
	cache *ttlcache.Cache[string, ExchangeGrant]
}

// NewExchangeStore creates a store whose tokens live for ttl.
func NewExchangeStore(ttl time.Duration) *ExchangeStore {
	return &ExchangeStore{
		ttl: ttl,
		cache: ttlcache.New[string, ExchangeGrant](
			ttlcache.WithTTL[string, ExchangeGrant](ttl),
			ttlcache.WithDisableTouchOnHit[string, ExchangeGrant](),
		),
	}
}

// Create mints an exchange token letting userID sign in on targetDomain.
func (s *ExchangeStore) Create(userID, targetDomain string) (string, time.Time, error) {
	if userID == "" || targetDomain == "" {
		return "", time.Time{}, fmt.Errorf("%w: user id and target domain are required", serrors.ErrInvalidArgument)
	}
	token := uuid.NewString()
	item := s.cache.Set(token, ExchangeGrant{UserID: userID, TargetDomain: targetDomain}, ttlcache.DefaultTTL)
	return token, item.ExpiresAt(), nil
}

// Redeem consumes token. Unknown, expired and already used tokens fail with
// an error matching serrors.ErrUnauthorized.
func (s *ExchangeStore) Redeem(token string) (ExchangeGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.cache.Get(token)
	if item == nil || item.IsExpired() {
		return ExchangeGrant{}, fmt.Errorf("%w: sso token invalid or already used", serrors.ErrUnauthorized)
	}
	s.cache.Delete(token)
	return item.Value(), nil
}

// Prune drops expired tokens.
func (s *ExchangeStore) Prune() {
	s.cache.DeleteExpired()
}
