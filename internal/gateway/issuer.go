package gateway

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	serrors "go.pilab.hu/standhub/errors"
)

// Claims are the session token claims. Subject is the user id.
type Claims struct {
	jwt.RegisteredClaims
}

// RefreshGrace is how long a refreshed token keeps working. Requests signed
// with it while the successor is being stored still pass, and refreshing it
// again returns the same successor.
const RefreshGrace = time.Minute

// successor links a refreshed token id to the token that replaced it.
type successor struct {
	token      string
	id         string
	expiresAt  time.Time
	graceUntil time.Time
}

// Issuer mints and verifies HS256 session tokens. Revoked and superseded
// token ids are kept until the token would have expired anyway.
type Issuer struct {
	secret     []byte
	ttl        time.Duration
	now        func() time.Time
	mu         sync.Mutex
	revoked    *ttlcache.Cache[string, struct{}]
	superseded *ttlcache.Cache[string, successor]
}

// NewIssuer creates an Issuer. now may be nil.
func NewIssuer(secret []byte, ttl time.Duration, now func() time.Time) *Issuer {
	if now == nil {
		now = time.Now
	}
	return &Issuer{
		secret: secret,
		ttl:    ttl,
		now:    now,
		revoked: ttlcache.New[string, struct{}](
			ttlcache.WithDisableTouchOnHit[string, struct{}](),
		),
		superseded: ttlcache.New[string, successor](
			ttlcache.WithDisableTouchOnHit[string, successor](),
		),
	}
}

// Issue mints a session token for userID.
func (i *Issuer) Issue(userID string) (string, time.Time, error) {
	if userID == "" {
		return "", time.Time{}, fmt.Errorf("%w: empty user id", serrors.ErrInvalidArgument)
	}
	now := i.now()
	expiresAt := now.Add(i.ttl).Truncate(time.Second)
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify parses token and checks signature, expiry and revocation. Every
// failure matches serrors.ErrUnauthorized.
func (i *Issuer) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %w", serrors.ErrUnauthorized, serrors.ErrTokenExpired)
		}
		return nil, fmt.Errorf("%w: %v", serrors.ErrUnauthorized, err)
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, fmt.Errorf("%w: token without subject or id", serrors.ErrUnauthorized)
	}
	if i.revoked.Has(claims.ID) {
		return nil, fmt.Errorf("%w: token revoked", serrors.ErrUnauthorized)
	}
	if item := i.superseded.Get(claims.ID); item != nil {
		next := item.Value()
		if !i.now().Before(next.graceUntil) {
			return nil, fmt.Errorf("%w: token superseded", serrors.ErrUnauthorized)
		}
		if i.revoked.Has(next.id) {
			return nil, fmt.Errorf("%w: token revoked", serrors.ErrUnauthorized)
		}
	}
	return claims, nil
}

// Revoke invalidates the token identified by claims at once.
func (i *Issuer) Revoke(claims *Claims) {
	i.revoked.Set(claims.ID, struct{}{}, i.remaining(claims))
}

func (i *Issuer) remaining(claims *Claims) time.Duration {
	ttl := time.Minute
	if claims.ExpiresAt != nil {
		if left := claims.ExpiresAt.Sub(i.now()); left > 0 {
			ttl = left
		}
	}
	return ttl
}

// Refresh verifies token and issues a replacement for the same user. The old
// token stays valid for RefreshGrace; refreshing it again within that window
// returns the same replacement.
func (i *Issuer) Refresh(token string) (string, time.Time, string, error) {
	claims, err := i.Verify(token)
	if err != nil {
		return "", time.Time{}, "", err
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if item := i.superseded.Get(claims.ID); item != nil {
		next := item.Value()
		return next.token, next.expiresAt, claims.Subject, nil
	}

	next, expiresAt, err := i.Issue(claims.Subject)
	if err != nil {
		return "", time.Time{}, "", err
	}
	nextClaims, err := i.Verify(next)
	if err != nil {
		return "", time.Time{}, "", err
	}
	i.superseded.Set(claims.ID, successor{
		token:      next,
		id:         nextClaims.ID,
		expiresAt:  expiresAt,
		graceUntil: i.now().Add(RefreshGrace),
	}, i.remaining(claims))
	return next, expiresAt, claims.Subject, nil
}

// Prune drops revocation and supersession entries past their token expiry.
func (i *Issuer) Prune() {
	i.revoked.DeleteExpired()
	i.superseded.DeleteExpired()
}
