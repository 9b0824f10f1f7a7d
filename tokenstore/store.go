// Package tokenstore persists the session token record on the client.
//
// Storage implements the refresh bookkeeping on top of a small key/value
// Backend. The whole record is written as a single value, so a reader never
// sees a token paired with another token's expiry. Backend failures are
// logged and read as "no session": the caller is sent back to login instead
// of receiving a storage error.
package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.pilab.hu/standhub/domain"
	serrors "go.pilab.hu/standhub/errors"
	"go.pilab.hu/standhub/log"
)

const (
	DefaultRefreshThreshold   = 10 * time.Minute
	DefaultMinRefreshInterval = 5 * time.Minute

	sessionKey     = "session"
	lastAttemptKey = "last_refresh_attempt"
)

// Backend is a byte-oriented key/value store.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, keys ...string) error
	Close() error
}

// Options configures a Storage. Zero durations use the defaults.
type Options struct {
	RefreshThreshold   time.Duration
	MinRefreshInterval time.Duration
	Now                func() time.Time
	Logger             log.Logger
}

// Storage is the client-side session token store.
type Storage struct {
	backend            Backend
	refreshThreshold   time.Duration
	minRefreshInterval time.Duration
	now                func() time.Time
	logger             log.Logger

	// writeMu serializes writers; last write wins.
	writeMu sync.Mutex
}

type storedRecord struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expiresAt"` // epoch milliseconds
	UserID    string `json:"userId"`
}

// New creates a Storage over backend.
func New(backend Backend, opts Options) *Storage {
	s := &Storage{
		backend:            backend,
		refreshThreshold:   opts.RefreshThreshold,
		minRefreshInterval: opts.MinRefreshInterval,
		now:                opts.Now,
		logger:             opts.Logger,
	}
	if s.refreshThreshold <= 0 {
		s.refreshThreshold = DefaultRefreshThreshold
	}
	if s.minRefreshInterval <= 0 {
		s.minRefreshInterval = DefaultMinRefreshInterval
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = log.NewNop()
	}
	return s
}

// Record returns the stored record, or false when there is none or the
// backend cannot be read.
func (s *Storage) Record(ctx context.Context) (domain.TokenRecord, bool) {
	raw, ok, err := s.backend.Get(ctx, sessionKey)
	if err != nil {
		s.logger.Error(ctx, "Failed to read session token, treating as logged out", err)
		return domain.TokenRecord{}, false
	}
	if !ok {
		return domain.TokenRecord{}, false
	}

	var rec storedRecord
	if err := json.Unmarshal(raw, &rec); err != nil || rec.Token == "" {
		s.logger.Warn(ctx, "Discarding unreadable session token record")
		return domain.TokenRecord{}, false
	}
	return domain.TokenRecord{
		Token:     rec.Token,
		ExpiresAt: time.UnixMilli(rec.ExpiresAt),
		UserID:    rec.UserID,
	}, true
}

// GetToken returns the bearer token regardless of its expiry.
func (s *Storage) GetToken(ctx context.Context) (string, bool) {
	rec, ok := s.Record(ctx)
	if !ok {
		return "", false
	}
	return rec.Token, true
}

// GetTokenMetadata returns expiry and owner of the stored token.
func (s *Storage) GetTokenMetadata(ctx context.Context) (domain.TokenMetadata, bool) {
	rec, ok := s.Record(ctx)
	if !ok {
		return domain.TokenMetadata{}, false
	}
	return rec.Metadata(), true
}

// SaveTokenWithMetadata replaces the stored record.
func (s *Storage) SaveTokenWithMetadata(ctx context.Context, token string, expiresAt time.Time, userID string) error {
	if token == "" {
		return fmt.Errorf("%w: empty token", serrors.ErrInvalidArgument)
	}
	raw, err := json.Marshal(storedRecord{Token: token, ExpiresAt: expiresAt.UnixMilli(), UserID: userID})
	if err != nil {
		return fmt.Errorf("encode session token: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.backend.Put(ctx, sessionKey, raw); err != nil {
		return fmt.Errorf("save session token: %w", err)
	}
	return nil
}

// Save stores rec. It is SaveTokenWithMetadata for a whole record.
func (s *Storage) Save(ctx context.Context, rec domain.TokenRecord) error {
	return s.SaveTokenWithMetadata(ctx, rec.Token, rec.ExpiresAt, rec.UserID)
}

// ShouldRefreshToken reports whether the token expires within the refresh threshold.
func (s *Storage) ShouldRefreshToken(ctx context.Context) bool {
	meta, ok := s.GetTokenMetadata(ctx)
	if !ok {
		return false
	}
	return meta.TimeLeft(s.now()) <= s.refreshThreshold
}

// HasExpired reports a record that is present but past its expiry.
func (s *Storage) HasExpired(ctx context.Context) bool {
	meta, ok := s.GetTokenMetadata(ctx)
	return ok && meta.ExpiredAt(s.now())
}

// CanRefreshNow reports whether the minimum interval since the last refresh
// attempt has elapsed. It is a best-effort gate, not a lock.
func (s *Storage) CanRefreshNow(ctx context.Context) bool {
	last, ok, err := s.lastAttempt(ctx)
	if err != nil {
		s.logger.Warn(ctx, "Failed to read last refresh attempt", map[string]interface{}{"error": err.Error()})
		return false
	}
	if !ok {
		return true
	}
	return s.now().Sub(last) >= s.minRefreshInterval
}

// MarkRefreshAttempt records now as the last refresh attempt.
func (s *Storage) MarkRefreshAttempt(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	value := strconv.FormatInt(s.now().UnixMilli(), 10)
	if err := s.backend.Put(ctx, lastAttemptKey, []byte(value)); err != nil {
		return fmt.Errorf("save refresh attempt: %w", err)
	}
	return nil
}

func (s *Storage) lastAttempt(ctx context.Context) (time.Time, bool, error) {
	raw, ok, err := s.backend.Get(ctx, lastAttemptKey)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	ms, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		// A corrupt marker must not block refreshes forever.
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

// ClearTokenStorage removes the record and the refresh marker.
func (s *Storage) ClearTokenStorage(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.backend.Delete(ctx, sessionKey, lastAttemptKey); err != nil {
		return fmt.Errorf("clear session token: %w", err)
	}
	return nil
}

// Close closes the backend.
func (s *Storage) Close() error {
	if s.backend == nil {
		return nil
	}
	return s.backend.Close()
}

// ErrClosed is returned by backends used after Close.
var ErrClosed = errors.New("token storage closed")
