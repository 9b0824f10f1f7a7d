package domain

import "time"

// TokenRecord is the session token held by the client. It is created on login
// or refresh and always replaced as a whole.
type TokenRecord struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	UserID    string    `json:"userId"`
}

// TokenMetadata is the non-secret part of a TokenRecord.
type TokenMetadata struct {
	ExpiresAt time.Time `json:"expiresAt"`
	UserID    string    `json:"userId"`
}

// Metadata returns the metadata part of the record.
func (r TokenRecord) Metadata() TokenMetadata {
	return TokenMetadata{ExpiresAt: r.ExpiresAt, UserID: r.UserID}
}

// ExpiredAt reports whether the record is no longer valid at now.
func (m TokenMetadata) ExpiredAt(now time.Time) bool {
	return !m.ExpiresAt.After(now)
}

// TimeLeft returns the remaining lifetime at now, which is negative once expired.
func (m TokenMetadata) TimeLeft(now time.Time) time.Duration {
	return m.ExpiresAt.Sub(now)
}
