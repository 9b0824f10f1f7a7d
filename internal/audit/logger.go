// Package audit writes one structured record per credits or session event
// handled by the gateway.
package audit

import (
	"io"
	"time"

	"github.com/rs/zerolog"
)

// Event is a single audit record.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	User      string    `json:"user,omitempty"`
	Target    string    `json:"target,omitempty"` // reservation id or target domain
	Amount    int       `json:"amount,omitempty"`
	Details   string    `json:"details,omitempty"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
}

// Actions recorded by the gateway.
const (
	ActionReserve   = "reserve"
	ActionCommit    = "commit"
	ActionRollback  = "rollback"
	ActionExpire    = "expire"
	ActionLogout    = "logout"
	ActionSSOCreate = "sso_create"
	ActionSSORedeem = "sso_redeem"
)

// Logger writes audit events as JSON lines. A nil *Logger discards events.
type Logger struct {
	out zerolog.Logger
	now func() time.Time
}

// New returns a Logger writing to w.
func New(w io.Writer) *Logger {
	return &Logger{
		out: zerolog.New(w).With().Str("stream", "audit").Logger(),
		now: time.Now,
	}
}

// Log records e, stamping it when Timestamp is zero.
func (l *Logger) Log(e Event) {
	if l == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now().UTC()
	}

	entry := l.out.Log().
		Time("timestamp", e.Timestamp).
		Str("action", e.Action).
		Bool("success", e.Success)
	if e.User != "" {
		entry = entry.Str("user", e.User)
	}
	if e.Target != "" {
		entry = entry.Str("target", e.Target)
	}
	if e.Amount != 0 {
		entry = entry.Int("amount", e.Amount)
	}
	if e.Details != "" {
		entry = entry.Str("details", e.Details)
	}
	if e.Error != "" {
		entry = entry.Str("error", e.Error)
	}
	entry.Msg("")
}

// Record is a shorthand for Log with the error message filled from err.
func (l *Logger) Record(action, user, target string, success bool, err error) {
	e := Event{Action: action, User: user, Target: target, Success: success}
	if err != nil {
		e.Error = err.Error()
	}
	l.Log(e)
}
