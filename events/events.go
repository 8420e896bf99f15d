// Package events defines the messages published after a session commit.
package events

import (
	"time"

	"github.com/shopspring/decimal"
)

type EventType string

const (
	SessionStarted EventType = "started"
	SessionStopped EventType = "stopped"
	SessionExpired EventType = "expired"
)

// SessionEvent is emitted after the durable commit of a session state
// change, never before. TokensEarned is zero for SessionStarted.
type SessionEvent struct {
	Type          EventType       `json:"type"`
	StudentID     string          `json:"student_id"`
	InstitutionID string          `json:"institution_id"`
	SessionID     string          `json:"session_id"`
	TokensEarned  decimal.Decimal `json:"tokens_earned"`
	Time          time.Time       `json:"time"`
}
