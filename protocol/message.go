package protocol

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type Request struct {
	ID     *int            `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type Response struct {
	ID     int     `json:"id"`
	Result bool    `json:"result"`
	Error  *string `json:"error,omitempty"`
}

type AuthorizeParams struct {
	StudentID string `json:"student_id"`
}

type StartParams struct {
	InstitutionID string `json:"institution_id"`
}

type StopParams struct {
	InstitutionID string `json:"institution_id"`
}

// StatusParams scopes a status request. An empty institution means the
// student's full view.
type StatusParams struct {
	InstitutionID string `json:"institution_id,omitempty"`
}

// StatusPush is the outbound status message pushed to every connection a
// student holds, both on the broadcast tick and out-of-band after a
// session-changing commit.
type StatusPush struct {
	MiningInstitutions []string        `json:"mining_institutions"`
	ActiveSessions     []SessionStatus `json:"active_sessions"`
	Wallets            []WalletStatus  `json:"wallets"`
}

type SessionStatus struct {
	InstitutionID  string          `json:"institution"`
	StartTime      time.Time       `json:"start_time"`
	EndTime        time.Time       `json:"end_time"`
	EarningRate    decimal.Decimal `json:"earning_rate"`
	CurrentTokens  decimal.Decimal `json:"current_tokens"`
	RemainingHours decimal.Decimal `json:"remaining_hours"`
	IsActive       bool            `json:"is_active"`
	SessionID      string          `json:"session_id"`
}

type WalletStatus struct {
	InstitutionID string          `json:"institution"`
	Balance       decimal.Decimal `json:"balance"`
	TotalMined    decimal.Decimal `json:"total_mined"`
}

func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
