package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestEncodeDecodeAuthorize(t *testing.T) {
	id := 1
	req := Request{ID: &id, Method: "authorize"}
	p, _ := Encode(AuthorizeParams{StudentID: "s1"})
	req.Params = p
	raw, err := Encode(req)
	if err != nil {
		t.Fatal(err)
	}
	var out Request
	if err := Decode(raw, &out); err != nil {
		t.Fatal(err)
	}
	if out.Method != "authorize" {
		t.Fatal("method mismatch")
	}
	var ap AuthorizeParams
	if err := Decode(out.Params, &ap); err != nil {
		t.Fatal(err)
	}
	if ap.StudentID != "s1" {
		t.Fatal("param mismatch")
	}
}

func TestEncodeDecodeStatusPush(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	push := StatusPush{
		MiningInstitutions: []string{"inst-1"},
		ActiveSessions: []SessionStatus{{
			InstitutionID:  "inst-1",
			StartTime:      now,
			EndTime:        now.Add(24 * time.Hour),
			EarningRate:    decimal.RequireFromString("0.55"),
			CurrentTokens:  decimal.RequireFromString("0.5"),
			RemainingHours: decimal.RequireFromString("22"),
			IsActive:       true,
			SessionID:      "sess-1",
		}},
		Wallets: []WalletStatus{{InstitutionID: "inst-1", Balance: decimal.RequireFromString("1.25"), TotalMined: decimal.RequireFromString("3.75")}},
	}
	msg := struct {
		ID     any        `json:"id"`
		Method string     `json:"method"`
		Params StatusPush `json:"params"`
	}{ID: nil, Method: "status", Params: push}
	raw, _ := Encode(msg)
	var req Request
	if err := Decode(raw, &req); err != nil {
		t.Fatal(err)
	}
	if req.ID != nil {
		t.Fatal("id should be nil")
	}
	if req.Method != "status" {
		t.Fatal("method mismatch")
	}
	var out StatusPush
	if err := Decode(req.Params, &out); err != nil {
		t.Fatal(err)
	}
	if len(out.ActiveSessions) != 1 || out.ActiveSessions[0].SessionID != "sess-1" {
		t.Fatal("sessions mismatch")
	}
	if !out.ActiveSessions[0].CurrentTokens.Equal(decimal.RequireFromString("0.5")) {
		t.Fatal("tokens mismatch")
	}
	if !out.Wallets[0].Balance.Equal(decimal.RequireFromString("1.25")) {
		t.Fatal("wallet mismatch")
	}
}

func TestResponseEncodeDecode(t *testing.T) {
	msg := "no active mining session"
	r := Response{ID: 2, Result: false, Error: &msg}
	raw, _ := Encode(r)
	var out Response
	_ = Decode(raw, &out)
	if out.ID != 2 || out.Result != false {
		t.Fatal("response mismatch")
	}
	if out.Error == nil || *out.Error != msg {
		t.Fatal("error mismatch")
	}
}

func TestInvalidJSON(t *testing.T) {
	var req Request
	if err := Decode([]byte("{"), &req); err == nil {
		t.Fatal("expect error")
	}
	var params StartParams
	if err := json.Unmarshal([]byte("{"), &params); err == nil {
		t.Fatal("expect error")
	}
}
