package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/segmentio/ksuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/campusmine/campusmine/mining"
)

func TestPGStoreSessionLifecycle(t *testing.T) {
	dsn := os.Getenv("CM_PG_DSN")
	if dsn == "" {
		t.Skip("PG DSN not provided")
	}
	s, err := NewPGStore(dsn)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	student := "test-" + ksuid.New().String()
	start := time.Now().UTC().Truncate(time.Millisecond).Add(-25 * time.Hour)
	sess := &mining.Session{
		SessionID:     ksuid.New().String(),
		StudentID:     student,
		InstitutionID: "uni",
		StartTime:     start,
		ScheduledEnd:  start.Add(24 * time.Hour),
		Rate:          dec("0.25"),
		Active:        true,
		TokensEarned:  decimal.Zero,
	}
	require.NoError(t, s.CreateSession(ctx, sess))

	got, err := s.ActiveSession(ctx, student, "uni")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.True(t, got.Rate.Equal(dec("0.25")))

	expired, err := s.ExpiredActiveSessions(ctx, time.Now())
	require.NoError(t, err)
	found := false
	for _, e := range expired {
		if e.SessionID == sess.SessionID {
			found = true
		}
	}
	require.True(t, found, "expired query must surface the session")

	claimed, err := s.CloseSession(ctx, sess.SessionID, dec("6"), sess.ScheduledEnd)
	require.NoError(t, err)
	require.True(t, claimed)
	again, err := s.CloseSession(ctx, sess.SessionID, dec("6"), sess.ScheduledEnd)
	require.NoError(t, err)
	require.False(t, again, "close claim must be single-shot")

	none, err := s.ActiveSession(ctx, student, "uni")
	require.NoError(t, err)
	require.Nil(t, none)
}

func TestPGStoreWalletCredit(t *testing.T) {
	dsn := os.Getenv("CM_PG_DSN")
	if dsn == "" {
		t.Skip("PG DSN not provided")
	}
	s, err := NewPGStore(dsn)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	student := "test-" + ksuid.New().String()

	w, created, err := s.EnsureWallet(ctx, student, "uni")
	require.NoError(t, err)
	require.True(t, created)
	require.True(t, w.Balance.IsZero())

	_, created, err = s.EnsureWallet(ctx, student, "uni")
	require.NoError(t, err)
	require.False(t, created)

	w, err = s.Credit(ctx, student, "uni", dec("0.5"))
	require.NoError(t, err)
	require.True(t, w.Balance.Equal(dec("0.5")))
	require.True(t, w.TotalMined.Equal(dec("0.5")))

	w, err = s.AdjustBalance(ctx, student, "uni", dec("-0.2"), "integration test")
	require.NoError(t, err)
	require.True(t, w.Balance.Equal(dec("0.3")))
	require.True(t, w.TotalMined.Equal(dec("0.5")), "corrections leave lifetime totals alone")
}
