package mining_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/campusmine/campusmine/mining"
	"github.com/campusmine/campusmine/mq"
	"github.com/campusmine/campusmine/store"
)

// failingWallets rejects credits for one student to exercise per-item
// sweep isolation.
type failingWallets struct {
	*store.MemoryStore
	failFor string
}

func (f *failingWallets) Credit(ctx context.Context, studentID, institutionID string, tokens decimal.Decimal) (*mining.Wallet, error) {
	if studentID == f.failFor {
		return nil, errors.New("wallet store down")
	}
	return f.MemoryStore.Credit(ctx, studentID, institutionID, tokens)
}

func TestSweepPartialFailureIsolation(t *testing.T) {
	mem := store.NewMemoryStore()
	mem.AddInstitution(&mining.Institution{ID: "uni", BaseRate: dec("0.25"), ReferralBonusRate: dec("0.1")})
	mem.SetTracking("alice", "uni", true)
	mem.SetTracking("bob", "uni", true)
	wallets := &failingWallets{MemoryStore: mem, failFor: "bob"}
	ctrl := mining.NewController(mem, wallets, mem, mem, mq.NewMemoryQueue(64), window24, rateCfg)
	clk := &clock{now: t0}
	ctrl.SetClock(clk.Now)
	ctx := context.Background()

	if _, _, err := ctrl.StartSession(ctx, "alice", "uni"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := ctrl.StartSession(ctx, "bob", "uni"); err != nil {
		t.Fatal(err)
	}
	clk.Advance(25 * time.Hour)
	res, err := ctrl.Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Scanned != 2 || res.Closed != 1 || res.Failed != 1 {
		t.Fatalf("one failure must not abort the pass: %+v", res)
	}
	wallet, _ := mem.Wallet(ctx, "alice", "uni")
	if !wallet.Balance.Equal(dec("6")) {
		t.Fatalf("the healthy session must still be credited: %s", wallet.Balance)
	}
}

func TestSweeperLoopClosesExpired(t *testing.T) {
	ctrl, mem, _, clk := newFixture(t)
	ctx := context.Background()
	if _, _, err := ctrl.StartSession(ctx, "alice", "uni"); err != nil {
		t.Fatal(err)
	}
	clk.Advance(25 * time.Hour)

	sw := mining.NewSweeper(ctrl, 50*time.Millisecond)
	sw.Start()
	defer sw.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cur, _ := mem.ActiveSession(ctx, "alice", "uni"); cur == nil {
			wallet, _ := mem.Wallet(ctx, "alice", "uni")
			if !wallet.Balance.Equal(dec("6")) {
				t.Fatalf("want 6.0 credited, got %s", wallet.Balance)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("sweeper never closed the expired session")
}

func TestSweeperStartupPass(t *testing.T) {
	// A session left over from a prior process lifetime is finalized by
	// the immediate pass on Start, before the first tick.
	ctrl, mem, _, clk := newFixture(t)
	ctx := context.Background()
	if _, _, err := ctrl.StartSession(ctx, "alice", "uni"); err != nil {
		t.Fatal(err)
	}
	clk.Advance(25 * time.Hour)

	sw := mining.NewSweeper(ctrl, time.Hour) // interval far beyond the test
	sw.Start()
	defer sw.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cur, _ := mem.ActiveSession(ctx, "alice", "uni"); cur == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("startup pass did not run")
}
