package ledger

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"anima/core/types"
	"anima/storage"
)

func newTestLedger(t *testing.T) (*Ledger, *storage.MemDB) {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	l, err := New(db)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	return l, db
}

func TestGenesisSupply(t *testing.T) {
	l, _ := newTestLedger(t)
	info := l.Info()

	if info.TotalSupply.Cmp(types.TotalSupply()) != 0 {
		t.Fatalf("total supply: got %s", types.FormatAmount(info.TotalSupply))
	}
	if got, want := info.Circulating, types.Tokens(5_000_000); got.Cmp(want) != 0 {
		t.Fatalf("circulating: got %s want %s", types.FormatAmount(got), types.FormatAmount(want))
	}
	if got, want := info.Treasury, types.Tokens(1_000_000); got.Cmp(want) != 0 {
		t.Fatalf("treasury: got %s want %s", types.FormatAmount(got), types.FormatAmount(want))
	}
	if info.Burned.Sign() != 0 {
		t.Fatalf("burned should start at zero")
	}
}

func TestUnknownAccountHasZeroBalance(t *testing.T) {
	l, _ := newTestLedger(t)
	if l.Balance("nobody").Sign() != 0 {
		t.Fatalf("unknown account must hold zero")
	}
}

func TestTransferRoundTrip(t *testing.T) {
	l, _ := newTestLedger(t)
	if _, err := l.Mint("alice", types.Tokens(100), "allocation"); err != nil {
		t.Fatalf("mint: %v", err)
	}

	amount := types.Tokens(40)
	if _, err := l.Transfer("alice", "bob", amount); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if _, err := l.Transfer("bob", "alice", amount); err != nil {
		t.Fatalf("transfer back: %v", err)
	}

	if got := l.Balance("alice"); got.Cmp(types.Tokens(100)) != 0 {
		t.Fatalf("alice balance drifted: %s", types.FormatAmount(got))
	}
	if l.Balance("bob").Sign() != 0 {
		t.Fatalf("bob balance drifted")
	}
}

func TestTransferInsufficientBalance(t *testing.T) {
	l, _ := newTestLedger(t)
	if _, err := l.Mint("alice", types.Tokens(10), "allocation"); err != nil {
		t.Fatalf("mint: %v", err)
	}
	_, err := l.Transfer("alice", "bob", types.Tokens(11))
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	// Failed transfer leaves state untouched.
	if got := l.Balance("alice"); got.Cmp(types.Tokens(10)) != 0 {
		t.Fatalf("alice balance mutated on failure: %s", types.FormatAmount(got))
	}
	if l.Balance("bob").Sign() != 0 {
		t.Fatalf("bob credited on failed transfer")
	}
}

func TestTransferRejectsNegativeAmount(t *testing.T) {
	l, _ := newTestLedger(t)
	if _, err := l.Transfer("alice", "bob", big.NewInt(-1)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestSelfTransferLogsButKeepsBalance(t *testing.T) {
	l, _ := newTestLedger(t)
	if _, err := l.Mint("alice", types.Tokens(5), "allocation"); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := l.Transfer("alice", "alice", types.Tokens(5)); err != nil {
		t.Fatalf("self transfer: %v", err)
	}
	if got := l.Balance("alice"); got.Cmp(types.Tokens(5)) != 0 {
		t.Fatalf("self transfer changed balance: %s", types.FormatAmount(got))
	}
	txs, err := l.Transactions("alice", 0)
	if err != nil {
		t.Fatalf("transactions: %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("expected 2 log entries, got %d", len(txs))
	}
	if txs[1].Type != TxTypeTransfer {
		t.Fatalf("expected transfer entry, got %s", txs[1].Type)
	}
}

func TestChargeUsageFeeBreakdown(t *testing.T) {
	l, _ := newTestLedger(t)
	if _, err := l.Mint("alice", types.Tokens(1_000), "allocation"); err != nil {
		t.Fatalf("mint: %v", err)
	}

	cost := types.Tokens(10)
	breakdown, err := l.ChargeUsageFee("alice", cost)
	if err != nil {
		t.Fatalf("charge: %v", err)
	}

	// fee = 0.5% of cost; burned + reinvested == fee; cost + fee == total.
	if got, want := types.FormatAmount(breakdown.Fee), "0.05"; got != want {
		t.Fatalf("fee: got %s want %s", got, want)
	}
	sum := new(big.Int).Add(breakdown.Burned, breakdown.Reinvested)
	if sum.Cmp(breakdown.Fee) != 0 {
		t.Fatalf("burned+reinvested != fee: %s + %s != %s",
			breakdown.Burned, breakdown.Reinvested, breakdown.Fee)
	}
	total := new(big.Int).Add(breakdown.UsageCost, breakdown.Fee)
	if total.Cmp(breakdown.TotalCharged) != 0 {
		t.Fatalf("cost+fee != total")
	}
	if got, want := types.FormatAmount(breakdown.Burned), "0.03"; got != want {
		t.Fatalf("burned: got %s want %s", got, want)
	}

	info := l.Info()
	if info.Burned.Cmp(breakdown.Burned) != 0 {
		t.Fatalf("cumulative burned not updated")
	}
	wantCirculating := new(big.Int).Sub(types.Tokens(5_000_000), breakdown.Burned)
	if info.Circulating.Cmp(wantCirculating) != 0 {
		t.Fatalf("circulating supply not reduced by burn")
	}
	wantTreasury := new(big.Int).Add(types.Tokens(1_000_000), breakdown.Reinvested)
	if info.Treasury.Cmp(wantTreasury) != 0 {
		t.Fatalf("treasury not credited with reinvestment")
	}
}

func TestChargeUsageFeeInsufficientBalance(t *testing.T) {
	l, _ := newTestLedger(t)
	if _, err := l.Mint("alice", types.Tokens(10), "allocation"); err != nil {
		t.Fatalf("mint: %v", err)
	}
	// Balance covers the base cost but not cost+fee.
	if _, err := l.ChargeUsageFee("alice", types.Tokens(10)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if got := l.Balance("alice"); got.Cmp(types.Tokens(10)) != 0 {
		t.Fatalf("failed charge mutated balance")
	}
}

func TestOnboardOnce(t *testing.T) {
	l, _ := newTestLedger(t)
	grant := types.Tokens(1_000)
	if _, err := l.Onboard("alice", grant); err != nil {
		t.Fatalf("onboard: %v", err)
	}
	if _, err := l.Onboard("alice", grant); !errors.Is(err, ErrAlreadyOnboarded) {
		t.Fatalf("expected ErrAlreadyOnboarded, got %v", err)
	}
	if got := l.Balance("alice"); got.Cmp(grant) != 0 {
		t.Fatalf("grant minted more than once")
	}
}

func TestReloadReproducesState(t *testing.T) {
	db := storage.NewMemDB()
	t.Cleanup(db.Close)

	first, err := New(db)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	fixed := time.Unix(1_700_000_000, 0).UTC()
	first.SetNowFunc(func() time.Time { return fixed })

	if _, err := first.Mint("alice", types.Tokens(250), "allocation"); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := first.ChargeUsageFee("alice", types.Tokens(20)); err != nil {
		t.Fatalf("charge: %v", err)
	}
	if _, err := first.Onboard("bob", types.Tokens(1_000)); err != nil {
		t.Fatalf("onboard: %v", err)
	}

	reloaded, err := New(db)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got, want := reloaded.Balance("alice"), first.Balance("alice"); got.Cmp(want) != 0 {
		t.Fatalf("alice balance after reload: got %s want %s", got, want)
	}
	firstInfo, reloadedInfo := first.Info(), reloaded.Info()
	if firstInfo.Burned.Cmp(reloadedInfo.Burned) != 0 ||
		firstInfo.Circulating.Cmp(reloadedInfo.Circulating) != 0 ||
		firstInfo.Treasury.Cmp(reloadedInfo.Treasury) != 0 {
		t.Fatalf("supply counters diverged after reload")
	}
	if _, err := reloaded.Onboard("bob", types.Tokens(1_000)); !errors.Is(err, ErrAlreadyOnboarded) {
		t.Fatalf("onboarded set lost on reload")
	}
	txs, err := reloaded.Transactions("alice", 0)
	if err != nil {
		t.Fatalf("transactions: %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("expected 2 alice entries after reload, got %d", len(txs))
	}
}

func TestAllocationsSumToTotalSupply(t *testing.T) {
	sum := big.NewInt(0)
	for _, alloc := range Allocations() {
		sum = sum.Add(sum, alloc.Amount)
	}
	if sum.Cmp(types.TotalSupply()) != 0 {
		t.Fatalf("allocations sum %s != total supply", types.FormatAmount(sum))
	}
}
