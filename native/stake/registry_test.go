package stake

import (
	"errors"
	"math"
	"math/big"
	"testing"
	"time"

	"anima/core/types"
	"anima/native/ledger"
	"anima/storage"
)

// fixture wires a registry and ledger over one in-memory database with a
// controllable clock.
type fixture struct {
	db       *storage.MemDB
	ledger   *ledger.Ledger
	registry *Registry
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		db:  storage.NewMemDB(),
		now: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
	t.Cleanup(f.db.Close)

	var err error
	f.ledger, err = ledger.New(f.db)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	f.registry, err = NewRegistry(f.db, f.ledger)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	clock := func() time.Time { return f.now }
	f.ledger.SetNowFunc(clock)
	f.registry.SetNowFunc(clock)
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func (f *fixture) fund(t *testing.T, account string, tokens int64) {
	t.Helper()
	if _, err := f.ledger.Mint(account, types.Tokens(tokens), "allocation"); err != nil {
		t.Fatalf("fund %s: %v", account, err)
	}
}

func TestStakeMovesTokensToPool(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "alice", 1_000)

	res, err := f.registry.Stake("alice", types.Tokens(200))
	if err != nil {
		t.Fatalf("stake: %v", err)
	}
	if res.OldTier != TierBasic || res.NewTier != TierAdvanced || !res.TierChanged {
		t.Fatalf("tier transition: %+v", res)
	}
	if got := f.ledger.Balance("alice"); got.Cmp(types.Tokens(800)) != 0 {
		t.Fatalf("alice balance: %s", types.FormatAmount(got))
	}
	if got := f.ledger.Balance(PoolAccount); got.Cmp(types.Tokens(200)) != 0 {
		t.Fatalf("pool balance: %s", types.FormatAmount(got))
	}
	if got := f.registry.TotalStaked(); got.Cmp(types.Tokens(200)) != 0 {
		t.Fatalf("total staked: %s", types.FormatAmount(got))
	}
}

func TestStakeInsufficientBalanceLeavesStateIntact(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "alice", 1_000)

	_, err := f.registry.Stake("alice", types.Tokens(5_000))
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if got := f.ledger.Balance("alice"); got.Cmp(types.Tokens(1_000)) != 0 {
		t.Fatalf("balance mutated: %s", types.FormatAmount(got))
	}
	if f.registry.StakedAmount("alice").Sign() != 0 {
		t.Fatalf("stake recorded on failed transfer")
	}
	if f.registry.TotalStaked().Sign() != 0 {
		t.Fatalf("total staked mutated")
	}
}

func TestUnstakeRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "alice", 500)

	if _, err := f.registry.Stake("alice", types.Tokens(300)); err != nil {
		t.Fatalf("stake: %v", err)
	}
	// Zero elapsed time: no rewards accrue, only the principal moves back.
	res, err := f.registry.Unstake("alice", types.Tokens(300))
	if err != nil {
		t.Fatalf("unstake: %v", err)
	}
	if res.NewTier != TierBasic || !res.TierChanged {
		t.Fatalf("tier transition: %+v", res)
	}
	if got := f.ledger.Balance("alice"); got.Cmp(types.Tokens(500)) != 0 {
		t.Fatalf("alice balance: %s", types.FormatAmount(got))
	}
	if f.ledger.Balance(PoolAccount).Sign() != 0 {
		t.Fatalf("pool not emptied")
	}
}

func TestUnstakeExceedingStake(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "alice", 500)
	if _, err := f.registry.Stake("alice", types.Tokens(100)); err != nil {
		t.Fatalf("stake: %v", err)
	}
	if _, err := f.registry.Unstake("alice", types.Tokens(101)); !errors.Is(err, ErrInsufficientStake) {
		t.Fatalf("expected ErrInsufficientStake, got %v", err)
	}
	if _, err := f.registry.Unstake("bob", types.Tokens(1)); !errors.Is(err, ErrNoStake) {
		t.Fatalf("expected ErrNoStake, got %v", err)
	}
}

func TestUnstakeRejectsInvalidAmountBeforeSettling(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "alice", 1_000)
	if _, err := f.registry.Stake("alice", types.Tokens(500)); err != nil {
		t.Fatalf("stake: %v", err)
	}
	f.advance(time.Duration(365.25 * 24 * float64(time.Hour)))

	balanceBefore := f.ledger.Balance("alice")
	pendingBefore := f.registry.PendingRewards("alice")

	if _, err := f.registry.Unstake("alice", big.NewInt(-1)); !errors.Is(err, ledger.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := f.registry.Unstake("alice", nil); !errors.Is(err, ledger.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for nil amount, got %v", err)
	}

	// The rejected unstake must not have settled the accrued rewards.
	if got := f.ledger.Balance("alice"); got.Cmp(balanceBefore) != 0 {
		t.Fatalf("balance mutated by rejected unstake: %s -> %s",
			types.FormatAmount(balanceBefore), types.FormatAmount(got))
	}
	if got := f.registry.PendingRewards("alice"); got.Cmp(pendingBefore) != 0 {
		t.Fatalf("pending rewards settled by rejected unstake: %s -> %s",
			types.FormatAmount(pendingBefore), types.FormatAmount(got))
	}
	info := f.registry.Info("alice")
	if info.LifetimeRewards.Sign() != 0 {
		t.Fatalf("lifetime rewards advanced: %s", types.FormatAmount(info.LifetimeRewards))
	}
}

func TestPendingRewardsIsPureRead(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "alice", 1_000)
	if _, err := f.registry.Stake("alice", types.Tokens(500)); err != nil {
		t.Fatalf("stake: %v", err)
	}

	f.advance(30 * 24 * time.Hour)
	first := f.registry.PendingRewards("alice")
	if first.Sign() <= 0 {
		t.Fatalf("expected accrued rewards after 30 days")
	}
	// Reading again at the same instant returns the same value.
	if second := f.registry.PendingRewards("alice"); second.Cmp(first) != 0 {
		t.Fatalf("pending read mutated accrual: %s then %s", first, second)
	}
	// Accrual is monotonic in elapsed time.
	f.advance(24 * time.Hour)
	if later := f.registry.PendingRewards("alice"); later.Cmp(first) <= 0 {
		t.Fatalf("accrual not monotonic")
	}
}

func TestClaimRewardsExactOneYear(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "alice", 1_000)
	if _, err := f.registry.Stake("alice", types.Tokens(500)); err != nil {
		t.Fatalf("stake: %v", err)
	}

	// One accrual year at the advanced tier's 10% APY over 500 staked
	// tokens pays exactly 50.
	f.advance(time.Duration(365.25 * 24 * float64(time.Hour)))
	res, err := f.registry.ClaimRewards("alice")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if got := res.Rewards; got.Cmp(types.Tokens(50)) != 0 {
		t.Fatalf("rewards: got %s want 50", types.FormatAmount(got))
	}
	if got := f.ledger.Balance("alice"); got.Cmp(types.Tokens(550)) != 0 {
		t.Fatalf("balance after claim: %s", types.FormatAmount(got))
	}

	// Claiming again at the same instant is a zero no-op.
	again, err := f.registry.ClaimRewards("alice")
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if again.Rewards.Sign() != 0 {
		t.Fatalf("double payout: %s", types.FormatAmount(again.Rewards))
	}
	if got := again.LifetimeRewards; got.Cmp(types.Tokens(50)) != 0 {
		t.Fatalf("lifetime rewards: %s", types.FormatAmount(got))
	}
}

func TestUnstakeSettlesRewardsFirst(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "alice", 1_000)
	if _, err := f.registry.Stake("alice", types.Tokens(500)); err != nil {
		t.Fatalf("stake: %v", err)
	}

	f.advance(time.Duration(365.25 * 24 * float64(time.Hour)))
	if _, err := f.registry.Unstake("alice", types.Tokens(500)); err != nil {
		t.Fatalf("unstake: %v", err)
	}
	// 500 principal returned + 550 remaining + 50 settled at the pre-unstake
	// tier and amount.
	if got := f.ledger.Balance("alice"); got.Cmp(types.Tokens(1_050)) != 0 {
		t.Fatalf("balance after unstake: %s", types.FormatAmount(got))
	}
	if f.registry.PendingRewards("alice").Sign() != 0 {
		t.Fatalf("rewards left pending after unstake")
	}
}

func TestPriorityScore(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "alice", 1_000)
	if _, err := f.registry.Stake("alice", types.Tokens(200)); err != nil {
		t.Fatalf("stake: %v", err)
	}

	want := 2 * math.Log(201)
	if got := f.registry.PriorityScore("alice"); math.Abs(got-want) > 1e-9 {
		t.Fatalf("priority score: got %v want %v", got, want)
	}
	if got := f.registry.PriorityScore("bob"); got != 0 {
		t.Fatalf("zero stake must score zero, got %v", got)
	}
}

func TestRegistryReload(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "alice", 1_000)
	if _, err := f.registry.Stake("alice", types.Tokens(250)); err != nil {
		t.Fatalf("stake: %v", err)
	}
	f.advance(90 * 24 * time.Hour)
	if _, err := f.registry.ClaimRewards("alice"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	reloaded, err := NewRegistry(f.db, f.ledger)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	reloaded.SetNowFunc(func() time.Time { return f.now })

	if got, want := reloaded.StakedAmount("alice"), f.registry.StakedAmount("alice"); got.Cmp(want) != 0 {
		t.Fatalf("staked amount after reload: got %s want %s", got, want)
	}
	if got, want := reloaded.TotalStaked(), f.registry.TotalStaked(); got.Cmp(want) != 0 {
		t.Fatalf("total staked after reload: got %s want %s", got, want)
	}
	if got, want := reloaded.PendingRewards("alice"), f.registry.PendingRewards("alice"); got.Cmp(want) != 0 {
		t.Fatalf("accrual anchor lost on reload: got %s want %s", got, want)
	}
	orig := f.registry.Info("alice")
	again := reloaded.Info("alice")
	if orig.LifetimeRewards.Cmp(again.LifetimeRewards) != 0 {
		t.Fatalf("lifetime rewards diverged after reload")
	}
	if orig.Tier != again.Tier {
		t.Fatalf("tier diverged after reload")
	}
}

func TestGlobalStats(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "alice", 2_000)
	f.fund(t, "bob", 50)
	if _, err := f.registry.Stake("alice", types.Tokens(1_500)); err != nil {
		t.Fatalf("stake alice: %v", err)
	}
	if _, err := f.registry.Stake("bob", types.Tokens(50)); err != nil {
		t.Fatalf("stake bob: %v", err)
	}

	stats := f.registry.GlobalStats()
	if stats.Stakers != 2 {
		t.Fatalf("stakers: %d", stats.Stakers)
	}
	if got := stats.TotalStaked; got.Cmp(types.Tokens(1_550)) != 0 {
		t.Fatalf("total staked: %s", types.FormatAmount(got))
	}
	if stats.TierDistribution["pro"] != 1 || stats.TierDistribution["basic"] != 1 {
		t.Fatalf("tier distribution: %+v", stats.TierDistribution)
	}
}
