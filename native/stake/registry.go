package stake

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"anima/core/types"
	"anima/native/ledger"
	"anima/storage"
)

// PoolAccount is the reserved ledger pseudo-account holding all tokens
// currently locked in stakes. Stakes are modeled as real transfers so the
// ledger's audit log covers every lock and release.
const PoolAccount = "staking_pool"

var (
	// ErrInsufficientStake is returned when an unstake exceeds the staked
	// amount.
	ErrInsufficientStake = errors.New("stake: insufficient staked amount")
	// ErrNoStake is returned when an account with no stake record attempts
	// an operation that requires one.
	ErrNoStake = errors.New("stake: no stake found")
)

var (
	keyTotalStaked  = []byte("stake/total")
	prefixRecord    = []byte("stake/record/")
	prefixRewardLog = []byte("stake/reward/")
	keyRewardSeq    = []byte("stake/rewardseq")
)

// hoursPerYear is the accrual denominator (365.25 days).
var hoursPerYear = decimal.NewFromFloat(365.25 * 24)

// HistoryEntry records a stake or unstake event and the resulting total.
type HistoryEntry struct {
	Timestamp   time.Time `json:"timestamp"`
	Action      string    `json:"action"`
	Amount      *big.Int  `json:"amount"`
	TotalStaked *big.Int  `json:"totalStaked"`
}

// Record is the persistent staking position for one account. Tier is never
// stored; it is always derived from Amount so it can never go stale.
type Record struct {
	Amount          *big.Int       `json:"amount"`
	StartTime       time.Time      `json:"startTime"`
	LastRewardClaim time.Time      `json:"lastRewardClaim"`
	LifetimeRewards *big.Int       `json:"lifetimeRewards"`
	History         []HistoryEntry `json:"history"`
}

// RewardRecord is an append-only log entry for a reward payout.
type RewardRecord struct {
	Seq          uint64    `json:"seq"`
	Timestamp    time.Time `json:"timestamp"`
	Account      string    `json:"account"`
	Amount       *big.Int  `json:"amount"`
	StakedAmount *big.Int  `json:"stakedAmount"`
}

// ChangeResult reports the outcome of a stake or unstake.
type ChangeResult struct {
	Amount      *big.Int `json:"amount"`
	TotalStaked *big.Int `json:"totalStaked"`
	OldTier     Tier     `json:"oldTier"`
	NewTier     Tier     `json:"newTier"`
	TierChanged bool     `json:"tierChanged"`
}

// ClaimResult reports a reward claim. A zero Rewards value means there was
// nothing to claim; the call still succeeds.
type ClaimResult struct {
	Rewards         *big.Int `json:"rewards"`
	LifetimeRewards *big.Int `json:"lifetimeRewards"`
	NewBalance      *big.Int `json:"newBalance"`
}

// NextTierInfo describes the stake required to reach the next tier.
type NextTierInfo struct {
	Tier            Tier     `json:"tier"`
	RequiredStake   *big.Int `json:"requiredStake"`
	AdditionalStake *big.Int `json:"additionalStake"`
	Features        Features `json:"features"`
}

// AccountInfo is the public staking summary for one account.
type AccountInfo struct {
	Staked          *big.Int      `json:"staked"`
	Tier            Tier          `json:"tier"`
	APYBps          uint64        `json:"apyBps"`
	PendingRewards  *big.Int      `json:"pendingRewards"`
	LifetimeRewards *big.Int      `json:"lifetimeRewards"`
	PriorityScore   float64       `json:"priorityScore"`
	Features        Features      `json:"features"`
	StartTime       time.Time     `json:"startTime,omitempty"`
	NextTier        *NextTierInfo `json:"nextTier,omitempty"`
}

// Stats aggregates global staking metrics.
type Stats struct {
	TotalStaked        *big.Int       `json:"totalStaked"`
	Stakers            int            `json:"stakers"`
	RewardsDistributed *big.Int       `json:"rewardsDistributed"`
	TierDistribution   map[string]int `json:"tierDistribution"`
}

// Registry owns all stake records. Token movement is delegated to the
// ledger; stake/unstake/claim are each one logical transaction guarded by
// the registry mutex so reward accrual never spans an amount change.
type Registry struct {
	mu          sync.Mutex
	db          storage.Database
	ledger      *ledger.Ledger
	nowFn       func() time.Time
	records     map[string]*Record
	totalStaked *big.Int
	rewardSeq   uint64
}

// NewRegistry opens a stake registry over the database, reloading any
// persisted records.
func NewRegistry(db storage.Database, l *ledger.Ledger) (*Registry, error) {
	r := &Registry{
		db:          db,
		ledger:      l,
		nowFn:       func() time.Time { return time.Now().UTC() },
		records:     make(map[string]*Record),
		totalStaked: big.NewInt(0),
	}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

// SetNowFunc overrides the accrual clock. Nil restores the default UTC clock.
func (r *Registry) SetNowFunc(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if now == nil {
		r.nowFn = func() time.Time { return time.Now().UTC() }
		return
	}
	r.nowFn = now
}

func (r *Registry) load() error {
	if raw, err := r.db.Get(keyTotalStaked); err == nil {
		total := new(big.Int)
		if err := total.UnmarshalJSON(raw); err != nil {
			return fmt.Errorf("stake: decode total: %w", err)
		}
		r.totalStaked = total
	} else if !errors.Is(err, storage.ErrKeyNotFound) {
		return err
	}
	if raw, err := r.db.Get(keyRewardSeq); err == nil {
		if err := json.Unmarshal(raw, &r.rewardSeq); err != nil {
			return fmt.Errorf("stake: decode reward sequence: %w", err)
		}
	} else if !errors.Is(err, storage.ErrKeyNotFound) {
		return err
	}
	return r.db.IteratePrefix(prefixRecord, func(key, value []byte) error {
		account := string(key[len(prefixRecord):])
		rec := &Record{}
		if err := json.Unmarshal(value, rec); err != nil {
			return fmt.Errorf("stake: decode record for %s: %w", account, err)
		}
		r.records[account] = rec
		return nil
	})
}

func (r *Registry) persistRecord(account string) error {
	raw, err := json.Marshal(r.records[account])
	if err != nil {
		return err
	}
	return r.db.Put(append(prefixRecord, account...), raw)
}

func (r *Registry) persistTotal() error {
	raw, err := r.totalStaked.MarshalJSON()
	if err != nil {
		return err
	}
	return r.db.Put(keyTotalStaked, raw)
}

// Stake locks amount in the staking pool via a ledger transfer and updates
// the account's record, returning the tier transition.
func (r *Registry) Stake(account string, amount *big.Int) (*ChangeResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.nowFn()
	rec, ok := r.records[account]
	if !ok {
		rec = &Record{
			Amount:          big.NewInt(0),
			StartTime:       now,
			LastRewardClaim: now,
			LifetimeRewards: big.NewInt(0),
		}
	}

	// Ledger rejects the transfer when the balance is short; record state
	// is untouched on failure.
	if _, err := r.ledger.Transfer(account, PoolAccount, amount); err != nil {
		return nil, err
	}

	oldTier := TierForAmount(rec.Amount)
	rec.Amount = new(big.Int).Add(rec.Amount, amount)
	rec.History = append(rec.History, HistoryEntry{
		Timestamp:   now,
		Action:      "stake",
		Amount:      new(big.Int).Set(amount),
		TotalStaked: new(big.Int).Set(rec.Amount),
	})
	r.records[account] = rec
	r.totalStaked = new(big.Int).Add(r.totalStaked, amount)

	if err := r.persistRecord(account); err != nil {
		return nil, err
	}
	if err := r.persistTotal(); err != nil {
		return nil, err
	}

	newTier := TierForAmount(rec.Amount)
	return &ChangeResult{
		Amount:      new(big.Int).Set(amount),
		TotalStaked: new(big.Int).Set(rec.Amount),
		OldTier:     oldTier,
		NewTier:     newTier,
		TierChanged: newTier != oldTier,
	}, nil
}

// Unstake settles pending rewards, then releases amount from the pool back
// to the account. Settling first guarantees rewards are never computed over
// a window spanning the amount change.
func (r *Registry) Unstake(account string, amount *big.Int) (*ChangeResult, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, ledger.ErrInvalidAmount
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[account]
	if !ok {
		return nil, ErrNoStake
	}
	if rec.Amount.Cmp(amount) < 0 {
		return nil, fmt.Errorf("%w: staked %s, requested %s",
			ErrInsufficientStake, types.FormatAmount(rec.Amount), types.FormatAmount(amount))
	}

	if _, err := r.claimLocked(account, rec); err != nil {
		return nil, err
	}

	if _, err := r.ledger.Transfer(PoolAccount, account, amount); err != nil {
		return nil, err
	}

	now := r.nowFn()
	oldTier := TierForAmount(rec.Amount)
	rec.Amount = new(big.Int).Sub(rec.Amount, amount)
	rec.History = append(rec.History, HistoryEntry{
		Timestamp:   now,
		Action:      "unstake",
		Amount:      new(big.Int).Set(amount),
		TotalStaked: new(big.Int).Set(rec.Amount),
	})
	r.totalStaked = new(big.Int).Sub(r.totalStaked, amount)

	if err := r.persistRecord(account); err != nil {
		return nil, err
	}
	if err := r.persistTotal(); err != nil {
		return nil, err
	}

	newTier := TierForAmount(rec.Amount)
	return &ChangeResult{
		Amount:      new(big.Int).Set(amount),
		TotalStaked: new(big.Int).Set(rec.Amount),
		OldTier:     oldTier,
		NewTier:     newTier,
		TierChanged: newTier != oldTier,
	}, nil
}

// pendingLocked computes accrued rewards without mutating the record.
func (r *Registry) pendingLocked(rec *Record, now time.Time) *big.Int {
	if rec == nil || rec.Amount.Sign() == 0 {
		return big.NewInt(0)
	}
	elapsed := now.Sub(rec.LastRewardClaim)
	if elapsed <= 0 {
		return big.NewInt(0)
	}
	tier := TierForAmount(rec.Amount)
	apy := decimal.New(int64(tier.APYBps()), -4)
	hours := decimal.NewFromFloat(elapsed.Hours())
	rewards := types.ToDecimal(rec.Amount).Mul(apy).Mul(hours).Div(hoursPerYear)
	return types.FromDecimal(rewards)
}

// PendingRewards is a pure read of the rewards accrued since the last claim.
// Only ClaimRewards advances the accrual anchor.
func (r *Registry) PendingRewards(account string) *big.Int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pendingLocked(r.records[account], r.nowFn())
}

// ClaimRewards mints accrued rewards and advances the accrual anchor. With
// nothing accrued it succeeds as a no-op reporting zero.
func (r *Registry) ClaimRewards(account string) (*ClaimResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[account]
	if !ok {
		return nil, ErrNoStake
	}
	minted, err := r.claimLocked(account, rec)
	if err != nil {
		return nil, err
	}
	return &ClaimResult{
		Rewards:         minted,
		LifetimeRewards: new(big.Int).Set(rec.LifetimeRewards),
		NewBalance:      r.ledger.Balance(account),
	}, nil
}

func (r *Registry) claimLocked(account string, rec *Record) (*big.Int, error) {
	now := r.nowFn()
	rewards := r.pendingLocked(rec, now)
	if rewards.Sign() <= 0 {
		return big.NewInt(0), nil
	}
	if _, err := r.ledger.Mint(account, rewards, "staking_rewards"); err != nil {
		return nil, err
	}
	rec.LastRewardClaim = now
	rec.LifetimeRewards = new(big.Int).Add(rec.LifetimeRewards, rewards)
	if err := r.persistRecord(account); err != nil {
		return nil, err
	}

	r.rewardSeq++
	entry := RewardRecord{
		Seq:          r.rewardSeq,
		Timestamp:    now,
		Account:      account,
		Amount:       new(big.Int).Set(rewards),
		StakedAmount: new(big.Int).Set(rec.Amount),
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}
	if err := r.db.Put(append(prefixRewardLog, fmt.Sprintf("%020d", r.rewardSeq)...), raw); err != nil {
		return nil, err
	}
	seqRaw, err := json.Marshal(r.rewardSeq)
	if err != nil {
		return nil, err
	}
	if err := r.db.Put(keyRewardSeq, seqRaw); err != nil {
		return nil, err
	}
	return rewards, nil
}

// StakedAmount returns the account's current staked amount, zero without a
// record.
func (r *Registry) StakedAmount(account string) *big.Int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[account]; ok {
		return new(big.Int).Set(rec.Amount)
	}
	return big.NewInt(0)
}

// TierOf derives the account's current tier from its staked amount.
func (r *Registry) TierOf(account string) Tier {
	return TierForAmount(r.StakedAmount(account))
}

// Features returns the capability table for the account's current tier.
func (r *Registry) Features(account string) Features {
	return FeaturesFor(r.TierOf(account))
}

// PriorityScore derives the scheduling weight from the staked amount:
// multiplier * ln(staked + 1). Zero-stake accounts score zero, the lowest
// valid priority.
func (r *Registry) PriorityScore(account string) float64 {
	staked := r.StakedAmount(account)
	tier := TierForAmount(staked)
	return tier.PriorityMultiplier() * math.Log(types.TokensFloat(staked)+1)
}

// TotalStaked returns the global staked total. Equal to the sum of all
// record amounts by construction.
func (r *Registry) TotalStaked() *big.Int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return new(big.Int).Set(r.totalStaked)
}

// NextTier reports the stake required to reach the tier above the amount's
// current tier, nil at the top tier.
func NextTier(staked *big.Int) *NextTierInfo {
	current := TierForAmount(staked)
	next, ok := current.Next()
	if !ok {
		return nil
	}
	required := next.Threshold()
	additional := new(big.Int).Sub(required, staked)
	if additional.Sign() < 0 {
		additional = big.NewInt(0)
	}
	return &NextTierInfo{
		Tier:            next,
		RequiredStake:   required,
		AdditionalStake: additional,
		Features:        FeaturesFor(next),
	}
}

// Info assembles the public staking summary for an account.
func (r *Registry) Info(account string) AccountInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[account]
	if !ok {
		return AccountInfo{
			Staked:          big.NewInt(0),
			Tier:            TierBasic,
			APYBps:          TierBasic.APYBps(),
			PendingRewards:  big.NewInt(0),
			LifetimeRewards: big.NewInt(0),
			Features:        FeaturesFor(TierBasic),
			NextTier:        NextTier(big.NewInt(0)),
		}
	}
	tier := TierForAmount(rec.Amount)
	return AccountInfo{
		Staked:          new(big.Int).Set(rec.Amount),
		Tier:            tier,
		APYBps:          tier.APYBps(),
		PendingRewards:  r.pendingLocked(rec, r.nowFn()),
		LifetimeRewards: new(big.Int).Set(rec.LifetimeRewards),
		PriorityScore:   tier.PriorityMultiplier() * math.Log(types.TokensFloat(rec.Amount)+1),
		Features:        FeaturesFor(tier),
		StartTime:       rec.StartTime,
		NextTier:        NextTier(rec.Amount),
	}
}

// GlobalStats aggregates staking metrics across all accounts.
func (r *Registry) GlobalStats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	distribution := make(map[string]int, len(tierOrder))
	for _, t := range tierOrder {
		distribution[t.String()] = 0
	}
	rewards := big.NewInt(0)
	for _, rec := range r.records {
		distribution[TierForAmount(rec.Amount).String()]++
		rewards = rewards.Add(rewards, rec.LifetimeRewards)
	}
	return Stats{
		TotalStaked:        new(big.Int).Set(r.totalStaked),
		Stakers:            len(r.records),
		RewardsDistributed: rewards,
		TierDistribution:   distribution,
	}
}
