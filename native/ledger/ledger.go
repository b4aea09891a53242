package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"anima/core/types"
	"anima/storage"
)

const (
	// TokenName and TokenSymbol identify the platform token.
	TokenName   = "ANIMA"
	TokenSymbol = "ANM"

	// UsageFeeBps is the platform fee applied on top of every usage charge.
	UsageFeeBps uint64 = 50 // 0.5%
	// BurnShareBps is the portion of each fee permanently removed from
	// circulating supply; the remainder accrues to the treasury.
	BurnShareBps uint64 = 6_000 // 60%
)

// Genesis allocation percentages. Community funds circulate from launch; the
// reserve seeds the treasury.
const (
	communityPct = 50
	teamPct      = 20
	ecosystemPct = 15
	reservePct   = 10
	marketingPct = 5
)

var (
	// ErrInsufficientBalance is returned when a debit exceeds the payer's
	// balance. The pre-operation state is left fully intact.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	// ErrInvalidAmount is returned for negative or nil amounts.
	ErrInvalidAmount = errors.New("ledger: amount must not be negative")
	// ErrAlreadyOnboarded is returned when an account requests a second
	// onboarding grant.
	ErrAlreadyOnboarded = errors.New("ledger: account already onboarded")
)

var (
	keySupply       = []byte("ledger/supply")
	keyTxSeq        = []byte("ledger/txseq")
	prefixBalance   = []byte("ledger/balance/")
	prefixTxLog     = []byte("ledger/tx/")
	prefixOnboarded = []byte("ledger/onboarded/")
)

// Ledger is the sole authority over balances and the transaction log. Every
// mutating operation is a single atomic unit guarded by the ledger mutex and
// persisted before it returns; no partial debit or credit is observable.
type Ledger struct {
	mu        sync.Mutex
	db        storage.Database
	nowFn     func() time.Time
	balances  map[string]*big.Int
	supply    supplyState
	txSeq     uint64
	onboarded map[string]struct{}
}

// New opens a ledger over the supplied database, initialising genesis supply
// accounting on first use and reloading persisted state otherwise.
func New(db storage.Database) (*Ledger, error) {
	l := &Ledger{
		db:        db,
		nowFn:     func() time.Time { return time.Now().UTC() },
		balances:  make(map[string]*big.Int),
		onboarded: make(map[string]struct{}),
	}
	if err := l.load(); err != nil {
		return nil, err
	}
	return l, nil
}

// SetNowFunc overrides the clock used to stamp transactions. Nil restores the
// default UTC clock.
func (l *Ledger) SetNowFunc(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if now == nil {
		l.nowFn = func() time.Time { return time.Now().UTC() }
		return
	}
	l.nowFn = now
}

func (l *Ledger) load() error {
	raw, err := l.db.Get(keySupply)
	switch {
	case err == nil:
		if err := json.Unmarshal(raw, &l.supply); err != nil {
			return fmt.Errorf("ledger: decode supply: %w", err)
		}
	case errors.Is(err, storage.ErrKeyNotFound):
		if err := l.initGenesis(); err != nil {
			return err
		}
	default:
		return err
	}

	if raw, err := l.db.Get(keyTxSeq); err == nil {
		if err := json.Unmarshal(raw, &l.txSeq); err != nil {
			return fmt.Errorf("ledger: decode tx sequence: %w", err)
		}
	} else if !errors.Is(err, storage.ErrKeyNotFound) {
		return err
	}

	if err := l.db.IteratePrefix(prefixBalance, func(key, value []byte) error {
		account := string(key[len(prefixBalance):])
		balance := new(big.Int)
		if err := balance.UnmarshalJSON(value); err != nil {
			return fmt.Errorf("ledger: decode balance for %s: %w", account, err)
		}
		l.balances[account] = balance
		return nil
	}); err != nil {
		return err
	}

	return l.db.IteratePrefix(prefixOnboarded, func(key, _ []byte) error {
		l.onboarded[string(key[len(prefixOnboarded):])] = struct{}{}
		return nil
	})
}

func (l *Ledger) initGenesis() error {
	total := types.TotalSupply()
	l.supply = supplyState{
		TotalSupply:   total,
		Circulating:   types.Percent(total, communityPct),
		Burned:        big.NewInt(0),
		Treasury:      types.Percent(total, reservePct),
		FeesCollected: big.NewInt(0),
		Reinvested:    big.NewInt(0),
		LaunchedAt:    l.nowFn(),
	}
	return l.persistSupply()
}

func (l *Ledger) persistSupply() error {
	raw, err := json.Marshal(l.supply)
	if err != nil {
		return err
	}
	return l.db.Put(keySupply, raw)
}

func (l *Ledger) persistBalance(account string) error {
	raw, err := l.balanceOf(account).MarshalJSON()
	if err != nil {
		return err
	}
	return l.db.Put(append(prefixBalance, account...), raw)
}

func (l *Ledger) appendTx(tx *Transaction) error {
	l.txSeq++
	tx.Seq = l.txSeq
	raw, err := json.Marshal(tx)
	if err != nil {
		return err
	}
	key := append(prefixTxLog, fmt.Sprintf("%020d", tx.Seq)...)
	if err := l.db.Put(key, raw); err != nil {
		return err
	}
	seqRaw, err := json.Marshal(l.txSeq)
	if err != nil {
		return err
	}
	return l.db.Put(keyTxSeq, seqRaw)
}

// balanceOf returns the live balance entry, zero for unknown accounts. Caller
// must hold the mutex.
func (l *Ledger) balanceOf(account string) *big.Int {
	if b, ok := l.balances[account]; ok {
		return b
	}
	return big.NewInt(0)
}

// Balance returns the account's balance. Unknown accounts hold zero; no
// account creation record is needed until a balance actually changes.
func (l *Ledger) Balance(account string) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.balanceOf(account))
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Transfer atomically debits from and credits to. Self-transfers are
// permitted; they leave the balance unchanged but still produce a log entry.
func (l *Ledger) Transfer(from, to string, amount *big.Int) (*Transaction, error) {
	if err := checkAmount(amount); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	fromBalance := l.balanceOf(from)
	if fromBalance.Cmp(amount) < 0 {
		return nil, fmt.Errorf("%w: balance %s, requested %s",
			ErrInsufficientBalance, types.FormatAmount(fromBalance), types.FormatAmount(amount))
	}

	l.balances[from] = new(big.Int).Sub(fromBalance, amount)
	l.balances[to] = new(big.Int).Add(l.balanceOf(to), amount)

	tx := &Transaction{
		Timestamp: l.nowFn(),
		Type:      TxTypeTransfer,
		From:      from,
		To:        to,
		Amount:    new(big.Int).Set(amount),
	}
	if err := l.appendTx(tx); err != nil {
		return nil, err
	}
	if err := l.persistBalance(from); err != nil {
		return nil, err
	}
	if err := l.persistBalance(to); err != nil {
		return nil, err
	}
	return tx, nil
}

// Mint credits the account unconditionally and records the reason. Reserved
// for system-internal flows: onboarding grants, staking rewards, and
// completion bonuses.
func (l *Ledger) Mint(account string, amount *big.Int, reason string) (*Transaction, error) {
	if err := checkAmount(amount); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mintLocked(account, amount, reason)
}

func (l *Ledger) mintLocked(account string, amount *big.Int, reason string) (*Transaction, error) {
	l.balances[account] = new(big.Int).Add(l.balanceOf(account), amount)
	tx := &Transaction{
		Timestamp: l.nowFn(),
		Type:      TxTypeMint,
		Account:   account,
		Amount:    new(big.Int).Set(amount),
		Reason:    reason,
	}
	if err := l.appendTx(tx); err != nil {
		return nil, err
	}
	if err := l.persistBalance(account); err != nil {
		return nil, err
	}
	return tx, nil
}

// Onboard mints the welcome grant exactly once per account.
func (l *Ledger) Onboard(account string, grant *big.Int) (*Transaction, error) {
	if err := checkAmount(grant); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.onboarded[account]; ok {
		return nil, ErrAlreadyOnboarded
	}
	tx, err := l.mintLocked(account, grant, "onboarding")
	if err != nil {
		return nil, err
	}
	l.onboarded[account] = struct{}{}
	if err := l.db.Put(append(prefixOnboarded, account...), []byte("1")); err != nil {
		return nil, err
	}
	return tx, nil
}

// ChargeUsageFee debits the base cost plus the platform fee, splitting the
// fee into a burned share and a treasury reinvestment. The breakdown always
// satisfies burned + reinvested == fee and usageCost + fee == totalCharged.
func (l *Ledger) ChargeUsageFee(account string, usageCost *big.Int) (*FeeBreakdown, error) {
	if err := checkAmount(usageCost); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	fee := types.MulBps(usageCost, UsageFeeBps)
	total := new(big.Int).Add(usageCost, fee)

	balance := l.balanceOf(account)
	if balance.Cmp(total) < 0 {
		return nil, fmt.Errorf("%w: balance %s, required %s",
			ErrInsufficientBalance, types.FormatAmount(balance), types.FormatAmount(total))
	}

	burn := types.MulBps(fee, BurnShareBps)
	reinvest := new(big.Int).Sub(fee, burn)

	l.balances[account] = new(big.Int).Sub(balance, total)
	l.supply.FeesCollected = new(big.Int).Add(l.supply.FeesCollected, fee)
	l.supply.Burned = new(big.Int).Add(l.supply.Burned, burn)
	l.supply.Circulating = new(big.Int).Sub(l.supply.Circulating, burn)
	l.supply.Treasury = new(big.Int).Add(l.supply.Treasury, reinvest)
	l.supply.Reinvested = new(big.Int).Add(l.supply.Reinvested, reinvest)

	tx := &Transaction{
		Timestamp:    l.nowFn(),
		Type:         TxTypeUsageFee,
		Account:      account,
		UsageCost:    new(big.Int).Set(usageCost),
		Fee:          fee,
		Burned:       burn,
		Reinvested:   reinvest,
		TotalCharged: total,
	}
	if err := l.appendTx(tx); err != nil {
		return nil, err
	}
	if err := l.persistBalance(account); err != nil {
		return nil, err
	}
	if err := l.persistSupply(); err != nil {
		return nil, err
	}

	return &FeeBreakdown{
		UsageCost:    new(big.Int).Set(usageCost),
		Fee:          new(big.Int).Set(fee),
		Burned:       new(big.Int).Set(burn),
		Reinvested:   new(big.Int).Set(reinvest),
		TotalCharged: new(big.Int).Set(total),
		NewBalance:   new(big.Int).Set(l.balances[account]),
	}, nil
}

// Transactions returns the most recent log entries touching the account, in
// chronological order, capped at limit (50 when limit <= 0).
func (l *Ledger) Transactions(account string, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []Transaction
	err := l.db.IteratePrefix(prefixTxLog, func(_, value []byte) error {
		var tx Transaction
		if err := json.Unmarshal(value, &tx); err != nil {
			return err
		}
		if tx.Account == account || tx.From == account || tx.To == account {
			out = append(out, tx)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Info returns the current supply accounting snapshot.
func (l *Ledger) Info() TokenInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	holders := 0
	for _, b := range l.balances {
		if b.Sign() > 0 {
			holders++
		}
	}
	return TokenInfo{
		Name:          TokenName,
		Symbol:        TokenSymbol,
		Decimals:      types.Decimals,
		TotalSupply:   new(big.Int).Set(l.supply.TotalSupply),
		Circulating:   new(big.Int).Set(l.supply.Circulating),
		Burned:        new(big.Int).Set(l.supply.Burned),
		Treasury:      new(big.Int).Set(l.supply.Treasury),
		FeesCollected: new(big.Int).Set(l.supply.FeesCollected),
		Reinvested:    new(big.Int).Set(l.supply.Reinvested),
		Holders:       holders,
		LaunchedAt:    l.supply.LaunchedAt,
	}
}

// Allocations reports the genesis distribution of the total supply.
func Allocations() []Allocation {
	total := types.TotalSupply()
	allocs := []Allocation{
		{Name: "community", Pct: communityPct},
		{Name: "team", Pct: teamPct},
		{Name: "ecosystem", Pct: ecosystemPct},
		{Name: "reserve", Pct: reservePct},
		{Name: "marketing", Pct: marketingPct},
	}
	for i := range allocs {
		allocs[i].Amount = types.Percent(total, allocs[i].Pct)
	}
	sort.SliceStable(allocs, func(i, j int) bool { return allocs[i].Pct > allocs[j].Pct })
	return allocs
}
