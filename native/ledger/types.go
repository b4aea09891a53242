package ledger

import (
	"math/big"
	"time"
)

// TxType enumerates the transaction kinds recorded in the append-only log.
type TxType string

const (
	TxTypeTransfer TxType = "transfer"
	TxTypeMint     TxType = "mint"
	TxTypeUsageFee TxType = "usage_fee"
)

// Valid reports whether the transaction type is a supported kind.
func (t TxType) Valid() bool {
	switch t {
	case TxTypeTransfer, TxTypeMint, TxTypeUsageFee:
		return true
	default:
		return false
	}
}

// Transaction is an immutable entry in the ledger's audit log. Amount fields
// are base units (10^-8 ANM). Only the fields relevant to the transaction
// type are populated.
type Transaction struct {
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Type      TxType    `json:"type"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to,omitempty"`
	Account   string    `json:"account,omitempty"`
	Amount    *big.Int  `json:"amount,omitempty"`
	Reason    string    `json:"reason,omitempty"`

	// Usage-fee breakdown, recorded so the charge is auditable in full.
	UsageCost    *big.Int `json:"usageCost,omitempty"`
	Fee          *big.Int `json:"fee,omitempty"`
	Burned       *big.Int `json:"burned,omitempty"`
	Reinvested   *big.Int `json:"reinvested,omitempty"`
	TotalCharged *big.Int `json:"totalCharged,omitempty"`
}

// FeeBreakdown summarises a usage-fee charge for the caller.
type FeeBreakdown struct {
	UsageCost    *big.Int `json:"usageCost"`
	Fee          *big.Int `json:"fee"`
	Burned       *big.Int `json:"burned"`
	Reinvested   *big.Int `json:"reinvested"`
	TotalCharged *big.Int `json:"totalCharged"`
	NewBalance   *big.Int `json:"newBalance"`
}

// supplyState tracks the denormalised supply counters persisted alongside
// balances. TotalSupply never changes; burns move value out of Circulating
// into Burned.
type supplyState struct {
	TotalSupply   *big.Int  `json:"totalSupply"`
	Circulating   *big.Int  `json:"circulating"`
	Burned        *big.Int  `json:"burned"`
	Treasury      *big.Int  `json:"treasury"`
	FeesCollected *big.Int  `json:"feesCollected"`
	Reinvested    *big.Int  `json:"reinvested"`
	LaunchedAt    time.Time `json:"launchedAt"`
}

// TokenInfo is the public snapshot of supply accounting and holder counts.
type TokenInfo struct {
	Name          string    `json:"name"`
	Symbol        string    `json:"symbol"`
	Decimals      int       `json:"decimals"`
	TotalSupply   *big.Int  `json:"totalSupply"`
	Circulating   *big.Int  `json:"circulating"`
	Burned        *big.Int  `json:"burned"`
	Treasury      *big.Int  `json:"treasury"`
	FeesCollected *big.Int  `json:"feesCollected"`
	Reinvested    *big.Int  `json:"reinvested"`
	Holders       int       `json:"holders"`
	LaunchedAt    time.Time `json:"launchedAt"`
}

// Allocation describes the genesis distribution of the total supply.
type Allocation struct {
	Name   string   `json:"name"`
	Pct    uint64   `json:"pct"`
	Amount *big.Int `json:"amount"`
}
