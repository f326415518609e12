package locker

import (
	"fmt"
	"math/big"
)

// Balances holds the per-token accounting scalars persisted by the ledger.
// Total is the sum of all deposits ever received minus withdrawals. Escrow is
// the portion committed to records whose funds have not been released.
type Balances struct {
	Total  *big.Int
	Escrow *big.Int
}

// Clone returns a deep copy with non-nil amounts.
func (b *Balances) Clone() *Balances {
	out := &Balances{Total: big.NewInt(0), Escrow: big.NewInt(0)}
	if b == nil {
		return out
	}
	if b.Total != nil {
		out.Total = new(big.Int).Set(b.Total)
	}
	if b.Escrow != nil {
		out.Escrow = new(big.Int).Set(b.Escrow)
	}
	return out
}

// Available returns Total - Escrow, the funds not committed to any record.
func (b *Balances) Available() *big.Int {
	clone := b.Clone()
	return new(big.Int).Sub(clone.Total, clone.Escrow)
}

// BalanceSnapshot is the read-only view exposed to callers.
type BalanceSnapshot struct {
	Token     string
	Total     *big.Int
	Escrow    *big.Int
	Available *big.Int
}

type balanceState interface {
	LockerBalancesGet(token string) (*Balances, error)
	LockerBalancesPut(token string, balances *Balances) error
}

// Accounting tracks per-token escrow bookkeeping against the ledger state.
// Token dispatch happens here once; callers never branch on the currency.
type Accounting struct {
	state balanceState
}

// NewAccounting wires the accounting helpers to a state backend.
func NewAccounting(state balanceState) Accounting {
	return Accounting{state: state}
}

func (a Accounting) load(token string) (string, *Balances, error) {
	normalized, err := NormalizeToken(token)
	if err != nil {
		return "", nil, err
	}
	if a.state == nil {
		return "", nil, errNilState
	}
	balances, err := a.state.LockerBalancesGet(normalized)
	if err != nil {
		return "", nil, err
	}
	return normalized, balances.Clone(), nil
}

// Credit records an incoming deposit: both the total and escrow balances grow
// by the supplied amount.
func (a Accounting) Credit(token string, amount *big.Int) error {
	normalized, balances, err := a.load(token)
	if err != nil {
		return err
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return fmt.Errorf("locker: credit amount must be positive")
	}
	balances.Total.Add(balances.Total, amt)
	balances.Escrow.Add(balances.Escrow, amt)
	return a.state.LockerBalancesPut(normalized, balances)
}

// Release moves funds out of escrow into the available pool without changing
// the total held by the ledger. It backs renewal debits and expiration
// releases. A release that would drive escrow negative indicates a
// bookkeeping bug and fails with ErrInsufficientEscrow.
func (a Accounting) Release(token string, amount *big.Int) error {
	normalized, balances, err := a.load(token)
	if err != nil {
		return err
	}
	amt := cloneBigInt(amount)
	if amt.Sign() < 0 {
		return fmt.Errorf("locker: release amount must be non-negative")
	}
	if balances.Escrow.Cmp(amt) < 0 {
		return ErrInsufficientEscrow
	}
	balances.Escrow.Sub(balances.Escrow, amt)
	return a.state.LockerBalancesPut(normalized, balances)
}

// Payout removes available funds from the ledger entirely, backing owner
// refunds. The amount must already have been released from escrow.
func (a Accounting) Payout(token string, amount *big.Int) error {
	normalized, balances, err := a.load(token)
	if err != nil {
		return err
	}
	amt := cloneBigInt(amount)
	if amt.Sign() < 0 {
		return fmt.Errorf("locker: payout amount must be non-negative")
	}
	if balances.Available().Cmp(amt) < 0 {
		return ErrInsufficientEscrow
	}
	balances.Total.Sub(balances.Total, amt)
	return a.state.LockerBalancesPut(normalized, balances)
}

// Snapshot returns the current balances for the supplied token.
func (a Accounting) Snapshot(token string) (BalanceSnapshot, error) {
	normalized, balances, err := a.load(token)
	if err != nil {
		return BalanceSnapshot{}, err
	}
	return BalanceSnapshot{
		Token:     normalized,
		Total:     balances.Total,
		Escrow:    balances.Escrow,
		Available: balances.Available(),
	}, nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
