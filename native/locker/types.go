package locker

import (
	"fmt"
	"math/big"
	"strings"
)

// Payment tokens accepted by the ledger. FIL amounts are denominated in
// attoFIL (18 decimals), USDFC amounts in its smallest unit (6 decimals).
const (
	TokenFIL   = "FIL"
	TokenUSDFC = "USDFC"
)

// NormalizeToken ensures the provided token symbol matches a supported value
// ("FIL" or "USDFC") and returns the canonical uppercase form.
func NormalizeToken(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	switch trimmed {
	case TokenFIL, TokenUSDFC:
		return trimmed, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedToken, symbol)
	}
}

// StorageRecord captures the escrowed deposit and deal lifecycle of a single
// stored piece. Records are assigned monotonically increasing identifiers at
// deposit time and are never deleted; a retired record stays addressable for
// audit.
type StorageRecord struct {
	ID               uint64
	PieceCID         []byte
	PieceSize        uint64
	Owner            [20]byte
	Label            string
	IPFSHash         string
	Token            string
	DepositAmount    *big.Int
	UsedAmount       *big.Int
	DealID           uint64
	IsActive         bool
	ExpirationEpoch  uint64
	LastRenewalEpoch uint64
	CreatedAt        int64
}

// Clone returns a deep copy of the record so callers can safely mutate the
// copy without affecting the stored instance.
func (r *StorageRecord) Clone() *StorageRecord {
	if r == nil {
		return nil
	}
	clone := *r
	clone.PieceCID = append([]byte(nil), r.PieceCID...)
	if r.DepositAmount != nil {
		clone.DepositAmount = new(big.Int).Set(r.DepositAmount)
	} else {
		clone.DepositAmount = big.NewInt(0)
	}
	if r.UsedAmount != nil {
		clone.UsedAmount = new(big.Int).Set(r.UsedAmount)
	} else {
		clone.UsedAmount = big.NewInt(0)
	}
	return &clone
}

// Remaining returns the unconsumed deposit, DepositAmount - UsedAmount.
func (r *StorageRecord) Remaining() *big.Int {
	if r == nil || r.DepositAmount == nil {
		return big.NewInt(0)
	}
	used := big.NewInt(0)
	if r.UsedAmount != nil {
		used = r.UsedAmount
	}
	return new(big.Int).Sub(r.DepositAmount, used)
}

// Escrowed reports whether the record's remaining deposit is still counted
// against the escrow balance. Funds stay escrowed from deposit until the
// record either expires (escrow released to available) or is withdrawn.
func (r *StorageRecord) Escrowed() bool {
	if r == nil {
		return false
	}
	return r.IsActive || r.DealID == 0
}

// SanitizeRecord validates and normalises the supplied record, returning a
// cloned instance with canonical token casing and non-nil amount fields. The
// function does not mutate the original value.
func SanitizeRecord(r *StorageRecord) (*StorageRecord, error) {
	if r == nil {
		return nil, fmt.Errorf("locker: nil record")
	}
	clone := r.Clone()
	token, err := NormalizeToken(clone.Token)
	if err != nil {
		return nil, err
	}
	clone.Token = token
	if len(clone.PieceCID) == 0 {
		return nil, fmt.Errorf("locker: record %d missing piece cid", clone.ID)
	}
	if clone.PieceSize == 0 {
		return nil, fmt.Errorf("locker: record %d piece size must be positive", clone.ID)
	}
	if clone.DepositAmount.Sign() < 0 || clone.UsedAmount.Sign() < 0 {
		return nil, fmt.Errorf("locker: record %d amounts must be non-negative", clone.ID)
	}
	if clone.UsedAmount.Cmp(clone.DepositAmount) > 0 {
		return nil, fmt.Errorf("locker: record %d used amount exceeds deposit", clone.ID)
	}
	return clone, nil
}
