package state

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"datalocker/native/locker"
	"datalocker/storage"
)

// storedRecord is the RLP wire form of a storage record. Signed fields are
// carried as big integers because RLP only encodes unsigned values.
type storedRecord struct {
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
	CreatedAt        *big.Int
}

func newStoredRecord(r *locker.StorageRecord) *storedRecord {
	if r == nil {
		return nil
	}
	deposit := big.NewInt(0)
	if r.DepositAmount != nil {
		deposit = new(big.Int).Set(r.DepositAmount)
	}
	used := big.NewInt(0)
	if r.UsedAmount != nil {
		used = new(big.Int).Set(r.UsedAmount)
	}
	return &storedRecord{
		ID:               r.ID,
		PieceCID:         append([]byte(nil), r.PieceCID...),
		PieceSize:        r.PieceSize,
		Owner:            r.Owner,
		Label:            r.Label,
		IPFSHash:         r.IPFSHash,
		Token:            r.Token,
		DepositAmount:    deposit,
		UsedAmount:       used,
		DealID:           r.DealID,
		IsActive:         r.IsActive,
		ExpirationEpoch:  r.ExpirationEpoch,
		LastRenewalEpoch: r.LastRenewalEpoch,
		CreatedAt:        big.NewInt(r.CreatedAt),
	}
}

func (s *storedRecord) toRecord() (*locker.StorageRecord, error) {
	if s == nil {
		return nil, fmt.Errorf("state: nil storage record")
	}
	out := &locker.StorageRecord{
		ID:               s.ID,
		PieceCID:         append([]byte(nil), s.PieceCID...),
		PieceSize:        s.PieceSize,
		Owner:            s.Owner,
		Label:            s.Label,
		IPFSHash:         s.IPFSHash,
		Token:            s.Token,
		DepositAmount:    big.NewInt(0),
		UsedAmount:       big.NewInt(0),
		DealID:           s.DealID,
		IsActive:         s.IsActive,
		ExpirationEpoch:  s.ExpirationEpoch,
		LastRenewalEpoch: s.LastRenewalEpoch,
	}
	if s.DepositAmount != nil {
		out.DepositAmount = new(big.Int).Set(s.DepositAmount)
	}
	if s.UsedAmount != nil {
		out.UsedAmount = new(big.Int).Set(s.UsedAmount)
	}
	if s.CreatedAt != nil {
		out.CreatedAt = s.CreatedAt.Int64()
	}
	return locker.SanitizeRecord(out)
}

// LockerPut persists a storage record after sanitizing it.
func (m *Manager) LockerPut(record *locker.StorageRecord) error {
	sanitized, err := locker.SanitizeRecord(record)
	if err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(newStoredRecord(sanitized))
	if err != nil {
		return err
	}
	return m.db.Put(lockerRecordKey(sanitized.ID), encoded)
}

// LockerGet loads a storage record by identifier.
func (m *Manager) LockerGet(id uint64) (*locker.StorageRecord, bool) {
	data, err := m.db.Get(lockerRecordKey(id))
	if err != nil {
		return nil, false
	}
	stored := new(storedRecord)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, false
	}
	record, err := stored.toRecord()
	if err != nil {
		return nil, false
	}
	return record, true
}

// LockerOwnerIDs returns the storage identifiers deposited by the owner in
// allocation order.
func (m *Manager) LockerOwnerIDs(owner [20]byte) ([]uint64, error) {
	data, err := m.db.Get(lockerOwnerKey(owner))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return []uint64{}, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []uint64
	if err := rlp.DecodeBytes(data, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// LockerAppendOwnerID adds a storage identifier to the owner's index.
func (m *Manager) LockerAppendOwnerID(owner [20]byte, id uint64) error {
	ids, err := m.LockerOwnerIDs(owner)
	if err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(append(ids, id))
	if err != nil {
		return err
	}
	return m.db.Put(lockerOwnerKey(owner), encoded)
}

type storedBalances struct {
	Total  *big.Int
	Escrow *big.Int
}

// LockerBalancesGet loads the per-token accounting scalars. Unknown tokens
// start at zero.
func (m *Manager) LockerBalancesGet(token string) (*locker.Balances, error) {
	normalized, err := locker.NormalizeToken(token)
	if err != nil {
		return nil, err
	}
	data, err := m.db.Get(lockerBalancesKey(normalized))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return &locker.Balances{Total: big.NewInt(0), Escrow: big.NewInt(0)}, nil
	}
	if err != nil {
		return nil, err
	}
	stored := new(storedBalances)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, err
	}
	return &locker.Balances{Total: stored.Total, Escrow: stored.Escrow}, nil
}

// LockerBalancesPut persists the per-token accounting scalars.
func (m *Manager) LockerBalancesPut(token string, balances *locker.Balances) error {
	normalized, err := locker.NormalizeToken(token)
	if err != nil {
		return err
	}
	clone := balances.Clone()
	if clone.Total.Sign() < 0 || clone.Escrow.Sign() < 0 {
		return fmt.Errorf("state: balances must be non-negative")
	}
	encoded, err := rlp.EncodeToBytes(&storedBalances{Total: clone.Total, Escrow: clone.Escrow})
	if err != nil {
		return err
	}
	return m.db.Put(lockerBalancesKey(normalized), encoded)
}
