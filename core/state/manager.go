package state

import (
	"encoding/binary"
	"errors"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"datalocker/storage"
)

var (
	lockerRecordPrefix      = []byte("locker/record/")
	lockerFingerprintPrefix = []byte("locker/piece/")
	lockerOwnerPrefix       = []byte("locker/owner/")
	lockerBalancesPrefix    = []byte("locker/balances/")
	lockerOperatorPrefix    = []byte("locker/operator/")
	lockerCounterKey        = []byte("locker/next-id")
)

// Manager persists ledger state in a key-value database. Keys are derived by
// hashing a namespace prefix with the entity identifier so records, indexes
// and balances never collide.
type Manager struct {
	db storage.Database
}

// NewManager wraps the supplied database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func prefixedKey(prefix, suffix []byte) []byte {
	buf := make([]byte, len(prefix)+len(suffix))
	copy(buf, prefix)
	copy(buf[len(prefix):], suffix)
	return ethcrypto.Keccak256(buf)
}

func lockerRecordKey(id uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], id)
	return prefixedKey(lockerRecordPrefix, buf[:])
}

func lockerFingerprintKey(pieceCID []byte) []byte {
	return prefixedKey(lockerFingerprintPrefix, pieceCID)
}

func lockerOwnerKey(owner [20]byte) []byte {
	return prefixedKey(lockerOwnerPrefix, owner[:])
}

func lockerBalancesKey(token string) []byte {
	return prefixedKey(lockerBalancesPrefix, []byte(token))
}

func lockerOperatorKey(operator [20]byte) []byte {
	return prefixedKey(lockerOperatorPrefix, operator[:])
}

// LockerCounter returns the next storage identifier that will be allocated.
// Identifiers start at one and are never reused.
func (m *Manager) LockerCounter() (uint64, error) {
	data, err := m.db.Get(ethcrypto.Keccak256(lockerCounterKey))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	if len(data) != 8 {
		return 0, errors.New("state: malformed storage id counter")
	}
	return binary.BigEndian.Uint64(data), nil
}

// LockerAllocateID reserves and returns the next storage identifier.
func (m *Manager) LockerAllocateID() (uint64, error) {
	next, err := m.LockerCounter()
	if err != nil {
		return 0, err
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], next+1)
	if err := m.db.Put(ethcrypto.Keccak256(lockerCounterKey), buf[:]); err != nil {
		return 0, err
	}
	return next, nil
}

// LockerIDByFingerprint resolves a piece fingerprint to the storage
// identifier that registered it.
func (m *Manager) LockerIDByFingerprint(pieceCID []byte) (uint64, bool) {
	if len(pieceCID) == 0 {
		return 0, false
	}
	data, err := m.db.Get(lockerFingerprintKey(pieceCID))
	if err != nil || len(data) != 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(data), true
}

// LockerIndexFingerprint records the fingerprint-to-identifier mapping. The
// index is append-only: entries survive record expiry and withdrawal so a
// fingerprint can never be registered twice.
func (m *Manager) LockerIndexFingerprint(pieceCID []byte, id uint64) error {
	if len(pieceCID) == 0 {
		return errors.New("state: empty piece fingerprint")
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], id)
	return m.db.Put(lockerFingerprintKey(pieceCID), buf[:])
}

// LockerOperatorSet stores the authorization flag for an operator.
func (m *Manager) LockerOperatorSet(operator [20]byte, enabled bool) error {
	value := []byte{0}
	if enabled {
		value[0] = 1
	}
	return m.db.Put(lockerOperatorKey(operator), value)
}

// LockerOperatorGet reports whether the operator is authorized. Unknown
// operators are unauthorized.
func (m *Manager) LockerOperatorGet(operator [20]byte) (bool, error) {
	data, err := m.db.Get(lockerOperatorKey(operator))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return len(data) == 1 && data[0] == 1, nil
}
