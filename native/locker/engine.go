package locker

import (
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"datalocker/core/epoch"
	"datalocker/core/events"
	"datalocker/core/types"
	"datalocker/observability/metrics"
)

type ledgerState interface {
	balanceState
	LockerAllocateID() (uint64, error)
	LockerCounter() (uint64, error)
	LockerPut(record *StorageRecord) error
	LockerGet(id uint64) (*StorageRecord, bool)
	LockerIDByFingerprint(pieceCID []byte) (uint64, bool)
	LockerIndexFingerprint(pieceCID []byte, id uint64) error
	LockerOwnerIDs(owner [20]byte) ([]uint64, error)
	LockerAppendOwnerID(owner [20]byte, id uint64) error
	LockerOperatorSet(operator [20]byte, enabled bool) error
	LockerOperatorGet(operator [20]byte) (bool, error)
}

type lockerEvent struct {
	evt *types.Event
}

func (e lockerEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e lockerEvent) Event() *types.Event { return e.evt }

// Engine wires the storage-escrow ledger logic with external state, clock,
// pricing and event emission. All mutating operations serialize on a single
// engine mutex so no two transitions interleave on a record or on the
// aggregate balances.
type Engine struct {
	mu          sync.Mutex
	state       ledgerState
	accounting  Accounting
	emitter     events.Emitter
	clock       epoch.Clock
	pricer      Pricer
	owner       [20]byte
	minDeposits map[string]*big.Int
	lowCycles   uint64
	nowFn       func() int64
	log         *slog.Logger
}

// NewEngine creates a ledger engine owned by the supplied principal. The
// owner is the only caller allowed to manage operators and is implicitly
// authorized as one. Defaults: production epoch parameters, the flat rate
// pricer, a 1 FIL / 100 USDFC deposit floor and a no-op emitter.
func NewEngine(owner [20]byte) *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		clock:   epoch.NewClock(epoch.DefaultConfig()),
		pricer:  NewRatePricer(DefaultRates()),
		owner:   owner,
		minDeposits: map[string]*big.Int{
			TokenFIL:   new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil),
			TokenUSDFC: big.NewInt(100_000_000),
		},
		lowCycles: 3,
		nowFn:     func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state ledgerState) {
	e.state = state
	e.accounting = NewAccounting(state)
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetClock overrides the epoch parameters used for renewal accounting.
func (e *Engine) SetClock(clock epoch.Clock) { e.clock = clock }

// SetPricer overrides the renewal pricing collaborator. Passing nil restores
// the default rate table.
func (e *Engine) SetPricer(pricer Pricer) {
	if pricer == nil {
		e.pricer = NewRatePricer(DefaultRates())
		return
	}
	e.pricer = pricer
}

// SetMinimumDeposit overrides the deposit floor for a token.
func (e *Engine) SetMinimumDeposit(token string, minimum *big.Int) error {
	normalized, err := NormalizeToken(token)
	if err != nil {
		return err
	}
	e.minDeposits[normalized] = cloneBigInt(minimum)
	return nil
}

// SetLowBalanceCycles configures how many projected renewal cycles a record
// must still afford before it is reported on the low-balance queue.
func (e *Engine) SetLowBalanceCycles(cycles uint64) { e.lowCycles = cycles }

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetLogger configures the structured logger used by batch operations.
func (e *Engine) SetLogger(log *slog.Logger) { e.log = log }

// Owner returns the ledger owner principal.
func (e *Engine) Owner() [20]byte { return e.owner }

// EpochConfig exposes the epoch parameters read-only.
func (e *Engine) EpochConfig() epoch.Config { return e.clock.Config() }

// MinimumDeposit returns the deposit floor for the supplied token.
func (e *Engine) MinimumDeposit(token string) (*big.Int, error) {
	normalized, err := NormalizeToken(token)
	if err != nil {
		return nil, err
	}
	return cloneBigInt(e.minDeposits[normalized]), nil
}

// LowBalanceCycles returns the configured low-balance reporting floor.
func (e *Engine) LowBalanceCycles() uint64 { return e.lowCycles }

// CurrentEpoch returns the epoch containing the engine's current time.
func (e *Engine) CurrentEpoch() uint64 { return e.clock.EpochOf(e.now()) }

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(lockerEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) logger() *slog.Logger {
	if e == nil || e.log == nil {
		return slog.Default()
	}
	return e.log
}

func (e *Engine) loadRecord(id uint64) (*StorageRecord, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	record, ok := e.state.LockerGet(id)
	if !ok {
		return nil, ErrStorageNotFound
	}
	return record, nil
}

func (e *Engine) updateEscrowGauge(token string) {
	snapshot, err := e.accounting.Snapshot(token)
	if err != nil {
		return
	}
	metrics.Locker().SetEscrowed(token, snapshot.Escrow)
}

// Deposit escrows funds against a new piece of stored data and returns the
// allocated storage identifier. The piece fingerprint must never have been
// registered before, including by records that have since expired or been
// withdrawn.
func (e *Engine) Deposit(owner [20]byte, pieceCID []byte, pieceSize uint64, label, ipfsHash, token string, amount *big.Int) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return 0, errNilState
	}
	normalized, err := NormalizeToken(token)
	if err != nil {
		return 0, err
	}
	if len(pieceCID) == 0 {
		return 0, fmt.Errorf("locker: piece cid required")
	}
	if pieceSize == 0 {
		return 0, fmt.Errorf("locker: piece size must be positive")
	}
	amt := cloneBigInt(amount)
	minimum := e.minDeposits[normalized]
	if minimum == nil || amt.Cmp(minimum) < 0 {
		return 0, ErrInsufficientDeposit
	}
	if _, exists := e.state.LockerIDByFingerprint(pieceCID); exists {
		return 0, ErrDuplicateStorage
	}
	id, err := e.state.LockerAllocateID()
	if err != nil {
		return 0, err
	}
	now := e.now()
	record := &StorageRecord{
		ID:               id,
		PieceCID:         append([]byte(nil), pieceCID...),
		PieceSize:        pieceSize,
		Owner:            owner,
		Label:            label,
		IPFSHash:         ipfsHash,
		Token:            normalized,
		DepositAmount:    amt,
		UsedAmount:       big.NewInt(0),
		LastRenewalEpoch: e.clock.EpochOf(now),
		CreatedAt:        now,
	}
	if err := e.state.LockerPut(record); err != nil {
		return 0, err
	}
	if err := e.state.LockerIndexFingerprint(record.PieceCID, id); err != nil {
		return 0, err
	}
	if err := e.state.LockerAppendOwnerID(owner, id); err != nil {
		return 0, err
	}
	if err := e.accounting.Credit(normalized, amt); err != nil {
		return 0, err
	}
	e.emit(NewDepositedEvent(record))
	metrics.Locker().ObserveDeposit(normalized)
	e.updateEscrowGauge(normalized)
	return id, nil
}

// ActivateDeal binds an external storage deal to a deposited record and
// starts its expiration countdown. Only authorized operators (or the ledger
// owner) may activate. A record can hold at most one deal over its lifetime.
func (e *Engine) ActivateDeal(id, dealID uint64, caller [20]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.isAuthorizedLocked(caller) {
		return ErrUnauthorized
	}
	record, err := e.loadRecord(id)
	if err != nil {
		return err
	}
	if dealID == 0 {
		return fmt.Errorf("locker: deal id must be positive")
	}
	if record.IsActive {
		return ErrStorageStillActive
	}
	if record.DealID != 0 || record.DepositAmount.Sign() == 0 {
		return ErrStorageRetired
	}
	nowEpoch := e.clock.EpochOf(e.now())
	record.DealID = dealID
	record.IsActive = true
	record.ExpirationEpoch = nowEpoch + e.clock.Config().PeriodEpochs()
	record.LastRenewalEpoch = nowEpoch
	if err := e.state.LockerPut(record); err != nil {
		return err
	}
	e.emit(NewDealActivatedEvent(record))
	return nil
}

// WithdrawUnused refunds the unconsumed deposit to the record owner. It is
// rejected while a deal is live; once the record is inactive or past its
// expiration the remaining funds leave the ledger. Repeat withdrawals are
// zero-refund no-ops.
func (e *Engine) WithdrawUnused(id uint64, caller [20]byte) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	record, err := e.loadRecord(id)
	if err != nil {
		return nil, err
	}
	if record.Owner != caller {
		return nil, ErrNotOwner
	}
	nowEpoch := e.clock.EpochOf(e.now())
	if record.IsActive && record.ExpirationEpoch > nowEpoch {
		return nil, ErrStorageStillActive
	}
	refund := record.Remaining()
	if record.DepositAmount.Sign() == 0 {
		return big.NewInt(0), nil
	}
	if record.Escrowed() {
		if err := e.accounting.Release(record.Token, refund); err != nil {
			return nil, err
		}
	}
	if err := e.accounting.Payout(record.Token, refund); err != nil {
		return nil, err
	}
	record.IsActive = false
	record.DepositAmount = big.NewInt(0)
	record.UsedAmount = big.NewInt(0)
	if err := e.state.LockerPut(record); err != nil {
		return nil, err
	}
	e.emit(NewWithdrawnEvent(record, refund))
	metrics.Locker().ObserveWithdrawal(record.Token)
	e.updateEscrowGauge(record.Token)
	return refund, nil
}

// GetStorageInfo returns a copy of the record for the supplied identifier.
func (e *Engine) GetStorageInfo(id uint64) (*StorageRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	record, err := e.loadRecord(id)
	if err != nil {
		return nil, err
	}
	return record.Clone(), nil
}

// GetByFingerprint resolves a piece fingerprint to its record.
func (e *Engine) GetByFingerprint(pieceCID []byte) (*StorageRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, errNilState
	}
	id, ok := e.state.LockerIDByFingerprint(pieceCID)
	if !ok {
		return nil, ErrStorageNotFound
	}
	record, err := e.loadRecord(id)
	if err != nil {
		return nil, err
	}
	return record.Clone(), nil
}

// GetOwnerRecords returns the storage identifiers deposited by a principal in
// allocation order.
func (e *Engine) GetOwnerRecords(owner [20]byte) ([]uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, errNilState
	}
	return e.state.LockerOwnerIDs(owner)
}

// BalanceInfo returns the total, escrow and available balances for every
// supported token.
func (e *Engine) BalanceInfo() (map[string]BalanceSnapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, errNilState
	}
	info := make(map[string]BalanceSnapshot, 2)
	for _, token := range []string{TokenFIL, TokenUSDFC} {
		snapshot, err := e.accounting.Snapshot(token)
		if err != nil {
			return nil, err
		}
		info[token] = snapshot
	}
	return info, nil
}
