package locker

import (
	"encoding/hex"
	"math/big"
	"sort"

	"datalocker/observability/metrics"
)

// RenewalOutcome classifies the result of a single renewal check.
type RenewalOutcome uint8

const (
	OutcomeNoAction RenewalOutcome = iota
	OutcomeRenewed
	OutcomeExpired
	OutcomeFailed
)

// String returns a stable lowercase label for the outcome.
func (o RenewalOutcome) String() string {
	switch o {
	case OutcomeNoAction:
		return "no_action"
	case OutcomeRenewed:
		return "renewed"
	case OutcomeExpired:
		return "expired"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// RenewalResult reports what CheckAndRenew did to a record.
type RenewalResult struct {
	Outcome       RenewalOutcome
	NewExpiration uint64
	Cost          *big.Int
}

// BatchOutcome is the per-item result of a batch renewal pass.
type BatchOutcome struct {
	StorageID     uint64
	Outcome       RenewalOutcome
	NewExpiration uint64
	Err           error
}

// AutomationStatus summarizes the ledger for external automation agents.
type AutomationStatus struct {
	TotalActive    uint64
	NeedingRenewal uint64
	LowBalance     uint64
	EscrowedFIL    *big.Int
	EscrowedUSDFC  *big.Int
}

// NeedsRenewal reports whether the record's deal is inside the renewal
// window at the supplied epoch. Inactive records never need renewal.
func (e *Engine) NeedsRenewal(id uint64, now uint64) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	record, err := e.loadRecord(id)
	if err != nil {
		return false, err
	}
	return needsRenewal(record, now, e.clock.Config().ThresholdEpochs()), nil
}

func needsRenewal(record *StorageRecord, now, thresholdEpochs uint64) bool {
	if record == nil || !record.IsActive {
		return false
	}
	return record.ExpirationEpoch <= now+thresholdEpochs
}

// CheckAndRenew advances a record through the renewal state machine at the
// supplied epoch. Records outside the renewal window (or already inactive)
// are left untouched. A record whose remaining deposit covers the renewal
// cost is extended by one period; otherwise it expires and its remaining
// escrow is released back to the available pool, withdrawable by the owner.
// The caller must be the record owner or an authorized operator.
func (e *Engine) CheckAndRenew(id uint64, caller [20]byte, now uint64) (RenewalResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.checkAndRenewLocked(id, caller, now)
}

func (e *Engine) checkAndRenewLocked(id uint64, caller [20]byte, now uint64) (RenewalResult, error) {
	record, err := e.loadRecord(id)
	if err != nil {
		return RenewalResult{Outcome: OutcomeFailed}, err
	}
	if caller != record.Owner && !e.isAuthorizedLocked(caller) {
		return RenewalResult{Outcome: OutcomeFailed}, ErrUnauthorized
	}
	if !needsRenewal(record, now, e.clock.Config().ThresholdEpochs()) {
		return RenewalResult{Outcome: OutcomeNoAction}, nil
	}
	e.emit(NewNearExpirationEvent(record, now))

	period := e.clock.Config().PeriodEpochs()
	cost, err := e.pricer.RenewalCost(record.Token, record.PieceSize, period)
	if err != nil {
		return RenewalResult{Outcome: OutcomeFailed}, err
	}
	newUsed := new(big.Int).Add(record.UsedAmount, cost)
	if newUsed.Cmp(record.DepositAmount) <= 0 {
		if err := e.accounting.Release(record.Token, cost); err != nil {
			return RenewalResult{Outcome: OutcomeFailed}, err
		}
		record.UsedAmount = newUsed
		record.ExpirationEpoch += period
		record.LastRenewalEpoch = now
		if err := e.state.LockerPut(record); err != nil {
			return RenewalResult{Outcome: OutcomeFailed}, err
		}
		e.emit(NewRenewedEvent(record, cost))
		metrics.Locker().ObserveRenewal(record.Token)
		e.updateEscrowGauge(record.Token)
		if low, estimate := e.lowBalance(record); low {
			e.emit(NewLowBalanceEvent(record, estimate))
			metrics.Locker().ObserveLowBalance(record.Token)
		}
		return RenewalResult{Outcome: OutcomeRenewed, NewExpiration: record.ExpirationEpoch, Cost: cost}, nil
	}

	released := record.Remaining()
	if err := e.accounting.Release(record.Token, released); err != nil {
		return RenewalResult{Outcome: OutcomeFailed}, err
	}
	record.IsActive = false
	if err := e.state.LockerPut(record); err != nil {
		return RenewalResult{Outcome: OutcomeFailed}, err
	}
	e.emit(NewExpiredEvent(record, released))
	metrics.Locker().ObserveExpiration(record.Token)
	e.updateEscrowGauge(record.Token)
	return RenewalResult{Outcome: OutcomeExpired}, nil
}

// BatchProcessRenewals applies CheckAndRenew to each identifier at a single
// snapshot of the current epoch. A failure on one identifier is recorded in
// its outcome and does not abort the batch; each item applies fully or not at
// all.
func (e *Engine) BatchProcessRenewals(ids []uint64, caller [20]byte) []BatchOutcome {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.clock.EpochOf(e.now())
	outcomes := make([]BatchOutcome, 0, len(ids))
	for _, id := range ids {
		result, err := e.checkAndRenewLocked(id, caller, now)
		if err != nil {
			e.logger().Warn("renewal failed",
				"storageId", id,
				"caller", hex.EncodeToString(caller[:]),
				"err", err,
			)
		}
		outcomes = append(outcomes, BatchOutcome{
			StorageID:     id,
			Outcome:       result.Outcome,
			NewExpiration: result.NewExpiration,
			Err:           err,
		})
	}
	return outcomes
}

// AutoRenew is the automation entrypoint: it runs CheckAndRenew at the
// current epoch and reports a success flag plus a reason string, emitting an
// auto-renewal event either way.
func (e *Engine) AutoRenew(id uint64, caller [20]byte) (bool, string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.clock.EpochOf(e.now())
	result, err := e.checkAndRenewLocked(id, caller, now)
	reason := result.Outcome.String()
	if err != nil {
		reason = err.Error()
	}
	success := err == nil
	e.emit(NewAutoRenewalEvent(id, caller, success, reason))
	return success, reason
}

// RenewalQueue returns the identifiers of active records inside the renewal
// window at the supplied epoch, soonest-expiring first with ascending
// identifiers breaking ties.
func (e *Engine) RenewalQueue(now uint64) ([]uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	records, err := e.activeRecordsLocked()
	if err != nil {
		return nil, err
	}
	threshold := e.clock.Config().ThresholdEpochs()
	queue := make([]*StorageRecord, 0, len(records))
	for _, record := range records {
		if needsRenewal(record, now, threshold) {
			queue = append(queue, record)
		}
	}
	sort.Slice(queue, func(i, j int) bool {
		if queue[i].ExpirationEpoch != queue[j].ExpirationEpoch {
			return queue[i].ExpirationEpoch < queue[j].ExpirationEpoch
		}
		return queue[i].ID < queue[j].ID
	})
	ids := make([]uint64, len(queue))
	for i, record := range queue {
		ids[i] = record.ID
	}
	return ids, nil
}

// LowBalanceQueue returns the identifiers of active records whose remaining
// deposit covers fewer renewal cycles than the configured floor, in ascending
// identifier order.
func (e *Engine) LowBalanceQueue() ([]uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	records, err := e.activeRecordsLocked()
	if err != nil {
		return nil, err
	}
	var ids []uint64
	for _, record := range records {
		if low, _ := e.lowBalance(record); low {
			ids = append(ids, record.ID)
		}
	}
	return ids, nil
}

// GetAutomationStatus summarizes active records, pending work and escrowed
// totals at the supplied epoch.
func (e *Engine) GetAutomationStatus(now uint64) (AutomationStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	records, err := e.activeRecordsLocked()
	if err != nil {
		return AutomationStatus{}, err
	}
	status := AutomationStatus{}
	threshold := e.clock.Config().ThresholdEpochs()
	for _, record := range records {
		status.TotalActive++
		if needsRenewal(record, now, threshold) {
			status.NeedingRenewal++
		}
		if low, _ := e.lowBalance(record); low {
			status.LowBalance++
		}
	}
	filSnapshot, err := e.accounting.Snapshot(TokenFIL)
	if err != nil {
		return AutomationStatus{}, err
	}
	usdfcSnapshot, err := e.accounting.Snapshot(TokenUSDFC)
	if err != nil {
		return AutomationStatus{}, err
	}
	status.EscrowedFIL = filSnapshot.Escrow
	status.EscrowedUSDFC = usdfcSnapshot.Escrow
	return status, nil
}

func (e *Engine) activeRecordsLocked() ([]*StorageRecord, error) {
	if e.state == nil {
		return nil, errNilState
	}
	next, err := e.state.LockerCounter()
	if err != nil {
		return nil, err
	}
	var records []*StorageRecord
	for id := uint64(1); id < next; id++ {
		record, ok := e.state.LockerGet(id)
		if !ok || !record.IsActive {
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

func (e *Engine) lowBalance(record *StorageRecord) (bool, *big.Int) {
	cost, err := e.pricer.RenewalCost(record.Token, record.PieceSize, e.clock.Config().PeriodEpochs())
	if err != nil {
		return false, nil
	}
	runway := new(big.Int).Mul(cost, new(big.Int).SetUint64(e.lowCycles))
	return record.Remaining().Cmp(runway) < 0, cost
}
