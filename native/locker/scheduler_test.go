package locker

import (
	"errors"
	"math/big"
	"testing"
)

// activates the record and fast-forwards the engine clock into the renewal
// window, returning the epoch the scheduler will observe.
func enterRenewalWindow(t *testing.T, engine *Engine, state *mockState, id uint64) uint64 {
	t.Helper()
	if err := engine.ActivateDeal(id, 1000+id, ledgerOwner); err != nil {
		t.Fatalf("activate: %v", err)
	}
	record, ok := state.LockerGet(id)
	if !ok {
		t.Fatalf("record %d missing", id)
	}
	cfg := engine.EpochConfig()
	windowEpoch := record.ExpirationEpoch - cfg.ThresholdEpochs()
	engine.SetNowFunc(func() int64 { return int64(windowEpoch * cfg.DurationSeconds) })
	return windowEpoch
}

func TestNeedsRenewal(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	id := mustDeposit(t, engine, alice, "F1", GiB, TokenFIL, 10)

	// Inactive records never need renewal.
	needs, err := engine.NeedsRenewal(id, engine.CurrentEpoch())
	if err != nil || needs {
		t.Fatalf("inactive record should not need renewal (needs=%v err=%v)", needs, err)
	}

	if err := engine.ActivateDeal(id, 77, ledgerOwner); err != nil {
		t.Fatalf("activate: %v", err)
	}
	record, _ := state.LockerGet(id)
	threshold := engine.EpochConfig().ThresholdEpochs()

	needs, err = engine.NeedsRenewal(id, record.ExpirationEpoch-threshold-1)
	if err != nil || needs {
		t.Fatalf("record outside window should not need renewal (needs=%v err=%v)", needs, err)
	}
	needs, err = engine.NeedsRenewal(id, record.ExpirationEpoch-threshold)
	if err != nil || !needs {
		t.Fatalf("record at window boundary should need renewal (needs=%v err=%v)", needs, err)
	}
	needs, err = engine.NeedsRenewal(id, record.ExpirationEpoch+5)
	if err != nil || !needs {
		t.Fatalf("record past expiration should need renewal (needs=%v err=%v)", needs, err)
	}
	if _, err := engine.NeedsRenewal(404, 0); !errors.Is(err, ErrStorageNotFound) {
		t.Fatalf("expected ErrStorageNotFound, got %v", err)
	}
}

func TestCheckAndRenewNoAction(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	id := mustDeposit(t, engine, alice, "F1", GiB, TokenFIL, 10)
	if err := engine.ActivateDeal(id, 77, ledgerOwner); err != nil {
		t.Fatalf("activate: %v", err)
	}
	before, _ := state.LockerGet(id)

	result, err := engine.CheckAndRenew(id, alice, engine.CurrentEpoch())
	if err != nil {
		t.Fatalf("check and renew: %v", err)
	}
	if result.Outcome != OutcomeNoAction {
		t.Fatalf("expected no action outside the window, got %s", result.Outcome)
	}
	after, _ := state.LockerGet(id)
	if after.UsedAmount.Cmp(before.UsedAmount) != 0 || after.ExpirationEpoch != before.ExpirationEpoch {
		t.Fatalf("no-op renewal mutated the record")
	}
}

func TestCheckAndRenewExtends(t *testing.T) {
	engine, state, emitter := newTestEngine(t)
	id := mustDeposit(t, engine, alice, "F1", GiB, TokenFIL, 10)
	now := enterRenewalWindow(t, engine, state, id)
	before, _ := state.LockerGet(id)

	result, err := engine.CheckAndRenew(id, alice, now)
	if err != nil {
		t.Fatalf("check and renew: %v", err)
	}
	if result.Outcome != OutcomeRenewed {
		t.Fatalf("expected renewal, got %s", result.Outcome)
	}
	if result.Cost.Cmp(big.NewInt(2)) != 0 {
		t.Fatalf("unexpected cost: %s", result.Cost)
	}

	after, _ := state.LockerGet(id)
	period := engine.EpochConfig().PeriodEpochs()
	if after.ExpirationEpoch != before.ExpirationEpoch+period {
		t.Fatalf("expiration not extended by one period")
	}
	if result.NewExpiration != after.ExpirationEpoch {
		t.Fatalf("result expiration mismatch")
	}
	if after.UsedAmount.Cmp(big.NewInt(2)) != 0 {
		t.Fatalf("used amount not debited: %s", after.UsedAmount)
	}
	if after.LastRenewalEpoch != now {
		t.Fatalf("last renewal epoch not updated")
	}
	if !after.IsActive {
		t.Fatalf("record should stay active after renewal")
	}

	info, _ := engine.BalanceInfo()
	fil := info[TokenFIL]
	if fil.Total.Cmp(big.NewInt(10)) != 0 || fil.Escrow.Cmp(big.NewInt(8)) != 0 || fil.Available.Cmp(big.NewInt(2)) != 0 {
		t.Fatalf("unexpected balances after renewal: %+v", fil)
	}
	if len(emitter.ofType(EventTypeStorageRenewed)) != 1 {
		t.Fatalf("expected renewal event")
	}
	assertEscrowInvariant(t, state)
}

func TestCheckAndRenewExpiresWhenUnderfunded(t *testing.T) {
	engine, state, emitter := newTestEngine(t)
	engine.SetPricer(fixedPricer{cost: big.NewInt(4)})
	id := mustDeposit(t, engine, alice, "F1", GiB, TokenFIL, 5)
	now := enterRenewalWindow(t, engine, state, id)

	// First renewal consumes 4 of 5, leaving less than one more cycle.
	result, err := engine.CheckAndRenew(id, alice, now)
	if err != nil || result.Outcome != OutcomeRenewed {
		t.Fatalf("first renewal failed: outcome=%s err=%v", result.Outcome, err)
	}

	record, _ := state.LockerGet(id)
	nextWindow := record.ExpirationEpoch - engine.EpochConfig().ThresholdEpochs()
	result, err = engine.CheckAndRenew(id, alice, nextWindow)
	if err != nil {
		t.Fatalf("expiring renewal errored: %v", err)
	}
	if result.Outcome != OutcomeExpired {
		t.Fatalf("expected expiration, got %s", result.Outcome)
	}

	record, _ = state.LockerGet(id)
	if record.IsActive {
		t.Fatalf("record should be inactive after expiration")
	}
	info, _ := engine.BalanceInfo()
	fil := info[TokenFIL]
	// The remaining 1 unit leaves escrow but stays withdrawable.
	if fil.Total.Cmp(big.NewInt(5)) != 0 || fil.Escrow.Sign() != 0 || fil.Available.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("unexpected balances after expiration: %+v", fil)
	}
	if len(emitter.ofType(EventTypeStorageExpired)) != 1 {
		t.Fatalf("expected expiration event")
	}
	assertEscrowInvariant(t, state)

	// Expiration is applied exactly once; a repeat call is a no-op.
	result, err = engine.CheckAndRenew(id, alice, nextWindow)
	if err != nil || result.Outcome != OutcomeNoAction {
		t.Fatalf("repeat call should be a no-op: outcome=%s err=%v", result.Outcome, err)
	}
	if len(emitter.ofType(EventTypeStorageExpired)) != 1 {
		t.Fatalf("expiration event emitted twice")
	}

	// The owner reclaims the unconsumed unit afterwards.
	refund, err := engine.WithdrawUnused(id, alice)
	if err != nil || refund.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("expected refund of 1 after expiration, got %s (err=%v)", refund, err)
	}
	assertEscrowInvariant(t, state)
}

func TestCheckAndRenewAuthorization(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	id := mustDeposit(t, engine, alice, "F1", GiB, TokenFIL, 10)
	now := enterRenewalWindow(t, engine, state, id)

	if _, err := engine.CheckAndRenew(id, bob, now); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for stranger, got %v", err)
	}
	if err := engine.SetOperatorAuthorization(operator, true, ledgerOwner); err != nil {
		t.Fatalf("authorize operator: %v", err)
	}
	if _, err := engine.CheckAndRenew(id, operator, now); err != nil {
		t.Fatalf("operator renewal failed: %v", err)
	}
}

func TestBatchProcessRenewalsPartialFailure(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	id := mustDeposit(t, engine, alice, "F1", GiB, TokenFIL, 10)
	enterRenewalWindow(t, engine, state, id)

	outcomes := engine.BatchProcessRenewals([]uint64{id, 404}, ledgerOwner)
	if len(outcomes) != 2 {
		t.Fatalf("expected two outcomes, got %d", len(outcomes))
	}
	if outcomes[0].StorageID != id || outcomes[0].Outcome != OutcomeRenewed || outcomes[0].Err != nil {
		t.Fatalf("valid item not processed: %+v", outcomes[0])
	}
	if outcomes[1].StorageID != 404 || !errors.Is(outcomes[1].Err, ErrStorageNotFound) {
		t.Fatalf("missing item not surfaced: %+v", outcomes[1])
	}

	record, _ := state.LockerGet(id)
	if record.UsedAmount.Cmp(big.NewInt(2)) != 0 {
		t.Fatalf("valid item mutation lost: used=%s", record.UsedAmount)
	}
	assertEscrowInvariant(t, state)
}

func TestRenewalQueueOrdering(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	cfg := engine.EpochConfig()

	// Three deals activated at staggered times expire at different epochs.
	late := mustDeposit(t, engine, alice, "F1", GiB, TokenFIL, 10)
	soon := mustDeposit(t, engine, alice, "F2", GiB, TokenFIL, 10)
	tied := mustDeposit(t, engine, bob, "F3", GiB, TokenFIL, 10)
	fresh := mustDeposit(t, engine, bob, "F4", GiB, TokenFIL, 10)

	base := int64(1_000_000)
	engine.SetNowFunc(func() int64 { return base + int64(10*cfg.DurationSeconds) })
	if err := engine.ActivateDeal(late, 71, ledgerOwner); err != nil {
		t.Fatalf("activate: %v", err)
	}
	engine.SetNowFunc(func() int64 { return base })
	for _, id := range []uint64{soon, tied} {
		if err := engine.ActivateDeal(id, 70+id, ledgerOwner); err != nil {
			t.Fatalf("activate: %v", err)
		}
	}

	// The fourth deal is activated far in the future and stays outside the
	// renewal window.
	engine.SetNowFunc(func() int64 { return base + int64(cfg.PeriodEpochs()*cfg.DurationSeconds) })
	if err := engine.ActivateDeal(fresh, 74, ledgerOwner); err != nil {
		t.Fatalf("activate: %v", err)
	}

	record, _ := state.LockerGet(late)
	queue, err := engine.RenewalQueue(record.ExpirationEpoch - cfg.ThresholdEpochs())
	if err != nil {
		t.Fatalf("renewal queue: %v", err)
	}
	// soon and tied share an expiration epoch; ascending id breaks the tie.
	want := []uint64{soon, tied, late}
	if len(queue) != len(want) {
		t.Fatalf("unexpected queue %v, want %v", queue, want)
	}
	for i := range want {
		if queue[i] != want[i] {
			t.Fatalf("unexpected queue order %v, want %v", queue, want)
		}
	}
}

func TestLowBalanceQueue(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	engine.SetPricer(fixedPricer{cost: big.NewInt(2)})
	engine.SetLowBalanceCycles(3)

	// Runway floor is cost*cycles = 6: a remaining deposit of 5 is low,
	// 100 is not.
	low := mustDeposit(t, engine, alice, "F1", GiB, TokenFIL, 5)
	healthy := mustDeposit(t, engine, bob, "F2", GiB, TokenFIL, 100)
	for _, id := range []uint64{low, healthy} {
		if err := engine.ActivateDeal(id, 70+id, ledgerOwner); err != nil {
			t.Fatalf("activate: %v", err)
		}
	}

	ids, err := engine.LowBalanceQueue()
	if err != nil {
		t.Fatalf("low balance queue: %v", err)
	}
	if len(ids) != 1 || ids[0] != low {
		t.Fatalf("unexpected low balance queue: %v", ids)
	}
}

func TestLowBalanceWarningOnRenewal(t *testing.T) {
	engine, state, emitter := newTestEngine(t)
	engine.SetPricer(fixedPricer{cost: big.NewInt(4)})
	id := mustDeposit(t, engine, alice, "F1", GiB, TokenFIL, 10)
	now := enterRenewalWindow(t, engine, state, id)

	// After the renewal only 6 of 10 remain, below the 12-unit runway.
	if _, err := engine.CheckAndRenew(id, alice, now); err != nil {
		t.Fatalf("renew: %v", err)
	}
	warnings := emitter.ofType(EventTypeLowBalanceWarning)
	if len(warnings) != 1 {
		t.Fatalf("expected one low balance warning, got %d", len(warnings))
	}
	if warnings[0].Attributes["remainingBalance"] != "6" {
		t.Fatalf("unexpected warning attributes: %v", warnings[0].Attributes)
	}
}

func TestAutoRenew(t *testing.T) {
	engine, state, emitter := newTestEngine(t)
	id := mustDeposit(t, engine, alice, "F1", GiB, TokenFIL, 10)
	enterRenewalWindow(t, engine, state, id)

	success, reason := engine.AutoRenew(id, ledgerOwner)
	if !success || reason != "renewed" {
		t.Fatalf("unexpected auto renew result: success=%v reason=%q", success, reason)
	}
	success, reason = engine.AutoRenew(404, ledgerOwner)
	if success {
		t.Fatalf("auto renew of unknown record should fail")
	}
	if reason != ErrStorageNotFound.Error() {
		t.Fatalf("unexpected failure reason: %q", reason)
	}
	if triggered := emitter.ofType(EventTypeAutoRenewalTriggered); len(triggered) != 2 {
		t.Fatalf("expected two auto renewal events, got %d", len(triggered))
	}
}

func TestGetAutomationStatus(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	engine.SetPricer(fixedPricer{cost: big.NewInt(2)})

	low := mustDeposit(t, engine, alice, "F1", GiB, TokenFIL, 5)
	healthy := mustDeposit(t, engine, bob, "F2", GiB, TokenUSDFC, 1000)
	mustDeposit(t, engine, bob, "F3", GiB, TokenFIL, 50)
	for _, id := range []uint64{low, healthy} {
		if err := engine.ActivateDeal(id, 70+id, ledgerOwner); err != nil {
			t.Fatalf("activate: %v", err)
		}
	}

	record, _ := state.LockerGet(low)
	windowEpoch := record.ExpirationEpoch - engine.EpochConfig().ThresholdEpochs()
	status, err := engine.GetAutomationStatus(windowEpoch)
	if err != nil {
		t.Fatalf("automation status: %v", err)
	}
	if status.TotalActive != 2 {
		t.Fatalf("unexpected active count: %d", status.TotalActive)
	}
	if status.NeedingRenewal != 2 {
		t.Fatalf("unexpected renewal count: %d", status.NeedingRenewal)
	}
	if status.LowBalance != 1 {
		t.Fatalf("unexpected low balance count: %d", status.LowBalance)
	}
	if status.EscrowedFIL.Cmp(big.NewInt(55)) != 0 {
		t.Fatalf("unexpected escrowed FIL: %s", status.EscrowedFIL)
	}
	if status.EscrowedUSDFC.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("unexpected escrowed USDFC: %s", status.EscrowedUSDFC)
	}
}
