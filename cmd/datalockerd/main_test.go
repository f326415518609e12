package main

import (
	"bytes"
	"log/slog"
	"math/big"
	"testing"

	"datalocker/config"
	"datalocker/core/state"
	"datalocker/native/locker"
	"datalocker/storage"
)

func testAddressHex(last byte) string {
	return "0x00000000000000000000000000000000000000" + string([]byte{hexDigit(last >> 4), hexDigit(last & 0x0F)})
}

func hexDigit(n byte) byte {
	if n < 10 {
		return '0' + n
	}
	return 'a' + n - 10
}

func TestResolveOwnerPrecedence(t *testing.T) {
	cfg := config.Default()
	cfg.OwnerAddress = testAddressHex(0x03)

	owner, err := resolveOwner(testAddressHex(0x01), cfg, testAddressHex(0x02))
	if err != nil {
		t.Fatalf("resolve owner: %v", err)
	}
	if owner[19] != 0x01 {
		t.Fatalf("flag should win, got %x", owner)
	}

	owner, err = resolveOwner("", cfg, testAddressHex(0x02))
	if err != nil {
		t.Fatalf("resolve owner: %v", err)
	}
	if owner[19] != 0x02 {
		t.Fatalf("env should win over config, got %x", owner)
	}

	owner, err = resolveOwner("", cfg, "")
	if err != nil {
		t.Fatalf("resolve owner: %v", err)
	}
	if owner[19] != 0x03 {
		t.Fatalf("config should be the fallback, got %x", owner)
	}

	if _, err := resolveOwner("", config.Default(), ""); err == nil {
		t.Fatalf("expected error when no owner is configured anywhere")
	}
	if _, err := resolveOwner("garbage", cfg, ""); err == nil {
		t.Fatalf("expected error for malformed flag value")
	}
}

func TestBuildEngineAppliesConfig(t *testing.T) {
	cfg := config.Default()
	cfg.LowBalanceRenewalCycles = 5
	owner := [20]byte{0xAA}
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	engine, err := buildEngine(cfg, owner, state.NewManager(storage.NewMemDB()), logger)
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	if engine.Owner() != owner {
		t.Fatalf("owner not applied")
	}
	if engine.LowBalanceCycles() != 5 {
		t.Fatalf("low balance cycles not applied: %d", engine.LowBalanceCycles())
	}
	minimum, err := engine.MinimumDeposit(locker.TokenFIL)
	if err != nil {
		t.Fatalf("minimum deposit: %v", err)
	}
	oneFIL := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	if minimum.Cmp(oneFIL) != 0 {
		t.Fatalf("FIL minimum not applied: %s", minimum)
	}
	if got := engine.EpochConfig().PeriodEpochs(); got != 180*2880 {
		t.Fatalf("renewal period not applied: %d", got)
	}
}

func TestRunSweepRenewsDueRecords(t *testing.T) {
	cfg := config.Default()
	owner := [20]byte{0xAA}
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logBuf, nil))

	engine, err := buildEngine(cfg, owner, state.NewManager(storage.NewMemDB()), logger)
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	engine.SetPricer(locker.NewRatePricer(map[string]*big.Int{locker.TokenFIL: big.NewInt(1)}))
	engine.SetNowFunc(func() int64 { return 1_000_000 })

	deposit := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	depositor := [20]byte{0xB1}
	id, err := engine.Deposit(depositor, []byte{0x01, 0x02}, 64, "sweep", "", locker.TokenFIL, deposit)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := engine.ActivateDeal(id, 7, owner); err != nil {
		t.Fatalf("activate: %v", err)
	}
	record, err := engine.GetStorageInfo(id)
	if err != nil {
		t.Fatalf("storage info: %v", err)
	}

	// Move the clock into the renewal window and sweep.
	threshold := engine.EpochConfig().ThresholdEpochs()
	duration := int64(engine.EpochConfig().DurationSeconds)
	engine.SetNowFunc(func() int64 { return int64(record.ExpirationEpoch-threshold) * duration })

	runSweep(engine, owner, logger)

	renewed, err := engine.GetStorageInfo(id)
	if err != nil {
		t.Fatalf("storage info after sweep: %v", err)
	}
	if renewed.ExpirationEpoch <= record.ExpirationEpoch {
		t.Fatalf("sweep did not extend the deal: %d -> %d", record.ExpirationEpoch, renewed.ExpirationEpoch)
	}
	if !bytes.Contains(logBuf.Bytes(), []byte("Renewal sweep complete")) {
		t.Fatalf("sweep summary not logged:\n%s", logBuf.String())
	}
}
