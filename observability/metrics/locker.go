package metrics

import (
	"math/big"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type LockerMetrics struct {
	deposits    *prometheus.CounterVec
	renewals    *prometheus.CounterVec
	expirations *prometheus.CounterVec
	withdrawals *prometheus.CounterVec
	lowBalance  *prometheus.CounterVec
	escrowed    *prometheus.GaugeVec
}

var (
	lockerOnce     sync.Once
	lockerRegistry *LockerMetrics
)

// Locker returns the metrics registry tracking storage-escrow ledger
// activity.
func Locker() *LockerMetrics {
	lockerOnce.Do(func() {
		lockerRegistry = &LockerMetrics{
			deposits: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "locker_deposits_total",
				Help: "Count of storage deposits by payment token.",
			}, []string{"token"}),
			renewals: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "locker_renewals_total",
				Help: "Count of successful deal renewals by payment token.",
			}, []string{"token"}),
			expirations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "locker_expirations_total",
				Help: "Count of deals expired for lack of funds by payment token.",
			}, []string{"token"}),
			withdrawals: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "locker_withdrawals_total",
				Help: "Count of owner refunds by payment token.",
			}, []string{"token"}),
			lowBalance: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "locker_low_balance_warnings_total",
				Help: "Count of low-balance warnings by payment token.",
			}, []string{"token"}),
			escrowed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "locker_escrowed_balance",
				Help: "Funds currently committed to escrow per payment token.",
			}, []string{"token"}),
		}
		prometheus.MustRegister(
			lockerRegistry.deposits,
			lockerRegistry.renewals,
			lockerRegistry.expirations,
			lockerRegistry.withdrawals,
			lockerRegistry.lowBalance,
			lockerRegistry.escrowed,
		)
	})
	return lockerRegistry
}

func normalizeLabel(token string) string {
	normalized := strings.TrimSpace(strings.ToUpper(token))
	if normalized == "" {
		return "UNKNOWN"
	}
	return normalized
}

// ObserveDeposit increments the deposit counter for the supplied token.
func (m *LockerMetrics) ObserveDeposit(token string) {
	if m == nil {
		return
	}
	m.deposits.WithLabelValues(normalizeLabel(token)).Inc()
}

// ObserveRenewal increments the renewal counter for the supplied token.
func (m *LockerMetrics) ObserveRenewal(token string) {
	if m == nil {
		return
	}
	m.renewals.WithLabelValues(normalizeLabel(token)).Inc()
}

// ObserveExpiration increments the expiration counter for the supplied token.
func (m *LockerMetrics) ObserveExpiration(token string) {
	if m == nil {
		return
	}
	m.expirations.WithLabelValues(normalizeLabel(token)).Inc()
}

// ObserveWithdrawal increments the withdrawal counter for the supplied token.
func (m *LockerMetrics) ObserveWithdrawal(token string) {
	if m == nil {
		return
	}
	m.withdrawals.WithLabelValues(normalizeLabel(token)).Inc()
}

// ObserveLowBalance increments the low-balance warning counter.
func (m *LockerMetrics) ObserveLowBalance(token string) {
	if m == nil {
		return
	}
	m.lowBalance.WithLabelValues(normalizeLabel(token)).Inc()
}

// SetEscrowed records the current escrowed balance for the supplied token.
// Precision loss past float64 is acceptable for monitoring purposes.
func (m *LockerMetrics) SetEscrowed(token string, amount *big.Int) {
	if m == nil {
		return
	}
	value := 0.0
	if amount != nil {
		value, _ = new(big.Float).SetInt(amount).Float64()
	}
	m.escrowed.WithLabelValues(normalizeLabel(token)).Set(value)
}
