package locker

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"datalocker/core/types"
)

const (
	EventTypeStorageDeposited     = "locker.storage_deposited"
	EventTypeStorageRenewed       = "locker.storage_renewed"
	EventTypeStorageExpired       = "locker.storage_expired"
	EventTypeFundsWithdrawn       = "locker.funds_withdrawn"
	EventTypeDealActivated        = "locker.deal_activated"
	EventTypeOperatorAuthorized   = "locker.operator_authorized"
	EventTypeLowBalanceWarning    = "locker.low_balance_warning"
	EventTypeDealNearExpiration   = "locker.deal_near_expiration"
	EventTypeAutoRenewalTriggered = "locker.auto_renewal_triggered"
)

// NewDepositedEvent returns the canonical payload emitted when a deposit
// creates a new storage record.
func NewDepositedEvent(r *StorageRecord) *types.Event {
	return newRecordEvent(EventTypeStorageDeposited, r, nil)
}

// NewRenewedEvent returns the payload emitted when a renewal extends a
// record's expiration.
func NewRenewedEvent(r *StorageRecord, cost *big.Int) *types.Event {
	return newRecordEvent(EventTypeStorageRenewed, r, map[string]string{
		"renewalCost": formatAmount(cost),
	})
}

// NewExpiredEvent returns the payload emitted when a record lapses because
// its remaining deposit cannot cover another renewal.
func NewExpiredEvent(r *StorageRecord, released *big.Int) *types.Event {
	return newRecordEvent(EventTypeStorageExpired, r, map[string]string{
		"releasedEscrow": formatAmount(released),
	})
}

// NewWithdrawnEvent returns the payload emitted when an owner reclaims the
// unused portion of a deposit.
func NewWithdrawnEvent(r *StorageRecord, refund *big.Int) *types.Event {
	return newRecordEvent(EventTypeFundsWithdrawn, r, map[string]string{
		"refund": formatAmount(refund),
	})
}

// NewDealActivatedEvent returns the payload emitted when an operator binds an
// external deal to a record.
func NewDealActivatedEvent(r *StorageRecord) *types.Event {
	return newRecordEvent(EventTypeDealActivated, r, nil)
}

// NewOperatorAuthorizedEvent returns the payload emitted when the ledger
// owner grants or revokes an operator capability.
func NewOperatorAuthorizedEvent(operator [20]byte, enabled bool) *types.Event {
	return &types.Event{
		Type: EventTypeOperatorAuthorized,
		Attributes: map[string]string{
			"operator": hex.EncodeToString(operator[:]),
			"enabled":  strconv.FormatBool(enabled),
		},
	}
}

// NewLowBalanceEvent returns the payload warning that a record's remaining
// deposit covers fewer renewal cycles than the configured floor.
func NewLowBalanceEvent(r *StorageRecord, estimatedCost *big.Int) *types.Event {
	return newRecordEvent(EventTypeLowBalanceWarning, r, map[string]string{
		"remainingBalance":     formatAmount(r.Remaining()),
		"estimatedRenewalCost": formatAmount(estimatedCost),
	})
}

// NewNearExpirationEvent returns the payload emitted when a record enters the
// renewal window.
func NewNearExpirationEvent(r *StorageRecord, currentEpoch uint64) *types.Event {
	return newRecordEvent(EventTypeDealNearExpiration, r, map[string]string{
		"currentEpoch": strconv.FormatUint(currentEpoch, 10),
	})
}

// NewAutoRenewalEvent returns the payload emitted after an automation-driven
// renewal attempt, successful or not.
func NewAutoRenewalEvent(storageID uint64, triggeredBy [20]byte, success bool, reason string) *types.Event {
	return &types.Event{
		Type: EventTypeAutoRenewalTriggered,
		Attributes: map[string]string{
			"storageId":   strconv.FormatUint(storageID, 10),
			"triggeredBy": hex.EncodeToString(triggeredBy[:]),
			"success":     strconv.FormatBool(success),
			"reason":      reason,
		},
	}
}

func newRecordEvent(eventType string, r *StorageRecord, extra map[string]string) *types.Event {
	attrs := make(map[string]string)
	if r != nil {
		attrs["storageId"] = strconv.FormatUint(r.ID, 10)
		attrs["owner"] = hex.EncodeToString(r.Owner[:])
		attrs["pieceCid"] = hex.EncodeToString(r.PieceCID)
		attrs["token"] = r.Token
		attrs["depositAmount"] = formatAmount(r.DepositAmount)
		attrs["usedAmount"] = formatAmount(r.UsedAmount)
		attrs["expirationEpoch"] = strconv.FormatUint(r.ExpirationEpoch, 10)
		if r.Label != "" {
			attrs["label"] = r.Label
		}
		if r.DealID != 0 {
			attrs["dealId"] = strconv.FormatUint(r.DealID, 10)
		}
	}
	for k, v := range extra {
		attrs[k] = v
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
