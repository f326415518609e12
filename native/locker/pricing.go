package locker

import (
	"fmt"
	"math/big"
)

// GiB is the unit the default rate table prices against.
const GiB = 1 << 30

// Pricer supplies the cost of extending a storage deal by one renewal
// period. The pricing relationship between tokens is owned by the
// integrating system; the ledger only consumes the quoted cost.
type Pricer interface {
	RenewalCost(token string, pieceSize uint64, periodEpochs uint64) (*big.Int, error)
}

// RatePricer prices renewals from a flat per-GiB, per-epoch rate table in the
// token's smallest unit. It is the default collaborator; deployments replace
// it with an oracle-backed implementation.
type RatePricer struct {
	rates map[string]*big.Int
}

// NewRatePricer builds a pricer from per-GiB-epoch rates keyed by token
// symbol. Unknown tokens fail at quote time.
func NewRatePricer(rates map[string]*big.Int) *RatePricer {
	normalized := make(map[string]*big.Int, len(rates))
	for token, rate := range rates {
		canonical, err := NormalizeToken(token)
		if err != nil {
			continue
		}
		normalized[canonical] = cloneBigInt(rate)
	}
	return &RatePricer{rates: normalized}
}

// DefaultRates returns conservative placeholder rates: 1 gigawei of attoFIL
// and one USDFC base unit per GiB-epoch.
func DefaultRates() map[string]*big.Int {
	return map[string]*big.Int{
		TokenFIL:   big.NewInt(1_000_000_000),
		TokenUSDFC: big.NewInt(1),
	}
}

// RenewalCost implements the Pricer interface. The quote is
// ceil(rate * periodEpochs * pieceSize / GiB), never less than one base unit.
func (p *RatePricer) RenewalCost(token string, pieceSize uint64, periodEpochs uint64) (*big.Int, error) {
	normalized, err := NormalizeToken(token)
	if err != nil {
		return nil, err
	}
	rate, ok := p.rates[normalized]
	if !ok {
		return nil, fmt.Errorf("locker: no renewal rate configured for %s", normalized)
	}
	cost := new(big.Int).Mul(rate, new(big.Int).SetUint64(periodEpochs))
	cost.Mul(cost, new(big.Int).SetUint64(pieceSize))
	cost.Add(cost, big.NewInt(GiB-1))
	cost.Div(cost, big.NewInt(GiB))
	if cost.Sign() <= 0 {
		cost = big.NewInt(1)
	}
	return cost, nil
}
