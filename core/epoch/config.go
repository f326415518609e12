package epoch

import "fmt"

// Config describes how wall-clock time maps onto the discrete epoch counter
// used for storage deal accounting.
type Config struct {
	// DurationSeconds is the wall-clock length of a single epoch. The value
	// must be greater than zero.
	DurationSeconds uint64

	// EpochsPerDay is the number of epochs that make up one day. It must be
	// consistent with DurationSeconds (86400 / DurationSeconds).
	EpochsPerDay uint64

	// RenewalThresholdDays is how many days before expiration a storage deal
	// becomes eligible for renewal.
	RenewalThresholdDays uint64

	// RenewalPeriodDays is the number of days a single renewal extends a
	// storage deal by.
	RenewalPeriodDays uint64
}

// DefaultConfig returns the production epoch parameters: 30-second epochs,
// a 30-day renewal threshold and a 180-day renewal period.
func DefaultConfig() Config {
	return Config{
		DurationSeconds:      30,
		EpochsPerDay:         2880,
		RenewalThresholdDays: 30,
		RenewalPeriodDays:    180,
	}
}

// Validate ensures the configuration is self-consistent.
func (c Config) Validate() error {
	if c.DurationSeconds == 0 {
		return fmt.Errorf("epoch duration must be greater than zero")
	}
	if c.EpochsPerDay == 0 {
		return fmt.Errorf("epochs per day must be greater than zero")
	}
	if c.DurationSeconds*c.EpochsPerDay != 86400 {
		return fmt.Errorf("epoch duration and epochs per day are inconsistent")
	}
	if c.RenewalThresholdDays == 0 {
		return fmt.Errorf("renewal threshold must be greater than zero")
	}
	if c.RenewalPeriodDays == 0 {
		return fmt.Errorf("renewal period must be greater than zero")
	}
	return nil
}

// ThresholdEpochs returns the renewal threshold expressed in epochs.
func (c Config) ThresholdEpochs() uint64 {
	return c.RenewalThresholdDays * c.EpochsPerDay
}

// PeriodEpochs returns the renewal period expressed in epochs.
func (c Config) PeriodEpochs() uint64 {
	return c.RenewalPeriodDays * c.EpochsPerDay
}
