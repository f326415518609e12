package epoch

// Clock converts Unix timestamps into epoch numbers for a fixed epoch
// duration. It holds no mutable state.
type Clock struct {
	cfg Config
}

// NewClock returns a clock for the supplied configuration. The configuration
// must have been validated by the caller.
func NewClock(cfg Config) Clock {
	return Clock{cfg: cfg}
}

// Config returns the epoch parameters the clock was built with.
func (c Clock) Config() Config { return c.cfg }

// EpochOf returns the epoch containing the supplied Unix timestamp.
// Timestamps before the Unix epoch map to epoch zero.
func (c Clock) EpochOf(ts int64) uint64 {
	if ts <= 0 || c.cfg.DurationSeconds == 0 {
		return 0
	}
	return uint64(ts) / c.cfg.DurationSeconds
}
