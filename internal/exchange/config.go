package exchange

// Config holds configuration for the runtime.
type Config struct {
	// Workers is the scheduler pool size.
	Workers int
	// DefaultCapacity is the order-pool capacity for engines registered
	// without an explicit capacity.
	DefaultCapacity int
	// BatchSize auto-flushes an engine's worker once that many jobs are
	// pending on the engine. 0 means manual batching only. It also sizes
	// the per-worker argument arenas (DefaultCapacity is used when 0).
	BatchSize int
	// QueueCapacity is the per-worker job batch capacity.
	QueueCapacity int
	// PriceDecimals is the tick scale shared by all engines: prices are
	// kept as integer multiples of 10^-PriceDecimals.
	PriceDecimals int32
	// Verbose renders notifications and runtime diagnostics as console
	// lines. The typed notification stream is emitted regardless.
	Verbose bool
	// Blocking makes ExecuteBatch wait until the flushed jobs drain.
	Blocking bool
	// NoteBuffer is the capacity of the external notification channel;
	// it drops on overflow.
	NoteBuffer int
}

// DefaultConfig returns a Config with reasonable defaults.
func DefaultConfig() Config {
	return Config{
		Workers:         4,
		DefaultCapacity: 100000,
		BatchSize:       0,
		QueueCapacity:   16384,
		PriceDecimals:   2,
		Verbose:         true,
		Blocking:        true,
		NoteBuffer:      1024,
	}
}
