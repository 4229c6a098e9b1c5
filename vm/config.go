package vm

// Config holds the settings applied to every instance before launch.
type Config struct {
	// MemsizeMB is the guest memory in megabytes. Zero keeps the engine default.
	MemsizeMB int

	// SMP is the number of virtual CPUs. Values below 2 keep the engine
	// default of a single CPU.
	SMP int

	// Append is extra kernel command line, appended verbatim.
	Append string
}

// Validate performs basic validation of the configuration.
func (c Config) Validate() error {
	if c.MemsizeMB < 0 {
		return ErrInvalidMemsize
	}
	if c.SMP < 0 {
		return ErrInvalidSMP
	}
	return nil
}
