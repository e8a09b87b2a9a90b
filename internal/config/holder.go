package config

import "sync/atomic"

// Holder publishes the active configuration. The zero value holds none. Readers get a whole Config value, never a
// partially applied one.
type Holder struct {
	current atomic.Pointer[Config]
}

// Load returns the active configuration, nil until the first Swap
func (h *Holder) Load() *Config {
	return h.current.Load()
}

// Swap validates cfg and publishes it. An invalid cfg leaves the previous one active.
func (h *Holder) Swap(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	h.current.Store(cfg)
	return nil
}
