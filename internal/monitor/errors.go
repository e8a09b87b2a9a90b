package monitor

import "errors"

var (
	// ErrNotInitialized is returned when the coordinator is used before Init
	ErrNotInitialized = errors.New("monitor not initialized")

	// ErrAlreadyInitialized is returned by a second Init call
	ErrAlreadyInitialized = errors.New("monitor already initialized")

	// ErrShutdown is returned once Shutdown has been called
	ErrShutdown = errors.New("monitor shut down")

	// ErrInvalidThreshold is returned for a non-positive threshold
	ErrInvalidThreshold = errors.New("threshold must be positive")

	// ErrNoSettingsStore is returned by Reload when no settings store is wired
	ErrNoSettingsStore = errors.New("settings store not configured")

	// ErrUnknownChannel is returned for a configuration naming a channel without a notifier
	ErrUnknownChannel = errors.New("unknown notification channel")
)
