package sse

import "time"

// Config holds configuration for change streams
type Config struct {
	// KeepAliveInterval is how often an idle stream sends a comment line so
	// proxies do not time it out
	KeepAliveInterval time.Duration
}

// DefaultConfig returns the default stream configuration
func DefaultConfig() *Config {
	return &Config{
		KeepAliveInterval: 15 * time.Second,
	}
}
