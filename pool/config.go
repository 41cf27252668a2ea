package pool

import "time"

// Config parameterizes a Pool.
type Config struct {
	Host     string
	Port     int
	TLS      bool
	Username string
	Password string

	// MinIdle is the number of sessions the pool tries to keep warm.
	MinIdle int
	// MaxOpen caps concurrent sessions to the upstream.
	MaxOpen int
	// IdleTimeout closes a session that has sat idle this long.
	IdleTimeout time.Duration
	// MaxLifetime closes a session this old regardless of use.
	MaxLifetime time.Duration
	// AcquireTimeout bounds how long Acquire waits for a free slot.
	AcquireTimeout time.Duration
	// ProbeInterval: sessions idle longer than this are health-probed
	// before being handed out, rather than on every acquisition.
	ProbeInterval time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MinIdle:        1,
		MaxOpen:        60,
		IdleTimeout:    5 * time.Minute,
		MaxLifetime:    time.Hour,
		AcquireTimeout: 30 * time.Second,
		ProbeInterval:  30 * time.Second,
	}
}
