package core

import "time"

// RuntimeConfig holds the engine-level settings shared by both backends
// and the Go-backed Web APIs installed into every runtime.
type RuntimeConfig struct {
	MemoryLimitMB         int           // per-runtime memory limit, 0 for none
	SignalDialTimeout     time.Duration // handshake timeout for signal connections
	MaxSignalMessageBytes int64         // max size of a single inbound signal frame
	MinTimerInterval      time.Duration // floor applied to setInterval delays
}
