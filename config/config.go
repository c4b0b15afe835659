// Package config collects every tunable number the engine names
// explicitly (§4.6, §4.7, §5 timeouts and buffer sizes) into one struct
// with sane defaults, optionally overridden from a TOML file the same
// way the teacher's own services load their deployment configuration.
// This is not a CLI (§6: "CLI / config. None"): nothing here parses
// flags or os.Args, it only loads tunables for whatever application
// shell embeds the engine.
package config

import (
	"time"

	"github.com/BurntSushi/toml"
)

// Engine holds every configurable timeout, retry count and buffer size
// the spec names. Durations are stored in milliseconds in the TOML
// representation (matching the wire's own millisecond timestamps) and
// converted to time.Duration by the accessor methods.
type Engine struct {
	MetaAckTimeoutMs int `toml:"meta_ack_timeout_ms"`
	DataAckTimeoutMs int `toml:"data_ack_timeout_ms"`
	PingTimeoutMs    int `toml:"ping_timeout_ms"`
	DrainPollMs      int `toml:"drain_poll_ms"`

	// PingSuppressWindowMs is how long any observed traffic (PING, PONG,
	// or otherwise) suppresses the next opportunistic ping (§4.4).
	PingSuppressWindowMs int `toml:"ping_suppress_window_ms"`

	DataAckRetries int `toml:"data_ack_retries"`

	ReorderBufferCapacity int `toml:"reorder_buffer_capacity"`

	// DefaultMaxPayload is used by transports that have no size
	// negotiation of their own (§3: "default 16 KiB").
	DefaultMaxPayload int `toml:"default_max_payload"`

	// DrainThreshold bounds how many frames may sit in a transport's
	// outbound queue before AwaitDrain blocks a sender (§5).
	DrainThreshold int `toml:"drain_threshold"`

	// EnableAckDatachannel/EnableAckSocket are the per-transport
	// enable_ack defaults (§4.6 step 6, §9 Open Questions).
	EnableAckDatachannel bool `toml:"enable_ack_datachannel"`
	EnableAckSocket      bool `toml:"enable_ack_socket"`

	ProgressPublishIntervalMs int `toml:"progress_publish_interval_ms"`
}

// Defaults returns the engine's built-in defaults, matching the values
// named throughout the spec: 5 s ACK/ping timeouts, 16 ms drain poll, a
// 16-entry reorder buffer, 16 KiB default max_payload, ack enabled on
// datachannel and disabled on socket, and a 1 s progress publish cap.
func Defaults() *Engine {
	return &Engine{
		MetaAckTimeoutMs:          5000,
		DataAckTimeoutMs:          5000,
		PingTimeoutMs:             5000,
		DrainPollMs:               16,
		PingSuppressWindowMs:      5000,
		DataAckRetries:            3,
		ReorderBufferCapacity:     16,
		DefaultMaxPayload:         16 * 1024,
		DrainThreshold:            64,
		EnableAckDatachannel:      true,
		EnableAckSocket:           false,
		ProgressPublishIntervalMs: 1000,
	}
}

// LoadTOML reads path and overlays its values onto Defaults(). Fields
// absent from the file keep their default value.
func LoadTOML(path string) (*Engine, error) {
	e := Defaults()
	if _, err := toml.DecodeFile(path, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) MetaAckTimeout() time.Duration {
	return time.Duration(e.MetaAckTimeoutMs) * time.Millisecond
}

func (e *Engine) DataAckTimeout() time.Duration {
	return time.Duration(e.DataAckTimeoutMs) * time.Millisecond
}

func (e *Engine) PingTimeout() time.Duration {
	return time.Duration(e.PingTimeoutMs) * time.Millisecond
}

func (e *Engine) DrainPollInterval() time.Duration {
	return time.Duration(e.DrainPollMs) * time.Millisecond
}

func (e *Engine) ProgressPublishInterval() time.Duration {
	return time.Duration(e.ProgressPublishIntervalMs) * time.Millisecond
}
