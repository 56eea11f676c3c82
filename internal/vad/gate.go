// Package vad implements voice-activity gating for capture streams.
//
// The gate observes one energy level per audio callback and decides whether
// frames should be forwarded. It only suppresses forwarding; it never touches
// the underlying recognition stream, so reopening after a pause needs no new
// handshake.
package vad

import (
	"sync"
	"time"
)

// Default gate parameters. The threshold is on the same [0, 255] scale as
// audio.Level.
const (
	DefaultSpeechThreshold = 20.0
	DefaultSilenceTimeout  = 1500 * time.Millisecond
)

// Config holds the gate thresholds. The energy metric that produces the
// levels fed to Update is chosen by the caller; any metric monotonic with
// loudness works, as long as SpeechThreshold is on the same scale.
type Config struct {
	// SpeechThreshold is the level above which a callback counts as speech.
	SpeechThreshold float64
	// SilenceTimeout is how long the level must stay at or below the
	// threshold before the gate closes. Brief dips shorter than this do not
	// close the gate.
	SilenceTimeout time.Duration
}

// withDefaults fills zero fields with the default parameters.
func (c Config) withDefaults() Config {
	if c.SpeechThreshold == 0 {
		c.SpeechThreshold = DefaultSpeechThreshold
	}
	if c.SilenceTimeout == 0 {
		c.SilenceTimeout = DefaultSilenceTimeout
	}
	return c
}

// Event is the result of one gate update.
type Event struct {
	Open   bool    // gate state after this update
	Opened bool    // true on the update that opened the gate
	Closed bool    // true on the update that closed the gate
	Level  float64 // the level that was observed
}

// Gate is a hysteresis state machine over per-callback energy levels.
// It is safe for concurrent use, though normally a single capture callback
// drives it.
//
// Time is passed in explicitly so behavior is deterministic under test and
// independent of callback jitter.
type Gate struct {
	cfg Config

	mu              sync.Mutex
	open            bool
	silenceDeadline time.Time // zero when no silence countdown is pending
}

// NewGate returns a gate with the given config, applying defaults for zero
// fields.
func NewGate(cfg Config) *Gate {
	return &Gate{cfg: cfg.withDefaults()}
}

// Update feeds one observed level into the gate and returns the resulting
// event.
//
// A level above the threshold cancels any pending silence countdown and opens
// the gate if it was closed. A level at or below the threshold while the gate
// is open starts the countdown if none is pending; once the countdown has run
// for the full silence timeout without a qualifying level, the gate closes.
func (g *Gate) Update(level float64, now time.Time) Event {
	g.mu.Lock()
	defer g.mu.Unlock()

	event := Event{Level: level}

	if level > g.cfg.SpeechThreshold {
		g.silenceDeadline = time.Time{}
		if !g.open {
			g.open = true
			event.Opened = true
		}
		event.Open = true
		return event
	}

	if !g.open {
		return event
	}

	if g.silenceDeadline.IsZero() {
		g.silenceDeadline = now.Add(g.cfg.SilenceTimeout)
		event.Open = true
		return event
	}

	if now.Before(g.silenceDeadline) {
		event.Open = true
		return event
	}

	g.open = false
	g.silenceDeadline = time.Time{}
	event.Closed = true
	return event
}

// IsOpen reports whether the gate is currently open.
func (g *Gate) IsOpen() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.open
}

// Reset closes the gate and clears any pending silence countdown.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.open = false
	g.silenceDeadline = time.Time{}
}
