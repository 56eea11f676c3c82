package vad

import (
	"testing"
	"time"
)

func TestGateDefaults(t *testing.T) {
	g := NewGate(Config{})
	if g.cfg.SpeechThreshold != DefaultSpeechThreshold {
		t.Errorf("SpeechThreshold = %v, want %v", g.cfg.SpeechThreshold, DefaultSpeechThreshold)
	}
	if g.cfg.SilenceTimeout != DefaultSilenceTimeout {
		t.Errorf("SilenceTimeout = %v, want %v", g.cfg.SilenceTimeout, DefaultSilenceTimeout)
	}
}

func TestGateOpensOnSpeech(t *testing.T) {
	g := NewGate(Config{SpeechThreshold: 20, SilenceTimeout: 1500 * time.Millisecond})
	now := time.Now()

	event := g.Update(5, now)
	if event.Open || event.Opened {
		t.Error("gate opened on silence")
	}

	event = g.Update(30, now)
	if !event.Opened || !event.Open {
		t.Errorf("gate did not open on speech: %+v", event)
	}

	// Already open: no second Opened edge.
	event = g.Update(30, now)
	if event.Opened {
		t.Error("Opened reported twice")
	}
	if !event.Open {
		t.Error("gate closed unexpectedly")
	}
}

func TestGateThresholdIsExclusive(t *testing.T) {
	g := NewGate(Config{SpeechThreshold: 20, SilenceTimeout: 1500 * time.Millisecond})
	if event := g.Update(20, time.Now()); event.Open {
		t.Error("level equal to threshold counted as speech")
	}
	if event := g.Update(20.1, time.Now()); !event.Open {
		t.Error("level just above threshold did not open the gate")
	}
}

func TestGateStaysOpenThroughBriefDips(t *testing.T) {
	g := NewGate(Config{SpeechThreshold: 20, SilenceTimeout: 1500 * time.Millisecond})
	now := time.Now()

	g.Update(30, now)

	// A dip shorter than the silence timeout must not close the gate.
	for _, offset := range []time.Duration{100, 500, 1000, 1400} {
		event := g.Update(5, now.Add(offset*time.Millisecond))
		if !event.Open || event.Closed {
			t.Fatalf("gate closed after %v of silence, before the timeout", offset*time.Millisecond)
		}
	}

	// Speech resumes: the countdown resets entirely.
	g.Update(30, now.Add(1450*time.Millisecond))
	event := g.Update(5, now.Add(1600*time.Millisecond))
	if !event.Open || event.Closed {
		t.Error("gate closed against a fresh silence countdown")
	}
}

func TestGateClosesAfterSustainedSilence(t *testing.T) {
	g := NewGate(Config{SpeechThreshold: 20, SilenceTimeout: 1500 * time.Millisecond})
	now := time.Now()

	g.Update(30, now)

	// Silence countdown starts on the first below-threshold update.
	g.Update(5, now)
	event := g.Update(5, now.Add(1499*time.Millisecond))
	if event.Closed {
		t.Error("gate closed before the silence timeout elapsed")
	}

	event = g.Update(5, now.Add(1500*time.Millisecond))
	if !event.Closed || event.Open {
		t.Errorf("gate did not close after sustained silence: %+v", event)
	}
	if g.IsOpen() {
		t.Error("IsOpen reports open after close")
	}

	// Further silence while closed is inert.
	event = g.Update(5, now.Add(2*time.Second))
	if event.Closed || event.Open {
		t.Errorf("closed gate produced an edge: %+v", event)
	}
}

// Per-callback sequence: silence, speech for two callbacks, then silence.
// The gate opens on the first loud callback and closes only once the quiet
// tail has lasted the full timeout.
func TestGateCallbackSequence(t *testing.T) {
	g := NewGate(Config{SpeechThreshold: 20, SilenceTimeout: 1500 * time.Millisecond})
	start := time.Now()
	step := 100 * time.Millisecond

	levels := []float64{5, 5, 30, 30, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5}
	var opened, closed []int
	for i, level := range levels {
		event := g.Update(level, start.Add(time.Duration(i)*step))
		if event.Opened {
			opened = append(opened, i)
		}
		if event.Closed {
			closed = append(closed, i)
		}
	}

	if len(opened) != 1 || opened[0] != 2 {
		t.Errorf("opened at callbacks %v, want [2]", opened)
	}
	// Countdown starts at callback 4 (t=400ms), so the gate closes at the
	// first callback at or past t=1900ms.
	if len(closed) != 1 || closed[0] != 19 {
		t.Errorf("closed at callbacks %v, want [19]", closed)
	}
}

func TestGateReset(t *testing.T) {
	g := NewGate(Config{SpeechThreshold: 20, SilenceTimeout: 1500 * time.Millisecond})
	g.Update(30, time.Now())
	if !g.IsOpen() {
		t.Fatal("gate did not open")
	}

	g.Reset()
	if g.IsOpen() {
		t.Error("gate open after Reset")
	}

	// Reset also clears a pending countdown.
	now := time.Now()
	g.Update(30, now)
	g.Update(5, now)
	g.Reset()
	g.Update(30, now.Add(time.Millisecond))
	event := g.Update(5, now.Add(2*time.Second))
	if event.Closed {
		t.Error("stale countdown survived Reset")
	}
}
