// Package client implements the capture-side session: one outbound
// connection per role that streams gated, downsampled microphone audio to
// the bridge and surfaces transcription events to the UI consumer.
//
// The audio callback is the sole producer of frames and never blocks on
// network I/O: frames are handed to a sender goroutine through a buffered
// channel, and write failures are surfaced asynchronously as events.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hanuiwon/voicebridge/internal/audio"
	"github.com/hanuiwon/voicebridge/internal/config"
	"github.com/hanuiwon/voicebridge/internal/protocol"
	"github.com/hanuiwon/voicebridge/internal/util"
	"github.com/hanuiwon/voicebridge/internal/vad"
)

// State is the session lifecycle state.
type State int32

// Session states. Error is reachable from any non-terminal state.
const (
	StateIdle State = iota
	StateConfigSent
	StateStreaming
	StateStopping
	StateClosed
	StateError
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConfigSent:
		return "config_sent"
	case StateStreaming:
		return "streaming"
	case StateStopping:
		return "stopping"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// EventKind discriminates session events.
type EventKind int

// Session event kinds.
const (
	KindTranscription EventKind = iota
	KindError
	KindGateOpen
	KindGateClose
	KindLevel
	KindClosed
)

// Event is one observation surfaced to the UI consumer.
type Event struct {
	Kind  EventKind
	Role  string
	Data  []byte  // transcription payload (KindTranscription)
	Err   error   // KindError
	Level float64 // KindLevel
}

// Options configures a session.
type Options struct {
	// URL is the bridge endpoint, e.g. ws://localhost:3000/ws. The role is
	// appended as a query parameter.
	URL  string
	Role string

	// Config is the recognition configuration sent once at start.
	Config protocol.RecognitionConfig

	// Gate configures voice-activity gating.
	Gate vad.Config

	// Metric converts a capture buffer to a gate level. Defaults to
	// audio.Level (mean magnitude on a 0-255 scale).
	Metric func([]float32) float64

	// CaptureRate is the hardware sample rate of the buffers passed to
	// OnAudio.
	CaptureRate int
}

// OptionsFromConfig builds session options from the loaded application
// config: gate thresholds from the gate section, recognition parameters
// from the speech section.
func OptionsFromConfig(cfg *config.Config, bridgeURL, role string, captureRate int) Options {
	return Options{
		URL:  bridgeURL,
		Role: role,
		Config: protocol.RecognitionConfig{
			Language:   cfg.Speech.Language,
			Completion: cfg.Speech.Completion,
		},
		Gate: vad.Config{
			SpeechThreshold: cfg.Gate.SpeechThreshold,
			SilenceTimeout:  cfg.SilenceTimeout(),
		},
		CaptureRate: captureRate,
	}
}

const (
	frameBuffer = 32
	eventBuffer = 64
	writeWait   = 10 * time.Second
)

// Session is one live role connection. Create with New, drive with Start,
// OnAudio, and Stop, and consume Events until it closes.
type Session struct {
	opts   Options
	gate   *vad.Gate
	metric func([]float32) float64

	state  atomic.Int32
	conn   *websocket.Conn
	frames chan []byte
	events chan Event
	done   chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New returns an unstarted session in state Idle.
func New(opts Options) (*Session, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("bridge URL is required")
	}
	if opts.Role == "" {
		return nil, fmt.Errorf("role is required")
	}
	if opts.CaptureRate <= 0 {
		return nil, fmt.Errorf("capture rate must be positive")
	}
	metric := opts.Metric
	if metric == nil {
		metric = audio.Level
	}
	return &Session{
		opts:   opts,
		gate:   vad.NewGate(opts.Gate),
		metric: metric,
		frames: make(chan []byte, frameBuffer),
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
	}, nil
}

// State returns the current session state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Events returns the event channel. A KindClosed event is the last
// meaningful delivery; the channel itself stays open so concurrent audio
// callbacks can never race a close.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Start connects to the bridge and sends the configuration handshake. The
// session moves to Streaming as soon as the config write completes; the
// transport gives no explicit ack.
func (s *Session) Start(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateConfigSent)) {
		return fmt.Errorf("session already started (state %s)", s.State())
	}

	url := s.opts.URL + "?role=" + s.opts.Role
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		s.state.Store(int32(StateError))
		return util.WrapError("dial bridge", err)
	}
	s.conn = conn

	start, err := protocol.StartMessage(s.opts.Config)
	if err != nil {
		_ = conn.Close()
		s.state.Store(int32(StateError))
		return err
	}
	if err := s.write(websocket.TextMessage, start); err != nil {
		_ = conn.Close()
		s.state.Store(int32(StateError))
		return err
	}

	s.state.Store(int32(StateStreaming))
	slog.Info("session streaming", "role", s.opts.Role)

	s.wg.Add(2)
	go s.sendLoop()
	go s.readLoop()
	return nil
}

// OnAudio feeds one capture buffer into the session. It is intended to be
// called from the audio callback: it updates the gate, and while the gate is
// open and the session is streaming, converts the buffer to a frame and
// queues it without blocking. A full queue drops the newest frame with a
// logged warning rather than stalling the callback.
func (s *Session) OnAudio(samples []float32) {
	level := s.metric(samples)
	event := s.gate.Update(level, time.Now())

	s.emit(Event{Kind: KindLevel, Role: s.opts.Role, Level: level})
	if event.Opened {
		slog.Debug("speech detected", "role", s.opts.Role)
		s.emit(Event{Kind: KindGateOpen, Role: s.opts.Role})
	}
	if event.Closed {
		slog.Debug("silence confirmed", "role", s.opts.Role)
		s.emit(Event{Kind: KindGateClose, Role: s.opts.Role})
	}

	if !event.Open || s.State() != StateStreaming {
		return
	}

	frame := audio.Downsample(samples, s.opts.CaptureRate, audio.TargetSampleRate)
	select {
	case s.frames <- frame:
	default:
		slog.Warn("dropping frame: send queue full", "role", s.opts.Role)
	}
}

// Stop requests a graceful end of the session: a stop control message
// followed by the close handshake. Results already in flight are still
// delivered before the session closes. Calling Stop more than once, or
// after the session ended, is a no-op.
func (s *Session) Stop() {
	if !s.state.CompareAndSwap(int32(StateStreaming), int32(StateStopping)) {
		return
	}

	slog.Info("stopping session", "role", s.opts.Role)
	if err := s.write(websocket.TextMessage, protocol.StopMessage()); err != nil {
		slog.Warn("stop write failed", "role", s.opts.Role, "error", err)
	}
	deadline := time.Now().Add(writeWait)
	if err := s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline); err != nil {
		slog.Debug("close handshake write failed", "role", s.opts.Role, "error", err)
	}
}

// Close tears the session down immediately. Safe to call in any state, any
// number of times.
func (s *Session) Close() {
	s.shutdown(nil)
	s.wg.Wait()
}

// sendLoop is the sole writer of audio frames; the single queue preserves
// capture order end to end.
func (s *Session) sendLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case frame := <-s.frames:
			if err := s.write(websocket.BinaryMessage, frame); err != nil {
				slog.Warn("frame write failed", "role", s.opts.Role, "error", err)
				s.emit(Event{Kind: KindError, Role: s.opts.Role, Err: err})
				return
			}
		}
	}
}

// readLoop delivers bridge events to the consumer until the transport ends.
func (s *Session) readLoop() {
	defer s.wg.Done()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.State() == StateStopping || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.shutdown(nil)
			} else {
				s.shutdown(util.WrapError("read from bridge", err))
			}
			return
		}

		event, err := protocol.ParseEvent(data)
		if err != nil {
			slog.Warn("invalid event from bridge", "role", s.opts.Role, "error", err)
			continue
		}

		switch event.Type {
		case protocol.TypeTranscription:
			s.emit(Event{Kind: KindTranscription, Role: s.opts.Role, Data: event.Data})
		case protocol.TypeError:
			s.emit(Event{Kind: KindError, Role: s.opts.Role, Err: fmt.Errorf("bridge: %s", event.Message)})
		default:
			slog.Warn("unknown event type from bridge", "role", s.opts.Role, "type", event.Type)
		}
	}
}

// shutdown moves the session to its terminal state exactly once, surfacing
// err to the consumer when the end was not graceful.
func (s *Session) shutdown(err error) {
	s.closeOnce.Do(func() {
		if err != nil {
			s.state.Store(int32(StateError))
			s.emit(Event{Kind: KindError, Role: s.opts.Role, Err: err})
			slog.Error("session failed", "role", s.opts.Role, "error", err)
		} else {
			s.state.Store(int32(StateClosed))
		}
		s.emit(Event{Kind: KindClosed, Role: s.opts.Role})
		close(s.done)
		if s.conn != nil {
			_ = s.conn.Close()
		}
	})
}

// emit queues an event without blocking the producing goroutine.
func (s *Session) emit(event Event) {
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.events <- event:
	default:
		slog.Warn("dropping session event: consumer too slow", "role", s.opts.Role, "kind", event.Kind)
	}
}

// write serializes all writes to the shared connection.
func (s *Session) write(messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return util.WrapError("set write deadline", err)
	}
	if err := s.conn.WriteMessage(messageType, data); err != nil {
		return util.WrapError("write to bridge", err)
	}
	return nil
}
