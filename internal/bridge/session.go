package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/hanuiwon/voicebridge/internal/archive"
	"github.com/hanuiwon/voicebridge/internal/metrics"
	"github.com/hanuiwon/voicebridge/internal/notify"
	"github.com/hanuiwon/voicebridge/internal/protocol"
	"github.com/hanuiwon/voicebridge/internal/recognition"
)

// maxConsecutiveWriteErrors is the point at which repeated audio write
// failures stop being transient and the stream is torn down as failed.
const maxConsecutiveWriteErrors = 5

// channelSession is the bridge-side state for one connected role. It owns
// the role's recognition stream exclusively; no other connection can reach
// it. The reader goroutine is the only caller of handleControl and
// handleAudio; the result pump runs concurrently and synchronizes through
// mu.
type channelSession struct {
	role     string
	dialer   recognition.Dialer
	defaults protocol.RecognitionConfig
	notifier *notify.Notifier
	archiver *archive.Archiver

	// send feeds the connection's writer goroutine. Events are dropped with
	// a logged warning when the client cannot keep up; the audio path never
	// blocks on a slow result consumer.
	send chan protocol.Event

	mu          sync.Mutex
	stream      recognition.Stream
	open        bool // audio may be forwarded
	halfClosed  bool // stop received, awaiting stream end
	generation  int // guards stale result pumps
	writeErrors int

	pumps sync.WaitGroup
}

func newChannelSession(role string, dialer recognition.Dialer, defaults protocol.RecognitionConfig, notifier *notify.Notifier, archiver *archive.Archiver) *channelSession {
	return &channelSession{
		role:     role,
		dialer:   dialer,
		defaults: defaults,
		notifier: notifier,
		archiver: archiver,
		send:     make(chan protocol.Event, 64),
	}
}

// handleControl processes one start or stop message.
func (s *channelSession) handleControl(ctx context.Context, ctl protocol.Control) {
	switch ctl.Type {
	case protocol.TypeStart:
		s.handleStart(ctx, ctl.Config)
	case protocol.TypeStop:
		s.handleStop()
	default:
		slog.Warn("unknown control message", "role", s.role, "type", ctl.Type)
	}
}

// handleStart opens a recognition stream for the session. A stream that is
// already open is fully closed first; each session holds at most one open
// stream at a time.
func (s *channelSession) handleStart(ctx context.Context, rawConfig json.RawMessage) {
	// The client only sends the fields it overrides; language, completion,
	// and vocabulary boostings fall back to the server configuration.
	resolved, err := protocol.ResolveStartConfig(rawConfig, s.defaults)
	if err != nil {
		s.sendEvent(protocol.ErrorEvent(err.Error()))
		return
	}
	config, err := json.Marshal(resolved)
	if err != nil {
		s.sendEvent(protocol.ErrorEvent(err.Error()))
		return
	}

	s.mu.Lock()
	if s.stream != nil {
		s.closeStreamLocked()
	}
	generation := s.generation
	s.mu.Unlock()

	slog.Info("starting recognition", "role", s.role)

	stream, err := s.dialer.Dial(ctx, s.role)
	if err != nil {
		slog.Error("recognition dial failed", "role", s.role, "error", err)
		s.sendEvent(protocol.ErrorEvent(err.Error()))
		s.notifyError(err.Error())
		return
	}

	// Config must reach the service before any audio frame.
	if err := stream.SendConfig(config); err != nil {
		slog.Error("config write failed", "role", s.role, "error", err)
		_ = stream.Close()
		s.sendEvent(protocol.ErrorEvent(err.Error()))
		s.notifyError(err.Error())
		return
	}

	transcript := archive.NewTranscript(s.role, time.Now())

	s.mu.Lock()
	// A concurrent teardown may have advanced the generation while dialing.
	if s.generation != generation {
		s.mu.Unlock()
		_ = stream.Close()
		return
	}
	s.generation++
	s.stream = stream
	s.open = true
	s.halfClosed = false
	s.writeErrors = 0
	generation = s.generation
	s.mu.Unlock()

	metrics.SessionsStarted.Inc()

	s.pumps.Add(1)
	go s.pumpResults(stream, generation, transcript)
}

// handleStop half-closes the outbound stream. Results already in flight are
// still delivered; further audio frames are dropped. Calling stop again, or
// without an open stream, is a no-op.
func (s *channelSession) handleStop() {
	s.mu.Lock()
	stream := s.stream
	shouldClose := s.open && !s.halfClosed
	if shouldClose {
		s.halfClosed = true
		s.open = false
	}
	s.mu.Unlock()

	if !shouldClose {
		return
	}

	slog.Info("stop requested", "role", s.role)
	if err := stream.CloseSend(); err != nil {
		slog.Warn("half-close failed", "role", s.role, "error", err)
	}
}

// handleAudio forwards one binary frame to the open recognition stream.
// Frames arriving while no stream is open are silently dropped, matching
// the contract that audio is only meaningful during Streaming.
func (s *channelSession) handleAudio(frame []byte) {
	s.mu.Lock()
	stream := s.stream
	forward := s.open
	s.mu.Unlock()

	if !forward || stream == nil {
		metrics.FramesDropped.Inc()
		return
	}

	if err := stream.SendAudio(frame); err != nil {
		s.onWriteError(err)
		return
	}

	metrics.FramesForwarded.Inc()
	s.mu.Lock()
	s.writeErrors = 0
	s.mu.Unlock()
}

// onWriteError counts consecutive audio write failures. A single failure is
// logged and tolerated; persistent failure degrades to a transport error and
// the stream is torn down.
func (s *channelSession) onWriteError(err error) {
	s.mu.Lock()
	s.writeErrors++
	degraded := s.writeErrors >= maxConsecutiveWriteErrors
	if degraded {
		s.closeStreamLocked()
	}
	s.mu.Unlock()

	if degraded {
		slog.Error("recognition stream failed after repeated write errors", "role", s.role, "error", err)
		metrics.StreamErrors.Inc()
		s.sendEvent(protocol.ErrorEvent(err.Error()))
		s.notifyError(err.Error())
		return
	}
	slog.Warn("audio write failed", "role", s.role, "error", err)
}

// pumpResults relays recognition results to the client until the stream
// ends. It runs concurrently with the reader loop and never blocks it.
func (s *channelSession) pumpResults(stream recognition.Stream, generation int, transcript *archive.Transcript) {
	defer s.pumps.Done()

	for result := range stream.Results() {
		if result.Err != nil {
			slog.Error("recognition stream error", "role", s.role, "error", result.Err)
			metrics.StreamErrors.Inc()

			// Drop the dead stream before telling the client, so a new
			// start observes a clean session.
			if s.finishStream(generation) {
				s.sendEvent(protocol.ErrorEvent(result.Err.Error()))
				s.notifyError(result.Err.Error())
			}
			s.archiveTranscript(transcript)
			return
		}

		metrics.TranscriptionsRelayed.Inc()
		transcript.Append(result.Data, time.Now())
		s.sendEvent(protocol.TranscriptionEvent(s.role, result.Data))
	}

	slog.Info("recognition stream ended", "role", s.role)
	s.finishStream(generation)
	s.archiveTranscript(transcript)
}

// finishStream clears the session's stream state if it still belongs to the
// given generation. It reports whether this call performed the cleanup, so
// exactly one error event reaches the client per failed stream.
func (s *channelSession) finishStream(generation int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generation != generation || s.stream == nil {
		return false
	}
	_ = s.stream.Close()
	s.stream = nil
	s.open = false
	s.halfClosed = false
	s.generation++
	return true
}

// closeStreamLocked tears down the current stream. Caller must hold mu.
// The stream's result pump observes the closed stream, archives its
// transcript, and exits on its own.
func (s *channelSession) closeStreamLocked() {
	if s.stream == nil {
		return
	}
	_ = s.stream.Close()
	s.stream = nil
	s.open = false
	s.halfClosed = false
	s.generation++
}

// teardown releases everything the connection created: the recognition
// stream, the result pump, and finally the writer channel. Safe to call
// once per connection, after the reader loop has exited.
func (s *channelSession) teardown() {
	s.mu.Lock()
	s.closeStreamLocked()
	s.mu.Unlock()

	s.pumps.Wait()
	close(s.send)
}

// archiveTranscript hands a finished transcript to the archiver at most
// once.
func (s *channelSession) archiveTranscript(t *archive.Transcript) {
	if t == nil {
		return
	}
	s.archiver.Store(t)
}

// sendEvent queues an event for the writer goroutine, dropping it with a
// warning when the client cannot keep up.
func (s *channelSession) sendEvent(event protocol.Event) {
	select {
	case s.send <- event:
	default:
		slog.Warn("dropping event: send buffer full", "role", s.role, "type", event.Type)
	}
}

func (s *channelSession) notifyError(message string) {
	if s.notifier != nil {
		s.notifier.SessionError(s.role, message)
	}
}
