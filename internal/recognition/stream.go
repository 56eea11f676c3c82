// Package recognition implements the outbound leg of the bridge: one
// bidirectional streaming call per active session to the remote
// speech-recognition service.
//
// The Stream and Dialer interfaces keep the transport pluggable; tests use
// in-memory fakes, production uses the WebSocket dialer in this package.
package recognition

import (
	"context"
	"encoding/json"
)

// Result is one inbound message from the recognition service. Exactly one of
// Data or Err is set. A Result with Err set is terminal: the stream delivers
// no further results after it.
type Result struct {
	Data json.RawMessage
	Err  error
}

// Stream is one live bidirectional recognition call.
//
// SendConfig must be called exactly once, before any SendAudio. CloseSend
// half-closes the outbound direction; results already in flight are still
// delivered on Results, which is closed when the inbound direction ends.
// Close tears down both directions and is safe to call more than once.
type Stream interface {
	SendConfig(config json.RawMessage) error
	SendAudio(frame []byte) error
	Results() <-chan Result
	CloseSend() error
	Close() error
}

// Dialer opens recognition streams. Implementations attach the process-wide
// credentials to every call.
type Dialer interface {
	Dial(ctx context.Context, role string) (Stream, error)
}
