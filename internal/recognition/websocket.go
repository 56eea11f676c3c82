package recognition

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hanuiwon/voicebridge/internal/metrics"
	"github.com/hanuiwon/voicebridge/internal/util"
)

const (
	// DefaultEndpoint is the public recognition gateway.
	DefaultEndpoint = "wss://clovaspeech-gw.ncloud.com/v1/stream"

	// DefaultIdleTimeout bounds how long a stream may go without any inbound
	// message before it is treated as hung.
	DefaultIdleTimeout = 5 * time.Minute

	writeWait = 10 * time.Second
)

// WSDialer dials the recognition service over WebSocket. The credentials are
// loaded once at startup and read-only afterwards.
type WSDialer struct {
	Endpoint    string
	Secret      string
	IdleTimeout time.Duration
}

// NewWSDialer returns a dialer for the given endpoint and secret, applying
// defaults for zero fields. The secret is required.
func NewWSDialer(endpoint, secret string, idleTimeout time.Duration) (*WSDialer, error) {
	if secret == "" {
		return nil, fmt.Errorf("recognition secret is required")
	}
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if idleTimeout == 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &WSDialer{Endpoint: endpoint, Secret: secret, IdleTimeout: idleTimeout}, nil
}

// Dial opens one recognition stream with call-level credential metadata and
// starts its read loop.
func (d *WSDialer) Dial(ctx context.Context, role string) (Stream, error) {
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+d.Secret)
	headers.Set("X-CLOVASPEECH-API-KEY", d.Secret)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, d.Endpoint, headers)
	if err != nil {
		if resp != nil {
			slog.Error("recognition dial failed", "role", role, "status", resp.StatusCode)
		}
		return nil, util.WrapError("dial recognition service", err)
	}

	s := &wsStream{
		conn:        conn,
		role:        role,
		idleTimeout: d.IdleTimeout,
		results:     make(chan Result, 32),
	}
	go s.readLoop()
	return s, nil
}

// configEnvelope is the first outbound message. The nested JSON-string
// payload is a quirk of the upstream service, preserved for compatibility.
type configEnvelope struct {
	Config nestedConfig `json:"config"`
}

type nestedConfig struct {
	Config string `json:"config"`
}

// closeEnvelope signals end of audio without closing the connection, so
// buffered results can still arrive.
type closeEnvelope struct {
	Type string `json:"type"`
}

// resultEnvelope is one inbound message. Contents is itself a JSON document
// serialized as a string.
type resultEnvelope struct {
	Contents string `json:"contents"`
}

// wsStream is a live recognition call over one WebSocket connection.
type wsStream struct {
	conn        *websocket.Conn
	role        string
	idleTimeout time.Duration
	results     chan Result

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (s *wsStream) SendConfig(config json.RawMessage) error {
	envelope := configEnvelope{Config: nestedConfig{Config: string(config)}}
	data, err := json.Marshal(envelope)
	if err != nil {
		return util.WrapError("marshal recognition config", err)
	}
	return s.write(websocket.TextMessage, data)
}

func (s *wsStream) SendAudio(frame []byte) error {
	return s.write(websocket.BinaryMessage, frame)
}

func (s *wsStream) Results() <-chan Result {
	return s.results
}

// CloseSend half-closes the stream: no more audio will follow, but the read
// loop keeps draining results until the service ends the stream.
func (s *wsStream) CloseSend() error {
	data, err := json.Marshal(closeEnvelope{Type: "CloseStream"})
	if err != nil {
		return util.WrapError("marshal close message", err)
	}
	return s.write(websocket.TextMessage, data)
}

// Close tears down the connection. Safe to call more than once; the read
// loop exits on the closed connection and closes the results channel.
func (s *wsStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close()
	})
	return err
}

func (s *wsStream) write(messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return util.WrapError("set write deadline", err)
	}
	if err := s.conn.WriteMessage(messageType, data); err != nil {
		return util.WrapError("write to recognition stream", err)
	}
	return nil
}

// readLoop drains inbound messages until the connection ends. Malformed
// payloads are logged and dropped without closing either side; transport
// errors are delivered once as a terminal Result.
func (s *wsStream) readLoop() {
	defer close(s.results)
	defer func() {
		_ = s.Close()
	}()

	for {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.idleTimeout)); err != nil {
			s.results <- Result{Err: util.WrapError("set read deadline", err)}
			return
		}

		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			s.results <- Result{Err: util.WrapError("read from recognition stream", err)}
			return
		}
		if messageType != websocket.TextMessage {
			slog.Warn("unexpected binary message from recognition service", "role", s.role)
			continue
		}

		var envelope resultEnvelope
		if err := json.Unmarshal(data, &envelope); err != nil {
			metrics.DecodeErrors.Inc()
			slog.Warn("dropping malformed recognition message", "role", s.role, "error", err)
			continue
		}
		if envelope.Contents == "" {
			metrics.DecodeErrors.Inc()
			slog.Warn("dropping recognition message with empty contents", "role", s.role)
			continue
		}
		if !json.Valid([]byte(envelope.Contents)) {
			metrics.DecodeErrors.Inc()
			slog.Warn("dropping recognition message with invalid contents", "role", s.role)
			continue
		}

		s.results <- Result{Data: json.RawMessage(envelope.Contents)}
	}
}
