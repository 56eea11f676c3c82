// Package bridge relays live microphone audio between capture clients and
// the remote speech-recognition service.
//
// Each connected role gets one WebSocket connection and at most one
// recognition stream. Within a connection, the reader loop (control and
// audio frames) and the result pump run concurrently and never block each
// other; state is confined to the connection's own goroutines.
package bridge

import (
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/hanuiwon/voicebridge/internal/archive"
	"github.com/hanuiwon/voicebridge/internal/metrics"
	"github.com/hanuiwon/voicebridge/internal/notify"
	"github.com/hanuiwon/voicebridge/internal/protocol"
	"github.com/hanuiwon/voicebridge/internal/recognition"
)

// Bridge accepts capture connections and relays them to the recognition
// service. The dialer carries the process-wide credentials; defaults fill
// the recognition parameters a start message leaves out; notifier and
// archiver may be nil.
type Bridge struct {
	dialer   recognition.Dialer
	defaults protocol.RecognitionConfig
	notifier *notify.Notifier
	archiver *archive.Archiver

	active atomic.Int64
}

// New returns a Bridge using the given recognition dialer.
func New(dialer recognition.Dialer, defaults protocol.RecognitionConfig, notifier *notify.Notifier, archiver *archive.Archiver) *Bridge {
	return &Bridge{dialer: dialer, defaults: defaults, notifier: notifier, archiver: archiver}
}

// ActiveSessions returns the number of currently connected roles.
func (b *Bridge) ActiveSessions() int {
	return int(b.active.Load())
}

// HandleWebSocket upgrades the connection and services it until the client
// disconnects. The role comes from the connection's query parameters.
func (b *Bridge) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	role := r.URL.Query().Get("role")
	if role == "" {
		role = protocol.DefaultRole
	}

	slog.Info("client connected", "role", role)
	b.active.Add(1)
	metrics.ActiveSessions.Inc()
	defer func() {
		b.active.Add(-1)
		metrics.ActiveSessions.Dec()
		slog.Info("client disconnected", "role", role)
	}()

	session := newChannelSession(role, b.dialer, b.defaults, b.notifier, b.archiver)

	// Writer goroutine - sole writer to the connection.
	go runWriter(conn, session.send)

	b.runReader(r, conn, session)
}

// runWriter writes events from the send channel to the connection and
// closes the connection when the channel is closed.
func runWriter(conn *websocket.Conn, send <-chan protocol.Event) {
	defer func() {
		if err := conn.Close(); err != nil {
			slog.Debug("WebSocket close error", "error", err)
		}
	}()
	for event := range send {
		if err := conn.WriteJSON(event); err != nil {
			return
		}
	}
}

// runReader reads frames from the connection until it closes, then tears
// the session down. Inbound disconnect closes the recognition stream within
// bounded time; no background resource outlives the connection.
func (b *Bridge) runReader(r *http.Request, conn *websocket.Conn, session *channelSession) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("panic in WebSocket reader", "role", session.role, "panic", rec)
		}
		session.teardown()
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			session.handleAudio(data)
		case websocket.TextMessage:
			ctl, err := protocol.ParseControl(data)
			if err != nil {
				slog.Warn("invalid control message", "role", session.role, "error", err)
				continue
			}
			session.handleControl(r.Context(), ctl)
		}
	}
}
