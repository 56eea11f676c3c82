package recognition

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeService is a WebSocket endpoint that records credentials and inbound
// messages and lets tests answer with arbitrary payloads.
type fakeService struct {
	srv *httptest.Server

	mu        sync.Mutex
	auth      string
	apiKey    string
	texts     []string
	frames    [][]byte
	conn      *websocket.Conn
	connReady chan struct{}
}

func newFakeService(t *testing.T) *fakeService {
	t.Helper()
	fs := &fakeService{connReady: make(chan struct{})}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.mu.Lock()
		fs.auth = r.Header.Get("Authorization")
		fs.apiKey = r.Header.Get("X-CLOVASPEECH-API-KEY")
		fs.mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fs.mu.Lock()
		fs.conn = conn
		fs.mu.Unlock()
		close(fs.connReady)

		for {
			messageType, data, err := conn.ReadMessage()
			if err != nil {
				_ = conn.Close()
				return
			}
			fs.mu.Lock()
			switch messageType {
			case websocket.TextMessage:
				fs.texts = append(fs.texts, string(data))
			case websocket.BinaryMessage:
				fs.frames = append(fs.frames, data)
			}
			fs.mu.Unlock()
		}
	}))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeService) url() string {
	return "ws" + strings.TrimPrefix(fs.srv.URL, "http")
}

func (fs *fakeService) send(t *testing.T, payload string) {
	t.Helper()
	select {
	case <-fs.connReady:
	case <-time.After(2 * time.Second):
		t.Fatal("no stream connected")
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
		t.Fatalf("service send: %v", err)
	}
}

func (fs *fakeService) closeNormally(t *testing.T) {
	t.Helper()
	fs.mu.Lock()
	defer fs.mu.Unlock()
	deadline := time.Now().Add(time.Second)
	message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := fs.conn.WriteControl(websocket.CloseMessage, message, deadline); err != nil {
		t.Fatalf("service close: %v", err)
	}
}

func (fs *fakeService) textCount() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return len(fs.texts)
}

func (fs *fakeService) textAt(i int) string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.texts[i]
}

func (fs *fakeService) frameCount() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return len(fs.frames)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func dialTestStream(t *testing.T, fs *fakeService) Stream {
	t.Helper()
	dialer, err := NewWSDialer(fs.url(), "test-secret", time.Minute)
	if err != nil {
		t.Fatalf("NewWSDialer: %v", err)
	}
	stream, err := dialer.Dial(context.Background(), "Doctor")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = stream.Close() })
	return stream
}

func TestNewWSDialer(t *testing.T) {
	if _, err := NewWSDialer("", "", 0); err == nil {
		t.Error("dialer created without a secret")
	}

	d, err := NewWSDialer("", "secret", 0)
	if err != nil {
		t.Fatalf("NewWSDialer: %v", err)
	}
	if d.Endpoint != DefaultEndpoint {
		t.Errorf("Endpoint = %q, want default", d.Endpoint)
	}
	if d.IdleTimeout != DefaultIdleTimeout {
		t.Errorf("IdleTimeout = %v, want default", d.IdleTimeout)
	}
}

func TestDialSendsCredentials(t *testing.T) {
	fs := newFakeService(t)
	dialTestStream(t, fs)

	fs.mu.Lock()
	auth, apiKey := fs.auth, fs.apiKey
	fs.mu.Unlock()

	if auth != "Bearer test-secret" {
		t.Errorf("Authorization = %q", auth)
	}
	if apiKey != "test-secret" {
		t.Errorf("X-CLOVASPEECH-API-KEY = %q", apiKey)
	}
}

func TestSendConfigEnvelope(t *testing.T) {
	fs := newFakeService(t)
	stream := dialTestStream(t, fs)

	config := json.RawMessage(`{"language":"ko-KR","completion":"sync"}`)
	if err := stream.SendConfig(config); err != nil {
		t.Fatalf("SendConfig: %v", err)
	}
	waitFor(t, "config message", func() bool { return fs.textCount() == 1 })

	// The service expects the config as a JSON string nested inside a
	// config object.
	var envelope struct {
		Config struct {
			Config string `json:"config"`
		} `json:"config"`
	}
	if err := json.Unmarshal([]byte(fs.textAt(0)), &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Config.Config != string(config) {
		t.Errorf("nested config = %q, want %q", envelope.Config.Config, config)
	}
}

func TestSendAudio(t *testing.T) {
	fs := newFakeService(t)
	stream := dialTestStream(t, fs)

	if err := stream.SendAudio([]byte{0x01, 0x02, 0x03}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	waitFor(t, "audio frame", func() bool { return fs.frameCount() == 1 })
}

func TestCloseSendMessage(t *testing.T) {
	fs := newFakeService(t)
	stream := dialTestStream(t, fs)

	if err := stream.CloseSend(); err != nil {
		t.Fatalf("CloseSend: %v", err)
	}
	waitFor(t, "close message", func() bool { return fs.textCount() == 1 })

	if got := fs.textAt(0); got != `{"type":"CloseStream"}` {
		t.Errorf("close message = %s", got)
	}
}

func TestResultsUnwrapContents(t *testing.T) {
	fs := newFakeService(t)
	stream := dialTestStream(t, fs)

	fs.send(t, `{"contents":"{\"text\":\"hello\"}"}`)

	select {
	case result := <-stream.Results():
		if result.Err != nil {
			t.Fatalf("unexpected error result: %v", result.Err)
		}
		if string(result.Data) != `{"text":"hello"}` {
			t.Errorf("Data = %s", result.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no result delivered")
	}
}

func TestMalformedResultsDropped(t *testing.T) {
	fs := newFakeService(t)
	stream := dialTestStream(t, fs)

	// None of these may surface; the stream skips them and stays alive.
	fs.send(t, `not json`)
	fs.send(t, `{"contents":""}`)
	fs.send(t, `{"contents":"also not json"}`)
	fs.send(t, `{"contents":"{\"text\":\"survived\"}"}`)

	select {
	case result := <-stream.Results():
		if result.Err != nil {
			t.Fatalf("unexpected error result: %v", result.Err)
		}
		if string(result.Data) != `{"text":"survived"}` {
			t.Errorf("Data = %s, malformed payloads were not skipped", result.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no result delivered")
	}
}

func TestCleanCloseEndsResults(t *testing.T) {
	fs := newFakeService(t)
	stream := dialTestStream(t, fs)

	fs.closeNormally(t)

	select {
	case result, ok := <-stream.Results():
		if ok {
			t.Fatalf("unexpected result before close: %+v", result)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("results channel did not close")
	}
}

func TestAbruptCloseIsTerminalError(t *testing.T) {
	fs := newFakeService(t)
	stream := dialTestStream(t, fs)

	select {
	case <-fs.connReady:
	case <-time.After(2 * time.Second):
		t.Fatal("no stream connected")
	}
	fs.mu.Lock()
	_ = fs.conn.Close()
	fs.mu.Unlock()

	select {
	case result := <-stream.Results():
		if result.Err == nil {
			t.Fatalf("want terminal error result, got %+v", result)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no terminal result delivered")
	}

	// After the terminal error the channel closes.
	if _, ok := <-stream.Results(); ok {
		t.Error("results channel still open after terminal error")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	fs := newFakeService(t)
	stream := dialTestStream(t, fs)

	if err := stream.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	_ = stream.Close()
}
