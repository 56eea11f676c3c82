// Package notify delivers operational alerts when recognition streams fail,
// so clinic staff learn about dead transcription without watching logs.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hanuiwon/voicebridge/internal/config"
)

// Notifier fans session errors out to the configured alert channels.
// Delivery is fire-and-forget: failures are logged, never propagated into
// the session path.
type Notifier struct {
	cfg *config.Config

	mu          sync.Mutex
	graphClient *GraphClient
}

// NewNotifier returns a Notifier for the given config.
func NewNotifier(cfg *config.Config) *Notifier {
	return &Notifier{cfg: cfg}
}

// SessionError reports a failed recognition stream for a role. It returns
// immediately; delivery happens in the background.
func (n *Notifier) SessionError(role, message string) {
	if n.cfg.HasWebhook() {
		go func() {
			if err := SendErrorWebhook(n.cfg.Notifications.Webhook.URL, role, message); err != nil {
				slog.Warn("webhook alert failed", "role", role, "error", err)
			}
		}()
	}

	if n.cfg.HasEmail() {
		go n.sendEmail(role, message)
	}
}

// sendEmail delivers the alert via Graph, creating the client on first use.
func (n *Notifier) sendEmail(role, message string) {
	client, err := n.getOrCreateGraphClient()
	if err != nil {
		slog.Warn("graph client unavailable", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), graphHTTPTimeout)
	defer cancel()

	subject := fmt.Sprintf("[voicebridge] recognition error for %s", role)
	body := fmt.Sprintf("Role: %s\nError: %s\nTime: %s\n", role, message, time.Now().Format(time.RFC1123))
	if err := client.SendAlert(ctx, subject, body); err != nil {
		slog.Warn("email alert failed", "role", role, "error", err)
	}
}

// getOrCreateGraphClient returns the cached Graph client, creating it if
// needed.
func (n *Notifier) getOrCreateGraphClient() (*GraphClient, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.graphClient != nil {
		return n.graphClient, nil
	}

	client, err := NewGraphClient(n.cfg.Notifications.Email)
	if err != nil {
		return nil, err
	}
	n.graphClient = client
	return client, nil
}
