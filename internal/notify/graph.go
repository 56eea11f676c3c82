package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/hanuiwon/voicebridge/internal/config"
	"github.com/hanuiwon/voicebridge/internal/util"
)

const (
	graphSendMailURL = "https://graph.microsoft.com/v1.0/users/%s/sendMail"
	graphScope       = "https://graph.microsoft.com/.default"
	tokenURLTemplate = "https://login.microsoftonline.com/%s/oauth2/v2.0/token" //nolint:gosec // URL template, not a credential

	graphHTTPTimeout = 30 * time.Second
)

// GraphClient sends alert emails via the Microsoft Graph API using
// application credentials.
type GraphClient struct {
	fromAddress string
	recipients  []string
	httpClient  *http.Client
}

// NewGraphClient creates an email client from the configured credentials.
func NewGraphClient(cfg config.EmailConfig) (*GraphClient, error) {
	if cfg.TenantID == "" || cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("graph credentials are incomplete")
	}
	if cfg.FromAddress == "" || cfg.Recipients == "" {
		return nil, fmt.Errorf("graph sender and recipients are required")
	}

	creds := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     fmt.Sprintf(tokenURLTemplate, cfg.TenantID),
		Scopes:       []string{graphScope},
	}

	var recipients []string
	for _, r := range strings.Split(cfg.Recipients, ",") {
		if addr := strings.TrimSpace(r); addr != "" {
			recipients = append(recipients, addr)
		}
	}

	client := creds.Client(context.Background())
	client.Timeout = graphHTTPTimeout

	return &GraphClient{
		fromAddress: cfg.FromAddress,
		recipients:  recipients,
		httpClient:  client,
	}, nil
}

// graphMessage is the sendMail request body.
type graphMessage struct {
	Message struct {
		Subject string `json:"subject"`
		Body    struct {
			ContentType string `json:"contentType"`
			Content     string `json:"content"`
		} `json:"body"`
		ToRecipients []graphRecipient `json:"toRecipients"`
	} `json:"message"`
	SaveToSentItems bool `json:"saveToSentItems"`
}

type graphRecipient struct {
	EmailAddress struct {
		Address string `json:"address"`
	} `json:"emailAddress"`
}

// SendAlert sends a plain-text alert email to all configured recipients.
func (g *GraphClient) SendAlert(ctx context.Context, subject, body string) error {
	var msg graphMessage
	msg.Message.Subject = subject
	msg.Message.Body.ContentType = "Text"
	msg.Message.Body.Content = body
	for _, addr := range g.recipients {
		var r graphRecipient
		r.EmailAddress.Address = addr
		msg.Message.ToRecipients = append(msg.Message.ToRecipients, r)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return util.WrapError("marshal mail message", err)
	}

	url := fmt.Sprintf(graphSendMailURL, g.fromAddress)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return util.WrapError("create mail request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return util.WrapError("send mail request", err)
	}
	defer util.SafeClose(resp.Body, "graph response body")

	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("graph sendMail returned status %d", resp.StatusCode)
	}

	return nil
}
