// Package archive persists consultation transcripts to S3-compatible
// storage. Only recognized text is stored, never audio.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/hanuiwon/voicebridge/internal/config"
	"github.com/hanuiwon/voicebridge/internal/util"
)

const (
	uploadTimeout  = 30 * time.Second
	uploadAttempts = 3
)

// Transcript accumulates recognized text for one session. It is safe for
// concurrent use, though normally a single result pump feeds it.
type Transcript struct {
	role    string
	started time.Time

	mu    sync.Mutex
	lines []string
}

// NewTranscript starts an empty transcript for a role.
func NewTranscript(role string, started time.Time) *Transcript {
	return &Transcript{role: role, started: started}
}

// Append records one recognized segment. The payload is the structured
// recognition content; segments without a text field are ignored.
func (t *Transcript) Append(data json.RawMessage, at time.Time) {
	var segment struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &segment); err != nil || segment.Text == "" {
		return
	}

	t.mu.Lock()
	t.lines = append(t.lines, fmt.Sprintf("[%s] %s", at.Format("15:04:05"), segment.Text))
	t.mu.Unlock()
}

// Len returns the number of recorded segments.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.lines)
}

// Render returns the transcript as a plain-text log.
func (t *Transcript) Render() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "role: %s\nstarted: %s\n\n", t.role, t.started.Format(time.RFC3339))
	for _, line := range t.lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

// Key returns the object key for this transcript under the given prefix.
func (t *Transcript) Key(prefix string) string {
	name := fmt.Sprintf("%s/%s-%s.log",
		t.started.Format("2006-01-02"), t.role, t.started.Format("150405"))
	if prefix == "" {
		return name
	}
	return strings.TrimSuffix(prefix, "/") + "/" + name
}

// Archiver uploads finished transcripts. A nil Archiver, or one built from
// an empty config, discards transcripts silently.
type Archiver struct {
	cfg    config.ArchiveConfig
	client *s3.Client
}

// NewArchiver returns an archiver for the given settings, or nil when no
// bucket is configured.
func NewArchiver(cfg config.ArchiveConfig) *Archiver {
	if cfg.Bucket == "" || cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil
	}
	return &Archiver{cfg: cfg, client: newS3Client(cfg)}
}

// newS3Client creates an S3 client with static credentials and an optional
// custom endpoint.
func newS3Client(cfg config.ArchiveConfig) *s3.Client {
	creds := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")

	options := []func(*s3.Options){
		func(o *s3.Options) {
			o.Credentials = creds
			o.Region = "auto"
		},
	}

	if cfg.Endpoint != "" {
		options = append(options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return s3.New(s3.Options{}, options...)
}

// Store uploads a finished transcript in the background. Empty transcripts
// are skipped. Upload failures retry with exponential backoff before giving
// up with a logged error.
func (a *Archiver) Store(t *Transcript) {
	if a == nil || t.Len() == 0 {
		return
	}
	go a.upload(t)
}

func (a *Archiver) upload(t *Transcript) {
	key := t.Key(a.cfg.Prefix)
	body := []byte(t.Render())

	backoff := util.NewBackoff(2*time.Second, 30*time.Second)
	for attempt := range uploadAttempts {
		err := a.putObject(key, body)
		if err == nil {
			slog.Info("transcript archived", "role", t.role, "key", key, "bytes", len(body))
			return
		}
		slog.Warn("transcript upload failed", "role", t.role, "key", key, "attempt", attempt+1, "error", err)
		if attempt < uploadAttempts-1 {
			time.Sleep(backoff.Next())
		}
	}
	slog.Error("transcript dropped after repeated upload failures", "role", t.role, "key", key)
}

func (a *Archiver) putObject(key string, body []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), uploadTimeout)
	defer cancel()

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String("text/plain; charset=utf-8"),
	})
	return util.WrapError("upload transcript", err)
}

// TestConnection verifies S3 connectivity by uploading and deleting a probe
// object.
func (a *Archiver) TestConnection(ctx context.Context) error {
	if a == nil {
		return fmt.Errorf("archive is not configured")
	}

	testKey := fmt.Sprintf("test-connection-%d.txt", time.Now().UnixNano())
	if err := a.putObject(testKey, []byte("voicebridge connection test")); err != nil {
		return err
	}

	_, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(a.cfg.Bucket),
		Key:    aws.String(testKey),
	})
	if err != nil {
		slog.Warn("failed to delete test object", "key", testKey, "error", err)
	}
	return nil
}
