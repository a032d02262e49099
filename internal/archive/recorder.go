// Package archive uploads the telemetry history of a page session to S3
// once the page is left, so ducking decisions can be reviewed later.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/oszuidwest/crest/internal/types"
	"github.com/oszuidwest/crest/internal/util"
)

const (
	// MaxBufferedEvents caps the events kept per session; the oldest are dropped.
	MaxBufferedEvents = 10000

	uploadTimeout = 30000 * time.Millisecond
)

// putObjectAPI is the subset of the S3 client used for uploads.
type putObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Recorder buffers telemetry per session and uploads it as JSON lines.
type Recorder struct {
	cfg    S3Config
	client putObjectAPI
	now    func() time.Time

	mu      sync.Mutex
	buffers map[string][]types.TelemetryEvent
	wg      sync.WaitGroup
}

// NewRecorder creates a Recorder for the given bucket.
func NewRecorder(cfg S3Config) (*Recorder, error) {
	if !cfg.IsConfigured() {
		return nil, fmt.Errorf("S3 is not configured")
	}
	return newRecorder(cfg, createS3Client(&cfg)), nil
}

func newRecorder(cfg S3Config, client putObjectAPI) *Recorder {
	return &Recorder{
		cfg:     cfg,
		client:  client,
		now:     time.Now,
		buffers: make(map[string][]types.TelemetryEvent),
	}
}

// Record implements notify.Sink. Events without a session are ignored.
//
//nolint:gocritic // hugeParam: copy is acceptable for infrequent notification events
func (r *Recorder) Record(ev types.TelemetryEvent) {
	if ev.SessionID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	buf := append(r.buffers[ev.SessionID], ev)
	if len(buf) > MaxBufferedEvents {
		buf = buf[len(buf)-MaxBufferedEvents:]
	}
	r.buffers[ev.SessionID] = buf
}

// Buffered returns the number of events waiting for upload for a session.
func (r *Recorder) Buffered(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buffers[sessionID])
}

// Flush uploads and clears the buffered events of a session.
// It returns the object key, or an empty key when nothing was buffered.
func (r *Recorder) Flush(ctx context.Context, sessionID string) (string, error) {
	r.mu.Lock()
	events := r.buffers[sessionID]
	delete(r.buffers, sessionID)
	r.mu.Unlock()

	if len(events) == 0 {
		return "", nil
	}

	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for i := range events {
		if err := enc.Encode(&events[i]); err != nil {
			return "", util.WrapError("encode telemetry", err)
		}
	}

	key := r.objectKey(sessionID)
	_, err := r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(r.cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body.Bytes()),
		ContentLength: aws.Int64(int64(body.Len())),
		ContentType:   aws.String("application/x-ndjson"),
	})
	if err != nil {
		return "", util.WrapError("upload telemetry", err)
	}
	return key, nil
}

// FlushAsync uploads a session's events in the background.
func (r *Recorder) FlushAsync(sessionID string) {
	r.wg.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), uploadTimeout)
		defer cancel()

		key, err := r.Flush(ctx, sessionID)
		switch {
		case err != nil:
			slog.Error("telemetry archive failed", "session", sessionID, "error", err)
		case key != "":
			slog.Info("telemetry archived", "session", sessionID, "s3_key", key)
		}
	})
}

// Wait blocks until background uploads have finished.
func (r *Recorder) Wait() {
	r.wg.Wait()
}

// objectKey returns <prefix>/<date>/<session>-<unix ms>.jsonl.
func (r *Recorder) objectKey(sessionID string) string {
	now := r.now().UTC()
	name := fmt.Sprintf("%s-%d.jsonl", sessionID, now.UnixMilli())
	return path.Join(r.cfg.Prefix, now.Format(time.DateOnly), name)
}
