// Package archive uploads the speech event log to S3-compatible storage on a
// cron schedule.
package archive

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/robfig/cron/v3"

	"github.com/oszuidwest/zwfm-speechdetect/internal/config"
	"github.com/oszuidwest/zwfm-speechdetect/internal/eventlog"
	"github.com/oszuidwest/zwfm-speechdetect/internal/util"
)

const (
	uploadTimeout = 5 * time.Minute
	probeTimeout  = 30 * time.Second
)

// ErrNotConfigured is returned when archiving is disabled or incomplete.
var ErrNotConfigured = errors.New("archive is not configured")

// ObjectStore is the subset of the S3 client used for archiving.
type ObjectStore interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Source provides the event log content and records archive results.
type Source interface {
	ReadFrom(offset int64) ([]byte, int64, error)
	LogArchive(t eventlog.EventType, details *eventlog.ArchiveDetails) error
}

// NewS3Client creates an S3 client with static credentials. A custom
// endpoint switches to path-style addressing for S3-compatible stores.
//
//nolint:gocritic // hugeParam: called once per upload
func NewS3Client(cfg config.Snapshot) ObjectStore {
	creds := credentials.NewStaticCredentialsProvider(
		cfg.ArchiveAccessKeyID,
		cfg.ArchiveSecretAccessKey,
		"",
	)

	options := []func(*s3.Options){
		func(o *s3.Options) {
			o.Credentials = creds
			o.Region = "auto"
		},
	}

	if cfg.ArchiveEndpoint != "" {
		options = append(options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.ArchiveEndpoint)
			o.UsePathStyle = true
		})
	}

	return s3.New(s3.Options{}, options...)
}

// ObjectKey returns the object key for an upload made at t.
func ObjectKey(prefix, host string, t time.Time) string {
	t = t.UTC()
	return path.Join(prefix, host, t.Format("2006-01-02"), fmt.Sprintf("events-%d.jsonl", t.Unix()))
}

// Archiver periodically uploads new event log lines. Each upload carries the
// lines written since the previous successful upload of this process.
type Archiver struct {
	cfg *config.Config
	src Source

	newClient func(config.Snapshot) ObjectStore
	now       func() time.Time
	host      string

	mu       sync.Mutex
	offset   int64
	cron     *cron.Cron
	entry    cron.EntryID
	running  bool
	onResult func(error)
}

// New creates an Archiver reading from src.
func New(cfg *config.Config, src Source) *Archiver {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return &Archiver{
		cfg:       cfg,
		src:       src,
		newClient: NewS3Client,
		now:       time.Now,
		host:      host,
	}
}

// OnResult registers fn to be called after every upload attempt.
func (a *Archiver) OnResult(fn func(error)) {
	a.mu.Lock()
	a.onResult = fn
	a.mu.Unlock()
}

// Start schedules uploads according to the current configuration.
func (a *Archiver) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return nil
	}
	a.cron = cron.New()
	if err := a.scheduleLocked(a.cfg.Snapshot()); err != nil {
		return err
	}
	a.cron.Start()
	a.running = true
	return nil
}

// Reschedule replaces the upload job after a configuration change.
//
//nolint:gocritic // hugeParam: called only when the configuration changes
func (a *Archiver) Reschedule(cfg config.Snapshot) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		return nil
	}
	if a.entry != 0 {
		a.cron.Remove(a.entry)
		a.entry = 0
	}
	return a.scheduleLocked(cfg)
}

//nolint:gocritic // hugeParam: called only when the configuration changes
func (a *Archiver) scheduleLocked(cfg config.Snapshot) error {
	if !cfg.HasArchive() {
		slog.Info("event log archiving disabled")
		return nil
	}
	id, err := a.cron.AddFunc(cfg.ArchiveSchedule, a.runJob)
	if err != nil {
		return fmt.Errorf("invalid archive schedule %q: %w", cfg.ArchiveSchedule, err)
	}
	a.entry = id
	slog.Info("event log archiving scheduled", "schedule", cfg.ArchiveSchedule, "bucket", cfg.ArchiveBucket)
	return nil
}

// Stop cancels the schedule and waits for a running upload to finish.
func (a *Archiver) Stop() {
	a.mu.Lock()
	c := a.cron
	running := a.running
	a.running = false
	a.entry = 0
	a.mu.Unlock()

	if running {
		<-c.Stop().Done()
	}
}

// NextRun returns when the next upload is scheduled, or the zero time.
func (a *Archiver) NextRun() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running || a.entry == 0 {
		return time.Time{}
	}
	return a.cron.Entry(a.entry).Next
}

func (a *Archiver) runJob() {
	defer util.LogPanic("archive")

	ctx, cancel := context.WithTimeoutCause(context.Background(), uploadTimeout, errors.New("archive upload timeout"))
	defer cancel()

	if _, err := a.Upload(ctx); err != nil {
		slog.Error("event log archive failed", "error", err)
	}
}

// Upload sends the event log lines written since the last successful upload.
// It returns the object key, or "" when there was nothing new to archive.
func (a *Archiver) Upload(ctx context.Context) (string, error) {
	cfg := a.cfg.Snapshot()
	if !cfg.HasArchive() {
		return "", ErrNotConfigured
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	data, next, err := a.src.ReadFrom(a.offset)
	if err != nil {
		return "", util.WrapError("read event log", err)
	}
	if !hasReportableEvents(data) {
		return "", nil
	}

	key := ObjectKey(cfg.ArchivePrefix, a.host, a.now())
	client := a.newClient(cfg)
	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(cfg.ArchiveBucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/x-ndjson"),
	})
	if err != nil {
		a.logResult(eventlog.ArchiveFailed, &eventlog.ArchiveDetails{ObjectKey: key, Error: err.Error()}, err)
		return "", util.WrapError("upload event log", err)
	}

	a.offset = next
	a.logResult(eventlog.ArchiveUploaded, &eventlog.ArchiveDetails{ObjectKey: key, Bytes: int64(len(data))}, nil)
	slog.Info("event log archived", "key", key, "bytes", len(data))
	return key, nil
}

func (a *Archiver) logResult(t eventlog.EventType, details *eventlog.ArchiveDetails, uploadErr error) {
	if err := a.src.LogArchive(t, details); err != nil {
		slog.Warn("failed to log archive result", "error", err)
	}
	if a.onResult != nil {
		a.onResult(uploadErr)
	}
}

// hasReportableEvents reports whether data holds any event other than archive
// results, so an idle log does not produce an upload per run.
func hasReportableEvents(data []byte) bool {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		var ev struct {
			Type eventlog.EventType `json:"type"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue
		}
		if !eventlog.IsArchiveEvent(ev.Type) {
			return true
		}
	}
	return false
}

// TestConnection verifies bucket access by uploading and deleting a probe object.
func (a *Archiver) TestConnection(ctx context.Context) error {
	cfg := a.cfg.Snapshot()
	if cfg.ArchiveBucket == "" || cfg.ArchiveAccessKeyID == "" || cfg.ArchiveSecretAccessKey == "" {
		return ErrNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	client := a.newClient(cfg)
	testKey := path.Join(cfg.ArchivePrefix, fmt.Sprintf("test-connection-%d.txt", a.now().UnixNano()))
	testContent := []byte("ZuidWest FM speech detector connection test")

	_, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(cfg.ArchiveBucket),
		Key:           aws.String(testKey),
		Body:          bytes.NewReader(testContent),
		ContentLength: aws.Int64(int64(len(testContent))),
	})
	if err != nil {
		return fmt.Errorf("upload test file: %w", err)
	}

	_, err = client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(cfg.ArchiveBucket),
		Key:    aws.String(testKey),
	})
	if err != nil {
		slog.Warn("failed to delete test file", "key", testKey, "error", err)
	}

	return nil
}
