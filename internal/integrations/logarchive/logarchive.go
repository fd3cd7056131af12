// Package logarchive is a scheduled app that copies each finished day of
// communication logs to S3 as JSON lines, ahead of retention cleanup.
package logarchive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/wolfman30/medspa-scheduling/internal/apps"
	"github.com/wolfman30/medspa-scheduling/internal/commlog"
	"github.com/wolfman30/medspa-scheduling/pkg/logging"
)

// Name is the descriptor name.
const Name = "log-archive"

const dayLayout = "2006-01-02"

// S3API is the subset of the S3 client used by the archiver.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// LogReader is the read side of the communication log.
type LogReader interface {
	ListBetween(ctx context.Context, from, to time.Time) ([]commlog.Entry, error)
}

// Config is the per-app data. LastArchived is maintained by the app.
type Config struct {
	Bucket       string `json:"bucket,omitempty"`
	Prefix       string `json:"prefix,omitempty"`
	LastArchived string `json:"last_archived,omitempty"`
}

// Archiver uploads one object per UTC day.
type Archiver struct {
	s3Client S3API
	logs     LogReader
	cfg      Config
	save     func(ctx context.Context, data json.RawMessage) error
	logger   *logging.Logger
}

// Descriptor returns the app definition. defaultBucket applies when the app
// data names none.
func Descriptor(client S3API, logs LogReader, defaultBucket string) apps.Descriptor {
	return apps.Descriptor{
		Name:   Name,
		Label:  "Communication log archive (S3)",
		Scopes: []apps.Scope{apps.ScopeScheduled},
		Build: func(app *apps.ConnectedApp, env apps.Env) (any, error) {
			if client == nil || logs == nil {
				return nil, errors.New("logarchive: s3 client and log store required")
			}
			cfg := Config{Bucket: defaultBucket, Prefix: "communication-logs/v1"}
			if err := app.DecodeData(&cfg); err != nil {
				return nil, err
			}
			if cfg.Bucket == "" {
				return nil, errors.New("logarchive: bucket required")
			}
			logger := env.Logger
			if logger == nil {
				logger = logging.Default()
			}
			return &Archiver{s3Client: client, logs: logs, cfg: cfg, save: env.SaveData, logger: logger}, nil
		},
	}
}

// Key returns the object key for day.
func (a *Archiver) Key(day time.Time) string {
	return fmt.Sprintf("%s/%d/%02d/%02d.jsonl", strings.Trim(a.cfg.Prefix, "/"), day.Year(), day.Month(), day.Day())
}

// OnTime archives the UTC day before ref unless it was already archived.
func (a *Archiver) OnTime(ctx context.Context, ref time.Time) error {
	today := ref.UTC().Truncate(24 * time.Hour)
	day := today.AddDate(0, 0, -1)
	if a.cfg.LastArchived >= day.Format(dayLayout) {
		return nil
	}

	entries, err := a.logs.ListBetween(ctx, day, today)
	if err != nil {
		return fmt.Errorf("logarchive: list logs: %w", err)
	}

	if len(entries) > 0 {
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		for i := range entries {
			if err := enc.Encode(&entries[i]); err != nil {
				return fmt.Errorf("logarchive: encode: %w", err)
			}
		}
		key := a.Key(day)
		_, err = a.s3Client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(a.cfg.Bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(buf.Bytes()),
			ContentType: aws.String("application/x-ndjson"),
		})
		if err != nil {
			return fmt.Errorf("logarchive: s3 put %s: %w", key, err)
		}
		a.logger.Info("archived communication logs to S3", "s3_key", key, "entries", len(entries))
	}

	a.cfg.LastArchived = day.Format(dayLayout)
	data, err := json.Marshal(a.cfg)
	if err != nil {
		return fmt.Errorf("logarchive: marshal state: %w", err)
	}
	if err := a.save(ctx, data); err != nil {
		return fmt.Errorf("logarchive: save state: %w", err)
	}
	return nil
}

// CheckHealth verifies the bucket is reachable with the current credentials.
func (a *Archiver) CheckHealth(ctx context.Context) error {
	if _, err := a.s3Client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(a.cfg.Bucket)}); err != nil {
		return fmt.Errorf("logarchive: head bucket: %w", err)
	}
	return nil
}

var (
	_ apps.ScheduledTask = (*Archiver)(nil)
	_ apps.HealthChecker = (*Archiver)(nil)
)
