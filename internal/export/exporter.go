// Package export archives closed quota periods to S3-compatible storage so
// usage history stays reportable without growing the primary database's
// working set. Reports are CSV, encrypted before upload.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dukerupert/reelsmith/internal/store"
)

// S3Client is the slice of the S3 API the exporter uses.
type S3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type Config struct {
	Bucket     string
	Prefix     string
	Region     string
	Endpoint   string
	AccessKey  string
	SecretKey  string
	Passphrase string
}

// Enabled reports whether the exporter has enough configuration to run.
func (c Config) Enabled() bool {
	return c.Bucket != "" && c.AccessKey != "" && c.SecretKey != "" && c.Passphrase != ""
}

type Exporter struct {
	cfg    Config
	usage  *store.UsageStore
	client S3Client
	logger *slog.Logger
	now    func() time.Time
}

func NewExporter(cfg Config, us *store.UsageStore, logger *slog.Logger) *Exporter {
	return &Exporter{
		cfg:    cfg,
		usage:  us,
		client: newS3Client(cfg),
		logger: logger,
		now:    time.Now,
	}
}

func newS3Client(cfg Config) *s3.Client {
	opts := s3.Options{
		Region:      cfg.Region,
		Credentials: credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

// Start runs a daily loop that exports the previous calendar month once it
// has closed. Uploads are idempotent: the object key is derived from the
// period, so re-running replaces the same report with the same content.
func (e *Exporter) Start(ctx context.Context) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		period := e.now().UTC().AddDate(0, -1, 0).Format("2006-01")
		if err := e.RunOnce(ctx, period); err != nil {
			e.logger.Error("usage export", "period", period, "error", err)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce exports one period's counters. Periods with no usage are skipped.
func (e *Exporter) RunOnce(ctx context.Context, period string) error {
	counters, err := e.usage.ListForPeriod(period)
	if err != nil {
		return fmt.Errorf("list usage: %w", err)
	}
	if len(counters) == 0 {
		return nil
	}

	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	cw.Write([]string{"user_id", "resource", "period", "count"})
	for _, c := range counters {
		cw.Write([]string{
			strconv.FormatInt(c.UserID, 10),
			c.Resource,
			c.Period,
			strconv.Itoa(c.Count),
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}

	sealed, err := Encrypt(buf.Bytes(), e.cfg.Passphrase)
	if err != nil {
		return fmt.Errorf("encrypt report: %w", err)
	}

	key := fmt.Sprintf("%susage-%s.csv.enc", e.cfg.Prefix, period)
	_, err = e.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(e.cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(sealed),
		ContentLength: aws.Int64(int64(len(sealed))),
	})
	if err != nil {
		return fmt.Errorf("upload report: %w", err)
	}

	e.logger.Info("usage report exported", "period", period, "rows", len(counters), "key", key)
	return nil
}
