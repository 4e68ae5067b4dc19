// Package backup exports the household's policies and devices to
// S3-compatible object storage so they survive loss of the router.
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/edvin/revive/internal/model"
	"github.com/edvin/revive/internal/store"
)

// ObjectKey is where the latest snapshot is written inside the bucket.
var ObjectKey = path.Join("revive", "snapshot-latest.json")

// Uploader is the part of the S3 API the exporter needs.
type Uploader interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Policies lists stored policy records.
type Policies interface {
	All() map[string]model.PolicyRecord
}

// Devices lists known devices.
type Devices interface {
	List() []model.Device
}

// Document is the exported snapshot.
type Document struct {
	Version    int                           `json:"version"`
	Household  string                        `json:"household"`
	ExportedAt time.Time                     `json:"exported_at"`
	Policies   map[string]model.PolicyRecord `json:"policies"`
	Devices    map[string]model.Device       `json:"devices"`
}

// NewS3Client returns a path-style client for an S3-compatible endpoint.
func NewS3Client(endpoint, region, accessKey, secretKey string) *s3.Client {
	if region == "" {
		region = "us-east-1"
	}
	return s3.New(s3.Options{
		BaseEndpoint:               aws.String(endpoint),
		Region:                     region,
		Credentials:                credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		UsePathStyle:               true,
		RequestChecksumCalculation: aws.RequestChecksumCalculationWhenRequired,
	})
}

// Exporter periodically uploads a snapshot.
type Exporter struct {
	client    Uploader
	bucket    string
	household string
	interval  time.Duration
	policies  Policies
	devices   Devices
	now       func() time.Time
	logger    zerolog.Logger
}

// NewExporter creates an Exporter.
func NewExporter(client Uploader, bucket, household string, interval time.Duration, policies Policies, devices Devices, logger zerolog.Logger) *Exporter {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	return &Exporter{
		client:    client,
		bucket:    bucket,
		household: household,
		interval:  interval,
		policies:  policies,
		devices:   devices,
		now:       time.Now,
		logger:    logger.With().Str("component", "backup").Logger(),
	}
}

// Export uploads the current snapshot.
func (e *Exporter) Export(ctx context.Context) error {
	doc := Document{
		Version:    store.SchemaVersion,
		Household:  e.household,
		ExportedAt: e.now().UTC(),
		Policies:   e.policies.All(),
		Devices:    make(map[string]model.Device),
	}
	for _, d := range e.devices.List() {
		doc.Devices[d.MAC] = d
	}

	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	_, err = e.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(e.bucket),
		Key:           aws.String(ObjectKey),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String("application/json"),
		ContentLength: aws.Int64(int64(len(body))),
	})
	if err != nil {
		return fmt.Errorf("upload snapshot to %s/%s: %w", e.bucket, ObjectKey, err)
	}

	e.logger.Info().
		Str("bucket", e.bucket).
		Int("policies", len(doc.Policies)).
		Int("devices", len(doc.Devices)).
		Msg("snapshot exported")
	return nil
}

// Run exports on every interval and once more on shutdown.
func (e *Exporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			if err := e.Export(final); err != nil {
				e.logger.Warn().Err(err).Msg("final snapshot export failed")
			}
			return nil
		case <-ticker.C:
			if err := e.Export(ctx); err != nil {
				e.logger.Warn().Err(err).Msg("snapshot export failed")
			}
		}
	}
}
