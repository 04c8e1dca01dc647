package dispatch

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/platinummonkey/enx-analytics/pkg/batch"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// PutObjectAPI is the subset of *s3.Client used by S3Dispatcher
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config configures an S3Dispatcher
type S3Config struct {
	Bucket       string
	Prefix       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
	Timeout      time.Duration
	Client       ClientInfo
	Log          *logrus.Logger
}

// S3Dispatcher archives each batch envelope as one JSON object
type S3Dispatcher struct {
	api     PutObjectAPI
	bucket  string
	prefix  string
	timeout time.Duration
	client  ClientInfo
	log     *logrus.Logger
	now     func() time.Time
}

// NewS3Dispatcher loads AWS configuration and creates an S3-backed dispatcher.
// Static credentials are used when both keys are set, otherwise the default
// credential chain.
func NewS3Dispatcher(ctx context.Context, cfg S3Config) (*S3Dispatcher, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("S3 bucket is required")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return NewS3DispatcherWithAPI(client, cfg), nil
}

// NewS3DispatcherWithAPI creates a dispatcher over an existing client
func NewS3DispatcherWithAPI(api PutObjectAPI, cfg S3Config) *S3Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultHTTPTimeout
	}
	if cfg.Log == nil {
		cfg.Log = logrus.New()
	}
	return &S3Dispatcher{
		api:     api,
		bucket:  cfg.Bucket,
		prefix:  cfg.Prefix,
		timeout: cfg.Timeout,
		client:  cfg.Client,
		log:     cfg.Log,
		now:     time.Now,
	}
}

// Send implements Dispatcher
func (d *S3Dispatcher) Send(ctx context.Context, b batch.Batch) Result {
	ctx, span := tracer.Start(ctx, "dispatch.S3.Send",
		trace.WithAttributes(
			attribute.String("s3.bucket", d.bucket),
			attribute.Int64("analytics.batch_id", int64(b.ID)),
			attribute.Int("analytics.batch_size", b.Len()),
		),
	)
	defer span.End()

	start := time.Now()
	result := d.send(ctx, b)
	result.Duration = time.Since(start)

	span.SetAttributes(attribute.String("analytics.outcome", result.Outcome.String()))
	if result.Reason != nil {
		span.RecordError(result.Reason)
		span.SetStatus(codes.Error, result.Outcome.String())
	} else {
		span.SetStatus(codes.Ok, "batch archived")
	}
	return result
}

func (d *S3Dispatcher) send(ctx context.Context, b batch.Batch) Result {
	sentAt := d.now().UTC()
	data, err := json.Marshal(NewEnvelope(b, d.client, sentAt))
	if err != nil {
		return Result{Outcome: PermanentFailure, Reason: fmt.Errorf("failed to encode batch: %w", err)}
	}

	hash := sha256.Sum256(data)
	checksum := hex.EncodeToString(hash[:])
	key := d.objectKey(b, sentAt, checksum)

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	_, err = d.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(d.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"checksum-sha256": checksum,
			"batch-id":        strconv.FormatUint(b.ID, 10),
			"event-count":     strconv.Itoa(b.Len()),
		},
	})
	if err != nil {
		return classifyS3Error(err)
	}

	d.log.WithFields(logrus.Fields{
		"batch_id": b.ID,
		"key":      key,
		"events":   b.Len(),
	}).Debug("Analytics batch archived")
	return Result{Outcome: Delivered}
}

// objectKey partitions objects by day: <prefix>/2024/05/01/batch-<id>-<checksum>.json
func (d *S3Dispatcher) objectKey(b batch.Batch, sentAt time.Time, checksum string) string {
	name := fmt.Sprintf("batch-%d-%s.json", b.ID, checksum[:16])
	return path.Join(d.prefix, sentAt.Format("2006/01/02"), name)
}

func classifyS3Error(err error) Result {
	wrapped := fmt.Errorf("failed to upload batch: %w", err)

	var re *awshttp.ResponseError
	if errors.As(err, &re) {
		code := re.HTTPStatusCode()
		outcome := ClassifyStatus(code)
		if outcome == Delivered {
			// 2xx with an undecodable body; the object may not exist
			outcome = TransientFailure
		}
		return Result{Outcome: outcome, StatusCode: code, Reason: wrapped}
	}
	// No response: network failure, timeout or cancellation
	return Result{Outcome: TransientFailure, Reason: wrapped}
}
