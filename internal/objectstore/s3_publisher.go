// Package objectstore publishes finished audio to an S3-compatible bucket.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/voxlane/tts-worker/internal/core"
)

const initialUploadBackoff = 250 * time.Millisecond

// contentTypes maps audio formats to the MIME type stored on the object.
var contentTypes = map[string]string{
	"wav":  "audio/wav",
	"mp3":  "audio/mpeg",
	"ogg":  "audio/ogg",
	"opus": "audio/ogg",
	"flac": "audio/flac",
}

// s3API is the slice of the S3 client the publisher uses.
type s3API interface {
	PutObjectWithContext(ctx aws.Context, input *s3.PutObjectInput, opts ...request.Option) (*s3.PutObjectOutput, error)
}

// Options configures the publisher. Endpoint and path-style addressing
// support S3-compatible stores such as Garage or MinIO.
type Options struct {
	Endpoint       string
	Region         string
	AccessKey      string
	SecretKey      string
	Bucket         string
	KeyPrefix      string
	ForcePathStyle bool
	UploadRetries  int
}

// Publisher implements core.Publisher against an S3-compatible store.
type Publisher struct {
	api      s3API
	bucket   string
	prefix   string
	attempts int
	log      zerolog.Logger
}

// New creates a publisher with its own S3 session built from opts.
func New(opts Options, log zerolog.Logger) (*Publisher, error) {
	awsConfig := &aws.Config{
		Endpoint:         aws.String(opts.Endpoint),
		Region:           aws.String(opts.Region),
		Credentials:      credentials.NewStaticCredentials(opts.AccessKey, opts.SecretKey, ""),
		S3ForcePathStyle: aws.Bool(opts.ForcePathStyle),
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 session: %w", err)
	}

	return NewWithAPI(s3.New(sess), opts, log), nil
}

// NewWithAPI creates a publisher on an existing S3 client. This constructor
// is primarily for testing purposes.
func NewWithAPI(api s3API, opts Options, log zerolog.Logger) *Publisher {
	attempts := opts.UploadRetries
	if attempts < 1 {
		attempts = 1
	}

	return &Publisher{
		api:      api,
		bucket:   opts.Bucket,
		prefix:   opts.KeyPrefix,
		attempts: attempts,
		log:      log.With().Str("component", "objectstore").Logger(),
	}
}

// ObjectKey derives the deterministic storage key for a job's audio. Retried
// publishes of the same job land on the same key, so duplicates overwrite
// instead of accumulating.
func ObjectKey(prefix, jobID, format string) string {
	return prefix + "tts_" + jobID + "." + format
}

// Publish uploads the audio under the job's deterministic key and returns the
// key as the object reference. Transient failures are retried with bounded
// backoff; after exhaustion the job fails with core.ErrStorageUnavailable.
func (p *Publisher) Publish(ctx context.Context, jobID string, data []byte, format string) (string, error) {
	key := ObjectKey(p.prefix, jobID, format)

	operation := func() error {
		// Rebuilt per attempt: a failed upload may have consumed the reader.
		input := &s3.PutObjectInput{
			Bucket:      aws.String(p.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(data),
			ContentType: aws.String(contentTypeFor(format)),
		}

		_, err := p.api.PutObjectWithContext(ctx, input)
		if err != nil {
			p.log.Warn().Err(err).Str("key", key).Msg("upload attempt failed")

			return err
		}

		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(newUploadBackoff(), uint64(p.attempts-1)),
		ctx,
	)

	err := backoff.Retry(operation, policy)
	if err != nil {
		return "", fmt.Errorf("%w: uploading %q to bucket %q: %w", core.ErrStorageUnavailable, key, p.bucket, err)
	}

	p.log.Info().Str("key", key).Int("bytes", len(data)).Msg("audio uploaded")

	return key, nil
}

func newUploadBackoff() *backoff.ExponentialBackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = initialUploadBackoff

	return policy
}

func contentTypeFor(format string) string {
	contentType, ok := contentTypes[format]
	if !ok {
		return "application/octet-stream"
	}

	return contentType
}
