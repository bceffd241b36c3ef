package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"voiceflow/internal/config"
)

// S3 stores audio objects under an "audio/" prefix in one bucket.
// References are object keys.
type S3 struct {
	client *s3.Client
	bucket string
}

// NewS3 builds the client, honoring a custom endpoint for
// MinIO-compatible deployments.
func NewS3(ctx context.Context, cfg config.Config) (*S3, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.S3Region),
	}
	if cfg.S3Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               cfg.S3Endpoint,
					HostnameImmutable: cfg.S3PathStyle,
					SigningRegion:     cfg.S3Region,
					Source:            aws.EndpointSourceCustom,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.S3PathStyle
	})
	return &S3{client: client, bucket: cfg.S3Bucket}, nil
}

func (s *S3) Save(ctx context.Context, recordingID, ext string, r io.Reader) (string, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	key := "audio/" + objectKey(recordingID, ext)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(MimeForRef(key)),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return key, nil
}

func (s *S3) Open(ctx context.Context, ref string) (Object, int64, time.Time, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(ref),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, 0, time.Time{}, ErrMissing
		}
		return nil, 0, time.Time{}, fmt.Errorf("get object: %w", err)
	}
	defer out.Body.Close()

	// Buffer the object so the audio endpoint can serve byte ranges
	// over a seekable reader.
	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, 0, time.Time{}, fmt.Errorf("read object: %w", err)
	}
	modTime := time.Time{}
	if out.LastModified != nil {
		modTime = *out.LastModified
	}
	return readSeekNopCloser{bytes.NewReader(body)}, int64(len(body)), modTime, nil
}

func (s *S3) Remove(ctx context.Context, ref string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(ref),
	})
	if err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

type readSeekNopCloser struct {
	*bytes.Reader
}

func (readSeekNopCloser) Close() error { return nil }
