package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"gradi/internal/awsclient"
	"gradi/internal/logging"
	"gradi/internal/services"
)

// S3Config selects the bucket and endpoint of the S3 backend.
type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string
}

// s3API is the subset of the SDK client used here.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3 is a Store backed by one S3 bucket.
type S3 struct {
	client s3API
	bucket string
	logger *slog.Logger
}

// NewS3 builds an S3 store from the ambient AWS configuration.
func NewS3(ctx context.Context, cfg S3Config, logger *slog.Logger) (*S3, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "objectstore", "s3", "bucket is required", nil)
	}
	awsCfg, err := awsclient.Load(ctx, cfg.Region, cfg.Endpoint)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "objectstore", "s3", "load aws config", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint := awsclient.Endpoint(cfg.Endpoint); endpoint != nil {
			o.BaseEndpoint = endpoint
			o.UsePathStyle = true
		}
	})
	return newS3WithClient(client, cfg.Bucket, logger), nil
}

func newS3WithClient(client s3API, bucket string, logger *slog.Logger) *S3 {
	return &S3{client: client, bucket: bucket, logger: logging.NewComponentLogger(logger, "objectstore")}
}

// Bucket returns the configured bucket name.
func (s *S3) Bucket() string {
	return s.bucket
}

func (s *S3) Put(ctx context.Context, key string, body []byte, contentType string) error {
	in := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, in); err != nil {
		return services.Wrap(services.ErrTransient, "objectstore", "put", key, err)
	}
	s.logger.Debug("object uploaded", logging.String("key", key), logging.Int("bytes", len(body)))
	return nil
}

func (s *S3) Get(ctx context.Context, key string) ([]byte, error) {
	return s.GetFromBucket(ctx, s.bucket, key)
}

// GetFromBucket reads key from an arbitrary bucket.
func (s *S3) GetFromBucket(ctx context.Context, bucket, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		if isMissing(err) {
			return nil, notFound("get", key)
		}
		return nil, services.Wrap(services.ErrTransient, "objectstore", "get", key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "objectstore", "read", key, err)
	}
	return data, nil
}

func (s *S3) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	pager := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, services.Wrap(services.ErrTransient, "objectstore", "list", prefix, err)
		}
		for _, obj := range page.Contents {
			if key := aws.ToString(obj.Key); key != "" && !strings.HasSuffix(key, "/") {
				keys = append(keys, key)
			}
		}
	}
	return keys, nil
}

func (s *S3) Copy(ctx context.Context, srcKey, dstKey string) error {
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(dstKey),
		CopySource: aws.String(copySource(s.bucket, srcKey)),
	})
	if err != nil {
		if isMissing(err) {
			return notFound("copy", srcKey)
		}
		return services.Wrap(services.ErrTransient, "objectstore", "copy", fmt.Sprintf("%s -> %s", srcKey, dstKey), err)
	}
	return nil
}

func (s *S3) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err == nil {
		return true, nil
	}
	if isMissing(err) {
		return false, nil
	}
	return false, services.Wrap(services.ErrTransient, "objectstore", "head", key, err)
}

func copySource(bucket, key string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return bucket + "/" + strings.Join(segments, "/")
}

func isMissing(err error) bool {
	var noKey *types.NoSuchKey
	var notFoundErr *types.NotFound
	return errors.As(err, &noKey) || errors.As(err, &notFoundErr)
}
