package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sony/gobreaker/v2"

	"citycast/internal/types"
)

// S3API is the subset of the S3 client used by S3Store.
type S3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Store reads artifacts from a bucket prefix. Calls go through a circuit
// breaker; missing objects do not count as failures.
type S3Store struct {
	client  S3API
	bucket  string
	prefix  string
	breaker *gobreaker.CircuitBreaker[struct{}]
	logger  *slog.Logger
}

// NewS3Store creates a store for bucket/prefix. A non-empty prefix is treated
// as a folder.
func NewS3Store(client S3API, bucket, prefix string, logger *slog.Logger) *S3Store {
	if logger == nil {
		logger = slog.Default()
	}
	prefix = strings.TrimPrefix(prefix, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	s := &S3Store{
		client: client,
		bucket: bucket,
		prefix: prefix,
		logger: logger,
	}
	s.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "artifact-store-s3",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || isNotFound(err) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	return s
}

// Name returns the health probe name.
func (s *S3Store) Name() string { return "artifact_store_s3" }

// List returns object names directly under the prefix.
func (s *S3Store) List(ctx context.Context) ([]string, error) {
	var names []string
	err := s.guard(func() error {
		names = names[:0]
		p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
			Bucket:    aws.String(s.bucket),
			Prefix:    aws.String(s.prefix),
			Delimiter: aws.String("/"),
		})
		for p.HasMorePages() {
			page, err := p.NextPage(ctx)
			if err != nil {
				return err
			}
			for _, obj := range page.Contents {
				if obj.Key == nil {
					continue
				}
				name := strings.TrimPrefix(*obj.Key, s.prefix)
				if name == "" || strings.Contains(name, "/") {
					continue
				}
				names = append(names, name)
			}
		}
		return nil
	})
	if err != nil {
		if isNoSuchBucket(err) {
			return nil, nil
		}
		return nil, s.upstreamError("listing artifacts", err)
	}
	sort.Strings(names)
	return names, nil
}

// Open fetches one object.
func (s *S3Store) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if strings.Contains(name, "/") {
		return nil, fmt.Errorf("object name %q must not contain a path", name)
	}

	var body io.ReadCloser
	err := s.guard(func() error {
		out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.prefix + name),
		})
		if err != nil {
			return err
		}
		body = out.Body
		return nil
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%s: %w", name, ErrNotExist)
		}
		return nil, s.upstreamError("fetching "+name, err)
	}
	return body, nil
}

// Check verifies the bucket is reachable.
func (s *S3Store) Check(ctx context.Context) error {
	return s.guard(func() error {
		_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
		return err
	})
}

func (s *S3Store) guard(fn func() error) error {
	_, err := s.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

func (s *S3Store) upstreamError(op string, err error) error {
	s.logger.Error("artifact store request failed",
		"bucket", s.bucket,
		"prefix", s.prefix,
		"op", op,
		"error", err,
	)
	msg := fmt.Sprintf("%s in s3://%s/%s failed", op, s.bucket, s.prefix)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		msg = "artifact store circuit open"
	}
	return types.NewAppError(types.ErrCodeUpstreamArtifactStore, msg, err)
}

func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	var nf *s3types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}

func isNoSuchBucket(err error) bool {
	var nsb *s3types.NoSuchBucket
	return errors.As(err, &nsb)
}
