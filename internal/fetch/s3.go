package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// ObjectGetter is the slice of the S3 API the source needs.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Source downloads s3://bucket/key URLs. The client is built on first use
// from the shared AWS config for Profile.
type S3Source struct {
	Profile string

	once   sync.Once
	client ObjectGetter
	err    error
}

func NewS3Source(profile string) *S3Source {
	return &S3Source{Profile: profile}
}

// NewS3SourceWithClient skips AWS config loading.
func NewS3SourceWithClient(client ObjectGetter) *S3Source {
	s := &S3Source{client: client}
	s.once.Do(func() {})
	return s
}

func (s *S3Source) getClient(ctx context.Context) (ObjectGetter, error) {
	s.once.Do(func() {
		opts := []func(*config.LoadOptions) error{config.WithRetryMode(aws.RetryModeAdaptive)}
		if s.Profile != "" {
			opts = append(opts, config.WithSharedConfigProfile(s.Profile))
		}
		cfg, err := config.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			s.err = fmt.Errorf("error loading AWS config: %w", err)
			return
		}
		s.client = s3.NewFromConfig(cfg)
	})
	return s.client, s.err
}

// ParseS3URL splits s3://bucket/key.
func ParseS3URL(rawURL string) (string, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid S3 URL: %w", err)
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("not an S3 URL: %s", rawURL)
	}
	key := strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" || strings.HasSuffix(key, "/") {
		return "", "", fmt.Errorf("S3 URL needs a bucket and an object key: %s", rawURL)
	}
	return u.Host, key, nil
}

func (s *S3Source) Download(ctx context.Context, rawURL, tempDir string) (*Transfer, error) {
	bucket, key, err := ParseS3URL(rawURL)
	if err != nil {
		return nil, err
	}
	client, err := s.getClient(ctx)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("op", "fetch/s3").Msgf("getting s3://%s/%s", bucket, key)
	result, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("error getting object: %w", err)
	}
	defer result.Body.Close()
	tempPath, size, err := WritePart(tempDir, result.Body)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	if result.ContentType != nil {
		header.Set("Content-Type", *result.ContentType)
	}
	if result.ContentDisposition != nil {
		header.Set("Content-Disposition", *result.ContentDisposition)
	}
	return &Transfer{URL: rawURL, TempPath: tempPath, Size: size, Header: header}, nil
}
