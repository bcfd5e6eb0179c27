// Package files reads tenant source documents from local disk or S3.
package files

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Source opens source documents by file name.
type Source interface {
	Open(ctx context.Context, fileName string) (io.ReadCloser, error)
}

// LocalSource reads documents from a per-tenant directory tree.
type LocalSource struct {
	baseDir string
	tenant  string
}

// NewLocalSource roots document reads at baseDir/tenant.
func NewLocalSource(baseDir, tenant string) *LocalSource {
	return &LocalSource{baseDir: baseDir, tenant: tenant}
}

func (l *LocalSource) Open(_ context.Context, fileName string) (io.ReadCloser, error) {
	clean := sanitizeKey(fileName)
	f, err := os.Open(filepath.Join(l.baseDir, l.tenant, clean))
	if err != nil {
		return nil, fmt.Errorf("open document %q: %w", clean, err)
	}
	return f, nil
}

// S3Source reads documents from an S3 bucket under a per-tenant prefix.
type S3Source struct {
	client *s3.Client
	bucket string
	tenant string
}

// S3Config configures the S3-backed document source.
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	PathStyle bool
}

// NewS3Source builds an S3-backed source for one tenant.
func NewS3Source(ctx context.Context, cfg S3Config, tenant string) (*S3Source, error) {
	client, err := newS3Client(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &S3Source{client: client, bucket: cfg.Bucket, tenant: tenant}, nil
}

func (s *S3Source) Open(ctx context.Context, fileName string) (io.ReadCloser, error) {
	key := s.tenant + "/" + sanitizeKey(fileName)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get document %q: %w", key, err)
	}
	return out.Body, nil
}

func newS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               cfg.Endpoint,
					HostnameImmutable: cfg.PathStyle,
					SigningRegion:     cfg.Region,
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
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
	}), nil
}

// sanitizeKey strips path traversal from stored file names.
func sanitizeKey(name string) string {
	clean := filepath.ToSlash(filepath.Clean("/" + name))
	return strings.TrimPrefix(clean, "/")
}
