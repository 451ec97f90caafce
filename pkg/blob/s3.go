package blob

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/hashicorp/go-hclog"
)

// S3Config configures an S3Store.
type S3Config struct {
	Endpoint  string // Custom endpoint for MinIO or other S3-compatible services
	Region    string
	AccessKey string
	SecretKey string
	Timeout   time.Duration
}

// S3Store talks to S3 or a MinIO emulator. Buckets play the role of
// containers.
type S3Store struct {
	client *s3.Client
	logger hclog.Logger
}

var _ Store = (*S3Store)(nil)

func NewS3Store(ctx context.Context, cfg S3Config, logger hclog.Logger) (*S3Store, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
		config.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			// MinIO requires path-style addressing.
			o.UsePathStyle = true
		}
	})

	return &S3Store{
		client: client,
		logger: logger.Named("s3"),
	}, nil
}

func (s *S3Store) EnsureContainers(ctx context.Context, names ...string) error {
	for _, name := range names {
		_, err := s.client.CreateBucket(ctx, &s3.CreateBucketInput{
			Bucket: aws.String(name),
		})
		var (
			owned  *types.BucketAlreadyOwnedByYou
			exists *types.BucketAlreadyExists
		)
		switch {
		case err == nil:
			s.logger.Debug("created bucket", "bucket", name)
		case errors.As(err, &owned), errors.As(err, &exists):
			s.logger.Debug("bucket already exists", "bucket", name)
		default:
			return containerError(name, err)
		}
	}
	return nil
}

func (s *S3Store) CountObjects(ctx context.Context, container string) (int, error) {
	count := 0
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(container),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			var noBucket *types.NoSuchBucket
			if errors.As(err, &noBucket) {
				return 0, containerError(container, ErrContainerNotFound)
			}
			return 0, containerError(container, err)
		}
		count += len(page.Contents)
	}
	return count, nil
}
