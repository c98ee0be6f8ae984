// Package s3 serves catalog buckets from AWS S3 or an S3-compatible store.
package s3

import (
	"context"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

const (
	// DefaultMaxKeys is the page size when neither the caller nor Config sets one.
	DefaultMaxKeys = 1000

	// MaxAllowedKeys is the S3 ListObjectsV2 page limit.
	MaxAllowedKeys = 1000

	// DefaultAWSRegion applies to AWS S3 when no region is configured anywhere.
	DefaultAWSRegion = "us-east-1"
)

// Config is the connection config shared by every bucket of a Resolver.
//
// Credentials come from AccessKeyID/SecretAccessKey when both are set,
// otherwise from the SDK default chain (environment, shared files with
// Profile, container or instance roles). Set Endpoint, usually with
// ForcePathStyle, for MinIO, moto and other S3-compatible stores.
type Config struct {
	// Bucket is required by New. NewResolver ignores it.
	Bucket string

	Region   string
	Endpoint string
	Profile  string

	AccessKeyID     string
	SecretAccessKey string

	ForcePathStyle bool

	// MaxKeys is the default list page size, clamped to MaxAllowedKeys.
	MaxKeys int
}

// WithBucket returns a copy of c bound to bucket.
func (c Config) WithBucket(bucket string) Config {
	c.Bucket = bucket
	return c
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	switch {
	case c.Bucket == "":
		return &ConfigError{Field: "Bucket", Message: "bucket name is required"}
	case strings.Contains(c.Bucket, "/"):
		return &ConfigError{Field: "Bucket", Message: "bucket name must not contain '/'"}
	case (c.AccessKeyID == "") != (c.SecretAccessKey == ""):
		return &ConfigError{Field: "AccessKeyID/SecretAccessKey", Message: "access key ID and secret access key must be set together"}
	}
	if c.Endpoint != "" {
		u, err := url.Parse(c.Endpoint)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return &ConfigError{Field: "Endpoint", Message: "endpoint must be an absolute URL"}
		}
	}
	return nil
}

// ConfigError is a Validate failure.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "s3 config: " + e.Field + ": " + e.Message
}

// awsConfig loads the SDK config for c.
func (c Config) awsConfig(ctx context.Context) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error
	if c.Region != "" {
		opts = append(opts, config.WithRegion(c.Region))
	}
	if c.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(c.Profile))
	}
	if c.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessKeyID, c.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}
	awsCfg.Region = resolveRegion(c.Endpoint, awsCfg.Region)
	return awsCfg, nil
}

// resolveRegion falls back to us-east-1 for AWS S3 only; S3-compatible
// endpoints get no default.
func resolveRegion(endpoint, sdkRegion string) string {
	if sdkRegion != "" || endpoint != "" {
		return sdkRegion
	}
	return DefaultAWSRegion
}

func clampMaxKeys(requested, providerDefault int) int {
	if requested <= 0 {
		requested = providerDefault
	}
	return min(requested, MaxAllowedKeys)
}
