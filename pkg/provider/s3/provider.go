package s3

import (
	"cmp"
	"context"
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/3leaps/catalog/pkg/provider"
)

// api is the subset of *s3.Client the provider calls.
type api interface {
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Provider implements provider.Provider for one S3 bucket.
type Provider struct {
	client  api
	bucket  string
	maxKeys int
}

var (
	_ provider.Provider        = (*Provider)(nil)
	_ provider.DelimiterLister = (*Provider)(nil)
	_ provider.ObjectDeleter   = (*Provider)(nil)
	_ provider.VersionDeleter  = (*Provider)(nil)
	_ provider.Stater          = (*Provider)(nil)
)

// New binds a provider to cfg.Bucket. Credentials come from the SDK default
// chain unless cfg sets a static key pair.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	awsCfg, err := cfg.awsConfig(ctx)
	if err != nil {
		return nil, &provider.ProviderError{
			Op:       "New",
			Provider: provider.ProviderS3,
			Bucket:   cfg.Bucket,
			Err:      err,
		}
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return newWithClient(client, cfg.Bucket, cfg.MaxKeys), nil
}

func newWithClient(client api, bucket string, maxKeys int) *Provider {
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	return &Provider{client: client, bucket: bucket, maxKeys: maxKeys}
}

// Bucket returns the bucket this provider is bound to.
func (p *Provider) Bucket() string {
	return p.bucket
}

// List returns one page of every key under opts.Prefix, recursively.
func (p *Provider) List(ctx context.Context, opts provider.ListOptions) (*provider.ListResult, error) {
	out, err := p.listObjects(ctx, "List", opts.Prefix, "", opts.ContinuationToken, opts.MaxKeys)
	if err != nil {
		return nil, err
	}
	return &provider.ListResult{
		Objects:           summaries(out.Contents),
		ContinuationToken: aws.ToString(out.NextContinuationToken),
		IsTruncated:       aws.ToBool(out.IsTruncated),
	}, nil
}

// ListWithDelimiter returns one page of the direct children of opts.Prefix.
// Delimiter defaults to "/".
func (p *Provider) ListWithDelimiter(ctx context.Context, opts provider.ListWithDelimiterOptions) (*provider.ListWithDelimiterResult, error) {
	delimiter := cmp.Or(opts.Delimiter, "/")
	out, err := p.listObjects(ctx, "ListWithDelimiter", opts.Prefix, delimiter, opts.ContinuationToken, opts.MaxKeys)
	if err != nil {
		return nil, err
	}

	res := &provider.ListWithDelimiterResult{
		Objects:           summaries(out.Contents),
		CommonPrefixes:    make([]string, 0, len(out.CommonPrefixes)),
		ContinuationToken: aws.ToString(out.NextContinuationToken),
		IsTruncated:       aws.ToBool(out.IsTruncated),
	}
	for _, cp := range out.CommonPrefixes {
		if cp.Prefix != nil {
			res.CommonPrefixes = append(res.CommonPrefixes, *cp.Prefix)
		}
	}
	return res, nil
}

func (p *Provider) listObjects(ctx context.Context, op, prefix, delimiter, token string, maxKeys int) (*s3.ListObjectsV2Output, error) {
	in := &s3.ListObjectsV2Input{
		Bucket:  aws.String(p.bucket),
		MaxKeys: aws.Int32(int32(clampMaxKeys(maxKeys, p.maxKeys))),
	}
	if prefix != "" {
		in.Prefix = aws.String(prefix)
	}
	if delimiter != "" {
		in.Delimiter = aws.String(delimiter)
	}
	if token != "" {
		in.ContinuationToken = aws.String(token)
	}
	out, err := p.client.ListObjectsV2(ctx, in)
	if err != nil {
		return nil, p.wrapError(op, prefix, err)
	}
	return out, nil
}

// Head returns metadata for a single object.
func (p *Provider) Head(ctx context.Context, key string) (*provider.ObjectMeta, error) {
	output, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, p.wrapError("Head", key, err)
	}

	return &provider.ObjectMeta{
		ObjectSummary: provider.ObjectSummary{
			Key:          key,
			Size:         aws.ToInt64(output.ContentLength),
			ETag:         cleanETag(aws.ToString(output.ETag)),
			LastModified: aws.ToTime(output.LastModified),
		},
		ContentType: aws.ToString(output.ContentType),
		VersionID:   aws.ToString(output.VersionId),
		Metadata:    output.Metadata,
	}, nil
}

// DeleteObject deletes the current version of an object.
func (p *Provider) DeleteObject(ctx context.Context, key string) error {
	return p.DeleteObjectVersion(ctx, key, "")
}

// DeleteObjectVersion deletes one version of an object. An empty versionID
// deletes the current version (or writes a delete marker on versioned buckets).
func (p *Provider) DeleteObjectVersion(ctx context.Context, key, versionID string) error {
	input := &s3.DeleteObjectInput{Bucket: aws.String(p.bucket), Key: aws.String(key)}
	if versionID != "" {
		input.VersionId = aws.String(versionID)
	}
	if _, err := p.client.DeleteObject(ctx, input); err != nil {
		return p.wrapError("DeleteObject", key, err)
	}
	return nil
}

// Close is a no-op; the SDK client holds no resources that need releasing.
func (p *Provider) Close() error { return nil }

func summaries(contents []types.Object) []provider.ObjectSummary {
	objects := make([]provider.ObjectSummary, 0, len(contents))
	for _, obj := range contents {
		objects = append(objects, provider.ObjectSummary{
			Key:          aws.ToString(obj.Key),
			Size:         aws.ToInt64(obj.Size),
			ETag:         cleanETag(aws.ToString(obj.ETag)),
			LastModified: aws.ToTime(obj.LastModified),
		})
	}
	return objects
}

// errorCodes maps S3 error codes onto provider sentinels.
var errorCodes = map[string]error{
	"NoSuchKey":             provider.ErrNotFound,
	"NotFound":              provider.ErrNotFound,
	"NoSuchBucket":          provider.ErrBucketNotFound,
	"AccessDenied":          provider.ErrAccessDenied,
	"Forbidden":             provider.ErrAccessDenied,
	"InvalidAccessKeyId":    provider.ErrInvalidCredentials,
	"SignatureDoesNotMatch": provider.ErrInvalidCredentials,
	"SlowDown":              provider.ErrThrottled,
	"Throttling":            provider.ErrThrottled,
	"RequestLimitExceeded":  provider.ErrThrottled,
	"ServiceUnavailable":    provider.ErrProviderUnavailable,
	"InternalError":         provider.ErrProviderUnavailable,
}

// wrapError tags err with op and location, replacing the cause with a
// provider sentinel when the S3 failure is recognised.
func (p *Provider) wrapError(op, key string, err error) error {
	return &provider.ProviderError{
		Op:       op,
		Provider: provider.ProviderS3,
		Bucket:   p.bucket,
		Key:      key,
		Err:      classify(err),
	}
}

func classify(err error) error {
	var (
		notFound     *types.NotFound
		noSuchKey    *types.NoSuchKey
		noSuchBucket *types.NoSuchBucket
		apiErr       smithy.APIError
	)
	switch {
	case errors.As(err, &notFound), errors.As(err, &noSuchKey):
		return provider.ErrNotFound
	case errors.As(err, &noSuchBucket):
		return provider.ErrBucketNotFound
	case errors.As(err, &apiErr):
		if sentinel, ok := errorCodes[apiErr.ErrorCode()]; ok {
			return sentinel
		}
		return err
	}

	// Some S3-compatible stores only put the code in the message.
	msg := err.Error()
	for code, sentinel := range errorCodes {
		if strings.Contains(msg, code) {
			return sentinel
		}
	}
	return err
}

func cleanETag(etag string) string {
	return strings.Trim(etag, `"`)
}
