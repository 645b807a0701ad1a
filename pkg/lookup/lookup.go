// Package lookup resolves external parameter references addressed by
// URI, currently s3://bucket/key objects whose body is the parameter
// value.
package lookup

import (
	"context"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/tobyh/cirrus/pkg/errors"
)

// Resolver resolves one external parameter reference to its value.
type Resolver interface {
	Resolve(ctx context.Context, uri string) (string, error)
}

// S3ObjectAPI is the slice of the S3 client the resolver needs.
type S3ObjectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Resolver fetches s3://bucket/key URIs and returns the object body,
// trimmed of trailing whitespace.
type S3Resolver struct {
	client S3ObjectAPI
}

// NewS3Resolver builds a resolver for the given region using the
// default AWS credential chain.
func NewS3Resolver(ctx context.Context, region string) (*S3Resolver, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeProvider, err, "load AWS configuration")
	}
	return &S3Resolver{client: s3.NewFromConfig(cfg)}, nil
}

// NewS3ResolverFromClient wires an existing client, used by tests.
func NewS3ResolverFromClient(client S3ObjectAPI) *S3Resolver {
	return &S3Resolver{client: client}
}

// Resolve fetches the object named by an s3://bucket/key URI.
func (r *S3Resolver) Resolve(ctx context.Context, uri string) (string, error) {
	bucket, key, err := splitS3URI(uri)
	if err != nil {
		return "", err
	}
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeUnresolvableParameter, err, "fetch %s", uri)
	}
	defer out.Body.Close()
	body, err := io.ReadAll(out.Body)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeUnresolvableParameter, err, "read %s", uri)
	}
	return strings.TrimRight(string(body), "\r\n"), nil
}

func splitS3URI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", errors.New(errors.ErrCodeUnresolvableParameter, "unsupported lookup URI %q", uri)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", errors.New(errors.ErrCodeUnresolvableParameter, "malformed s3 URI %q, want s3://bucket/key", uri)
	}
	return bucket, key, nil
}
