package lookup

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/tobyh/cirrus/pkg/errors"
)

type fakeS3 struct {
	objects map[string]string // "bucket/key" -> body
	gets    int
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.gets++
	body, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New(errors.ErrCodeProvider, "no such key")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func TestResolve(t *testing.T) {
	f := &fakeS3{objects: map[string]string{"config-bucket/db/password": "s3cret\n"}}
	r := NewS3ResolverFromClient(f)

	got, err := r.Resolve(context.Background(), "s3://config-bucket/db/password")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "s3cret" {
		t.Errorf("Resolve() = %q, want %q", got, "s3cret")
	}
}

func TestResolve_BadURI(t *testing.T) {
	r := NewS3ResolverFromClient(&fakeS3{})
	for _, uri := range []string{"http://bucket/key", "s3://bucket", "s3://", "bucket/key"} {
		_, err := r.Resolve(context.Background(), uri)
		if !errors.Is(err, errors.ErrCodeUnresolvableParameter) {
			t.Errorf("Resolve(%q) = %v, want UNRESOLVABLE_PARAMETER", uri, err)
		}
	}
}

func TestResolve_MissingObject(t *testing.T) {
	r := NewS3ResolverFromClient(&fakeS3{objects: map[string]string{}})
	_, err := r.Resolve(context.Background(), "s3://bucket/key")
	if !errors.Is(err, errors.ErrCodeUnresolvableParameter) {
		t.Errorf("Resolve() = %v, want UNRESOLVABLE_PARAMETER", err)
	}
}
