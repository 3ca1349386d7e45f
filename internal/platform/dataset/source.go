package dataset

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectGetter is the subset of the S3 client used to fetch datasets.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Loader resolves a dataset source, either a local path or an
// s3://bucket/key URI, into a Table.
type Loader struct {
	newS3 func(ctx context.Context) (ObjectGetter, error)
}

// NewLoader returns a Loader that builds its S3 client lazily from the AWS
// default credential chain. AWS_ENDPOINT_URL points it at S3-compatible
// stores such as MinIO or LocalStack.
func NewLoader() *Loader {
	return &Loader{newS3: defaultS3Client}
}

// NewLoaderWithS3 returns a Loader that uses the given client for s3:// sources.
func NewLoaderWithS3(client ObjectGetter) *Loader {
	return &Loader{newS3: func(context.Context) (ObjectGetter, error) { return client, nil }}
}

func defaultS3Client(ctx context.Context) (ObjectGetter, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	}), nil
}

// Load reads the dataset named by source.
func (l *Loader) Load(ctx context.Context, source string) (*Table, error) {
	if strings.HasPrefix(source, "s3://") {
		return l.loadS3(ctx, source)
	}
	f, err := os.Open(source)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()
	return Decode(source, f)
}

func (l *Loader) loadS3(ctx context.Context, source string) (*Table, error) {
	bucket, key, err := ParseS3URI(source)
	if err != nil {
		return nil, err
	}
	client, err := l.newS3(ctx)
	if err != nil {
		return nil, err
	}
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get s3 object %s: %w", source, err)
	}
	defer out.Body.Close()
	return Decode(key, out.Body)
}

// ParseS3URI splits s3://bucket/key into its parts.
func ParseS3URI(uri string) (bucket, key string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("parse s3 uri: %w", err)
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("invalid s3 uri %q: want s3://bucket/key", uri)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", fmt.Errorf("invalid s3 uri %q: missing object key", uri)
	}
	return u.Host, key, nil
}
