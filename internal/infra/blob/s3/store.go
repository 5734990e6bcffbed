// Package s3 implements the archive store on an S3-compatible bucket
// (AWS S3 or MinIO). Keys map to object keys directly.
package s3

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"thingsync/internal/archive/core"
)

// digestKey is the user metadata entry carrying the object's sha256.
const digestKey = "sha256"

// Store is a single-bucket archive.
type Store struct {
	client *s3.Client
	bucket string
}

// Config holds construction parameters. Empty credentials fall back to the
// default AWS chain.
type Config struct {
	Region          string
	Bucket          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	PathStyle       bool
}

// New builds a store from cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &Store{client: client, bucket: cfg.Bucket}, nil
}

// Driver reports core.DriverS3.
func (s *Store) Driver() core.Driver { return core.DriverS3 }

// Bucket returns the bucket name.
func (s *Store) Bucket() string { return s.bucket }

// Write uploads the object, replacing any previous version.
func (s *Store) Write(ctx context.Context, key string, r io.Reader, opts core.WriteOptions) (core.Entry, error) {
	k, err := core.CleanKey(key)
	if err != nil {
		return core.Entry{}, err
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return core.Entry{}, fmt.Errorf("read %s: %w", k, err)
	}
	sum := sha256.Sum256(body)
	md := core.CloneMetadata(opts.Metadata)
	if md == nil {
		md = make(map[string]string, 1)
	}
	md[digestKey] = hex.EncodeToString(sum[:])
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(k),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		Metadata:      md,
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return core.Entry{}, fmt.Errorf("put %s: %w", k, err)
	}
	return s.Stat(ctx, k)
}

// Read downloads the object. The caller closes the body.
func (s *Store) Read(ctx context.Context, key string) (core.Entry, io.ReadCloser, error) {
	k, err := core.CleanKey(key)
	if err != nil {
		return core.Entry{}, nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(k)})
	if err != nil {
		return core.Entry{}, nil, mapError(k, "get", err)
	}
	entry := toEntry(k, aws.ToInt64(out.ContentLength), out.ContentType, out.ETag, out.Metadata, out.LastModified)
	return entry, out.Body, nil
}

// Stat issues a HEAD request.
func (s *Store) Stat(ctx context.Context, key string) (core.Entry, error) {
	k, err := core.CleanKey(key)
	if err != nil {
		return core.Entry{}, err
	}
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(k)})
	if err != nil {
		return core.Entry{}, mapError(k, "head", err)
	}
	return toEntry(k, aws.ToInt64(out.ContentLength), out.ContentType, out.ETag, out.Metadata, out.LastModified), nil
}

// Delete removes the object. S3 deletes are idempotent so existence is
// checked first.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	k, err := core.CleanKey(key)
	if err != nil {
		return false, err
	}
	if _, err := s.Stat(ctx, k); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(k)}); err != nil {
		return false, mapError(k, "delete", err)
	}
	return true, nil
}

// List pages through ListObjectsV2.
func (s *Store) List(ctx context.Context, prefix string) ([]core.Entry, error) {
	var out []core.Entry
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			out = append(out, core.Entry{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				Digest:       strings.Trim(aws.ToString(obj.ETag), `"`),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func toEntry(key string, size int64, contentType, etag *string, md map[string]string, lastModified *time.Time) core.Entry {
	md = core.CloneMetadata(md)
	digest := strings.Trim(aws.ToString(etag), `"`)
	if d, ok := md[digestKey]; ok {
		digest = d
		delete(md, digestKey)
	}
	if len(md) == 0 {
		md = nil
	}
	lm := time.Now().UTC()
	if lastModified != nil {
		lm = *lastModified
	}
	return core.Entry{
		Key:          key,
		Size:         size,
		ContentType:  aws.ToString(contentType),
		Digest:       digest,
		Metadata:     md,
		LastModified: lm,
	}
}

func mapError(key, op string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return fmt.Errorf("%w: %s", core.ErrNotFound, key)
		}
	}
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound {
		return fmt.Errorf("%w: %s", core.ErrNotFound, key)
	}
	return fmt.Errorf("%s %s: %w", op, key, err)
}
