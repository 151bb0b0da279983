package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/ruteri/principality/config"
	"github.com/ruteri/principality/interfaces"
)

// s3Bucket addresses the objects of one namespace in a bucket:
//
//	<namespace>/blobs/<path>
//	<namespace>/values/<escaped key>.json
type s3Bucket struct {
	client s3iface.S3API
	bucket string
	prefix string
	log    *slog.Logger
}

func (b *s3Bucket) put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := b.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload object to S3: %w", err)
	}
	b.log.Debug("Stored object in S3",
		slog.String("bucket", b.bucket),
		slog.String("key", key),
		slog.Int("size", len(data)))
	return nil
}

func (b *s3Bucket) get(ctx context.Context, key string) ([]byte, bool, error) {
	result, err := b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			b.log.Debug("Object not found in S3",
				slog.String("bucket", b.bucket),
				slog.String("key", key))
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get object from S3: %w", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read object body: %w", err)
	}
	return data, true, nil
}

func (b *s3Bucket) head(ctx context.Context, key string) (bool, error) {
	_, err := b.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to head object in S3: %w", err)
	}
	return true, nil
}

// remove succeeds for missing keys, as S3 itself does.
func (b *s3Bucket) remove(ctx context.Context, key string) error {
	_, err := b.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isS3NotFound(err) {
		return fmt.Errorf("failed to delete object from S3: %w", err)
	}
	b.log.Debug("Deleted object from S3",
		slog.String("bucket", b.bucket),
		slog.String("key", key))
	return nil
}

func isS3NotFound(err error) bool {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) && reqErr.StatusCode() == http.StatusNotFound {
		return true
	}
	return false
}

// S3Drive stores blobs as objects under <namespace>/blobs/.
type S3Drive struct {
	b *s3Bucket
}

func (d *S3Drive) key(name string) string {
	return d.b.prefix + "blobs/" + name
}

// Put uploads data as an octet-stream object.
func (d *S3Drive) Put(ctx context.Context, name string, data []byte) error {
	return d.b.put(ctx, d.key(name), data, "application/octet-stream")
}

// Get downloads the object. A missing object is reported as found=false.
func (d *S3Drive) Get(ctx context.Context, name string) ([]byte, bool, error) {
	return d.b.get(ctx, d.key(name))
}

// Stat issues a HeadObject request for the blob.
func (d *S3Drive) Stat(ctx context.Context, name string) (bool, error) {
	return d.b.head(ctx, d.key(name))
}

// Delete removes the object; S3 treats a missing key as success.
func (d *S3Drive) Delete(ctx context.Context, name string) error {
	return d.b.remove(ctx, d.key(name))
}

// List pages through every object below the blob prefix.
func (d *S3Drive) List(ctx context.Context) ([]string, error) {
	prefix := d.key("")
	names := []string{}
	err := d.b.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(d.b.bucket),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, _ bool) bool {
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.StringValue(obj.Key), prefix)
			if name == "" || strings.HasSuffix(name, "/") {
				continue
			}
			names = append(names, name)
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list objects in S3: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// Ping checks that the bucket exists and the credentials can reach it.
func (d *S3Drive) Ping(ctx context.Context) error {
	_, err := d.b.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(d.b.bucket),
	})
	if err != nil {
		return fmt.Errorf("failed to head S3 bucket %s: %w", d.b.bucket, err)
	}
	return nil
}

// S3Base stores value envelopes as JSON objects under <namespace>/values/.
type S3Base struct {
	b *s3Bucket
}

func (r *S3Base) key(key string) string {
	return r.b.prefix + "values/" + url.PathEscape(key) + ".json"
}

// Put uploads the envelope as a JSON object.
func (r *S3Base) Put(ctx context.Context, key string, record Envelope) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	return r.b.put(ctx, r.key(key), data, "application/json")
}

// Get downloads and decodes the envelope for key.
func (r *S3Base) Get(ctx context.Context, key string) (Envelope, bool, error) {
	data, found, err := r.b.get(ctx, r.key(key))
	if err != nil || !found {
		return nil, false, err
	}
	var record Envelope
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, false, fmt.Errorf("malformed record at %s: %w", r.key(key), err)
	}
	return record, true, nil
}

// Delete removes the record object for key.
func (r *S3Base) Delete(ctx context.Context, key string) error {
	return r.b.remove(ctx, r.key(key))
}

// NewS3Resources creates the blob and record resources of namespace in bucket.
func NewS3Resources(client s3iface.S3API, bucket, namespace string, log *slog.Logger) (*S3Drive, *S3Base, error) {
	if client == nil {
		return nil, nil, fmt.Errorf("%w: nil S3 client", interfaces.ErrConfiguration)
	}
	if bucket == "" {
		return nil, nil, fmt.Errorf("%w: database.s3_bucket must be set to use S3 storage", interfaces.ErrConfiguration)
	}
	if err := validateNamespace(namespace); err != nil {
		return nil, nil, err
	}
	if log == nil {
		log = slog.Default()
	}

	b := &s3Bucket{
		client: client,
		bucket: bucket,
		prefix: namespace + "/",
		log:    log,
	}
	return &S3Drive{b: b}, &S3Base{b: b}, nil
}

// parseS3Token splits an "ACCESS_KEY:SECRET_KEY" token.
func parseS3Token(token string) (accessKey, secretKey string, err error) {
	accessKey, secretKey, ok := strings.Cut(strings.TrimSpace(token), ":")
	if !ok || accessKey == "" || secretKey == "" {
		return "", "", fmt.Errorf("%w: database.s3_token must have the form ACCESS_KEY:SECRET_KEY", interfaces.ErrConfiguration)
	}
	return accessKey, secretKey, nil
}

// NewS3Client builds an S3 client from database options. A custom endpoint
// switches to path-style addressing for S3-compatible services.
func NewS3Client(cfg config.DatabaseConfig) (*s3.S3, error) {
	accessKey, secretKey, err := parseS3Token(cfg.Token("s3"))
	if err != nil {
		return nil, err
	}

	region := cfg.S3Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg := aws.Config{
		Region:      aws.String(region),
		Credentials: credentials.NewStaticCredentials(accessKey, secretKey, ""),
		MaxRetries:  aws.Int(0),
	}
	if cfg.S3Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.S3Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(&awsCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create AWS session: %v", interfaces.ErrConfiguration, err)
	}
	return s3.New(sess), nil
}

// NewS3Store creates a RemoteStore backed by an S3 bucket from database options.
func NewS3Store(cfg config.DatabaseConfig, namespace string, log *slog.Logger) (*RemoteStore, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("%w: database.s3_bucket must be set to use S3 storage", interfaces.ErrConfiguration)
	}
	client, err := NewS3Client(cfg)
	if err != nil {
		return nil, err
	}
	return newS3Store(client, cfg, namespace, log)
}

func newS3Store(client s3iface.S3API, cfg config.DatabaseConfig, namespace string, log *slog.Logger) (*RemoteStore, error) {
	drive, base, err := NewS3Resources(client, cfg.S3Bucket, namespace, log)
	if err != nil {
		return nil, err
	}

	uri := fmt.Sprintf("s3://%s/%s", cfg.S3Bucket, namespace)
	if cfg.S3Region != "" {
		uri += "?region=" + cfg.S3Region
	}
	if cfg.S3Endpoint != "" {
		sep := "?"
		if cfg.S3Region != "" {
			sep = "&"
		}
		uri += sep + "endpoint=" + url.QueryEscape(cfg.S3Endpoint)
	}

	return NewRemoteStore(namespace, drive, base, RemoteOptions{
		Service:     "s3",
		LocationURI: uri,
		Timeout:     cfg.RemoteTimeout,
		Log:         log,
	})
}
