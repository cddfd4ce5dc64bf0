package kv

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const DefaultS3Prefix = "robofleet/cache"

// S3Config locates the bucket that mirrors the cache.
type S3Config struct {
	Endpoint      string
	Bucket        string
	Prefix        string
	Region        string
	AccessKeyFile string
	SecretKeyFile string
}

// S3 stores each key as an object, for clients that share a cache across devices.
type S3 struct {
	client *minio.Client
	bucket string
	prefix string
}

func NewS3(cfg S3Config) (*S3, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	bucket := strings.TrimSpace(cfg.Bucket)
	prefix := strings.TrimSpace(cfg.Prefix)
	if endpoint == "" || bucket == "" || cfg.AccessKeyFile == "" || cfg.SecretKeyFile == "" {
		return nil, fmt.Errorf("missing s3 cache configuration")
	}

	accessKey, err := readSecretFile(cfg.AccessKeyFile)
	if err != nil {
		return nil, fmt.Errorf("read s3 access key: %w", err)
	}
	secretKey, err := readSecretFile(cfg.SecretKeyFile)
	if err != nil {
		return nil, fmt.Errorf("read s3 secret key: %w", err)
	}

	host, secure, err := parseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}

	client, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
		Region: strings.TrimSpace(cfg.Region),
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}

	if prefix == "" {
		prefix = DefaultS3Prefix
	}
	return &S3{client: client, bucket: bucket, prefix: prefix}, nil
}

func (s *S3) Get(ctx context.Context, key string) (string, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.objectKey(key), minio.GetObjectOptions{})
	if err != nil {
		return "", s.wrapError(err)
	}
	defer obj.Close()

	if _, err := obj.Stat(); err != nil {
		return "", s.wrapError(err)
	}
	data, err := io.ReadAll(obj)
	if err != nil {
		return "", fmt.Errorf("read object: %w", err)
	}
	return string(data), nil
}

func (s *S3) Set(ctx context.Context, key, value string) error {
	reader := strings.NewReader(value)
	_, err := s.client.PutObject(ctx, s.bucket, s.objectKey(key), reader, int64(reader.Len()), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return s.wrapError(err)
	}
	return nil
}

func (s *S3) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, s.objectKey(key), minio.RemoveObjectOptions{}); err != nil {
		if err := s.wrapError(err); err != ErrNotFound {
			return err
		}
	}
	return nil
}

func (s *S3) objectKey(key string) string {
	return path.Join(s.prefix, key+".json")
}

func (s *S3) wrapError(err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" {
		return ErrNotFound
	}
	return err
}

func parseEndpoint(raw string) (string, bool, error) {
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", false, fmt.Errorf("parse endpoint: %w", err)
		}
		if u.Host == "" {
			return "", false, fmt.Errorf("invalid endpoint: %q", raw)
		}
		return u.Host, u.Scheme == "https", nil
	}
	return raw, true, nil
}
