package quarantine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type S3Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Prefix    string // default "quarantine/"
}

// S3Store keeps entries as JSON objects under a prefix. PutObject on an existing
// key replaces it.
type S3Store struct {
	client *minio.Client
	bucket string
	prefix string
	logger *slog.Logger
}

func NewS3Store(ctx context.Context, cfg S3Config, logger *slog.Logger) (*S3Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
		logger.Info("quarantine.s3.bucket_created", "bucket", cfg.Bucket)
	}
	return newS3Store(client, cfg, logger), nil
}

func newS3Store(client *minio.Client, cfg S3Config, logger *slog.Logger) *S3Store {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "quarantine/"
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3Store{client: client, bucket: cfg.Bucket, prefix: prefix, logger: logger}
}

func (s *S3Store) objectKey(key string) string {
	return s.prefix + key + ".json"
}

func (s *S3Store) Write(ctx context.Context, e Entry) error {
	if err := validKey(e.Key); err != nil {
		return err
	}
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	_, err = s.client.PutObject(ctx, s.bucket, s.objectKey(e.Key), bytes.NewReader(b), int64(len(b)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		s.logger.Error("quarantine.write.failed", "backend", "s3", "key", e.Key, "error", err)
		return fmt.Errorf("failed to upload to S3: %w", err)
	}
	s.logger.Info("quarantine.write.ok", "backend", "s3", "key", e.Key, "decision", e.Decision, "reason", e.Reason)
	return nil
}

func (s *S3Store) Get(ctx context.Context, key string) (Entry, error) {
	if err := validKey(key); err != nil {
		return Entry{}, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, s.objectKey(key), minio.GetObjectOptions{})
	if err != nil {
		return Entry{}, s.mapErr(key, err)
	}
	defer obj.Close()

	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(obj); err != nil {
		return Entry{}, s.mapErr(key, err)
	}
	var e Entry
	if err := json.Unmarshal(buf.Bytes(), &e); err != nil {
		return Entry{}, fmt.Errorf("decode entry %s: %w", key, err)
	}
	return e, nil
}

func (s *S3Store) List(ctx context.Context) ([]Entry, error) {
	var out []Entry
	for info := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: s.prefix, Recursive: true}) {
		if info.Err != nil {
			return nil, fmt.Errorf("list quarantine: %w", info.Err)
		}
		key := strings.TrimSuffix(strings.TrimPrefix(info.Key, s.prefix), ".json")
		e, err := s.Get(ctx, key)
		if err != nil {
			s.logger.Warn("quarantine.list.skip", "object", info.Key, "error", err)
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	if err := validKey(key); err != nil {
		return err
	}
	if _, err := s.client.StatObject(ctx, s.bucket, s.objectKey(key), minio.StatObjectOptions{}); err != nil {
		return s.mapErr(key, err)
	}
	if err := s.client.RemoveObject(ctx, s.bucket, s.objectKey(key), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete from S3: %w", err)
	}
	s.logger.Info("quarantine.delete.ok", "backend", "s3", "key", key)
	return nil
}

func (s *S3Store) mapErr(key string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return fmt.Errorf("%w: quarantine entry %s", ErrNotFound, key)
	}
	return fmt.Errorf("s3 %s: %w", key, err)
}
