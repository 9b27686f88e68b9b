package service

import (
	"context"
	"cyberrange_backend/internal/config"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// AttachmentStore persists challenge attachments (pcaps, binaries, zipped
// source trees) behind a pluggable backend.
type AttachmentStore interface {
	Upload(ctx context.Context, name string, reader io.Reader, size int64, contentType string) (string, error)
	Delete(ctx context.Context, name string) error
	URL(name string) string
}

type localAttachments struct {
	root string
}

func (p *localAttachments) Upload(ctx context.Context, name string, reader io.Reader, size int64, contentType string) (string, error) {
	dst := filepath.Join(p.root, name)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return "", err
	}
	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	defer out.Close()
	if _, err := io.Copy(out, reader); err != nil {
		return "", err
	}
	return p.URL(name), nil
}

func (p *localAttachments) Delete(ctx context.Context, name string) error {
	return os.Remove(filepath.Join(p.root, name))
}

func (p *localAttachments) URL(name string) string {
	return "/uploads/" + name
}

type minioAttachments struct {
	client *minio.Client
	bucket string
}

func newMinioAttachments(cfg *config.StorageConfig) (*minioAttachments, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessID, cfg.MinioSecret, ""),
		Secure: false,
	})
	if err != nil {
		return nil, err
	}
	return &minioAttachments{client: client, bucket: cfg.MinioBucket}, nil
}

func (p *minioAttachments) Upload(ctx context.Context, name string, reader io.Reader, size int64, contentType string) (string, error) {
	_, err := p.client.PutObject(ctx, p.bucket, name, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", err
	}
	return p.URL(name), nil
}

func (p *minioAttachments) Delete(ctx context.Context, name string) error {
	return p.client.RemoveObject(ctx, p.bucket, name, minio.RemoveObjectOptions{})
}

func (p *minioAttachments) URL(name string) string {
	return "/" + p.bucket + "/" + name
}

type ossAttachments struct {
	client   *oss.Client
	bucket   string
	endpoint string
}

func newOSSAttachments(cfg *config.StorageConfig) (*ossAttachments, error) {
	client, err := oss.New(cfg.OSSEndpoint, cfg.OSSAccessKey, cfg.OSSSecretKey)
	if err != nil {
		return nil, err
	}
	return &ossAttachments{client: client, bucket: cfg.OSSBucket, endpoint: cfg.OSSEndpoint}, nil
}

func (p *ossAttachments) Upload(ctx context.Context, name string, reader io.Reader, size int64, contentType string) (string, error) {
	bucket, err := p.client.Bucket(p.bucket)
	if err != nil {
		return "", err
	}
	if err := bucket.PutObject(name, reader); err != nil {
		return "", err
	}
	return p.URL(name), nil
}

func (p *ossAttachments) Delete(ctx context.Context, name string) error {
	bucket, err := p.client.Bucket(p.bucket)
	if err != nil {
		return err
	}
	return bucket.DeleteObject(name)
}

func (p *ossAttachments) URL(name string) string {
	return fmt.Sprintf("https://%s.%s/%s", p.bucket, p.endpoint, name)
}

// StorageService picks the attachment backend from configuration, falling
// back to local disk when the remote backend cannot be constructed.
type StorageService struct {
	store AttachmentStore
}

func NewStorageService(cfg *config.Config) *StorageService {
	var store AttachmentStore
	switch cfg.Storage.Type {
	case "minio":
		if p, err := newMinioAttachments(&cfg.Storage); err == nil {
			store = p
		}
	case "oss":
		if p, err := newOSSAttachments(&cfg.Storage); err == nil {
			store = p
		}
	}
	if store == nil {
		root := cfg.Storage.LocalPath
		if root == "" {
			root = "uploads"
		}
		store = &localAttachments{root: root}
	}
	return &StorageService{store: store}
}

func (s *StorageService) Upload(ctx context.Context, name string, reader io.Reader, size int64, contentType string) (string, error) {
	return s.store.Upload(ctx, name, reader, size, contentType)
}

func (s *StorageService) Delete(ctx context.Context, name string) error {
	return s.store.Delete(ctx, name)
}

func (s *StorageService) URL(name string) string {
	return s.store.URL(name)
}
