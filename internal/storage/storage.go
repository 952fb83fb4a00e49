package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/cutroom/cutroom/internal/config"
	"github.com/cutroom/cutroom/internal/logging"
	"github.com/cutroom/cutroom/internal/metrics"
	"github.com/cutroom/cutroom/pkg/models"
)

// Storage provides object storage operations
type Storage struct {
	client     *minio.Client
	bucketName string
	publicURL  string
	urlExpiry  time.Duration
	logger     *logging.Logger
}

// New creates a new storage client
func New(cfg config.StorageConfig, logger *logging.Logger) (*Storage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	// Ensure bucket exists
	ctx := context.Background()
	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		err = client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{
			Region: cfg.Region,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	if logger == nil {
		logger = logging.Nop()
	}

	expiry := cfg.URLExpiry
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}

	return &Storage{
		client:     client,
		bucketName: cfg.BucketName,
		publicURL:  strings.TrimSuffix(cfg.PublicURL, "/"),
		urlExpiry:  expiry,
		logger:     logger,
	}, nil
}

// PublishExport uploads a finished export and returns the URL clients download it from
func (s *Storage) PublishExport(ctx context.Context, exportID, path, container string) (string, error) {
	objectName := ExportObjectName(exportID, container)
	if err := s.UploadFile(ctx, objectName, path); err != nil {
		return "", err
	}
	if s.publicURL != "" {
		return PublicObjectURL(s.publicURL, s.bucketName, objectName), nil
	}
	return s.GetURL(ctx, objectName)
}

// UploadFile uploads a file from local filesystem
func (s *Storage) UploadFile(ctx context.Context, objectName, filePath string) error {
	start := time.Now()

	var size int64
	if info, err := os.Stat(filePath); err == nil {
		size = info.Size()
	}

	_, err := s.client.FPutObject(ctx, s.bucketName, objectName, filePath, minio.PutObjectOptions{
		ContentType: getContentType(filePath),
	})
	s.logger.LogStorageOperation("upload", s.bucketName, objectName, size, time.Since(start), err)
	if err != nil {
		metrics.RecordStorageOperation("upload", "error", time.Since(start).Seconds(), 0)
		return fmt.Errorf("failed to upload file: %w", err)
	}

	metrics.RecordStorageOperation("upload", "success", time.Since(start).Seconds(), size)
	return nil
}

// DeleteExports removes the published artifacts of finished exports
func (s *Storage) DeleteExports(ctx context.Context, jobs []models.ExportJob) error {
	keys := exportObjectNames(jobs)
	if len(keys) == 0 {
		return nil
	}
	start := time.Now()

	objectsCh := make(chan minio.ObjectInfo, len(keys))
	go func() {
		defer close(objectsCh)
		for _, key := range keys {
			objectsCh <- minio.ObjectInfo{Key: key}
		}
	}()

	errorCh := s.client.RemoveObjects(ctx, s.bucketName, objectsCh, minio.RemoveObjectsOptions{})
	for err := range errorCh {
		if err.Err != nil {
			metrics.RecordStorageOperation("delete", "error", time.Since(start).Seconds(), 0)
			s.logger.LogStorageOperation("delete", s.bucketName, err.ObjectName, 0, time.Since(start), err.Err)
			return fmt.Errorf("failed to delete object %s: %w", err.ObjectName, err.Err)
		}
	}

	metrics.RecordStorageOperation("delete", "success", time.Since(start).Seconds(), 0)
	for _, key := range keys {
		s.logger.LogStorageOperation("delete", s.bucketName, key, 0, time.Since(start), nil)
	}
	return nil
}

// exportObjectNames lists the object keys of exports that were published
func exportObjectNames(jobs []models.ExportJob) []string {
	var keys []string
	for _, job := range jobs {
		if job.Status != models.ExportStatusDone {
			continue
		}
		keys = append(keys, ExportObjectName(job.ID, job.Format.Container))
	}
	return keys
}

// GetURL returns a presigned URL for an object
func (s *Storage) GetURL(ctx context.Context, objectName string) (string, error) {
	url, err := s.client.PresignedGetObject(ctx, s.bucketName, objectName, s.urlExpiry, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate URL: %w", err)
	}

	return url.String(), nil
}

// Health checks the bucket is reachable
func (s *Storage) Health(ctx context.Context) error {
	if _, err := s.client.BucketExists(ctx, s.bucketName); err != nil {
		return fmt.Errorf("storage unreachable: %w", err)
	}
	return nil
}

// ExportObjectName is the object key of a finished export
func ExportObjectName(exportID, container string) string {
	if container == "" {
		container = "mp4"
	}
	return fmt.Sprintf("exports/%s.%s", exportID, container)
}

// PublicObjectURL builds a URL for buckets served publicly behind baseURL
func PublicObjectURL(baseURL, bucket, objectName string) string {
	return fmt.Sprintf("%s/%s/%s", strings.TrimSuffix(baseURL, "/"), bucket, objectName)
}

// getContentType returns the content type based on file extension
func getContentType(filePath string) string {
	ext := filepath.Ext(filePath)
	switch ext {
	case ".mp4":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".mkv":
		return "video/x-matroska"
	case ".webm":
		return "video/webm"
	case ".nut":
		return "video/x-nut"
	case ".png":
		return "image/png"
	case ".yaml", ".yml":
		return "application/yaml"
	default:
		return "application/octet-stream"
	}
}
