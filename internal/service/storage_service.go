// Package service contains the business logic layer.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/oklog/ulid/v2"

	appconfig "github.com/pixelmint/pixelmint-api/internal/config"
	"github.com/pixelmint/pixelmint-api/internal/models"
	"github.com/pixelmint/pixelmint-api/internal/repository"
)

// StorageService handles object storage for source and output images
// (Tigris/S3-compatible). Clients never touch the bucket directly; they get
// short-lived presigned URLs.
type StorageService struct {
	client   *s3.Client
	presign  *s3.PresignClient
	bucket   string
	enabled  bool
	fileRepo repository.FileMetadataRepository
	repos    *repository.Repositories
	logger   *slog.Logger
}

// NewStorageService creates a new storage service.
func NewStorageService(cfg *appconfig.Config, repos *repository.Repositories, logger *slog.Logger) (*StorageService, error) {
	if !cfg.StorageEnabled {
		logger.Info("storage service disabled - no bucket configured")
		return &StorageService{
			enabled:  false,
			fileRepo: repos.FileMetadata,
			repos:    repos,
			logger:   logger,
		}, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.StorageRegion),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.StorageAccessKey,
			cfg.StorageSecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// Custom endpoint for S3-compatible storage (Tigris, MinIO, etc.)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.StorageEndpoint)
		o.UsePathStyle = true
	})

	logger.Info("storage service initialized",
		"bucket", cfg.StorageBucket,
		"endpoint", cfg.StorageEndpoint,
	)

	return &StorageService{
		client:   client,
		presign:  s3.NewPresignClient(client),
		bucket:   cfg.StorageBucket,
		enabled:  true,
		fileRepo: repos.FileMetadata,
		repos:    repos,
		logger:   logger,
	}, nil
}

// IsEnabled returns whether storage is configured and available.
func (s *StorageService) IsEnabled() bool {
	return s.enabled
}

// UploadURLOutput describes a presigned upload slot.
type UploadURLOutput struct {
	FileID    string `json:"file_id"`
	ObjectKey string `json:"object_key"`
	UploadURL string `json:"upload_url"`
	ExpiresIn int    `json:"expires_in"` // seconds
}

// CreateUploadURL issues a presigned PUT for a source image and records its
// metadata. The object key is namespaced by user so keys never collide.
func (s *StorageService) CreateUploadURL(ctx context.Context, userID, fileName, contentType string, sizeBytes int64) (*UploadURLOutput, error) {
	if !s.enabled {
		return nil, ErrStorageDisabled
	}

	fileID := ulid.Make().String()
	key := fmt.Sprintf("sources/%s/%s-%s", userID, fileID, fileName)

	presignedReq, err := s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(15*time.Minute))
	if err != nil {
		return nil, fmt.Errorf("failed to presign upload: %w", err)
	}

	now := time.Now().UTC()
	file := &models.FileMetadata{
		ID:          fileID,
		UserID:      userID,
		ObjectKey:   key,
		FileName:    fileName,
		ContentType: contentType,
		SizeBytes:   sizeBytes,
		Purpose:     "source",
		CreatedAt:   now,
	}
	if err := s.fileRepo.Create(ctx, file); err != nil {
		return nil, fmt.Errorf("failed to record file metadata: %w", err)
	}

	s.recordFileEvent(ctx, userID, models.ActionImageUploaded)

	s.logger.Info("issued upload URL",
		"user_id", userID,
		"file_id", fileID,
		"object_key", key,
	)

	return &UploadURLOutput{
		FileID:    fileID,
		ObjectKey: key,
		UploadURL: presignedReq.URL,
		ExpiresIn: int((15 * time.Minute).Seconds()),
	}, nil
}

// DownloadURLOutput describes a presigned download.
type DownloadURLOutput struct {
	DownloadURL string `json:"download_url"`
	FileName    string `json:"file_name"`
	ExpiresIn   int    `json:"expires_in"` // seconds
}

// CreateDownloadURL issues a presigned GET for a file the user owns.
func (s *StorageService) CreateDownloadURL(ctx context.Context, userID, fileID string) (*DownloadURLOutput, error) {
	if !s.enabled {
		return nil, ErrStorageDisabled
	}

	file, err := s.fileRepo.GetByID(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	if file == nil || file.UserID != userID {
		return nil, ErrFileNotFound
	}

	presignedReq, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(file.ObjectKey),
	}, s3.WithPresignExpires(time.Hour))
	if err != nil {
		return nil, fmt.Errorf("failed to presign download: %w", err)
	}

	s.recordFileEvent(ctx, userID, models.ActionImageDownloaded)

	return &DownloadURLOutput{
		DownloadURL: presignedReq.URL,
		FileName:    file.FileName,
		ExpiresIn:   int(time.Hour.Seconds()),
	}, nil
}

// ListFiles retrieves a user's stored files, newest first.
func (s *StorageService) ListFiles(ctx context.Context, userID string, limit, offset int) ([]*models.FileMetadata, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	return s.fileRepo.GetByUserID(ctx, userID, limit, offset)
}

// GetGenerationFiles retrieves the files recorded for a generation.
func (s *StorageService) GetGenerationFiles(ctx context.Context, userID, generationID string) ([]*models.FileMetadata, error) {
	files, err := s.fileRepo.GetByGenerationID(ctx, generationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get generation files: %w", err)
	}
	// Ownership check on the rows themselves, the generation may be gone.
	var owned []*models.FileMetadata
	for _, f := range files {
		if f.UserID == userID {
			owned = append(owned, f)
		}
	}
	return owned, nil
}

// DeleteFile soft-deletes a user's file record and removes the object.
func (s *StorageService) DeleteFile(ctx context.Context, userID, fileID string) error {
	file, err := s.fileRepo.GetByID(ctx, fileID)
	if err != nil {
		return fmt.Errorf("failed to get file: %w", err)
	}
	if file == nil || file.UserID != userID {
		return ErrFileNotFound
	}

	if err := s.fileRepo.SoftDelete(ctx, fileID); err != nil {
		return fmt.Errorf("failed to delete file record: %w", err)
	}

	if s.enabled {
		_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(file.ObjectKey),
		})
		if err != nil {
			s.logger.Warn("failed to delete object",
				"object_key", file.ObjectKey,
				"error", err,
			)
		}
	}

	s.logger.Info("deleted file", "user_id", userID, "file_id", fileID)
	return nil
}

// DeleteOldObjects removes bucket objects older than maxAge under a prefix.
// Returns the number of deleted objects.
func (s *StorageService) DeleteOldObjects(ctx context.Context, prefix string, maxAge time.Duration) (int, error) {
	if !s.enabled {
		return 0, nil
	}

	cutoff := time.Now().Add(-maxAge)
	deleted := 0

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return deleted, fmt.Errorf("failed to list objects: %w", err)
		}

		for _, obj := range page.Contents {
			if obj.LastModified != nil && obj.LastModified.Before(cutoff) {
				_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
					Bucket: aws.String(s.bucket),
					Key:    obj.Key,
				})
				if err != nil {
					s.logger.Warn("failed to delete old object",
						"key", *obj.Key,
						"error", err,
					)
					continue
				}
				deleted++
			}
		}
	}

	return deleted, nil
}

func (s *StorageService) recordFileEvent(ctx context.Context, userID string, action models.UsageAction) {
	event := &models.UsageEvent{
		ID:        ulid.Make().String(),
		UserID:    userID,
		Action:    action,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repos.UsageEvent.Create(ctx, event); err != nil {
		s.logger.Error("failed to record file event", "user_id", userID, "action", action, "error", err)
	}
}
