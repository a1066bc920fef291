package handlers

import (
	"context"
	"log/slog"

	"github.com/pixelmint/pixelmint-api/internal/models"
	"github.com/pixelmint/pixelmint-api/internal/service"
)

// FilesHandler handles presigned upload/download endpoints.
type FilesHandler struct {
	storageSvc *service.StorageService
	logger     *slog.Logger
}

// NewFilesHandler creates a new files handler.
func NewFilesHandler(storageSvc *service.StorageService, logger *slog.Logger) *FilesHandler {
	return &FilesHandler{
		storageSvc: storageSvc,
		logger:     logger,
	}
}

// CreateUploadURLInput describes a requested upload slot.
type CreateUploadURLInput struct {
	Body struct {
		FileName    string `json:"file_name" doc:"Original file name"`
		ContentType string `json:"content_type" example:"image/png" doc:"MIME type"`
		SizeBytes   int64  `json:"size_bytes,omitempty" doc:"File size in bytes"`
	}
}

// UploadURLOutput wraps a presigned upload slot.
type UploadURLOutput struct {
	Body service.UploadURLOutput
}

// CreateUploadURL issues a presigned PUT for a source image.
func (h *FilesHandler) CreateUploadURL(ctx context.Context, input *CreateUploadURLInput) (*UploadURLOutput, error) {
	result, err := h.storageSvc.CreateUploadURL(ctx, getUserID(ctx), input.Body.FileName, input.Body.ContentType, input.Body.SizeBytes)
	if err != nil {
		return nil, mapServiceError(err)
	}
	return &UploadURLOutput{Body: *result}, nil
}

// FileIDInput identifies a file by ID.
type FileIDInput struct {
	ID string `path:"id" doc:"File ID"`
}

// DownloadURLOutput wraps a presigned download.
type DownloadURLOutput struct {
	Body service.DownloadURLOutput
}

// CreateDownloadURL issues a presigned GET for a file the caller owns.
func (h *FilesHandler) CreateDownloadURL(ctx context.Context, input *FileIDInput) (*DownloadURLOutput, error) {
	result, err := h.storageSvc.CreateDownloadURL(ctx, getUserID(ctx), input.ID)
	if err != nil {
		return nil, mapServiceError(err)
	}
	return &DownloadURLOutput{Body: *result}, nil
}

// ListFilesOutput wraps a page of file records.
type ListFilesOutput struct {
	Body struct {
		Files []*models.FileMetadata `json:"files"`
	}
}

// ListFiles retrieves the caller's stored files, newest first.
func (h *FilesHandler) ListFiles(ctx context.Context, input *PageInput) (*ListFilesOutput, error) {
	files, err := h.storageSvc.ListFiles(ctx, getUserID(ctx), input.Limit, input.Offset)
	if err != nil {
		return nil, mapServiceError(err)
	}
	if files == nil {
		files = []*models.FileMetadata{}
	}

	out := &ListFilesOutput{}
	out.Body.Files = files
	return out, nil
}

// DeleteFileOutput acknowledges a deletion.
type DeleteFileOutput struct {
	Body struct {
		Deleted bool `json:"deleted"`
	}
}

// DeleteFile soft-deletes a file record and removes the stored object.
func (h *FilesHandler) DeleteFile(ctx context.Context, input *FileIDInput) (*DeleteFileOutput, error) {
	if err := h.storageSvc.DeleteFile(ctx, getUserID(ctx), input.ID); err != nil {
		return nil, mapServiceError(err)
	}

	out := &DeleteFileOutput{}
	out.Body.Deleted = true
	return out, nil
}
