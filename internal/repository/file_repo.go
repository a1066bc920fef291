package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pixelmint/pixelmint-api/internal/models"
)

// SQLiteFileMetadataRepository implements FileMetadataRepository for SQLite.
type SQLiteFileMetadataRepository struct {
	db *sql.DB
}

// NewSQLiteFileMetadataRepository creates a new SQLite file metadata repository.
func NewSQLiteFileMetadataRepository(db *sql.DB) *SQLiteFileMetadataRepository {
	return &SQLiteFileMetadataRepository{db: db}
}

func (r *SQLiteFileMetadataRepository) Create(ctx context.Context, file *models.FileMetadata) error {
	query := `
		INSERT INTO file_metadata (id, user_id, generation_id, object_key, file_name,
			content_type, size_bytes, purpose, created_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		file.ID,
		file.UserID,
		nullStringPtr(file.GenerationID),
		file.ObjectKey,
		file.FileName,
		file.ContentType,
		file.SizeBytes,
		file.Purpose,
		file.CreatedAt.Format(time.RFC3339),
		nullTime(file.DeletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create file metadata: %w", err)
	}
	return nil
}

func (r *SQLiteFileMetadataRepository) GetByID(ctx context.Context, id string) (*models.FileMetadata, error) {
	query := `
		SELECT id, user_id, generation_id, object_key, file_name, content_type,
			size_bytes, purpose, created_at, deleted_at
		FROM file_metadata WHERE id = ? AND deleted_at IS NULL
	`
	return r.scanFile(r.db.QueryRowContext(ctx, query, id))
}

func (r *SQLiteFileMetadataRepository) GetByObjectKey(ctx context.Context, key string) (*models.FileMetadata, error) {
	query := `
		SELECT id, user_id, generation_id, object_key, file_name, content_type,
			size_bytes, purpose, created_at, deleted_at
		FROM file_metadata WHERE object_key = ? AND deleted_at IS NULL
	`
	return r.scanFile(r.db.QueryRowContext(ctx, query, key))
}

func (r *SQLiteFileMetadataRepository) GetByUserID(ctx context.Context, userID string, limit, offset int) ([]*models.FileMetadata, error) {
	query := `
		SELECT id, user_id, generation_id, object_key, file_name, content_type,
			size_bytes, purpose, created_at, deleted_at
		FROM file_metadata WHERE user_id = ? AND deleted_at IS NULL
		ORDER BY created_at DESC LIMIT ? OFFSET ?
	`
	rows, err := r.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query file metadata: %w", err)
	}
	defer rows.Close()
	return r.scanFiles(rows)
}

func (r *SQLiteFileMetadataRepository) GetByGenerationID(ctx context.Context, generationID string) ([]*models.FileMetadata, error) {
	query := `
		SELECT id, user_id, generation_id, object_key, file_name, content_type,
			size_bytes, purpose, created_at, deleted_at
		FROM file_metadata WHERE generation_id = ? AND deleted_at IS NULL
		ORDER BY created_at ASC
	`
	rows, err := r.db.QueryContext(ctx, query, generationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query file metadata: %w", err)
	}
	defer rows.Close()
	return r.scanFiles(rows)
}

func (r *SQLiteFileMetadataRepository) SoftDelete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE file_metadata SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
		time.Now().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete file metadata: %w", err)
	}
	return nil
}

func (r *SQLiteFileMetadataRepository) scanFile(row *sql.Row) (*models.FileMetadata, error) {
	var file models.FileMetadata
	var generationID, deletedAt sql.NullString
	var createdAt string

	err := row.Scan(
		&file.ID, &file.UserID, &generationID, &file.ObjectKey, &file.FileName,
		&file.ContentType, &file.SizeBytes, &file.Purpose, &createdAt, &deletedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan file metadata: %w", err)
	}

	populateFile(&file, generationID, deletedAt, createdAt)
	return &file, nil
}

func (r *SQLiteFileMetadataRepository) scanFiles(rows *sql.Rows) ([]*models.FileMetadata, error) {
	var files []*models.FileMetadata
	for rows.Next() {
		var file models.FileMetadata
		var generationID, deletedAt sql.NullString
		var createdAt string
		if err := rows.Scan(
			&file.ID, &file.UserID, &generationID, &file.ObjectKey, &file.FileName,
			&file.ContentType, &file.SizeBytes, &file.Purpose, &createdAt, &deletedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan file metadata: %w", err)
		}
		populateFile(&file, generationID, deletedAt, createdAt)
		files = append(files, &file)
	}
	return files, rows.Err()
}

func populateFile(file *models.FileMetadata, generationID, deletedAt sql.NullString, createdAt string) {
	if generationID.Valid {
		file.GenerationID = &generationID.String
	}
	file.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if deletedAt.Valid {
		t, _ := time.Parse(time.RFC3339, deletedAt.String)
		file.DeletedAt = &t
	}
}
