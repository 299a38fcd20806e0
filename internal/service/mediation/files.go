package mediation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"accordgo/internal/models"
)

// RecordCaseFile stores the metadata row for an uploaded case document.
func (s *Service) RecordCaseFile(ctx context.Context, userID, caseID int64, fileName, storedPath, mimeType string, size int64) (*models.CaseFile, error) {
	if err := s.RequireParticipant(ctx, caseID, userID); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO case_files (case_id, user_id, file_name, stored_path, mime_type, size, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		caseID, userID, fileName, storedPath, mimeType, size, now,
	)
	if err != nil {
		return nil, fmt.Errorf("record case file: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("case file id: %w", err)
	}
	return &models.CaseFile{
		ID:         id,
		CaseID:     caseID,
		UserID:     userID,
		FileName:   fileName,
		StoredPath: storedPath,
		MimeType:   mimeType,
		Size:       size,
		CreatedAt:  now,
	}, nil
}

// ListCaseFiles returns the files attached to a case, newest first.
func (s *Service) ListCaseFiles(ctx context.Context, caseID int64) ([]models.CaseFile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, case_id, user_id, file_name, stored_path, mime_type, size, created_at
		 FROM case_files WHERE case_id = ? ORDER BY created_at DESC, id DESC`,
		caseID,
	)
	if err != nil {
		return nil, fmt.Errorf("list case files: %w", err)
	}
	defer rows.Close()

	var files []models.CaseFile
	for rows.Next() {
		var f models.CaseFile
		if err := rows.Scan(&f.ID, &f.CaseID, &f.UserID, &f.FileName, &f.StoredPath,
			&f.MimeType, &f.Size, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan case file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// GetCaseFile fetches one file row scoped to the case.
func (s *Service) GetCaseFile(ctx context.Context, caseID, fileID int64) (*models.CaseFile, error) {
	var f models.CaseFile
	err := s.db.QueryRowContext(ctx,
		`SELECT id, case_id, user_id, file_name, stored_path, mime_type, size, created_at
		 FROM case_files WHERE id = ? AND case_id = ?`,
		fileID, caseID,
	).Scan(&f.ID, &f.CaseID, &f.UserID, &f.FileName, &f.StoredPath, &f.MimeType, &f.Size, &f.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get case file: %w", err)
	}
	return &f, nil
}

// CaseStorageUsage sums stored file sizes for one case.
func (s *Service) CaseStorageUsage(ctx context.Context, caseID int64) (int64, error) {
	var total sql.NullInt64
	if err := s.db.QueryRowContext(ctx,
		`SELECT SUM(size) FROM case_files WHERE case_id = ?`, caseID,
	).Scan(&total); err != nil {
		return 0, fmt.Errorf("storage usage: %w", err)
	}
	return total.Int64, nil
}
