package store

import (
	"context"
	"fmt"
)

const commentColumns = `id, task_id, author_id, body, created_at, updated_at`

func scanComment(row rowScanner) (Comment, error) {
	var comment Comment
	err := row.Scan(&comment.ID, &comment.TaskID, &comment.AuthorID, &comment.Body, &comment.CreatedAt, &comment.UpdatedAt)
	return comment, err
}

func (s *PostgresStore) InsertComment(ctx context.Context, comment Comment) (Comment, error) {
	created, err := scanComment(s.db.QueryRowContext(ctx, `
		INSERT INTO comments (id, task_id, author_id, body) VALUES ($1, $2, $3, $4)
		RETURNING `+commentColumns, comment.ID, comment.TaskID, comment.AuthorID, comment.Body))
	if err != nil {
		return Comment{}, fmt.Errorf("insert comment: %w", translate(err))
	}
	return created, nil
}

func (s *PostgresStore) GetComment(ctx context.Context, commentID string) (Comment, error) {
	comment, err := scanComment(s.db.QueryRowContext(ctx, `SELECT `+commentColumns+` FROM comments WHERE id=$1`, commentID))
	if err != nil {
		return Comment{}, fmt.Errorf("get comment: %w", translate(err))
	}
	return comment, nil
}

func (s *PostgresStore) UpdateComment(ctx context.Context, commentID, body string) (Comment, error) {
	updated, err := scanComment(s.db.QueryRowContext(ctx, `
		UPDATE comments SET body=$2, updated_at=NOW() WHERE id=$1
		RETURNING `+commentColumns, commentID, body))
	if err != nil {
		return Comment{}, fmt.Errorf("update comment: %w", translate(err))
	}
	return updated, nil
}

func (s *PostgresStore) DeleteComment(ctx context.Context, commentID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM comments WHERE id=$1`, commentID)
	if err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	return requireAffected(result, "delete comment")
}

func (s *PostgresStore) ListComments(ctx context.Context, taskID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+commentColumns+` FROM comments WHERE task_id=$1 ORDER BY created_at
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	comments := make([]Comment, 0)
	for rows.Next() {
		comment, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, comment)
	}
	return comments, rows.Err()
}

const attachmentColumns = `id, task_id, uploader_id, file_name, content_type, size_bytes, object_key, created_at`

func scanAttachment(row rowScanner) (Attachment, error) {
	var item Attachment
	err := row.Scan(&item.ID, &item.TaskID, &item.UploaderID, &item.FileName, &item.ContentType, &item.Size, &item.ObjectKey, &item.CreatedAt)
	return item, err
}

func (s *PostgresStore) InsertAttachment(ctx context.Context, item Attachment) (Attachment, error) {
	created, err := scanAttachment(s.db.QueryRowContext(ctx, `
		INSERT INTO attachments (id, task_id, uploader_id, file_name, content_type, size_bytes, object_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+attachmentColumns,
		item.ID, item.TaskID, item.UploaderID, item.FileName, item.ContentType, item.Size, item.ObjectKey))
	if err != nil {
		return Attachment{}, fmt.Errorf("insert attachment: %w", translate(err))
	}
	return created, nil
}

func (s *PostgresStore) GetAttachment(ctx context.Context, attachmentID string) (Attachment, error) {
	item, err := scanAttachment(s.db.QueryRowContext(ctx, `SELECT `+attachmentColumns+` FROM attachments WHERE id=$1`, attachmentID))
	if err != nil {
		return Attachment{}, fmt.Errorf("get attachment: %w", translate(err))
	}
	return item, nil
}

func (s *PostgresStore) DeleteAttachment(ctx context.Context, attachmentID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM attachments WHERE id=$1`, attachmentID)
	if err != nil {
		return fmt.Errorf("delete attachment: %w", err)
	}
	return requireAffected(result, "delete attachment")
}

func (s *PostgresStore) ListAttachments(ctx context.Context, taskID string) ([]Attachment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+attachmentColumns+` FROM attachments WHERE task_id=$1 ORDER BY created_at
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	items := make([]Attachment, 0)
	for rows.Next() {
		item, err := scanAttachment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
