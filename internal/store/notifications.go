package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const notificationColumns = `id, user_id, type, title, message, task_id, project_id, sprint_id, related_user_id, is_read, read_at, created_at`

func scanNotification(row rowScanner) (Notification, error) {
	var (
		item                                     Notification
		taskID, projectID, sprintID, relatedUser sql.NullString
		readAt                                   sql.NullTime
	)
	err := row.Scan(&item.ID, &item.UserID, &item.Type, &item.Title, &item.Message,
		&taskID, &projectID, &sprintID, &relatedUser, &item.Read, &readAt, &item.CreatedAt)
	if err != nil {
		return Notification{}, err
	}
	item.TaskID = taskID.String
	item.ProjectID = projectID.String
	item.SprintID = sprintID.String
	item.RelatedUserID = relatedUser.String
	item.ReadAt = timePtr(readAt)
	return item, nil
}

func (s *PostgresStore) InsertNotification(ctx context.Context, item Notification) (Notification, error) {
	created, err := scanNotification(s.db.QueryRowContext(ctx, `
		INSERT INTO notifications (id, user_id, type, title, message, task_id, project_id, sprint_id, related_user_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+notificationColumns,
		item.ID, item.UserID, item.Type, item.Title, item.Message,
		nullable(item.TaskID), nullable(item.ProjectID), nullable(item.SprintID), nullable(item.RelatedUserID)))
	if err != nil {
		return Notification{}, fmt.Errorf("insert notification: %w", translate(err))
	}
	return created, nil
}

// ListNotifications returns one page of the user's notifications, newest first,
// and the total number matching the filter.
func (s *PostgresStore) ListNotifications(ctx context.Context, userID string, limit, offset int, unreadOnly bool) ([]Notification, int, error) {
	filter := `user_id=$1`
	if unreadOnly {
		filter += ` AND is_read=FALSE`
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notifications WHERE `+filter, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+notificationColumns+` FROM notifications
		WHERE `+filter+`
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	items := make([]Notification, 0)
	for rows.Next() {
		item, err := scanNotification(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan notification: %w", err)
		}
		items = append(items, item)
	}
	return items, total, rows.Err()
}

func (s *PostgresStore) CountUnreadNotifications(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notifications WHERE user_id=$1 AND is_read=FALSE`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) CountUnreadByType(ctx context.Context, userID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT type, COUNT(*) FROM notifications WHERE user_id=$1 AND is_read=FALSE GROUP BY type
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("count unread by type: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var kind string
		var count int
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, fmt.Errorf("scan unread count: %w", err)
		}
		counts[kind] = count
	}
	return counts, rows.Err()
}

// SetNotificationRead toggles the read flag of one of the user's
// notifications. Notifications of other users are reported as not found.
func (s *PostgresStore) SetNotificationRead(ctx context.Context, userID, notificationID string, read bool) (Notification, error) {
	item, err := scanNotification(s.db.QueryRowContext(ctx, `
		UPDATE notifications
		SET is_read=$3::boolean, read_at=CASE WHEN $3::boolean THEN COALESCE(read_at, NOW()) ELSE NULL END
		WHERE id=$1 AND user_id=$2
		RETURNING `+notificationColumns, notificationID, userID, read))
	if errors.Is(err, sql.ErrNoRows) {
		return Notification{}, fmt.Errorf("set notification read: %w", ErrNotFound)
	}
	if err != nil {
		return Notification{}, fmt.Errorf("set notification read: %w", err)
	}
	return item, nil
}

// MarkAllNotificationsRead flips every unread notification of the user in one
// statement and returns how many changed.
func (s *PostgresStore) MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET is_read=TRUE, read_at=NOW() WHERE user_id=$1 AND is_read=FALSE
	`, userID)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	return affected, nil
}
