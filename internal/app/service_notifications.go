package app

import (
	"context"
	"errors"

	"taskflow/internal/notify"
	"taskflow/internal/store"
)

func (s *Service) UnreadCount(ctx context.Context, session Session) (int, error) {
	return s.inbox.UnreadCount(ctx, session.UserID)
}

func (s *Service) ListNotifications(ctx context.Context, session Session, page, perPage int, unreadOnly bool) (notify.Page, error) {
	return s.inbox.List(ctx, session.UserID, page, perPage, unreadOnly)
}

func (s *Service) NotificationSummary(ctx context.Context, session Session) (notify.Summary, error) {
	return s.inbox.Summary(ctx, session.UserID)
}

// MarkNotificationRead sets the read flag. Notifications of other users are
// reported as missing.
func (s *Service) MarkNotificationRead(ctx context.Context, session Session, notificationID string, read bool) (store.Notification, error) {
	var (
		item store.Notification
		err  error
	)
	if read {
		item, err = s.inbox.MarkRead(ctx, session.UserID, notificationID)
	} else {
		item, err = s.inbox.MarkUnread(ctx, session.UserID, notificationID)
	}
	if errors.Is(err, store.ErrNotFound) {
		return store.Notification{}, notFound("Notification")
	}
	return item, err
}

func (s *Service) MarkAllNotificationsRead(ctx context.Context, session Session) (int64, error) {
	return s.inbox.MarkAllRead(ctx, session.UserID)
}
