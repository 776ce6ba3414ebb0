package notify

import (
	"context"
	"fmt"
	"time"

	"taskflow/internal/cache"
	"taskflow/internal/store"
)

type Reader interface {
	ListNotifications(ctx context.Context, userID string, limit, offset int, unreadOnly bool) ([]store.Notification, int, error)
	CountUnreadNotifications(ctx context.Context, userID string) (int, error)
	CountUnreadByType(ctx context.Context, userID string) (map[string]int, error)
	SetNotificationRead(ctx context.Context, userID, notificationID string, read bool) (store.Notification, error)
	MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error)
}

const (
	DefaultPerPage = 20
	MaxPerPage     = 100
	summaryRecent  = 5
)

type Page struct {
	Items   []store.Notification `json:"items"`
	Total   int                  `json:"total"`
	Page    int                  `json:"page"`
	PerPage int                  `json:"perPage"`
	Pages   int                  `json:"pages"`
}

type Summary struct {
	Unread int                  `json:"unread"`
	ByType map[string]int       `json:"byType"`
	Recent []store.Notification `json:"recent"`
}

// Inbox is the read side of a user's notifications. Every read is cached per
// user and every write clears that user's notification keys.
type Inbox struct {
	store    Reader
	cache    cache.Cache
	keys     cache.Keys
	listTTL  time.Duration
	countTTL time.Duration
}

func NewInbox(reader Reader, c cache.Cache, keys cache.Keys, listTTL, countTTL time.Duration) *Inbox {
	if c == nil {
		c = cache.Noop{}
	}
	if listTTL <= 0 {
		listTTL = 300 * time.Second
	}
	if countTTL <= 0 {
		countTTL = 120 * time.Second
	}
	return &Inbox{store: reader, cache: c, keys: keys, listTTL: listTTL, countTTL: countTTL}
}

func (i *Inbox) UnreadCount(ctx context.Context, userID string) (int, error) {
	return cache.Fetch(ctx, i.cache, i.keys.UserUnreadCount(userID), i.countTTL, func(ctx context.Context) (int, error) {
		return i.store.CountUnreadNotifications(ctx, userID)
	})
}

// List returns one page, newest first. page starts at 1; out of range
// values are clamped.
func (i *Inbox) List(ctx context.Context, userID string, page, perPage int, unreadOnly bool) (Page, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = DefaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	key := i.keys.UserNotificationPage(userID, page, perPage, unreadOnly)
	return cache.Fetch(ctx, i.cache, key, i.listTTL, func(ctx context.Context) (Page, error) {
		items, total, err := i.store.ListNotifications(ctx, userID, perPage, (page-1)*perPage, unreadOnly)
		if err != nil {
			return Page{}, err
		}
		return Page{
			Items:   items,
			Total:   total,
			Page:    page,
			PerPage: perPage,
			Pages:   (total + perPage - 1) / perPage,
		}, nil
	})
}

func (i *Inbox) Summary(ctx context.Context, userID string) (Summary, error) {
	return cache.Fetch(ctx, i.cache, i.keys.UserNotificationSummary(userID), i.countTTL, func(ctx context.Context) (Summary, error) {
		byType, err := i.store.CountUnreadByType(ctx, userID)
		if err != nil {
			return Summary{}, err
		}
		recent, _, err := i.store.ListNotifications(ctx, userID, summaryRecent, 0, false)
		if err != nil {
			return Summary{}, err
		}
		unread := 0
		for _, count := range byType {
			unread += count
		}
		return Summary{Unread: unread, ByType: byType, Recent: recent}, nil
	})
}

func (i *Inbox) MarkRead(ctx context.Context, userID, notificationID string) (store.Notification, error) {
	return i.setRead(ctx, userID, notificationID, true)
}

func (i *Inbox) MarkUnread(ctx context.Context, userID, notificationID string) (store.Notification, error) {
	return i.setRead(ctx, userID, notificationID, false)
}

func (i *Inbox) setRead(ctx context.Context, userID, notificationID string, read bool) (store.Notification, error) {
	item, err := i.store.SetNotificationRead(ctx, userID, notificationID, read)
	if err != nil {
		return store.Notification{}, err
	}
	i.cache.Invalidate(context.WithoutCancel(ctx), i.keys.ForNotifications(userID))
	return item, nil
}

// MarkAllRead flips every unread notification of the user and returns how
// many changed. A second call returns 0.
func (i *Inbox) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	count, err := i.store.MarkAllNotificationsRead(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}
	i.cache.Invalidate(context.WithoutCancel(ctx), i.keys.ForNotifications(userID))
	return count, nil
}
