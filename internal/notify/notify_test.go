package notify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"taskflow/internal/cache"
	"taskflow/internal/store"
)

type memStore struct {
	mu        sync.Mutex
	items     []store.Notification
	insertErr []error
	inserts   int
}

func (m *memStore) InsertNotification(_ context.Context, item store.Notification) (store.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inserts++
	if len(m.insertErr) > 0 {
		err := m.insertErr[0]
		m.insertErr = m.insertErr[1:]
		if err != nil {
			return store.Notification{}, err
		}
	}
	item.CreatedAt = time.Now().UTC().Add(time.Duration(len(m.items)) * time.Millisecond)
	m.items = append(m.items, item)
	return item, nil
}

func (m *memStore) forUser(userID string, unreadOnly bool) []store.Notification {
	out := make([]store.Notification, 0)
	for _, item := range m.items {
		if item.UserID == userID && (!unreadOnly || !item.Read) {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (m *memStore) ListNotifications(_ context.Context, userID string, limit, offset int, unreadOnly bool) ([]store.Notification, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.forUser(userID, unreadOnly)
	if offset >= len(all) {
		return []store.Notification{}, len(all), nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], len(all), nil
}

func (m *memStore) CountUnreadNotifications(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.forUser(userID, true)), nil
}

func (m *memStore) CountUnreadByType(_ context.Context, userID string) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[string]int)
	for _, item := range m.forUser(userID, true) {
		counts[item.Type]++
	}
	return counts, nil
}

func (m *memStore) SetNotificationRead(_ context.Context, userID, id string, read bool) (store.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.items {
		item := &m.items[i]
		if item.ID != id || item.UserID != userID {
			continue
		}
		item.Read = read
		if read && item.ReadAt == nil {
			now := time.Now().UTC()
			item.ReadAt = &now
		}
		if !read {
			item.ReadAt = nil
		}
		return *item, nil
	}
	return store.Notification{}, fmt.Errorf("set notification read: %w", store.ErrNotFound)
}

func (m *memStore) MarkAllNotificationsRead(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var changed int64
	now := time.Now().UTC()
	for i := range m.items {
		item := &m.items[i]
		if item.UserID == userID && !item.Read {
			item.Read = true
			item.ReadAt = &now
			changed++
		}
	}
	return changed, nil
}

type pushed struct {
	userID string
	event  string
}

type recordingPusher struct {
	mu     sync.Mutex
	events []pushed
	err    error
	panics bool
	done   chan struct{}
}

func (p *recordingPusher) Push(_ context.Context, userID, event string, _ any) error {
	p.mu.Lock()
	p.events = append(p.events, pushed{userID: userID, event: event})
	p.mu.Unlock()
	if p.done != nil {
		p.done <- struct{}{}
	}
	if p.panics {
		panic("socket closed")
	}
	return p.err
}

func (p *recordingPusher) snapshot() []pushed {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]pushed(nil), p.events...)
}

func setupRedis(t *testing.T) cache.Cache {
	t.Helper()
	s := miniredis.RunT(t)
	client, err := cache.NewRedisClient(context.Background(), "redis://"+s.Addr())
	if err != nil {
		t.Fatalf("NewRedisClient failed: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return cache.NewRedisCache(client, nil)
}

func TestRecipientsDedupesAndExcludesActor(t *testing.T) {
	got := Recipients("u1", "u2", "u1", "", "u3", "u2", " ")
	want := []string{"u2", "u3"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("Recipients = %v, want %v", got, want)
	}
	if got := Recipients("u1", "u1"); len(got) != 0 {
		t.Fatalf("expected no recipients, got %v", got)
	}
}

func TestNotifyRoundTripThroughInbox(t *testing.T) {
	ctx := context.Background()
	mem := &memStore{}
	c := setupRedis(t)
	keys := cache.NewKeys("tf")
	pusher := &recordingPusher{}
	dispatcher := NewDispatcher(mem, c, keys, pusher, nil, Options{})
	inbox := NewInbox(mem, c, keys, time.Minute, time.Minute)

	before, err := inbox.UnreadCount(ctx, "u2")
	if err != nil || before != 0 {
		t.Fatalf("UnreadCount = %d, %v", before, err)
	}

	created, err := dispatcher.Notify(ctx, "u2", Message{Type: TypeTaskAssigned, Title: "Assigned", TaskID: "t1"})
	if err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	if created.ID == "" || created.UserID != "u2" || created.TaskID != "t1" {
		t.Fatalf("unexpected notification %+v", created)
	}

	after, err := inbox.UnreadCount(ctx, "u2")
	if err != nil || after != before+1 {
		t.Fatalf("UnreadCount after notify = %d, %v", after, err)
	}

	read, err := inbox.MarkRead(ctx, "u2", created.ID)
	if err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}
	if !read.Read || read.ReadAt == nil || read.ReadAt.After(time.Now().UTC()) {
		t.Fatalf("unexpected read state %+v", read)
	}
	final, _ := inbox.UnreadCount(ctx, "u2")
	if final != after-1 {
		t.Fatalf("UnreadCount after read = %d, want %d", final, after-1)
	}

	events := pusher.snapshot()
	if len(events) != 1 || events[0] != (pushed{userID: "u2", event: EventNewNotification}) {
		t.Fatalf("unexpected pushes %+v", events)
	}
}

func TestNotifyRejectsUnknownTypeAndEmptyRecipient(t *testing.T) {
	dispatcher := NewDispatcher(&memStore{}, nil, cache.NewKeys(""), nil, nil, Options{})
	if _, err := dispatcher.Notify(context.Background(), "u1", Message{Type: "SOMETHING"}); err == nil {
		t.Fatal("expected error for unknown type")
	}
	if _, err := dispatcher.Notify(context.Background(), "", Message{Type: TypeMention}); err == nil {
		t.Fatal("expected error for empty recipient")
	}
}

func TestNotifyRetriesDurableInsert(t *testing.T) {
	mem := &memStore{insertErr: []error{errors.New("connection reset"), errors.New("connection reset")}}
	dispatcher := NewDispatcher(mem, nil, cache.NewKeys(""), nil, nil, Options{Backoff: time.Millisecond})

	if _, err := dispatcher.Notify(context.Background(), "u1", Message{Type: TypeMention}); err != nil {
		t.Fatalf("expected third attempt to succeed, got %v", err)
	}
	if mem.inserts != 3 {
		t.Fatalf("inserts = %d, want 3", mem.inserts)
	}
}

func TestNotifyGivesUpAfterAttempts(t *testing.T) {
	boom := errors.New("db down")
	mem := &memStore{insertErr: []error{boom, boom, boom, boom}}
	pusher := &recordingPusher{}
	dispatcher := NewDispatcher(mem, nil, cache.NewKeys(""), pusher, nil, Options{Backoff: time.Millisecond, Attempts: 3})

	_, err := dispatcher.Notify(context.Background(), "u1", Message{Type: TypeMention})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
	if mem.inserts != 3 {
		t.Fatalf("inserts = %d, want 3", mem.inserts)
	}
	if len(pusher.snapshot()) != 0 {
		t.Fatal("nothing may be pushed when the durable phase fails")
	}
}

func TestPushFailureDoesNotFailNotify(t *testing.T) {
	cases := []struct {
		name   string
		pusher *recordingPusher
	}{
		{name: "error", pusher: &recordingPusher{err: errors.New("broken pipe")}},
		{name: "panic", pusher: &recordingPusher{panics: true}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mem := &memStore{}
			dispatcher := NewDispatcher(mem, nil, cache.NewKeys(""), tc.pusher, nil, Options{})
			if _, err := dispatcher.Notify(context.Background(), "u1", Message{Type: TypeTaskUpdated}); err != nil {
				t.Fatalf("Notify must succeed, got %v", err)
			}
			if len(mem.items) != 1 {
				t.Fatalf("expected durable row, got %d", len(mem.items))
			}
		})
	}
}

func TestNotifyAllSkipsActorAndDuplicates(t *testing.T) {
	mem := &memStore{}
	dispatcher := NewDispatcher(mem, nil, cache.NewKeys(""), nil, nil, Options{})

	created := dispatcher.NotifyAll(context.Background(), []string{"u2", "u1", "u2", ""}, "u1", Message{Type: TypeTaskCompleted, TaskID: "t1"})
	if len(created) != 1 || created[0].UserID != "u2" || created[0].Type != TypeTaskCompleted {
		t.Fatalf("unexpected notifications %+v", created)
	}
}

func TestStartedDispatcherPushesFromWorkers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pusher := &recordingPusher{done: make(chan struct{}, 4)}
	dispatcher := NewDispatcher(&memStore{}, nil, cache.NewKeys(""), pusher, nil, Options{Workers: 2, QueueSize: 4})
	dispatcher.Start(ctx)

	dispatcher.Broadcast(ctx, []string{"u1", "u2", "u1"}, EventTaskUpdated, map[string]string{"id": "t1"})
	for i := 0; i < 2; i++ {
		select {
		case <-pusher.done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for push")
		}
	}

	cancel()
	dispatcher.Wait()
	if got := len(pusher.snapshot()); got != 2 {
		t.Fatalf("pushes = %d, want 2", got)
	}
}

func TestFullQueueDropsPush(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pusher := &recordingPusher{}
	dispatcher := NewDispatcher(&memStore{}, nil, cache.NewKeys(""), pusher, nil, Options{Workers: 1, QueueSize: 1})
	// Started with a cancelled context, so no worker drains the queue.
	cancel()
	dispatcher.Start(ctx)
	dispatcher.Wait()

	dispatcher.Broadcast(context.Background(), []string{"u1", "u2", "u3"}, EventTaskUpdated, nil)
	if got := len(dispatcher.jobs); got != 1 {
		t.Fatalf("queued = %d, want 1", got)
	}
	if len(pusher.snapshot()) != 0 {
		t.Fatal("dropped pushes must not be delivered")
	}
}

func TestInboxListPaginatesAndCaches(t *testing.T) {
	ctx := context.Background()
	mem := &memStore{}
	c := setupRedis(t)
	keys := cache.NewKeys("tf")
	dispatcher := NewDispatcher(mem, c, keys, nil, nil, Options{})
	inbox := NewInbox(mem, c, keys, time.Minute, time.Minute)

	for i := 0; i < 5; i++ {
		if _, err := dispatcher.Notify(ctx, "u1", Message{Type: TypeTaskUpdated, Title: fmt.Sprintf("n%d", i)}); err != nil {
			t.Fatalf("Notify failed: %v", err)
		}
	}

	page, err := inbox.List(ctx, "u1", 2, 2, false)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if page.Total != 5 || page.Pages != 3 || len(page.Items) != 2 || page.Items[0].Title != "n2" {
		t.Fatalf("unexpected page %+v", page)
	}

	if _, err := dispatcher.Notify(ctx, "u1", Message{Type: TypeTaskUpdated, Title: "n5"}); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	page, _ = inbox.List(ctx, "u1", 1, 2, false)
	if page.Total != 6 || page.Items[0].Title != "n5" {
		t.Fatalf("list must reflect new notification, got %+v", page)
	}

	clamped, _ := inbox.List(ctx, "u1", 0, 1000, false)
	if clamped.Page != 1 || clamped.PerPage != MaxPerPage {
		t.Fatalf("expected clamped paging, got page=%d perPage=%d", clamped.Page, clamped.PerPage)
	}
}

func TestInboxSummary(t *testing.T) {
	ctx := context.Background()
	mem := &memStore{}
	dispatcher := NewDispatcher(mem, nil, cache.NewKeys(""), nil, nil, Options{})
	inbox := NewInbox(mem, nil, cache.NewKeys(""), 0, 0)

	for _, kind := range []string{TypeTaskAssigned, TypeTaskAssigned, TypeMention, TypeTaskComment, TypeTaskUpdated, TypeTaskUpdated} {
		if _, err := dispatcher.Notify(ctx, "u1", Message{Type: kind}); err != nil {
			t.Fatalf("Notify failed: %v", err)
		}
	}

	summary, err := inbox.Summary(ctx, "u1")
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if summary.Unread != 6 || summary.ByType[TypeTaskAssigned] != 2 || len(summary.Recent) != 5 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestMarkAllReadIsIdempotent(t *testing.T) {
	ctx := context.Background()
	mem := &memStore{}
	c := setupRedis(t)
	keys := cache.NewKeys("tf")
	dispatcher := NewDispatcher(mem, c, keys, nil, nil, Options{})
	inbox := NewInbox(mem, c, keys, time.Minute, time.Minute)

	for i := 0; i < 3; i++ {
		if _, err := dispatcher.Notify(ctx, "u1", Message{Type: TypeMention}); err != nil {
			t.Fatalf("Notify failed: %v", err)
		}
	}
	if count, _ := inbox.UnreadCount(ctx, "u1"); count != 3 {
		t.Fatalf("UnreadCount = %d, want 3", count)
	}

	first, err := inbox.MarkAllRead(ctx, "u1")
	if err != nil || first != 3 {
		t.Fatalf("first MarkAllRead = %d, %v", first, err)
	}
	second, err := inbox.MarkAllRead(ctx, "u1")
	if err != nil || second != 0 {
		t.Fatalf("second MarkAllRead = %d, %v", second, err)
	}
	if count, _ := inbox.UnreadCount(ctx, "u1"); count != 0 {
		t.Fatalf("UnreadCount after mark all = %d, want 0", count)
	}
}

func TestMarkReadOfAnotherUsersNotification(t *testing.T) {
	ctx := context.Background()
	mem := &memStore{}
	dispatcher := NewDispatcher(mem, nil, cache.NewKeys(""), nil, nil, Options{})
	inbox := NewInbox(mem, nil, cache.NewKeys(""), 0, 0)

	created, err := dispatcher.Notify(ctx, "u1", Message{Type: TypeMention})
	if err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	if _, err := inbox.MarkRead(ctx, "u2", created.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	unread, err := inbox.MarkUnread(ctx, "u1", created.ID)
	if err != nil || unread.Read || unread.ReadAt != nil {
		t.Fatalf("unexpected MarkUnread result %+v, %v", unread, err)
	}
}
