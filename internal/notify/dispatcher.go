package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"taskflow/internal/cache"
	"taskflow/internal/store"
)

type Writer interface {
	InsertNotification(ctx context.Context, item store.Notification) (store.Notification, error)
}

type Options struct {
	// Workers is the number of push goroutines started by Start.
	Workers int
	// QueueSize bounds pending pushes. A full queue drops new pushes.
	QueueSize int
	// Attempts is how many times the durable insert is tried.
	Attempts int
	Backoff  time.Duration
	// PushTimeout bounds a single push.
	PushTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 1024
	}
	if o.Attempts <= 0 {
		o.Attempts = 3
	}
	if o.Backoff <= 0 {
		o.Backoff = 50 * time.Millisecond
	}
	if o.PushTimeout <= 0 {
		o.PushTimeout = 5 * time.Second
	}
	return o
}

type pushJob struct {
	userID  string
	event   string
	payload any
}

// Dispatcher is the write side: it stores notifications and queues pushes.
// Until Start is called pushes run inline, isolated from the caller.
type Dispatcher struct {
	store  Writer
	cache  cache.Cache
	keys   cache.Keys
	pusher Pusher
	logger *slog.Logger
	opts   Options

	jobs    chan pushJob
	started atomic.Bool
	wg      sync.WaitGroup
	newID   func() string
}

func NewDispatcher(writer Writer, c cache.Cache, keys cache.Keys, pusher Pusher, logger *slog.Logger, opts Options) *Dispatcher {
	if c == nil {
		c = cache.Noop{}
	}
	if pusher == nil {
		pusher = Discard{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.withDefaults()
	return &Dispatcher{
		store:  writer,
		cache:  c,
		keys:   keys,
		pusher: pusher,
		logger: logger,
		opts:   opts,
		jobs:   make(chan pushJob, opts.QueueSize),
		newID:  uuid.NewString,
	}
}

// Start runs the push workers until ctx is cancelled. It is a no-op when
// already started.
func (d *Dispatcher) Start(ctx context.Context) {
	if !d.started.CompareAndSwap(false, true) {
		return
	}
	for i := 0; i < d.opts.Workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-d.jobs:
					d.push(ctx, job)
				}
			}
		}()
	}
}

// Wait blocks until every worker has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Notify stores one notification for recipient and queues its push.
func (d *Dispatcher) Notify(ctx context.Context, recipient string, msg Message) (store.Notification, error) {
	if recipient == "" {
		return store.Notification{}, errors.New("notify: empty recipient")
	}
	if !ValidType(msg.Type) {
		return store.Notification{}, fmt.Errorf("notify: unknown notification type %q", msg.Type)
	}

	created, err := d.insert(ctx, msg.record(d.newID(), recipient))
	if err != nil {
		return store.Notification{}, err
	}
	d.cache.Invalidate(context.WithoutCancel(ctx), d.keys.ForNotifications(recipient))
	d.enqueue(ctx, pushJob{userID: recipient, event: EventNewNotification, payload: created})
	return created, nil
}

// NotifyAll sends msg to every recipient except the actor. Failures are
// logged per recipient; the stored notifications are returned.
func (d *Dispatcher) NotifyAll(ctx context.Context, recipients []string, actorID string, msg Message) []store.Notification {
	targets := Recipients(actorID, recipients...)
	out := make([]store.Notification, 0, len(targets))
	for _, recipient := range targets {
		created, err := d.Notify(ctx, recipient, msg)
		if err != nil {
			d.logger.Error("notification not recorded",
				"recipient", recipient, "type", msg.Type, "task_id", msg.TaskID, "error", err)
			continue
		}
		out = append(out, created)
	}
	return out
}

// Broadcast queues a push-only event for every recipient. Nothing is stored.
func (d *Dispatcher) Broadcast(ctx context.Context, recipients []string, event string, payload any) {
	for _, recipient := range Recipients("", recipients...) {
		d.enqueue(ctx, pushJob{userID: recipient, event: event, payload: payload})
	}
}

func (d *Dispatcher) insert(ctx context.Context, item store.Notification) (store.Notification, error) {
	var lastErr error
	for attempt := 1; attempt <= d.opts.Attempts; attempt++ {
		created, err := d.store.InsertNotification(ctx, item)
		if err == nil {
			return created, nil
		}
		lastErr = err
		if errors.Is(err, store.ErrConflict) || attempt == d.opts.Attempts {
			break
		}
		d.logger.Warn("notification insert failed, retrying",
			"recipient", item.UserID, "attempt", attempt, "error", err)

		timer := time.NewTimer(d.opts.Backoff * time.Duration(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return store.Notification{}, fmt.Errorf("notify %s: %w", item.UserID, ctx.Err())
		case <-timer.C:
		}
	}
	return store.Notification{}, fmt.Errorf("notify %s: %w", item.UserID, lastErr)
}

func (d *Dispatcher) enqueue(ctx context.Context, job pushJob) {
	if !d.started.Load() {
		d.push(context.WithoutCancel(ctx), job)
		return
	}
	select {
	case d.jobs <- job:
	default:
		d.logger.Warn("push queue full, event dropped", "user_id", job.userID, "event", job.event)
	}
}

// push never panics and never returns an error; the stored row is the
// recovery path for anything lost here.
func (d *Dispatcher) push(ctx context.Context, job pushJob) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("push panicked", "user_id", job.userID, "event", job.event, "panic", r)
		}
	}()
	ctx, cancel := context.WithTimeout(ctx, d.opts.PushTimeout)
	defer cancel()
	if err := d.pusher.Push(ctx, job.userID, job.event, job.payload); err != nil {
		d.logger.Warn("push failed", "user_id", job.userID, "event", job.event, "error", err)
	}
}
