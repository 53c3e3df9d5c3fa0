package dla

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// AttachEvent is emitted each time a walker joins the aggregate.
type AttachEvent struct {
	FlakeID    FlakeID `json:"flake_id"`
	Index      int     `json:"index"`
	Parent     int     `json:"parent"`
	Point      Point   `json:"point"`
	Steps      int     `json:"steps"`
	Generation int     `json:"generation"`
	Timestamp  int64   `json:"timestamp"`
}

// JSON returns the event as JSON bytes
func (ev AttachEvent) JSON() ([]byte, error) {
	return json.Marshal(ev)
}

// Observer receives attachment events synchronously from the engine.
// Implementations must not call back into the engine.
type Observer interface {
	CrystalAttached(ev AttachEvent)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ev AttachEvent)

func (f ObserverFunc) CrystalAttached(ev AttachEvent) { f(ev) }

// Notifier is the interface that all notification channels must implement
type Notifier interface {
	// ID returns a unique identifier for this notifier
	ID() string

	// Type returns the type of notifier (e.g., "webhook", "websocket")
	Type() string

	// Notify delivers one event. The context carries the delivery deadline.
	Notify(ctx context.Context, event AttachEvent) error

	// Close closes the notifier and releases any resources
	Close() error
}

type notificationJob struct {
	Event       AttachEvent
	NotifierIDs []string
}

// NotificationManager fans attachment events out to registered notifiers
// from a background worker. It implements Observer.
type NotificationManager struct {
	mu        sync.RWMutex
	notifiers map[string]Notifier
	jobs      chan notificationJob
	closed    bool
	wg        sync.WaitGroup
	logger    *slog.Logger

	// retry policy, overridable in tests
	maxRetries int
	backoff    time.Duration
}

// NewNotificationManager creates a manager with one delivery worker.
func NewNotificationManager(logger *slog.Logger) *NotificationManager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	mgr := &NotificationManager{
		notifiers:  make(map[string]Notifier),
		jobs:       make(chan notificationJob, 1024),
		logger:     logger,
		maxRetries: 3,
		backoff:    100 * time.Millisecond,
	}
	mgr.startWorkers(1)
	return mgr
}

// RegisterNotifier registers a notifier with the manager
func (nm *NotificationManager) RegisterNotifier(notifier Notifier) error {
	if notifier == nil {
		return errors.New("notifier cannot be nil")
	}

	id := notifier.ID()
	if id == "" {
		return errors.New("notifier ID cannot be empty")
	}

	nm.mu.Lock()
	defer nm.mu.Unlock()

	if _, exists := nm.notifiers[id]; exists {
		return fmt.Errorf("notifier with ID %s already exists", id)
	}

	nm.notifiers[id] = notifier
	return nil
}

// UnregisterNotifier closes and removes a notifier.
func (nm *NotificationManager) UnregisterNotifier(id string) error {
	nm.mu.Lock()
	notifier, exists := nm.notifiers[id]
	if exists {
		delete(nm.notifiers, id)
	}
	nm.mu.Unlock()

	if !exists {
		return fmt.Errorf("notifier with ID %s not found", id)
	}

	if err := notifier.Close(); err != nil {
		return fmt.Errorf("error closing notifier %s: %w", id, err)
	}
	return nil
}

// GetNotifier retrieves a notifier by ID
func (nm *NotificationManager) GetNotifier(id string) (Notifier, bool) {
	nm.mu.RLock()
	defer nm.mu.RUnlock()
	notifier, exists := nm.notifiers[id]
	return notifier, exists
}

// ListNotifiers returns the registered notifier IDs in sorted order.
func (nm *NotificationManager) ListNotifiers() []string {
	nm.mu.RLock()
	defer nm.mu.RUnlock()
	ids := make([]string, 0, len(nm.notifiers))
	for id := range nm.notifiers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CrystalAttached queues the event for every registered notifier.
func (nm *NotificationManager) CrystalAttached(ev AttachEvent) {
	nm.Enqueue(ev, nm.ListNotifiers())
}

// Enqueue is non-blocking; events are dropped when the queue is full.
func (nm *NotificationManager) Enqueue(event AttachEvent, notifierIDs []string) {
	if len(notifierIDs) == 0 {
		return
	}

	nm.mu.RLock()
	defer nm.mu.RUnlock()
	if nm.closed {
		return
	}

	select {
	case nm.jobs <- notificationJob{Event: event, NotifierIDs: notifierIDs}:
	default:
		nm.logger.Warn("notification queue full, dropping event",
			"flake", event.FlakeID, "index", event.Index)
	}
}

func (nm *NotificationManager) startWorkers(n int) {
	for range n {
		nm.wg.Add(1)
		go nm.worker()
	}
}

func (nm *NotificationManager) worker() {
	defer nm.wg.Done()
	for job := range nm.jobs {
		nm.dispatchJob(job)
	}
}

func (nm *NotificationManager) dispatchJob(job notificationJob) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, id := range job.NotifierIDs {
		nm.notifyWithRetry(ctx, id, job.Event)
	}
}

// notifyWithRetry retries with exponential backoff
func (nm *NotificationManager) notifyWithRetry(ctx context.Context, notifierID string, event AttachEvent) {
	notifier, ok := nm.GetNotifier(notifierID)
	if !ok {
		nm.logger.Warn("notification failed", "notifier", notifierID, "error", "notifier not found")
		return
	}

	backoff := nm.backoff
	for attempt := 0; attempt <= nm.maxRetries; attempt++ {
		err := notifier.Notify(ctx, event)
		if err == nil {
			return
		}

		nm.logger.Warn("notification failed", "notifier", notifierID, "attempt", attempt+1, "error", err)
		if attempt == nm.maxRetries {
			nm.logger.Error("notification abandoned", "notifier", notifierID, "attempts", nm.maxRetries+1)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}

// Notify delivers synchronously to the given notifiers, collecting errors.
func (nm *NotificationManager) Notify(ctx context.Context, event AttachEvent, notifierIDs []string) error {
	var errs []error
	for _, id := range notifierIDs {
		notifier, exists := nm.GetNotifier(id)
		if !exists {
			errs = append(errs, fmt.Errorf("notifier %s not found", id))
			continue
		}
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("notifier %s failed: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// Close drains the queue, stops the worker and closes all notifiers.
func (nm *NotificationManager) Close() error {
	nm.mu.Lock()
	if nm.closed {
		nm.mu.Unlock()
		return nil
	}
	nm.closed = true
	close(nm.jobs)
	nm.mu.Unlock()

	nm.wg.Wait()

	nm.mu.Lock()
	var errs []error
	for id, notifier := range nm.notifiers {
		if err := notifier.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing notifier %s: %w", id, err))
		}
	}
	nm.notifiers = make(map[string]Notifier)
	nm.mu.Unlock()

	return errors.Join(errs...)
}
