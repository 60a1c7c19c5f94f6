package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"marketplace/models"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"
)

type Store interface {
	InsertNotification(ctx context.Context, n *models.Notification) error
	GetPreference(ctx context.Context, userID int, eventType string) (*models.NotificationPreference, error)
	IsUserMuted(ctx context.Context, userID int) (bool, error)
}

// Channel is an external delivery transport (push, email, sms). Sends are
// best-effort; only the in-app record is guaranteed.
type Channel interface {
	Name() string
	Send(ctx context.Context, n *models.Notification) error
}

// Router fans domain events out to the user's enabled channels. It never
// fails the triggering transition: persistence is retried, external sends
// happen out-of-band with bounded timeouts, and failures only bump the
// degraded-delivery counter.
type Router struct {
	store       Store
	channels    []Channel
	logger      *slog.Logger
	sendTimeout time.Duration

	wg       sync.WaitGroup
	degraded atomic.Int64
}

func NewRouter(store Store, channels []Channel, sendTimeout time.Duration, logger *slog.Logger) *Router {
	return &Router{
		store:       store,
		channels:    channels,
		logger:      logger,
		sendTimeout: sendTimeout,
	}
}

func (r *Router) Notify(ctx context.Context, userID int, eventType, priority string, payload map[string]any) {
	body, err := json.Marshal(payload)
	if err != nil {
		r.logger.Error("notification payload marshal failed", "event_type", eventType, "error", err)
		return
	}
	n := &models.Notification{
		EventID:   uuid.New(),
		UserID:    userID,
		EventType: eventType,
		Priority:  priority,
		Payload:   body,
	}

	// In-app delivery is at-least-once: the insert is retried and the
	// event_id dedupes replays.
	backoff := retry.WithMaxRetries(3, retry.NewExponential(100*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		return retry.RetryableError(r.store.InsertNotification(ctx, n))
	})
	if err != nil {
		r.degraded.Add(1)
		r.logger.Error("in-app notification persist failed", "user_id", userID, "event_type", eventType, "error", err)
	}

	muted, err := r.store.IsUserMuted(ctx, userID)
	if err != nil {
		r.logger.Error("mute lookup failed", "user_id", userID, "error", err)
		return
	}
	if muted {
		return
	}

	enabled := r.enabledChannels(ctx, userID, eventType)
	if len(enabled) == 0 {
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.fanOut(enabled, n)
	}()
}

func (r *Router) enabledChannels(ctx context.Context, userID int, eventType string) []Channel {
	pref, err := r.store.GetPreference(ctx, userID, eventType)
	if err != nil {
		// No stored preference: push on, email/sms opt-in.
		pref = &models.NotificationPreference{UserID: userID, EventType: eventType, Push: true}
	}
	flags := map[string]bool{
		"push":  pref.Push,
		"email": pref.Email,
		"sms":   pref.SMS,
	}
	var out []Channel
	for _, ch := range r.channels {
		if flags[ch.Name()] {
			out = append(out, ch)
		}
	}
	return out
}

func (r *Router) fanOut(channels []Channel, n *models.Notification) {
	g := new(errgroup.Group)
	for _, ch := range channels {
		ch := ch
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), r.sendTimeout)
			defer cancel()

			backoff := retry.WithMaxRetries(2, retry.NewFibonacci(250*time.Millisecond))
			err := retry.Do(ctx, backoff, func(ctx context.Context) error {
				return retry.RetryableError(ch.Send(ctx, n))
			})
			if err != nil {
				r.degraded.Add(1)
				r.logger.Warn("channel delivery failed",
					"channel", ch.Name(), "user_id", n.UserID, "event_type", n.EventType, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Flush waits for in-flight channel sends; used on shutdown and in tests.
func (r *Router) Flush() {
	r.wg.Wait()
}

// DegradedDeliveries reports how many deliveries failed after retries.
func (r *Router) DegradedDeliveries() int64 {
	return r.degraded.Load()
}
