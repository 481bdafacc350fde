// Package push implements §4.I, the Push Dispatcher: best-effort delivery of offline notifications to
// browser push subscriptions, with bounded concurrency and no retry beyond the transport's own.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/campfire-chat/campfire-server/internal/store"
)

// Config holds the tunables named in §4.I.
type Config struct {
	// MaxConcurrency bounds in-flight deliveries across all subscriptions.
	MaxConcurrency int64
	// DeliveryTimeout bounds a single delivery attempt.
	DeliveryTimeout time.Duration
	// StaleFailureThreshold is the number of consecutive delivery failures for one subscription before
	// it is marked stale and excluded from further fan-out.
	StaleFailureThreshold int
}

func DefaultConfig() Config {
	return Config{
		MaxConcurrency:        64,
		DeliveryTimeout:       5 * time.Second,
		StaleFailureThreshold: 5,
	}
}

// pushPayload is the notification body delivered to a subscription's endpoint.
type pushPayload struct {
	RoomID    uuid.UUID `json:"room_id"`
	MessageID uuid.UUID `json:"message_id"`
	CreatorID uuid.UUID `json:"creator_id"`
	Body      string    `json:"body"`
}

// Dispatcher sends best-effort push notifications for newly committed messages.
type Dispatcher struct {
	cfg    Config
	client *http.Client
	store  *store.Store
	log    zerolog.Logger

	sem *semaphore.Weighted

	mu    sync.Mutex
	fails map[uuid.UUID]int
}

func New(cfg Config, st *store.Store, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.DeliveryTimeout},
		store:  st,
		log:    logger.With().Str("component", "push_dispatcher").Logger(),
		sem:    semaphore.NewWeighted(cfg.MaxConcurrency),
		fails:  make(map[uuid.UUID]int),
	}
}

// Dispatch delivers msg to every non-stale push subscription registered to userID. Implements
// pipeline.PushDispatcher.
func (d *Dispatcher) Dispatch(userID uuid.UUID, msg store.Message) {
	ctx := context.Background()

	subs, err := d.store.PushSubscriptionsForUser(ctx, userID)
	if err != nil {
		d.log.Warn().Err(err).Str("user_id", userID.String()).Msg("failed to load push subscriptions")
		return
	}

	payload := pushPayload{RoomID: msg.RoomID, MessageID: msg.ID, CreatorID: msg.CreatorID, Body: msg.Body}
	body, err := json.Marshal(payload)
	if err != nil {
		d.log.Warn().Err(err).Msg("failed to marshal push payload")
		return
	}

	for _, sub := range subs {
		if err := d.sem.Acquire(ctx, 1); err != nil {
			return
		}
		go func(sub store.PushSubscription) {
			defer d.sem.Release(1)
			d.deliver(ctx, sub, body)
		}(sub)
	}
}

// deliver performs a single best-effort delivery attempt. No retry: a failed attempt is logged and
// counted toward the subscription's staleness threshold, not retried here.
func (d *Dispatcher) deliver(ctx context.Context, sub store.PushSubscription, body []byte) {
	deliverCtx, cancel := context.WithTimeout(ctx, d.cfg.DeliveryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(deliverCtx, http.MethodPost, sub.Endpoint, bytes.NewReader(body))
	if err != nil {
		d.recordFailure(ctx, sub.ID, fmt.Errorf("build push request: %w", err))
		return
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := d.client.Do(req)
	if err != nil {
		d.recordFailure(ctx, sub.ID, fmt.Errorf("push delivery: %w", err))
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		d.markStale(ctx, sub.ID)
		return
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		d.recordSuccess(sub.ID)
		return
	}
	d.recordFailure(ctx, sub.ID, fmt.Errorf("push endpoint responded with status %d", resp.StatusCode))
}

func (d *Dispatcher) recordSuccess(subID uuid.UUID) {
	d.mu.Lock()
	delete(d.fails, subID)
	d.mu.Unlock()
}

func (d *Dispatcher) recordFailure(ctx context.Context, subID uuid.UUID, err error) {
	d.log.Warn().Err(err).Str("subscription_id", subID.String()).Msg("push delivery failed")

	d.mu.Lock()
	d.fails[subID]++
	count := d.fails[subID]
	d.mu.Unlock()

	if count >= d.cfg.StaleFailureThreshold {
		d.markStale(ctx, subID)
	}
}

func (d *Dispatcher) markStale(ctx context.Context, subID uuid.UUID) {
	if err := d.store.MarkPushSubscriptionStale(ctx, subID); err != nil {
		d.log.Warn().Err(err).Str("subscription_id", subID.String()).Msg("failed to mark subscription stale")
		return
	}
	d.mu.Lock()
	delete(d.fails, subID)
	d.mu.Unlock()
}
