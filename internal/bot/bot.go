// Package bot implements §4.H, the Bot Dispatcher: at-most-once webhook delivery for messages posted
// into rooms a bot belongs to, with bounded global and per-bot concurrency and failure isolation.
package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/semaphore"

	"github.com/campfire-chat/campfire-server/internal/ratelimit"
	"github.com/campfire-chat/campfire-server/internal/store"
)

// Config holds the tunables named in §4.H. Defaults match the spec's defaults.
type Config struct {
	// GlobalConcurrency bounds in-flight deliveries across every bot.
	GlobalConcurrency int64
	// PerBotConcurrency bounds in-flight deliveries for a single bot. Set to 1 for strict per-bot
	// ordering; the default of 4 prioritizes throughput over order.
	PerBotConcurrency int64
	// QueueDepth is the maximum number of queued (not yet in-flight) jobs per bot before Dispatch
	// drops the oldest queued job to admit the new one.
	QueueDepth int
	// DeliveryTimeout bounds a single HTTP POST attempt.
	DeliveryTimeout time.Duration
	// MaxRetries, BaseDelay, and JitterPercent parameterize the exponential backoff schedule: the first
	// retry waits BaseDelay and each later one four times the previous wait.
	MaxRetries    uint64
	BaseDelay     time.Duration
	JitterPercent int
	// MaxRetryAfter caps how long a 429 response's Retry-After is honored for.
	MaxRetryAfter time.Duration
	// PermanentFailureThreshold is the number of consecutive delivery failures for one bot that drops
	// its queue and surfaces a diagnostic, rather than continuing to retry a bot that is clearly down.
	PermanentFailureThreshold int
}

func DefaultConfig() Config {
	return Config{
		GlobalConcurrency:         32,
		PerBotConcurrency:         4,
		QueueDepth:                100,
		DeliveryTimeout:           10 * time.Second,
		MaxRetries:                3,
		BaseDelay:                 time.Second,
		JitterPercent:             25,
		MaxRetryAfter:             60 * time.Second,
		PermanentFailureThreshold: 10,
	}
}

// webhookPayload is the JSON body posted to bot.webhook_url.
type webhookPayload struct {
	MessageID uuid.UUID   `json:"message_id"`
	RoomID    uuid.UUID   `json:"room_id"`
	CreatorID uuid.UUID   `json:"creator_id"`
	Body      string      `json:"body"`
	CreatedAt time.Time   `json:"created_at"`
	Mentions  []uuid.UUID `json:"mentions"`
}

type job struct {
	bot store.User
	msg store.Message
}

// botQueue is a bounded, drop-oldest FIFO for one bot's pending deliveries (§5 backpressure), drained
// by a single worker goroutine that admits up to PerBotConcurrency deliveries at a time.
type botQueue struct {
	mu     sync.Mutex
	items  []job
	notify chan struct{}

	sem              *semaphore.Weighted
	consecutiveFails int
}

// Dispatcher delivers webhook notifications for newly committed messages.
type Dispatcher struct {
	cfg     Config
	client  *http.Client
	limiter *ratelimit.Limiter
	log     zerolog.Logger

	global *semaphore.Weighted

	mu     sync.Mutex
	queues map[uuid.UUID]*botQueue
}

func New(cfg Config, limiter *ratelimit.Limiter, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.DeliveryTimeout},
		limiter: limiter,
		log:     logger.With().Str("component", "bot_dispatcher").Logger(),
		global:  semaphore.NewWeighted(cfg.GlobalConcurrency),
		queues:  make(map[uuid.UUID]*botQueue),
	}
}

// Dispatch enqueues a webhook delivery for bot. Implements pipeline.BotDispatcher.
func (d *Dispatcher) Dispatch(bot store.User, msg store.Message) {
	if d.limiter.BotBlocked(bot.ID) {
		d.log.Debug().Str("bot_id", bot.ID.String()).Msg("dropping delivery, bot currently blocked for abuse")
		return
	}

	q := d.queueFor(bot.ID)

	q.mu.Lock()
	if len(q.items) >= d.cfg.QueueDepth {
		q.items = q.items[1:]
	}
	q.items = append(q.items, job{bot: bot, msg: msg})
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) queueFor(botID uuid.UUID) *botQueue {
	d.mu.Lock()
	defer d.mu.Unlock()

	q, ok := d.queues[botID]
	if ok {
		return q
	}
	q = &botQueue{
		notify: make(chan struct{}, 1),
		sem:    semaphore.NewWeighted(d.cfg.PerBotConcurrency),
	}
	d.queues[botID] = q
	go d.worker(botID, q)
	return q
}

// worker drains q in FIFO order, admitting up to PerBotConcurrency concurrent deliveries for this bot
// (bounded further by the global semaphore) before blocking on the next dequeue.
func (d *Dispatcher) worker(botID uuid.UUID, q *botQueue) {
	for range q.notify {
		for {
			q.mu.Lock()
			if len(q.items) == 0 {
				q.mu.Unlock()
				break
			}
			j := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()

			ctx := context.Background()
			if err := d.global.Acquire(ctx, 1); err != nil {
				continue
			}
			if err := q.sem.Acquire(ctx, 1); err != nil {
				d.global.Release(1)
				continue
			}

			go func(j job) {
				defer d.global.Release(1)
				defer q.sem.Release(1)
				d.deliverWithRetry(j, q)
			}(j)
		}
	}
}

// deliverWithRetry runs the §4.H retry schedule for a single delivery and updates the bot's
// consecutive-failure count and abuse counter on the outcome.
func (d *Dispatcher) deliverWithRetry(j job, q *botQueue) {
	delay := d.cfg.BaseDelay
	var backoff retry.Backoff = retry.BackoffFunc(func() (time.Duration, bool) {
		next := delay
		delay *= 4
		return next, false
	})
	backoff = retry.WithMaxRetries(d.cfg.MaxRetries, backoff)
	backoff = retry.WithJitterPercent(uint64(d.cfg.JitterPercent), backoff)

	err := retry.Do(context.Background(), backoff, func(ctx context.Context) error {
		retryAfter, deliverErr := d.deliver(ctx, j)
		if deliverErr == nil {
			return nil
		}
		if retryAfter > 0 {
			if retryAfter > d.cfg.MaxRetryAfter {
				retryAfter = d.cfg.MaxRetryAfter
			}
			select {
			case <-ctx.Done():
			case <-time.After(retryAfter):
			}
		}
		return deliverErr
	})

	q.mu.Lock()
	if err != nil {
		q.consecutiveFails++
		fails := q.consecutiveFails
		q.mu.Unlock()

		d.limiter.RecordBotError(j.bot.ID)
		d.log.Warn().Err(err).Str("bot_id", j.bot.ID.String()).Str("message_id", j.msg.ID.String()).
			Msg("webhook delivery failed")

		if fails >= d.cfg.PermanentFailureThreshold {
			d.dropQueue(j.bot.ID, fails)
		}
		return
	}
	q.consecutiveFails = 0
	q.mu.Unlock()
}

// dropQueue discards every queued (not yet in-flight) job for a bot that has failed repeatedly and
// logs a diagnostic, per §4.H.
func (d *Dispatcher) dropQueue(botID uuid.UUID, fails int) {
	d.mu.Lock()
	q, ok := d.queues[botID]
	d.mu.Unlock()
	if !ok {
		return
	}

	q.mu.Lock()
	dropped := len(q.items)
	q.items = nil
	q.mu.Unlock()

	d.log.Error().Str("bot_id", botID.String()).Int("consecutive_failures", fails).
		Int("dropped_jobs", dropped).Msg("bot exceeded permanent-failure threshold, queue dropped")
}

// retryableStatus reports whether a non-2xx HTTP status should be retried per §4.H.
func retryableStatus(status int) bool {
	if status == http.StatusRequestTimeout || status == http.StatusTooManyRequests {
		return true
	}
	return status >= 500
}

// deliver performs a single webhook POST attempt. It returns a parsed Retry-After duration when the
// response carries one (honored only for 429) and a retryable error wrapping retry.RetryableError when
// the caller should retry.
func (d *Dispatcher) deliver(ctx context.Context, j job) (time.Duration, error) {
	payload := webhookPayload{
		MessageID: j.msg.ID,
		RoomID:    j.msg.RoomID,
		CreatorID: j.msg.CreatorID,
		Body:      j.msg.Body,
		CreatedAt: j.msg.CreatedAt,
		Mentions:  j.msg.Mentions,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.bot.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, retry.RetryableError(fmt.Errorf("webhook delivery: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return 0, nil
	}

	err = fmt.Errorf("webhook responded with status %d", resp.StatusCode)
	if !retryableStatus(resp.StatusCode) {
		return 0, err
	}

	var retryAfter time.Duration
	if resp.StatusCode == http.StatusTooManyRequests {
		if raw := resp.Header.Get("Retry-After"); raw != "" {
			if secs, parseErr := strconv.Atoi(raw); parseErr == nil {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
	}
	return retryAfter, retry.RetryableError(err)
}
