// Package ratelimit implements §4.E's abuse controls: per-user token buckets for message creation,
// coarser buckets for general API and auth traffic, and a bot abuse subcounter that escalates to a
// temporary block after repeated webhook delivery failures.
package ratelimit

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Config holds the tunable rates for each bucket class. Defaults match §4.E.
type Config struct {
	// MessageRate and MessageBurst bound how often a single user may create messages: 10 every 10s,
	// burst 5.
	MessageRate  rate.Limit
	MessageBurst int

	// GeneralRate/GeneralBurst bound general API traffic per client IP (§4.E: 60/min, burst 10).
	GeneralRate  rate.Limit
	GeneralBurst int

	// AuthRate/AuthBurst bound login/registration attempts per IP (§4.E: 10/min, burst 5).
	AuthRate  rate.Limit
	AuthBurst int

	// BotErrorThreshold is the number of webhook delivery errors within BotErrorWindow that blocks a
	// bot for BotBlockDuration (§4.H abuse handling).
	BotErrorThreshold int
	BotErrorWindow    time.Duration
	BotBlockDuration  time.Duration

	// IdleEvictAfter removes a bucket that has not been touched in this long, bounding memory growth
	// from one-off clients.
	IdleEvictAfter time.Duration
}

// DefaultConfig returns §4.E's defaults.
func DefaultConfig() Config {
	return Config{
		MessageRate:       rate.Every(time.Second),
		MessageBurst:      5,
		GeneralRate:       rate.Every(time.Second),
		GeneralBurst:      10,
		AuthRate:          rate.Every(6 * time.Second),
		AuthBurst:         5,
		BotErrorThreshold: 10,
		BotErrorWindow:    5 * time.Minute,
		BotBlockDuration:  30 * time.Minute,
		IdleEvictAfter:    24 * time.Hour,
	}
}

type bucket struct {
	limiter   *rate.Limiter
	lastTouch time.Time
}

// Limiter tracks one rate.Limiter per key per class, plus the bot abuse subcounters. All methods are
// safe for concurrent use.
type Limiter struct {
	cfg Config

	mu       sync.Mutex
	message  map[uuid.UUID]*bucket
	general  map[string]*bucket
	auth     map[string]*bucket
	botAbuse map[uuid.UUID]*botState
}

type botState struct {
	errors       []time.Time
	blockedUntil time.Time
}

func New(cfg Config) *Limiter {
	return &Limiter{
		cfg:      cfg,
		message:  make(map[uuid.UUID]*bucket),
		general:  make(map[string]*bucket),
		auth:     make(map[string]*bucket),
		botAbuse: make(map[uuid.UUID]*botState),
	}
}

// AllowMessage reports whether userID may create another message right now.
func (l *Limiter) AllowMessage(userID uuid.UUID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.message[userID]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.cfg.MessageRate, l.cfg.MessageBurst)}
		l.message[userID] = b
	}
	b.lastTouch = time.Now()
	return b.limiter.Allow()
}

// AllowGeneral reports whether the given client IP may make another general API request right now
// (§4.E "general" bucket).
func (l *Limiter) AllowGeneral(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.general[ip]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.cfg.GeneralRate, l.cfg.GeneralBurst)}
		l.general[ip] = b
	}
	b.lastTouch = time.Now()
	return b.limiter.Allow()
}

// AllowAuth reports whether the given IP may make another login/registration attempt right now.
func (l *Limiter) AllowAuth(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.auth[ip]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.cfg.AuthRate, l.cfg.AuthBurst)}
		l.auth[ip] = b
	}
	b.lastTouch = time.Now()
	return b.limiter.Allow()
}

// RecordBotError registers a webhook delivery failure for botID, blocking the bot for
// Config.BotBlockDuration once Config.BotErrorThreshold failures land inside Config.BotErrorWindow.
func (l *Limiter) RecordBotError(botID uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.botAbuse[botID]
	if !ok {
		st = &botState{}
		l.botAbuse[botID] = st
	}

	now := time.Now()
	cutoff := now.Add(-l.cfg.BotErrorWindow)
	kept := st.errors[:0]
	for _, t := range st.errors {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	st.errors = append(kept, now)

	if len(st.errors) >= l.cfg.BotErrorThreshold {
		st.blockedUntil = now.Add(l.cfg.BotBlockDuration)
		st.errors = nil
	}
}

// BotBlocked reports whether botID is currently blocked due to repeated delivery errors.
func (l *Limiter) BotBlocked(botID uuid.UUID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.botAbuse[botID]
	if !ok {
		return false
	}
	return time.Now().Before(st.blockedUntil)
}

// Sweep evicts buckets untouched for longer than Config.IdleEvictAfter, bounding memory use for
// long-running servers with a rotating user population. Intended to be called periodically.
func (l *Limiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-l.cfg.IdleEvictAfter)
	for k, b := range l.message {
		if b.lastTouch.Before(cutoff) {
			delete(l.message, k)
		}
	}
	for k, b := range l.general {
		if b.lastTouch.Before(cutoff) {
			delete(l.general, k)
		}
	}
	for k, b := range l.auth {
		if b.lastTouch.Before(cutoff) {
			delete(l.auth, k)
		}
	}
}
