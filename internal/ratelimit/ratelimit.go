package ratelimit

import (
	"sync"
	"time"

	"github.com/n8watkins/GeminiGPT-sub000/internal/models"
	"go.uber.org/zap"
)

// Config holds the dual-window bucket parameters. Zero values are
// replaced with the defaults below.
type Config struct {
	ShortCapacity int           `mapstructure:"short_capacity"`
	ShortRefill   int           `mapstructure:"short_refill"`
	ShortInterval time.Duration `mapstructure:"short_interval"`
	LongCapacity  int           `mapstructure:"long_capacity"`
	LongRefill    int           `mapstructure:"long_refill"`
	LongInterval  time.Duration `mapstructure:"long_interval"`

	MaxTrackedUsers int           `mapstructure:"max_tracked_users"`
	Retention       time.Duration `mapstructure:"retention"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
}

func (c Config) withDefaults() Config {
	if c.ShortCapacity <= 0 {
		c.ShortCapacity = 10
	}
	if c.ShortRefill <= 0 {
		c.ShortRefill = 10
	}
	if c.ShortInterval <= 0 {
		c.ShortInterval = time.Minute
	}
	if c.LongCapacity <= 0 {
		c.LongCapacity = 100
	}
	if c.LongRefill <= 0 {
		c.LongRefill = 100
	}
	if c.LongInterval <= 0 {
		c.LongInterval = time.Hour
	}
	if c.MaxTrackedUsers <= 0 {
		c.MaxTrackedUsers = 10000
	}
	if c.Retention <= 0 {
		c.Retention = 24 * time.Hour
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 10 * time.Minute
	}
	return c
}

// Result is the outcome of one CheckAndConsume call.
type Result struct {
	Allowed      bool
	RetryAfterMs int64
	Info         models.RateLimitInfo
}

type bucket struct {
	tokens     int
	capacity   int
	refillRate int
	interval   time.Duration
	lastRefill time.Time
}

// refill credits tokens for the time elapsed since the last refill.
// A backward clock jump resets the refill anchor without granting
// anything; a forward jump is clamped to two intervals so an NTP
// resync can never mint an unbounded batch of tokens.
func (b *bucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastRefill)
	if elapsed < 0 {
		b.lastRefill = now
		return
	}
	if elapsed > 2*b.interval {
		elapsed = 2 * b.interval
		b.lastRefill = now.Add(-elapsed)
	}
	ticks := int(elapsed / b.interval)
	if ticks == 0 {
		return
	}
	b.tokens += ticks * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = b.lastRefill.Add(time.Duration(ticks) * b.interval)
}

// nextToken reports when the bucket will next hold at least one token.
func (b *bucket) nextToken() time.Time {
	if b.tokens > 0 {
		return b.lastRefill
	}
	return b.lastRefill.Add(b.interval)
}

type userState struct {
	short       bucket
	long        bucket
	lastRequest time.Time
}

// Limiter tracks per-user dual-window token buckets. All bucket math
// happens under one mutex so a check is never separated from its
// consume, which rules out overdraft under concurrent sends for the
// same user.
type Limiter struct {
	mu     sync.Mutex
	users  map[string]*userState
	cfg    Config
	logger *zap.Logger

	now  func() time.Time
	done chan struct{}
	wg   sync.WaitGroup
}

func New(cfg Config, logger *zap.Logger) *Limiter {
	l := &Limiter{
		users:  make(map[string]*userState),
		cfg:    cfg.withDefaults(),
		logger: logger,
		now:    time.Now,
		done:   make(chan struct{}),
	}
	l.wg.Add(1)
	go l.sweepLoop()
	return l
}

// Close stops the background sweep.
func (l *Limiter) Close() error {
	close(l.done)
	l.wg.Wait()
	return nil
}

// CheckAndConsume allows a request only if both the minute and hour
// buckets hold a token, decrementing both when it does. It never
// panics; an empty userID is denied outright so distinct unidentified
// callers can't collapse into one shared bucket.
func (l *Limiter) CheckAndConsume(userID string) Result {
	if userID == "" {
		l.logger.Warn("rate limit check with empty user id")
		return Result{Allowed: false, RetryAfterMs: l.cfg.ShortInterval.Milliseconds()}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	state, exists := l.users[userID]
	if !exists {
		if len(l.users) >= l.cfg.MaxTrackedUsers {
			l.evictOldestLocked()
		}
		state = &userState{
			short: bucket{
				tokens:     l.cfg.ShortCapacity,
				capacity:   l.cfg.ShortCapacity,
				refillRate: l.cfg.ShortRefill,
				interval:   l.cfg.ShortInterval,
				lastRefill: now,
			},
			long: bucket{
				tokens:     l.cfg.LongCapacity,
				capacity:   l.cfg.LongCapacity,
				refillRate: l.cfg.LongRefill,
				interval:   l.cfg.LongInterval,
				lastRefill: now,
			},
		}
		l.users[userID] = state
	}

	state.short.refill(now)
	state.long.refill(now)
	state.lastRequest = now

	allowed := state.short.tokens >= 1 && state.long.tokens >= 1
	if allowed {
		state.short.tokens = max(0, state.short.tokens-1)
		state.long.tokens = max(0, state.long.tokens-1)
	}

	res := Result{
		Allowed: allowed,
		Info: models.RateLimitInfo{
			RemainingMinute: state.short.tokens,
			RemainingHour:   state.long.tokens,
			ResetMinute:     state.short.lastRefill.Add(state.short.interval),
			ResetHour:       state.long.lastRefill.Add(state.long.interval),
		},
	}
	if !allowed {
		retryAt := state.short.nextToken()
		if state.long.tokens < 1 {
			if lr := state.long.nextToken(); lr.After(retryAt) {
				retryAt = lr
			}
		}
		res.RetryAfterMs = max(int64(0), retryAt.Sub(now).Milliseconds())
	}
	return res
}

// evictOldestLocked removes the least recently active user to make room
// for a new one. Caller holds l.mu.
func (l *Limiter) evictOldestLocked() {
	var oldestID string
	var oldestAt time.Time
	for id, state := range l.users {
		if oldestID == "" || state.lastRequest.Before(oldestAt) {
			oldestID = id
			oldestAt = state.lastRequest
		}
	}
	if oldestID != "" {
		delete(l.users, oldestID)
		l.logger.Debug("evicted rate limit entry at capacity",
			zap.String("user_id", oldestID))
	}
}

func (l *Limiter) sweepLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(l.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

// sweep drops entries that have been idle past the retention window.
func (l *Limiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.cfg.Retention)
	removed := 0
	for id, state := range l.users {
		if state.lastRequest.Before(cutoff) {
			delete(l.users, id)
			removed++
		}
	}
	if removed > 0 {
		l.logger.Debug("swept inactive rate limit entries",
			zap.Int("removed", removed),
			zap.Int("remaining", len(l.users)))
	}
}
