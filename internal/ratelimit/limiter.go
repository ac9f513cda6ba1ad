package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/crmkit/pacer/internal/channel"
)

var bucketRateLimits = []byte("rate_limits")

// Level represents the level of rate limiting
type Level string

const (
	LevelChannel Level = "channel"
	LevelAccount Level = "account"
)

// Config contains rate limit configuration. Channel-level limits come
// from the channel profile registry; account-level limits are set here.
type Config struct {
	// Default limits for individual sending accounts
	PerAccount *LimitConfig `yaml:"per_account,omitempty"`

	// Persistence settings
	FlushInterval time.Duration `yaml:"flush_interval,omitempty"`
}

// LimitConfig contains rate limit values
type LimitConfig struct {
	MessagesPerHour int `yaml:"messages_per_hour" json:"messages_per_hour"`
	MessagesPerDay  int `yaml:"messages_per_day" json:"messages_per_day"`
}

// Counter tracks rate limit counters
type Counter struct {
	HourlyCount int       `json:"hourly_count"`
	DailyCount  int       `json:"daily_count"`
	HourStart   time.Time `json:"hour_start"`
	DayStart    time.Time `json:"day_start"`
}

// Limiter enforces the per-channel hourly/daily ceilings and optional
// per-account limits with persisted windowed counters. The planner's
// recommendation is advisory; this is the hard backstop the dispatcher
// consults before every send.
type Limiter struct {
	db       *bolt.DB
	registry *channel.Registry
	config   *Config
	counters map[string]*Counter // key -> counter
	mu       sync.RWMutex
	stopCh   chan struct{}
}

// NewLimiter creates a new rate limiter
func NewLimiter(db *bolt.DB, registry *channel.Registry, cfg *Config) (*Limiter, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 10 * time.Second
	}

	// Create bucket if not exists
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRateLimits)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limits bucket: %w", err)
	}

	l := &Limiter{
		db:       db,
		registry: registry,
		config:   cfg,
		counters: make(map[string]*Counter),
		stopCh:   make(chan struct{}),
	}

	// Load persisted counters
	if err := l.loadCounters(); err != nil {
		return nil, fmt.Errorf("failed to load counters: %w", err)
	}

	// Start background persistence
	go l.persistLoop()

	return l, nil
}

// Allow checks if the send is allowed and increments counters
func (l *Limiter) Allow(ctx context.Context, req *Request) (*Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	result := &Result{
		Allowed: true,
	}

	now := time.Now()
	checks := l.getChecks(req)

	for _, check := range checks {
		counter := l.getOrCreateCounter(check.key, now)

		// Reset counters if time window has passed
		l.resetExpiredCounters(counter, now)

		// Check hourly limit
		if check.limit.MessagesPerHour > 0 && counter.HourlyCount >= check.limit.MessagesPerHour {
			result.Allowed = false
			result.DeniedBy = check.level
			result.DeniedKey = check.key
			result.RetryAfter = counter.HourStart.Add(time.Hour).Sub(now)
			return result, nil
		}

		// Check daily limit
		if check.limit.MessagesPerDay > 0 && counter.DailyCount >= check.limit.MessagesPerDay {
			result.Allowed = false
			result.DeniedBy = check.level
			result.DeniedKey = check.key
			result.RetryAfter = counter.DayStart.Add(24 * time.Hour).Sub(now)
			return result, nil
		}
	}

	// Increment all counters if allowed
	for _, check := range checks {
		counter := l.counters[check.key]
		counter.HourlyCount++
		counter.DailyCount++
	}

	return result, nil
}

// Check checks if the send would be allowed without incrementing counters
func (l *Limiter) Check(ctx context.Context, req *Request) (*Result, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := &Result{
		Allowed: true,
	}

	now := time.Now()
	checks := l.getChecks(req)

	for _, check := range checks {
		counter, exists := l.counters[check.key]
		if !exists {
			continue
		}

		// Check if counters are still valid
		hourlyCount := counter.HourlyCount
		dailyCount := counter.DailyCount

		if now.Sub(counter.HourStart) >= time.Hour {
			hourlyCount = 0
		}
		if now.Sub(counter.DayStart) >= 24*time.Hour {
			dailyCount = 0
		}

		// Check hourly limit
		if check.limit.MessagesPerHour > 0 && hourlyCount >= check.limit.MessagesPerHour {
			result.Allowed = false
			result.DeniedBy = check.level
			result.DeniedKey = check.key
			result.RetryAfter = counter.HourStart.Add(time.Hour).Sub(now)
			return result, nil
		}

		// Check daily limit
		if check.limit.MessagesPerDay > 0 && dailyCount >= check.limit.MessagesPerDay {
			result.Allowed = false
			result.DeniedBy = check.level
			result.DeniedKey = check.key
			result.RetryAfter = counter.DayStart.Add(24 * time.Hour).Sub(now)
			return result, nil
		}
	}

	return result, nil
}

// GetStats returns current rate limit statistics
func (l *Limiter) GetStats(ctx context.Context, level Level, key string) (*Stats, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	fullKey := makeKey(level, key)
	counter, exists := l.counters[fullKey]
	if !exists {
		return &Stats{
			Level: level,
			Key:   key,
		}, nil
	}

	now := time.Now()
	stats := &Stats{
		Level:       level,
		Key:         key,
		HourlyCount: counter.HourlyCount,
		DailyCount:  counter.DailyCount,
		HourStart:   counter.HourStart,
		DayStart:    counter.DayStart,
	}

	// Reset if expired
	if now.Sub(counter.HourStart) >= time.Hour {
		stats.HourlyCount = 0
	}
	if now.Sub(counter.DayStart) >= 24*time.Hour {
		stats.DailyCount = 0
	}

	return stats, nil
}

// Stop stops the rate limiter and persists counters
func (l *Limiter) Stop() error {
	close(l.stopCh)
	return l.persistCounters()
}

// Request contains information about the send being rate limited
type Request struct {
	Channel   channel.Type // Channel type of the send
	AccountID string       // Sending account identifier (optional)
}

// Result contains the rate limit check result
type Result struct {
	Allowed    bool
	DeniedBy   Level
	DeniedKey  string
	RetryAfter time.Duration
}

// Stats contains rate limit statistics
type Stats struct {
	Level       Level
	Key         string
	HourlyCount int
	DailyCount  int
	HourStart   time.Time
	DayStart    time.Time
}

type limitCheck struct {
	level Level
	key   string
	limit *LimitConfig
}

func (l *Limiter) getChecks(req *Request) []limitCheck {
	var checks []limitCheck

	// Channel ceiling from the profile registry
	if req.Channel != "" {
		profile := l.registry.Lookup(req.Channel)
		checks = append(checks, limitCheck{
			level: LevelChannel,
			key:   makeKey(LevelChannel, string(req.Channel)),
			limit: &LimitConfig{
				MessagesPerHour: profile.MaxMessagesPerHour,
				MessagesPerDay:  profile.MaxMessagesPerDay,
			},
		})
	}

	// Per-account limit
	if req.AccountID != "" && l.config.PerAccount != nil {
		checks = append(checks, limitCheck{
			level: LevelAccount,
			key:   makeKey(LevelAccount, req.AccountID),
			limit: l.config.PerAccount,
		})
	}

	return checks
}

func (l *Limiter) getOrCreateCounter(key string, now time.Time) *Counter {
	counter, exists := l.counters[key]
	if !exists {
		counter = &Counter{
			HourStart: now,
			DayStart:  now,
		}
		l.counters[key] = counter
	}
	return counter
}

func (l *Limiter) resetExpiredCounters(counter *Counter, now time.Time) {
	if now.Sub(counter.HourStart) >= time.Hour {
		counter.HourlyCount = 0
		counter.HourStart = now
	}
	if now.Sub(counter.DayStart) >= 24*time.Hour {
		counter.DailyCount = 0
		counter.DayStart = now
	}
}

func (l *Limiter) loadCounters() error {
	return l.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketRateLimits)
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			var counter Counter
			if err := json.Unmarshal(v, &counter); err != nil {
				return nil // Skip invalid entries
			}
			l.counters[string(k)] = &counter
			return nil
		})
	})
}

func (l *Limiter) persistCounters() error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketRateLimits)
		if bucket == nil {
			return nil
		}

		for key, counter := range l.counters {
			data, err := json.Marshal(counter)
			if err != nil {
				continue
			}
			if err := bucket.Put([]byte(key), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (l *Limiter) persistLoop() {
	ticker := time.NewTicker(l.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.persistCounters()
		}
	}
}

func makeKey(level Level, key string) string {
	return string(level) + ":" + key
}
