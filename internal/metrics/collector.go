package metrics

import (
	"context"
	"encoding/json"
	"os"
	"runtime"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

// JobStats contains job queue statistics for metrics
type JobStats struct {
	Pending   int64
	Running   int64
	Paused    int64
	Completed int64
	Failed    int64
	Total     int64
}

// JobStatsProvider provides job statistics for metrics
type JobStatsProvider interface {
	JobStats(ctx context.Context) (*JobStats, error)
}

var bucketMetrics = []byte("metrics")

// ShadowCounters stores counter values for persistence
type ShadowCounters struct {
	PlansComputed      map[string]float64 `json:"plans_computed"`
	PlanWarnings       map[string]float64 `json:"plan_warnings"`
	ContentValidations map[string]float64 `json:"content_validations"`
	SegmentsResolved   float64            `json:"segments_resolved"`
	SchedulesEstimated float64            `json:"schedules_estimated"`
	MessagesSent       map[string]float64 `json:"messages_sent"`
	MessagesFailed     map[string]float64 `json:"messages_failed"`
	APIRequests        map[string]float64 `json:"api_requests"`
	APIErrors          map[string]float64 `json:"api_errors"`
	RateLimitExceeded  map[string]float64 `json:"ratelimit_exceeded"`
}

// Collector handles metrics persistence and system gauge updates
type Collector struct {
	db            *bolt.DB
	metrics       *Metrics
	jobStats      JobStatsProvider
	storagePath   string
	flushInterval time.Duration
	startTime     time.Time

	shadow ShadowCounters
	mu     sync.Mutex
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewCollector creates a new metrics collector
func NewCollector(db *bolt.DB, m *Metrics, jobStats JobStatsProvider, storagePath string, flushInterval time.Duration) (*Collector, error) {
	if flushInterval == 0 {
		flushInterval = 10 * time.Second
	}

	// Create bucket if not exists
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketMetrics)
		return err
	})
	if err != nil {
		return nil, err
	}

	c := &Collector{
		db:            db,
		metrics:       m,
		jobStats:      jobStats,
		storagePath:   storagePath,
		flushInterval: flushInterval,
		startTime:     time.Now(),
		shadow: ShadowCounters{
			PlansComputed:      make(map[string]float64),
			PlanWarnings:       make(map[string]float64),
			ContentValidations: make(map[string]float64),
			MessagesSent:       make(map[string]float64),
			MessagesFailed:     make(map[string]float64),
			APIRequests:        make(map[string]float64),
			APIErrors:          make(map[string]float64),
			RateLimitExceeded:  make(map[string]float64),
		},
		stopCh: make(chan struct{}),
	}

	// Load persisted counters
	if err := c.loadCounters(); err != nil {
		return nil, err
	}

	return c, nil
}

// Start begins the collector background tasks
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(2)
	go c.persistLoop(ctx)
	go c.updateSystemMetrics(ctx)
}

// Stop stops the collector and persists final values
func (c *Collector) Stop() error {
	close(c.stopCh)
	c.wg.Wait()
	return c.persistCounters()
}

// loadCounters loads persisted counter values from BoltDB
func (c *Collector) loadCounters() error {
	return c.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketMetrics)
		if bucket == nil {
			return nil
		}

		data := bucket.Get([]byte("counters"))
		if data == nil {
			return nil
		}

		var shadow ShadowCounters
		if err := json.Unmarshal(data, &shadow); err != nil {
			return nil // Skip invalid data
		}

		c.mu.Lock()
		defer c.mu.Unlock()

		// Restore planning counters
		for k, v := range shadow.PlansComputed {
			c.shadow.PlansComputed[k] = v
			c.metrics.PlansComputedTotal.WithLabelValues(k).Add(v)
		}
		for k, v := range shadow.PlanWarnings {
			c.shadow.PlanWarnings[k] = v
			c.metrics.PlanWarningsTotal.WithLabelValues(k).Add(v)
		}

		// Restore content counters
		for k, v := range shadow.ContentValidations {
			c.shadow.ContentValidations[k] = v
			c.metrics.ContentValidationsTotal.WithLabelValues(k).Add(v)
		}

		c.shadow.SegmentsResolved = shadow.SegmentsResolved
		c.shadow.SchedulesEstimated = shadow.SchedulesEstimated
		c.metrics.SegmentsResolvedTotal.Add(shadow.SegmentsResolved)
		c.metrics.SchedulesEstimatedTotal.Add(shadow.SchedulesEstimated)

		// Restore dispatch counters
		for k, v := range shadow.MessagesSent {
			c.shadow.MessagesSent[k] = v
			c.metrics.MessagesSentTotal.WithLabelValues(k).Add(v)
		}
		for k, v := range shadow.MessagesFailed {
			channel, errorType := splitLabelKey(k)
			c.shadow.MessagesFailed[k] = v
			c.metrics.MessagesFailedTotal.WithLabelValues(channel, errorType).Add(v)
		}

		// Restore API counters
		for k, v := range shadow.APIRequests {
			method, path, status := splitTripleLabelKey(k)
			c.shadow.APIRequests[k] = v
			c.metrics.APIRequestsTotal.WithLabelValues(method, path, status).Add(v)
		}
		for k, v := range shadow.APIErrors {
			c.shadow.APIErrors[k] = v
			c.metrics.APIErrorsTotal.WithLabelValues(k).Add(v)
		}

		// Restore rate limit counters
		for k, v := range shadow.RateLimitExceeded {
			c.shadow.RateLimitExceeded[k] = v
			c.metrics.RateLimitExceededTotal.WithLabelValues(k).Add(v)
		}

		return nil
	})
}

// persistCounters saves counter values to BoltDB
func (c *Collector) persistCounters() error {
	c.mu.Lock()
	shadow := c.shadow
	c.mu.Unlock()

	return c.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketMetrics)
		if bucket == nil {
			return nil
		}

		data, err := json.Marshal(shadow)
		if err != nil {
			return err
		}

		return bucket.Put([]byte("counters"), data)
	})
}

// persistLoop periodically persists counter values
func (c *Collector) persistLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.persistCounters()
		}
	}
}

// updateSystemMetrics periodically updates system gauges
func (c *Collector) updateSystemMetrics(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.collectSystemMetrics(ctx)
		}
	}
}

// collectSystemMetrics collects current system state
func (c *Collector) collectSystemMetrics(ctx context.Context) {
	// Update uptime
	c.metrics.UptimeSeconds.Set(time.Since(c.startTime).Seconds())

	// Update goroutines
	c.metrics.Goroutines.Set(float64(runtime.NumGoroutine()))

	// Update storage size
	if c.storagePath != "" {
		if info, err := os.Stat(c.storagePath); err == nil {
			c.metrics.StorageUsedBytes.Set(float64(info.Size()))
		}
	}

	// Update job stats
	if c.jobStats != nil {
		stats, err := c.jobStats.JobStats(ctx)
		if err == nil {
			c.metrics.JobsPending.Set(float64(stats.Pending))
			c.metrics.JobsRunning.Set(float64(stats.Running))
			c.metrics.JobsPaused.Set(float64(stats.Paused))
		}
	}
}

// TrackPlanComputed tracks a computed plan and updates shadow counters
func (c *Collector) TrackPlanComputed(channel string, warnings int) {
	c.mu.Lock()
	c.shadow.PlansComputed[channel]++
	c.shadow.PlanWarnings[channel] += float64(warnings)
	c.mu.Unlock()
	c.metrics.PlansComputedTotal.WithLabelValues(channel).Inc()
	if warnings > 0 {
		c.metrics.PlanWarningsTotal.WithLabelValues(channel).Add(float64(warnings))
	}
}

// TrackContentValidation tracks a content validation and its score
func (c *Collector) TrackContentValidation(channel string, score int) {
	c.mu.Lock()
	c.shadow.ContentValidations[channel]++
	c.mu.Unlock()
	c.metrics.ContentValidationsTotal.WithLabelValues(channel).Inc()
	c.metrics.ContentScore.WithLabelValues(channel).Observe(float64(score))
}

// TrackSegmentResolved tracks an audience resolution
func (c *Collector) TrackSegmentResolved() {
	c.mu.Lock()
	c.shadow.SegmentsResolved++
	c.mu.Unlock()
	c.metrics.SegmentsResolvedTotal.Inc()
}

// TrackScheduleEstimated tracks a schedule estimate
func (c *Collector) TrackScheduleEstimated() {
	c.mu.Lock()
	c.shadow.SchedulesEstimated++
	c.mu.Unlock()
	c.metrics.SchedulesEstimatedTotal.Inc()
}

// TrackMessageSent tracks a dispatched message and updates shadow counter
func (c *Collector) TrackMessageSent(channel string) {
	c.mu.Lock()
	c.shadow.MessagesSent[channel]++
	c.mu.Unlock()
	c.metrics.MessagesSentTotal.WithLabelValues(channel).Inc()
}

// TrackMessageFailed tracks a failed send and updates shadow counter
func (c *Collector) TrackMessageFailed(channel, errorType string) {
	key := makeLabelKey(channel, errorType)
	c.mu.Lock()
	c.shadow.MessagesFailed[key]++
	c.mu.Unlock()
	c.metrics.MessagesFailedTotal.WithLabelValues(channel, errorType).Inc()
}

// TrackAPIRequest tracks an API request and updates shadow counter
func (c *Collector) TrackAPIRequest(method, path, status string) {
	key := makeTripleLabelKey(method, path, status)
	c.mu.Lock()
	c.shadow.APIRequests[key]++
	c.mu.Unlock()
	c.metrics.APIRequestsTotal.WithLabelValues(method, path, status).Inc()
}

// TrackAPIError tracks an API error and updates shadow counter
func (c *Collector) TrackAPIError(errorType string) {
	c.mu.Lock()
	c.shadow.APIErrors[errorType]++
	c.mu.Unlock()
	c.metrics.APIErrorsTotal.WithLabelValues(errorType).Inc()
}

// TrackRateLimitExceeded tracks rate limit exceeded and updates shadow counter
func (c *Collector) TrackRateLimitExceeded(level string) {
	c.mu.Lock()
	c.shadow.RateLimitExceeded[level]++
	c.mu.Unlock()
	c.metrics.RateLimitExceededTotal.WithLabelValues(level).Inc()
}

// Helper functions for label key serialization
func makeLabelKey(a, b string) string {
	return a + "|" + b
}

func splitLabelKey(key string) (string, string) {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '|' {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}

func makeTripleLabelKey(a, b, c string) string {
	return a + "|" + b + "|" + c
}

func splitTripleLabelKey(key string) (string, string, string) {
	parts := make([]string, 0, 3)
	start := 0
	for i := 0; i < len(key); i++ {
		if key[i] == '|' {
			parts = append(parts, key[start:i])
			start = i + 1
		}
	}
	parts = append(parts, key[start:])

	if len(parts) >= 3 {
		return parts[0], parts[1], parts[2]
	}
	if len(parts) == 2 {
		return parts[0], parts[1], ""
	}
	if len(parts) == 1 {
		return parts[0], "", ""
	}
	return "", "", ""
}
