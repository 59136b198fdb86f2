// Package metrics collects pipeline counters in memory and periodically writes
// a JSON snapshot to Redis so dashboards can read them without scraping the process.
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// KeyPrefix is the Redis key prefix for service snapshots.
	KeyPrefix = "metrics:"
	// SnapshotTTL is how long a snapshot stays in Redis if not refreshed.
	SnapshotTTL = 2 * time.Minute
	// DefaultReportInterval is the default interval between Redis writes.
	DefaultReportInterval = 30 * time.Second
)

// Snapshot is the serialized state of a Collector.
type Snapshot struct {
	ServiceName string    `json:"service_name"`
	StartedAt   time.Time `json:"started_at"`
	LastUpdated time.Time `json:"last_updated"`
	Status      string    `json:"status"` // "healthy" or "stale"

	EventsReceived  uint64 `json:"events_received"`
	EventsProcessed uint64 `json:"events_processed"`
	Published       uint64 `json:"published"`
	Errors          uint64 `json:"errors"`

	EventsPerSecond        float64 `json:"events_per_second"`
	AvgProcessingLatencyNs float64 `json:"avg_processing_latency_ns"`

	Counters map[string]uint64 `json:"counters,omitempty"`
}

// Collector holds atomic counters for one service.
type Collector struct {
	serviceName    string
	redis          *redis.Client
	startedAt      time.Time
	reportInterval time.Duration

	received  atomic.Uint64
	processed atomic.Uint64
	published atomic.Uint64
	errors    atomic.Uint64

	totalLatencyNs atomic.Uint64
	latencyCount   atomic.Uint64

	rateMu        sync.Mutex
	lastReport    time.Time
	lastProcessed uint64

	countersMu sync.RWMutex
	counters   map[string]*atomic.Uint64

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewCollector creates a collector. A nil Redis client keeps counters in memory only.
func NewCollector(serviceName string, redisClient *redis.Client) *Collector {
	now := time.Now().UTC()
	return &Collector{
		serviceName:    serviceName,
		redis:          redisClient,
		startedAt:      now,
		reportInterval: DefaultReportInterval,
		lastReport:     now,
		counters:       make(map[string]*atomic.Uint64),
		stopCh:         make(chan struct{}),
	}
}

// SetReportInterval sets the interval for writing snapshots to Redis.
// It must be called before Start.
func (c *Collector) SetReportInterval(interval time.Duration) {
	if interval > 0 {
		c.reportInterval = interval
	}
}

// Start begins periodic reporting until ctx is cancelled or Stop is called.
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.reportInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				c.write(context.Background())
				return
			case <-c.stopCh:
				c.write(context.Background())
				return
			case <-ticker.C:
				c.write(ctx)
			}
		}
	}()
}

// Stop stops reporting after a final write. Safe to call more than once.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

// RecordReceived counts an inbound event.
func (c *Collector) RecordReceived() {
	c.received.Add(1)
}

// RecordProcessed counts a handled event and its latency.
func (c *Collector) RecordProcessed(latency time.Duration) {
	c.processed.Add(1)
	if latency > 0 {
		c.totalLatencyNs.Add(uint64(latency.Nanoseconds()))
	}
	c.latencyCount.Add(1)
}

// RecordPublished counts an outbound message.
func (c *Collector) RecordPublished() {
	c.published.Add(1)
}

// RecordError counts a processing error.
func (c *Collector) RecordError() {
	c.errors.Add(1)
}

// IncrementCustom increments a named counter.
func (c *Collector) IncrementCustom(name string) {
	c.AddCustom(name, 1)
}

// AddCustom adds value to a named counter, creating it on first use.
func (c *Collector) AddCustom(name string, value uint64) {
	c.countersMu.RLock()
	counter, ok := c.counters[name]
	c.countersMu.RUnlock()

	if !ok {
		c.countersMu.Lock()
		if counter, ok = c.counters[name]; !ok {
			counter = &atomic.Uint64{}
			c.counters[name] = counter
		}
		c.countersMu.Unlock()
	}
	counter.Add(value)
}

// Custom returns the current value of a named counter.
func (c *Collector) Custom(name string) uint64 {
	c.countersMu.RLock()
	defer c.countersMu.RUnlock()
	if counter, ok := c.counters[name]; ok {
		return counter.Load()
	}
	return 0
}

// GetSnapshot returns current values without writing to Redis.
func (c *Collector) GetSnapshot() *Snapshot {
	now := time.Now().UTC()
	processed := c.processed.Load()

	c.rateMu.Lock()
	var rate float64
	if elapsed := now.Sub(c.lastReport).Seconds(); elapsed > 0 {
		rate = float64(processed-c.lastProcessed) / elapsed
	}
	c.rateMu.Unlock()

	var avgLatency float64
	if n := c.latencyCount.Load(); n > 0 {
		avgLatency = float64(c.totalLatencyNs.Load()) / float64(n)
	}

	c.countersMu.RLock()
	counters := make(map[string]uint64, len(c.counters))
	for name, counter := range c.counters {
		counters[name] = counter.Load()
	}
	c.countersMu.RUnlock()

	return &Snapshot{
		ServiceName:            c.serviceName,
		StartedAt:              c.startedAt,
		LastUpdated:            now,
		Status:                 "healthy",
		EventsReceived:         c.received.Load(),
		EventsProcessed:        processed,
		Published:              c.published.Load(),
		Errors:                 c.errors.Load(),
		EventsPerSecond:        rate,
		AvgProcessingLatencyNs: avgLatency,
		Counters:               counters,
	}
}

func (c *Collector) write(ctx context.Context) {
	if c.redis == nil {
		return
	}

	snap := c.GetSnapshot()

	c.rateMu.Lock()
	c.lastReport = snap.LastUpdated
	c.lastProcessed = snap.EventsProcessed
	c.rateMu.Unlock()

	data, err := json.Marshal(snap)
	if err != nil {
		slog.Error("Failed to marshal metrics", "service", c.serviceName, "error", err)
		return
	}

	key := KeyPrefix + c.serviceName
	if err := c.redis.Set(ctx, key, data, SnapshotTTL).Err(); err != nil {
		slog.Error("Failed to write metrics to Redis", "service", c.serviceName, "error", err)
		return
	}

	slog.Debug("Metrics written to Redis", "service", c.serviceName, "key", key)
}

// Reader reads service snapshots from Redis.
type Reader struct {
	redis *redis.Client
}

// NewReader creates a new snapshot reader.
func NewReader(redisClient *redis.Client) *Reader {
	return &Reader{redis: redisClient}
}

// Get retrieves the snapshot for one service. Snapshots older than SnapshotTTL are
// reported as stale.
func (r *Reader) Get(ctx context.Context, serviceName string) (*Snapshot, error) {
	data, err := r.redis.Get(ctx, KeyPrefix+serviceName).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("no metrics found for service: %s", serviceName)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read metrics: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metrics: %w", err)
	}
	if time.Since(snap.LastUpdated) > SnapshotTTL {
		snap.Status = "stale"
	}
	return &snap, nil
}

// Services lists the service names that currently have a snapshot, sorted.
func (r *Reader) Services(ctx context.Context) ([]string, error) {
	var (
		names  []string
		cursor uint64
	)
	for {
		keys, next, err := r.redis.Scan(ctx, cursor, KeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan metrics keys: %w", err)
		}
		for _, key := range keys {
			names = append(names, key[len(KeyPrefix):])
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	sort.Strings(names)
	return names, nil
}
