package metrics

import (
	"context"
	"encoding/json"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	bolt "go.etcd.io/bbolt"
)

// LedgerStats contains ledger statistics for metrics
type LedgerStats struct {
	Live map[string]int
}

// LedgerStatsProvider provides ledger statistics for metrics
type LedgerStatsProvider interface {
	LedgerStats(ctx context.Context) (*LedgerStats, error)
}

var (
	bucketMetrics = []byte("metrics")
	keyCounters   = []byte("counters")
)

// savedCounter is one persisted counter series
type savedCounter struct {
	Name   string            `json:"name"`
	Labels map[string]string `json:"labels,omitempty"`
	Value  float64           `json:"value"`
}

// Collector persists counters across restarts and refreshes gauges
type Collector struct {
	db            *bolt.DB
	metrics       *Metrics
	ledger        LedgerStatsProvider
	storagePath   string
	flushInterval time.Duration
	startTime     time.Time

	mu     sync.Mutex
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewCollector creates a collector and restores persisted counters
func NewCollector(db *bolt.DB, m *Metrics, ledger LedgerStatsProvider, storagePath string, flushInterval time.Duration) (*Collector, error) {
	if flushInterval == 0 {
		flushInterval = 10 * time.Second
	}

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
		ledger:        ledger,
		storagePath:   storagePath,
		flushInterval: flushInterval,
		startTime:     time.Now(),
		stopCh:        make(chan struct{}),
	}

	if err := c.loadCounters(); err != nil {
		return nil, err
	}

	return c, nil
}

// Start begins the collector background tasks
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(2)
	go c.persistLoop(ctx)
	go c.updateLoop(ctx)
}

// Stop stops the collector and persists final values
func (c *Collector) Stop() error {
	close(c.stopCh)
	c.wg.Wait()
	return c.persistCounters()
}

// counters maps metric names to the counters that survive restarts
func (m *Metrics) counters() map[string]prometheus.Collector {
	return map[string]prometheus.Collector{
		"crowdsale_campaigns_created_total":     m.CampaignsCreatedTotal,
		"crowdsale_investments_total":           m.InvestmentsTotal,
		"crowdsale_invested_amount_total":       m.InvestedAmountTotal,
		"crowdsale_settlements_total":           m.SettlementsTotal,
		"crowdsale_transition_errors_total":     m.TransitionErrorsTotal,
		"crowdsale_invariant_violations_total":  m.InvariantViolationsTotal,
		"crowdsale_events_total":                m.EventsTotal,
		"crowdsale_scheduler_ticks_total":       m.SchedulerTicksTotal,
		"crowdsale_scheduler_submissions_total": m.SchedulerSubmissionsTotal,
		"crowdsale_api_requests_total":          m.APIRequestsTotal,
		"crowdsale_api_errors_total":            m.APIErrorsTotal,
		"crowdsale_rate_limited_total":          m.RateLimitedTotal,
	}
}

// snapshot reads the current value of every persisted counter
func (c *Collector) snapshot() ([]savedCounter, error) {
	families, err := c.metrics.Registry().Gather()
	if err != nil {
		return nil, err
	}
	persisted := c.metrics.counters()

	var out []savedCounter
	for _, mf := range families {
		if mf.GetType() != dto.MetricType_COUNTER {
			continue
		}
		if _, ok := persisted[mf.GetName()]; !ok {
			continue
		}
		for _, metric := range mf.GetMetric() {
			sc := savedCounter{Name: mf.GetName(), Value: metric.GetCounter().GetValue()}
			if pairs := metric.GetLabel(); len(pairs) > 0 {
				sc.Labels = make(map[string]string, len(pairs))
				for _, lp := range pairs {
					sc.Labels[lp.GetName()] = lp.GetValue()
				}
			}
			out = append(out, sc)
		}
	}
	return out, nil
}

// loadCounters adds persisted counter values to the fresh registry
func (c *Collector) loadCounters() error {
	return c.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketMetrics)
		if bucket == nil {
			return nil
		}
		data := bucket.Get(keyCounters)
		if data == nil {
			return nil
		}

		var saved []savedCounter
		if err := json.Unmarshal(data, &saved); err != nil {
			return nil // Skip invalid data
		}

		persisted := c.metrics.counters()
		for _, sc := range saved {
			switch col := persisted[sc.Name].(type) {
			case prometheus.Counter:
				col.Add(sc.Value)
			case *prometheus.CounterVec:
				counter, err := col.GetMetricWith(sc.Labels)
				if err != nil {
					continue
				}
				counter.Add(sc.Value)
			}
		}
		return nil
	})
}

// persistCounters saves counter values to BoltDB
func (c *Collector) persistCounters() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	saved, err := c.snapshot()
	if err != nil {
		return err
	}
	data, err := json.Marshal(saved)
	if err != nil {
		return err
	}

	return c.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketMetrics)
		if bucket == nil {
			return nil
		}
		return bucket.Put(keyCounters, data)
	})
}

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

func (c *Collector) updateLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	c.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.Refresh(ctx)
		}
	}
}

// Refresh updates the gauges from the current system and ledger state
func (c *Collector) Refresh(ctx context.Context) {
	c.metrics.UptimeSeconds.Set(time.Since(c.startTime).Seconds())
	c.metrics.Goroutines.Set(float64(runtime.NumGoroutine()))

	if c.storagePath != "" {
		if info, err := os.Stat(c.storagePath); err == nil {
			c.metrics.StorageUsedBytes.Set(float64(info.Size()))
		}
	}

	if c.ledger != nil {
		stats, err := c.ledger.LedgerStats(ctx)
		if err == nil {
			c.metrics.CampaignsLive.Reset()
			for status, n := range stats.Live {
				c.metrics.CampaignsLive.WithLabelValues(status).Set(float64(n))
			}
		}
	}
}
