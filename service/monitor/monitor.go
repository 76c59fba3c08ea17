package monitor

import (
	"fmt"
	"sync"
	"time"

	movingaverage "github.com/RobinUS2/golang-moving-average"
	"github.com/juju/loggo"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/itiky/list-mirror/model"
)

var logger = loggo.GetLogger("listmirror.monitor")

type (
	// Monitor keeps the engine stats: it is both the batch observer and the anomalies telemetry sink of sessions.
	Monitor struct {
		sync.Mutex
		period time.Duration
		// Period stats
		applyDur   *movingaverage.MovingAverage
		batchSize  *movingaverage.MovingAverage
		batches    int
		opsApplied int
		// Totals
		totals Stats
		//
		metrics *metrics
		stopCh  chan struct{}
		doneCh  chan struct{}
	}

	// Stats are the Monitor totals.
	Stats struct {
		Batches     int
		Ops         int
		RejectedOps int
		Anomalies   int
		// The latest anomaly description
		LastAnomaly string
	}

	metrics struct {
		batches     *prometheus.CounterVec
		ops         *prometheus.CounterVec
		rejectedOps *prometheus.CounterVec
		anomalies   prometheus.Counter
		applyDur    prometheus.Histogram
	}
)

// BatchApplied implements session.BatchObserver interface.
func (m *Monitor) BatchApplied(id model.CollectionId, opsCount, rejectedCount int, dur time.Duration) {
	m.Lock()
	defer m.Unlock()

	m.batches++
	m.opsApplied += opsCount
	m.applyDur.Add(float64(dur/time.Microsecond) / 1000.0)
	m.batchSize.Add(float64(opsCount))

	m.totals.Batches++
	m.totals.Ops += opsCount
	m.totals.RejectedOps += rejectedCount

	m.metrics.batches.WithLabelValues(string(id)).Inc()
	m.metrics.ops.WithLabelValues(string(id)).Add(float64(opsCount))
	m.metrics.rejectedOps.WithLabelValues(string(id)).Add(float64(rejectedCount))
	m.metrics.applyDur.Observe(dur.Seconds())
}

// ReportAnomaly implements storage.AnomalyReporter interface.
func (m *Monitor) ReportAnomaly(description string) {
	m.Lock()
	defer m.Unlock()

	m.totals.Anomalies++
	m.totals.LastAnomaly = description
	m.metrics.anomalies.Inc()

	logger.Warningf("Monitor: anomaly reported: %s", description)
}

// Stats returns the totals.
func (m *Monitor) Stats() Stats {
	m.Lock()
	defer m.Unlock()

	return m.totals
}

// Start starts the Monitor worker.
func (m *Monitor) Start() {
	m.Lock()
	defer m.Unlock()

	if m.stopCh != nil {
		return
	}

	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	go m.worker(m.stopCh, m.doneCh)
}

// Stop stops the Monitor worker.
func (m *Monitor) Stop() {
	m.Lock()
	stopCh, doneCh := m.stopCh, m.doneCh
	m.stopCh, m.doneCh = nil, nil
	m.Unlock()

	if stopCh == nil {
		return
	}

	close(stopCh)
	<-doneCh
}

// Report prints the period report and resets the period stats.
func (m *Monitor) Report() {
	m.Lock()
	defer m.Unlock()

	periodSec := float64(m.period) / float64(time.Second)
	batchesPerSec := float64(m.batches) / periodSec
	opsPerSec := float64(m.opsApplied) / periodSec
	logger.Infof("Monitor:")
	logger.Infof("  - Batches / s:          %.2f", batchesPerSec)
	logger.Infof("  - Ops / s:              %.2f", opsPerSec)
	logger.Infof("  - Batch size [ops]:     %.2f", m.batchSize.Avg())
	logger.Infof("  - Batch apply dur [ms]: %.2f", m.applyDur.Avg())
	logger.Infof("  - Rejected ops:         %d", m.totals.RejectedOps)
	logger.Infof("  - Anomalies:            %d", m.totals.Anomalies)
	m.batches = 0
	m.opsApplied = 0
}

// worker does the actual job.
func (m *Monitor) worker(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(m.period)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			// Stop the monitor
			return
		case <-ticker.C:
			// Print the report
			m.Report()
		}
	}
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "listmirror",
			Name:      "batches_total",
			Help:      "Diff batches applied.",
		}, []string{"collection"}),
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "listmirror",
			Name:      "ops_total",
			Help:      "Diff operations received.",
		}, []string{"collection"}),
		rejectedOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "listmirror",
			Name:      "rejected_ops_total",
			Help:      "Diff operations skipped as out of range.",
		}, []string{"collection"}),
		anomalies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "listmirror",
			Name:      "anomalies_total",
			Help:      "Duplicate keys anomalies reported.",
		}),
		applyDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "listmirror",
			Name:      "batch_apply_duration_seconds",
			Help:      "Diff batch apply duration.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
	}

	for _, c := range []prometheus.Collector{m.batches, m.ops, m.rejectedOps, m.anomalies, m.applyDur} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("registering collector: %w", err)
		}
	}

	return m, nil
}

// NewMonitor creates a new Monitor object registering its metrics.
func NewMonitor(reg prometheus.Registerer, period time.Duration) (*Monitor, error) {
	if reg == nil {
		return nil, fmt.Errorf("%s: nil", "reg")
	}
	if period <= 0 {
		return nil, fmt.Errorf("%s: must be GT 0", "period")
	}

	metrics, err := newMetrics(reg)
	if err != nil {
		return nil, err
	}

	return &Monitor{
		period:    period,
		applyDur:  movingaverage.New(5),
		batchSize: movingaverage.New(5),
		metrics:   metrics,
	}, nil
}
