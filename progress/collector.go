package progress

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports every live Tracker's state as prometheus metrics,
// following the shape of a collector that ranges over a mutex-guarded map
// of live entries on each scrape rather than pushing updates into gauges
// eagerly (the pattern used by the pack's TCP-info exporter for its
// per-connection collector).
type Collector struct {
	mu       sync.Mutex
	trackers map[*Tracker]struct{}

	transmitted *prometheus.Desc
	ratio       *prometheus.Desc
	rate        *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector builds a Collector. Register it with a prometheus.Registry
// to expose /metrics for an engine's active transfers.
func NewCollector() *Collector {
	labels := []string{"file_seq", "name", "role"}
	return &Collector{
		trackers: make(map[*Tracker]struct{}),
		transmitted: prometheus.NewDesc(
			"parcel_transfer_transmitted_bytes",
			"Bytes transmitted or delivered so far for this file.",
			labels, nil,
		),
		ratio: prometheus.NewDesc(
			"parcel_transfer_progress_ratio",
			"Fraction of the file transmitted or delivered, 0..1.",
			labels, nil,
		),
		rate: prometheus.NewDesc(
			"parcel_transfer_rate_bytes_per_second",
			"Instantaneous transmit/delivery rate for this file.",
			labels, nil,
		),
	}
}

func (c *Collector) add(t *Tracker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trackers[t] = struct{}{}
}

func (c *Collector) remove(t *Tracker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.trackers, t)
}

func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.transmitted
	descs <- c.ratio
	descs <- c.rate
}

func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	c.mu.Lock()
	snaps := make([]Snapshot, 0, len(c.trackers))
	for t := range c.trackers {
		snaps = append(snaps, t.Snapshot())
	}
	c.mu.Unlock()

	for _, snap := range snaps {
		labels := []string{fileSeqLabel(snap.FileSeq), snap.Name, snap.Role}
		metrics <- prometheus.MustNewConstMetric(c.transmitted, prometheus.GaugeValue, float64(snap.Transmitted), labels...)
		metrics <- prometheus.MustNewConstMetric(c.ratio, prometheus.GaugeValue, snap.Ratio, labels...)
		metrics <- prometheus.MustNewConstMetric(c.rate, prometheus.GaugeValue, snap.RateBps, labels...)
	}
}

func fileSeqLabel(seq uint32) string {
	return strconv.FormatUint(uint64(seq), 10)
}
