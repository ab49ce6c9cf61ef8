package metrics

import (
	"sort"
	"strings"
	"sync"
	"time"
)

type MetricType int

const (
	Counter MetricType = iota
	Gauge
	Histogram
)

type Metric struct {
	Name      string
	Type      MetricType
	Value     float64
	Count     int64
	Labels    map[string]string
	Timestamp time.Time
}

// Collector is an in-memory sink for the retry engine and the sweeper.
// Exported snapshots are what a scraping adapter would read.
type Collector struct {
	mu      sync.RWMutex
	metrics map[string]*Metric
}

func NewCollector() *Collector {
	return &Collector{metrics: make(map[string]*Metric)}
}

func (c *Collector) IncrementCounter(name string, labels map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := metricKey(name, labels)
	if m, ok := c.metrics[key]; ok {
		m.Value++
		m.Count++
		m.Timestamp = time.Now()
		return
	}
	c.metrics[key] = &Metric{Name: name, Type: Counter, Value: 1, Count: 1, Labels: labels, Timestamp: time.Now()}
}

func (c *Collector) SetGauge(name string, value float64, labels map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.metrics[metricKey(name, labels)] = &Metric{Name: name, Type: Gauge, Value: value, Labels: labels, Timestamp: time.Now()}
}

// ObserveDuration records a running mean; enough for operator triage without
// a full bucketed histogram.
func (c *Collector) ObserveDuration(name string, d time.Duration, labels map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := metricKey(name, labels)
	v := float64(d.Milliseconds())
	if m, ok := c.metrics[key]; ok {
		m.Count++
		m.Value += (v - m.Value) / float64(m.Count)
		m.Timestamp = time.Now()
		return
	}
	c.metrics[key] = &Metric{Name: name, Type: Histogram, Value: v, Count: 1, Labels: labels, Timestamp: time.Now()}
}

func (c *Collector) Get(name string, labels map[string]string) *Metric {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.metrics[metricKey(name, labels)]
}

func (c *Collector) Snapshot() map[string]*Metric {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]*Metric, len(c.metrics))
	for k, m := range c.metrics {
		cp := *m
		out[k] = &cp
	}
	return out
}

func metricKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		b.WriteByte('{')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
		b.WriteByte('}')
	}
	return b.String()
}
