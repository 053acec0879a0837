package obs

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the injected metrics sink used by both binaries. Treating
// it as an interface rather than calling the Prometheus client
// directly throughout the codebase keeps the core components free of
// any particular metrics backend.
type Metrics interface {
	ObserveRequest(route, method string, statusCode int, latencySeconds float64)
	ObserveReplicationLag(shard string, lagSeconds float64)
	Heartbeat(shard, role string)
	SetRingShards(n int)
	SetActiveReplicas(shard string, n int)
	SetLeaderPresent(shard string, present bool)
	SetShardKeys(shard, table string, n int)
	SetShardKeyspacePercent(shard string, pct float64)
	Registry() *prometheus.Registry
}

// promMetrics is the Prometheus-backed Metrics implementation. Metric
// names mirror the CloudWatch EMF metric names the original
// implementation emitted (RequestLatencyMs, ReplicationLagMs,
// Heartbeat, ...), translated to Prometheus naming conventions and
// the histogram/counter/gauge types Prometheus gives each a home in.
type promMetrics struct {
	requestLatency  *prometheus.HistogramVec
	requestCount    *prometheus.CounterVec
	request4xx      *prometheus.CounterVec
	request5xx      *prometheus.CounterVec
	replicationLag  *prometheus.HistogramVec
	heartbeat       *prometheus.CounterVec
	shardsInRing    prometheus.Gauge
	activeReplicas  *prometheus.GaugeVec
	leaderPresent   *prometheus.GaugeVec
	shardStoredKeys *prometheus.GaugeVec
	keyspacePercent *prometheus.GaugeVec
	registry        *prometheus.Registry
}

// NewMetrics registers the metric set on a fresh registry and returns
// the Metrics sink backed by it.
func NewMetrics(cluster, service string) Metrics {
	reg := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"cluster": cluster, "service": service}

	factory := promauto.With(reg)

	m := &promMetrics{
		registry: reg,
		requestLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "request_latency_seconds",
			Help:        "HTTP request latency in seconds.",
			ConstLabels: constLabels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"route", "method"}),
		requestCount: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "request_count_total",
			Help:        "HTTP requests served.",
			ConstLabels: constLabels,
		}, []string{"route", "method", "status"}),
		request4xx: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "request_4xx_total",
			Help:        "HTTP requests that returned a 4xx status.",
			ConstLabels: constLabels,
		}, []string{"route", "method"}),
		request5xx: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "request_5xx_total",
			Help:        "HTTP requests that returned a 5xx status.",
			ConstLabels: constLabels,
		}, []string{"route", "method"}),
		replicationLag: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "replication_lag_seconds",
			Help:        "Delay between a write's local apply and its replication bus round trip.",
			ConstLabels: constLabels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"shard"}),
		heartbeat: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "heartbeat_total",
			Help:        "Registration heartbeats sent by a shard replica.",
			ConstLabels: constLabels,
		}, []string{"shard", "role"}),
		shardsInRing: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "ring_shards",
			Help:        "Number of shards currently present in the hash ring.",
			ConstLabels: constLabels,
		}),
		activeReplicas: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "active_replicas",
			Help:        "Number of live replicas per shard.",
			ConstLabels: constLabels,
		}, []string{"shard"}),
		leaderPresent: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "leader_present",
			Help:        "1 if a shard currently has a live leader, 0 otherwise.",
			ConstLabels: constLabels,
		}, []string{"shard"}),
		shardStoredKeys: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "shard_stored_keys",
			Help:        "Live (non-tombstoned) keys stored per shard and table.",
			ConstLabels: constLabels,
		}, []string{"shard", "table"}),
		keyspacePercent: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "ring_keyspace_percent",
			Help:        "Percentage of the ring's virtual nodes owned by a shard.",
			ConstLabels: constLabels,
		}, []string{"shard"}),
	}
	return m
}

func (m *promMetrics) ObserveRequest(route, method string, statusCode int, latencySeconds float64) {
	status := strconv.Itoa(statusCode)
	m.requestLatency.WithLabelValues(route, method).Observe(latencySeconds)
	m.requestCount.WithLabelValues(route, method, status).Inc()
	switch {
	case statusCode >= 500:
		m.request5xx.WithLabelValues(route, method).Inc()
	case statusCode >= 400:
		m.request4xx.WithLabelValues(route, method).Inc()
	}
}

func (m *promMetrics) ObserveReplicationLag(shard string, lagSeconds float64) {
	m.replicationLag.WithLabelValues(shard).Observe(lagSeconds)
}

func (m *promMetrics) Heartbeat(shard, role string) {
	m.heartbeat.WithLabelValues(shard, role).Inc()
}

func (m *promMetrics) SetRingShards(n int) {
	m.shardsInRing.Set(float64(n))
}

func (m *promMetrics) SetActiveReplicas(shard string, n int) {
	m.activeReplicas.WithLabelValues(shard).Set(float64(n))
}

func (m *promMetrics) SetLeaderPresent(shard string, present bool) {
	v := 0.0
	if present {
		v = 1.0
	}
	m.leaderPresent.WithLabelValues(shard).Set(v)
}

func (m *promMetrics) SetShardKeys(shard, table string, n int) {
	m.shardStoredKeys.WithLabelValues(shard, table).Set(float64(n))
}

func (m *promMetrics) SetShardKeyspacePercent(shard string, pct float64) {
	m.keyspacePercent.WithLabelValues(shard).Set(pct)
}

func (m *promMetrics) Registry() *prometheus.Registry {
	return m.registry
}
