package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Singleton collector
	collector     *Collector
	collectorOnce sync.Once
)

// Collector holds all exchange metrics
type Collector struct {
	// Order metrics
	OrdersTotal    *prometheus.CounterVec
	OrderLatency   *prometheus.HistogramVec
	OrderbookDepth *prometheus.GaugeVec

	// Matching engine metrics
	MatchingLatency *prometheus.HistogramVec

	// Trade metrics
	TradesTotal *prometheus.CounterVec
	TradeVolume *prometheus.CounterVec

	// Quote metrics
	QuotesTotal *prometheus.CounterVec

	// Settlement queue metrics
	EnqueueRetriesTotal  prometheus.Counter
	EnqueueFailuresTotal prometheus.Counter
	SettlementJobsTotal  *prometheus.CounterVec
	SettlementLatency    *prometheus.HistogramVec
	DeadLettersTotal     *prometheus.CounterVec

	// Agent metrics
	AgentJobsTotal     *prometheus.CounterVec
	AgentPolicyLatency *prometheus.HistogramVec

	// WebSocket metrics
	WSConnectionsActive prometheus.Gauge
	WSMessagesTotal     *prometheus.CounterVec
	WSDroppedTotal      prometheus.Counter
	WSSubscriptions     *prometheus.GaugeVec

	// API metrics
	APIRequestsTotal  *prometheus.CounterVec
	APIRequestLatency *prometheus.HistogramVec

	// System metrics
	MarketsOpen prometheus.Gauge
}

// GetCollector returns the singleton metrics collector
func GetCollector() *Collector {
	collectorOnce.Do(func() {
		collector = newCollector()
	})
	return collector
}

// newCollector creates a new metrics collector
func newCollector() *Collector {
	c := &Collector{}

	// Order metrics
	c.OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "predex",
			Subsystem: "orders",
			Name:      "total",
			Help:      "Total number of orders submitted",
		},
		[]string{"market_id", "side", "type", "status"},
	)

	c.OrderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "predex",
			Subsystem: "orders",
			Name:      "latency_ms",
			Help:      "End-to-end submission latency in milliseconds",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"market_id", "type"},
	)

	c.OrderbookDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "predex",
			Subsystem: "orderbook",
			Name:      "depth",
			Help:      "Resting orders per book side",
		},
		[]string{"market_id", "side"},
	)

	// Matching engine metrics
	c.MatchingLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "predex",
			Subsystem: "matching",
			Name:      "latency_ms",
			Help:      "Matching engine latency in milliseconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50},
		},
		[]string{"market_id"},
	)

	// Trade metrics
	c.TradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "predex",
			Subsystem: "trades",
			Name:      "total",
			Help:      "Total number of trades executed",
		},
		[]string{"market_id"},
	)

	c.TradeVolume = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "predex",
			Subsystem: "trades",
			Name:      "volume",
			Help:      "Traded value (price times quantity)",
		},
		[]string{"market_id"},
	)

	// Quote metrics
	c.QuotesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "predex",
			Subsystem: "quotes",
			Name:      "total",
			Help:      "Total number of cost-function quotes served",
		},
		[]string{"market_id", "side"},
	)

	// Settlement queue metrics
	c.EnqueueRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "predex",
			Subsystem: "settlement",
			Name:      "enqueue_retries_total",
			Help:      "Settlement enqueue attempts that had to be retried",
		},
	)

	c.EnqueueFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "predex",
			Subsystem: "settlement",
			Name:      "enqueue_failures_total",
			Help:      "Settlement enqueues that exhausted every retry (operator alarm)",
		},
	)

	c.SettlementJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "predex",
			Subsystem: "settlement",
			Name:      "jobs_total",
			Help:      "Settlement jobs by terminal result",
		},
		[]string{"result"},
	)

	c.SettlementLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "predex",
			Subsystem: "settlement",
			Name:      "latency_ms",
			Help:      "Settlement job persistence latency in milliseconds",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"result"},
	)

	c.DeadLettersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "predex",
			Subsystem: "settlement",
			Name:      "dead_letters_total",
			Help:      "Jobs moved to a dead-letter stream (operator alarm)",
		},
		[]string{"queue"},
	)

	// Agent metrics
	c.AgentJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "predex",
			Subsystem: "agents",
			Name:      "jobs_total",
			Help:      "Agent policy decisions by action",
		},
		[]string{"action"},
	)

	c.AgentPolicyLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "predex",
			Subsystem: "agents",
			Name:      "policy_latency_ms",
			Help:      "Agent policy call latency in milliseconds",
			Buckets:   []float64{10, 50, 100, 250, 500, 1000, 2000},
		},
		[]string{"action"},
	)

	// WebSocket metrics
	c.WSConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "predex",
			Subsystem: "websocket",
			Name:      "connections_active",
			Help:      "Currently connected websocket clients",
		},
	)

	c.WSMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "predex",
			Subsystem: "websocket",
			Name:      "messages_total",
			Help:      "Events delivered to websocket clients",
		},
		[]string{"event_type"},
	)

	c.WSDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "predex",
			Subsystem: "websocket",
			Name:      "dropped_total",
			Help:      "Clients disconnected for falling behind",
		},
	)

	c.WSSubscriptions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "predex",
			Subsystem: "websocket",
			Name:      "subscriptions",
			Help:      "Active subscriptions per topic",
		},
		[]string{"topic"},
	)

	// API metrics
	c.APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "predex",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Total number of API requests",
		},
		[]string{"method", "path", "status"},
	)

	c.APIRequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "predex",
			Subsystem: "api",
			Name:      "request_latency_ms",
			Help:      "API request latency in milliseconds",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"method", "path"},
	)

	// System metrics
	c.MarketsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "predex",
			Subsystem: "markets",
			Name:      "open",
			Help:      "Markets currently open for trading",
		},
	)

	registerAll(c)
	return c
}

// registerAll registers all metrics with Prometheus
func registerAll(c *Collector) {
	prometheus.MustRegister(c.OrdersTotal)
	prometheus.MustRegister(c.OrderLatency)
	prometheus.MustRegister(c.OrderbookDepth)

	prometheus.MustRegister(c.MatchingLatency)

	prometheus.MustRegister(c.TradesTotal)
	prometheus.MustRegister(c.TradeVolume)

	prometheus.MustRegister(c.QuotesTotal)

	prometheus.MustRegister(c.EnqueueRetriesTotal)
	prometheus.MustRegister(c.EnqueueFailuresTotal)
	prometheus.MustRegister(c.SettlementJobsTotal)
	prometheus.MustRegister(c.SettlementLatency)
	prometheus.MustRegister(c.DeadLettersTotal)

	prometheus.MustRegister(c.AgentJobsTotal)
	prometheus.MustRegister(c.AgentPolicyLatency)

	prometheus.MustRegister(c.WSConnectionsActive)
	prometheus.MustRegister(c.WSMessagesTotal)
	prometheus.MustRegister(c.WSDroppedTotal)
	prometheus.MustRegister(c.WSSubscriptions)

	prometheus.MustRegister(c.APIRequestsTotal)
	prometheus.MustRegister(c.APIRequestLatency)

	prometheus.MustRegister(c.MarketsOpen)
}

// ============ Recording Helpers ============

// RecordOrder records a processed order
func (c *Collector) RecordOrder(marketID, side, orderType, status string) {
	c.OrdersTotal.WithLabelValues(marketID, side, orderType, status).Inc()
}

// RecordOrderLatency records end-to-end submission latency
func (c *Collector) RecordOrderLatency(marketID, orderType string, latencyMs float64) {
	c.OrderLatency.WithLabelValues(marketID, orderType).Observe(latencyMs)
}

// RecordMatchingLatency records matching engine latency
func (c *Collector) RecordMatchingLatency(marketID string, latencyMs float64) {
	c.MatchingLatency.WithLabelValues(marketID).Observe(latencyMs)
}

// RecordTrade records an executed trade
func (c *Collector) RecordTrade(marketID string, value float64) {
	c.TradesTotal.WithLabelValues(marketID).Inc()
	c.TradeVolume.WithLabelValues(marketID).Add(value)
}

// RecordQuote records a served quote
func (c *Collector) RecordQuote(marketID, side string) {
	c.QuotesTotal.WithLabelValues(marketID, side).Inc()
}

// RecordEnqueueRetry records a failed enqueue attempt that will be retried
func (c *Collector) RecordEnqueueRetry() {
	c.EnqueueRetriesTotal.Inc()
}

// RecordEnqueueFailure records an enqueue that exhausted its retries
func (c *Collector) RecordEnqueueFailure() {
	c.EnqueueFailuresTotal.Inc()
}

// RecordSettlementJob records a settlement job outcome
func (c *Collector) RecordSettlementJob(result string, latencyMs float64) {
	c.SettlementJobsTotal.WithLabelValues(result).Inc()
	c.SettlementLatency.WithLabelValues(result).Observe(latencyMs)
}

// RecordDeadLetter records a dead-lettered job
func (c *Collector) RecordDeadLetter(queue string) {
	c.DeadLettersTotal.WithLabelValues(queue).Inc()
}

// RecordAgentJob records an agent policy decision
func (c *Collector) RecordAgentJob(action string, latencyMs float64) {
	c.AgentJobsTotal.WithLabelValues(action).Inc()
	c.AgentPolicyLatency.WithLabelValues(action).Observe(latencyMs)
}

// RecordWSConnection records websocket connection changes
func (c *Collector) RecordWSConnection(delta int) {
	c.WSConnectionsActive.Add(float64(delta))
}

// RecordWSMessage records an event delivered to a websocket client
func (c *Collector) RecordWSMessage(eventType string) {
	c.WSMessagesTotal.WithLabelValues(eventType).Inc()
}

// RecordWSDrop records a slow consumer disconnect
func (c *Collector) RecordWSDrop() {
	c.WSDroppedTotal.Inc()
}

// RecordWSSubscription records subscription changes for a topic
func (c *Collector) RecordWSSubscription(topic string, delta int) {
	c.WSSubscriptions.WithLabelValues(topic).Add(float64(delta))
}

// RecordAPIRequest records an API request
func (c *Collector) RecordAPIRequest(method, path, status string, latencyMs float64) {
	c.APIRequestsTotal.WithLabelValues(method, path, status).Inc()
	c.APIRequestLatency.WithLabelValues(method, path).Observe(latencyMs)
}

// SetOrderbookDepth sets the resting-order gauge for one book side
func (c *Collector) SetOrderbookDepth(marketID, side string, depth int) {
	c.OrderbookDepth.WithLabelValues(marketID, side).Set(float64(depth))
}

// SetMarketsOpen sets the open-market gauge
func (c *Collector) SetMarketsOpen(n int) {
	c.MarketsOpen.Set(float64(n))
}

// ============ HTTP Handler ============

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for measuring latency
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ElapsedMs returns the elapsed time in milliseconds
func (t *Timer) ElapsedMs() float64 {
	return float64(time.Since(t.start).Microseconds()) / 1000.0
}
