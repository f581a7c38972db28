// Package metrics records Prometheus metrics for publishing, consumption and
// dead-lettering, and keeps an in-memory dead-letter summary for health
// reporting.
package metrics

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "eventbus"

// Metrics is safe for concurrent use. A nil *Metrics records nothing.
type Metrics struct {
	mu sync.RWMutex

	deadLetters map[string]*DeadLetterTopicMetrics

	published          *prometheus.CounterVec
	consumed           *prometheus.CounterVec
	attempts           *prometheus.CounterVec
	deadLettered       *prometheus.CounterVec
	deadLetterAttempts *prometheus.HistogramVec
	processing         *prometheus.HistogramVec

	registerer prometheus.Registerer
	registered bool
}

// DeadLetterTopicMetrics summarises dead-lettering for one source topic.
type DeadLetterTopicMetrics struct {
	Messages        uint64    `json:"messages"`
	AvgAttempts     float64   `json:"avg_attempts"`
	LastReason      string    `json:"last_reason,omitempty"`
	FirstMessageAt  time.Time `json:"first_message_at,omitempty"`
	LastMessageAt   time.Time `json:"last_message_at,omitempty"`
	PublishFailures uint64    `json:"publish_failures"`
}

// Snapshot is a point-in-time copy of the dead-letter summary.
type Snapshot struct {
	TotalDeadLettered uint64                            `json:"total_dead_lettered"`
	Topics            map[string]DeadLetterTopicMetrics `json:"topics"`
	CollectedAt       time.Time                         `json:"collected_at"`
}

func newCounterVec(subsystem, name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newHistogramVec(subsystem, name, help string, buckets []float64, labels []string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
			Buckets:   buckets,
		},
		labels,
	)
}

// New creates the collectors. They are registered with registerer by
// Register; a nil registerer means prometheus.DefaultRegisterer.
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &Metrics{
		deadLetters:        make(map[string]*DeadLetterTopicMetrics),
		registerer:         registerer,
		published:          newCounterVec("", "published_total", "Records handed to the broker, by outcome", []string{"topic", "result"}),
		consumed:           newCounterVec("", "consumed_total", "Records received by consumers", []string{"topic"}),
		attempts:           newCounterVec("", "handler_attempts_total", "Handler invocations, by outcome", []string{"topic", "result"}),
		deadLettered:       newCounterVec("", "dead_letter_messages_total", "Records published to a dead-letter topic", []string{"topic", "reason"}),
		deadLetterAttempts: newHistogramVec("", "dead_letter_attempts", "Handler attempts made before a record was dead-lettered", []float64{0, 1, 2, 3, 5, 10, 20}, []string{"topic"}),
		processing:         newHistogramVec("", "processing_seconds", "Time from receipt to terminal outcome of a record", prometheus.DefBuckets, []string{"topic"}),
	}
}

// Register registers the collectors. Safe to call multiple times.
func (m *Metrics) Register() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	for _, c := range m.collectors() {
		if err := m.registerer.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.published,
		m.consumed,
		m.attempts,
		m.deadLettered,
		m.deadLetterAttempts,
		m.processing,
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordPublish counts a publish to topic.
func (m *Metrics) RecordPublish(topic string, err error) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(topic, result(err)).Inc()
}

// RecordConsumed counts a record received on topic.
func (m *Metrics) RecordConsumed(topic string) {
	if m == nil {
		return
	}
	m.consumed.WithLabelValues(topic).Inc()
}

// RecordAttempt counts one handler invocation.
func (m *Metrics) RecordAttempt(topic string, err error) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(topic, result(err)).Inc()
}

// ObserveProcessing records how long a record took to reach a terminal outcome.
func (m *Metrics) ObserveProcessing(topic string, d time.Duration) {
	if m == nil {
		return
	}
	m.processing.WithLabelValues(topic).Observe(d.Seconds())
}

// RecordDeadLetter records a record from topic published to its dead-letter
// topic after attempts handler invocations.
func (m *Metrics) RecordDeadLetter(topic, reason string, attempts int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	tm := m.topic(topic)
	tm.Messages++
	tm.AvgAttempts = ((tm.AvgAttempts * float64(tm.Messages-1)) + float64(attempts)) / float64(tm.Messages)
	tm.LastReason = reason
	if tm.FirstMessageAt.IsZero() {
		tm.FirstMessageAt = now
	}
	tm.LastMessageAt = now

	m.deadLettered.WithLabelValues(topic, reason).Inc()
	m.deadLetterAttempts.WithLabelValues(topic).Observe(float64(attempts))
}

// RecordDeadLetterFailure records a dead-letter publish that did not succeed.
func (m *Metrics) RecordDeadLetterFailure(topic string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.topic(topic).PublishFailures++
}

func (m *Metrics) topic(topic string) *DeadLetterTopicMetrics {
	if tm, ok := m.deadLetters[topic]; ok {
		return tm
	}
	tm := &DeadLetterTopicMetrics{}
	m.deadLetters[topic] = tm
	return tm
}

// Snapshot returns a copy of the dead-letter summary.
func (m *Metrics) Snapshot() Snapshot {
	snap := Snapshot{Topics: map[string]DeadLetterTopicMetrics{}, CollectedAt: time.Now()}
	if m == nil {
		return snap
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	for topic, tm := range m.deadLetters {
		snap.Topics[topic] = *tm
		snap.TotalDeadLettered += tm.Messages
	}
	return snap
}
