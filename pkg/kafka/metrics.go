package kafka

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	consumerLabels = []string{"topic", "consumer_group"}
	producerLabels = []string{"topic"}
)

func consumerCounter(name, help string) *prometheus.CounterVec {
	return promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kafka", Subsystem: "consumer", Name: name, Help: help,
	}, consumerLabels)
}

func producerCounter(name, help string) *prometheus.CounterVec {
	return promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kafka", Subsystem: "producer", Name: name, Help: help,
	}, producerLabels)
}

// Consumer metrics, labelled by topic and consumer group.
var (
	ConsumerMessagesReceived  = consumerCounter("messages_received_total", "Kafka messages fetched from the broker.")
	ConsumerMessagesProcessed = consumerCounter("messages_processed_total", "Kafka messages whose handler succeeded.")
	ConsumerMessagesFailed    = consumerCounter("messages_failed_total", "Kafka messages that exhausted their retries.")
	ConsumerDLQPublished      = consumerCounter("dlq_published_total", "Kafka messages sent to a dead-letter topic.")

	ConsumerProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "kafka", Subsystem: "consumer",
		Name:    "processing_duration_seconds",
		Help:    "Handler time per Kafka message, retries included.",
		Buckets: prometheus.DefBuckets,
	}, consumerLabels)
)

// ConsumerMessagesDuplicate counts events IdempotentHandler skipped, by
// event type and source.
var ConsumerMessagesDuplicate = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "kafka", Subsystem: "consumer",
	Name: "messages_duplicate_total",
	Help: "Redelivered events skipped by the idempotency guard.",
}, []string{"event_type", "source"})

// Producer metrics, labelled by topic.
var (
	ProducerMessagesPublished = producerCounter("messages_published_total", "Kafka messages published.")
	ProducerPublishErrors     = producerCounter("publish_errors_total", "Failed Kafka publishes.")

	ProducerPublishDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "kafka", Subsystem: "producer",
		Name:    "publish_duration_seconds",
		Help:    "Kafka publish latency.",
		Buckets: prometheus.DefBuckets,
	}, producerLabels)
)
