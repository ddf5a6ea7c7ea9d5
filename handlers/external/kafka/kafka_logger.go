package kafka

import (
	"encoding/json"
	"fmt"
	"math/rand"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/doublewordai/arbiter/pkg/configs"
	"github.com/doublewordai/arbiter/pkg/logger"
	"github.com/doublewordai/arbiter/pkg/metrics"
)

const (
	jsonMarshalErr = "json-marshal-error"
	kafkaWriteErr  = "kafka-write-error"

	flushTimeoutMs = 5000
)

var (
	producer     *kafka.Producer
	auditTopic   string
	auditPercent int
)

// AuditRecord is the JSON payload published for a sampled classification
// outcome.
type AuditRecord struct {
	RequestID string  `json:"request_id"`
	Model     string  `json:"model"`
	Label     string  `json:"label"`
	Score     float64 `json:"score"`
	Failure   string  `json:"failure,omitempty"`
	CreatedAt int64   `json:"created_at"`
}

func getMetricTags(errType string) []string {
	return []string{"error-type:" + errType}
}

// InitKafkaLogger initializes the Kafka producer for classification audit
// logging. Audit logging stays disabled when bootstrap servers are unset.
func InitKafkaLogger(appConfigs *configs.AppConfigs) {
	bootstrapServers := appConfigs.Configs.KafkaBootstrapServers
	if bootstrapServers == "" {
		logger.Info("Kafka bootstrap servers not configured, audit logging disabled")
		return
	}
	auditTopic = appConfigs.Configs.KafkaAuditTopic
	if auditTopic == "" {
		logger.Info("Kafka audit topic not configured, audit logging disabled")
		return
	}
	auditPercent = appConfigs.Configs.KafkaAuditPercent

	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": bootstrapServers,
		"client.id":         appConfigs.Configs.ApplicationName,
	})
	if err != nil {
		logger.Error("Failed to create Kafka audit producer", err)
		return
	}
	producer = p

	// Drain delivery reports in background so the producer doesn't block.
	go func() {
		for e := range p.Events() {
			switch ev := e.(type) {
			case *kafka.Message:
				if ev.TopicPartition.Error != nil {
					logger.Error("Kafka audit delivery failed", ev.TopicPartition.Error)
					metrics.Count("arbiter.audit.error", 1, getMetricTags(kafkaWriteErr))
				}
			}
		}
	}()

	logger.Info(fmt.Sprintf("Kafka audit producer initialised for topic: %s", auditTopic))
}

// MaybePublishAuditRecord publishes the record for a sampled percentage of
// outcomes. Callers fire this from a goroutine; it never blocks the response
// path.
func MaybePublishAuditRecord(record *AuditRecord) {
	if producer == nil {
		return
	}
	if rand.Intn(100)+1 > auditPercent {
		return
	}
	publishAuditRecord(record)
}

func publishAuditRecord(record *AuditRecord) {
	data, err := json.Marshal(record)
	if err != nil {
		logger.Error("Error marshalling audit record", err)
		metrics.Count("arbiter.audit.error", 1, getMetricTags(jsonMarshalErr))
		return
	}

	msg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &auditTopic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(record.RequestID),
		Value: data,
	}
	if err := producer.Produce(msg, nil); err != nil {
		logger.Error("Error sending audit record to Kafka", err)
		metrics.Count("arbiter.audit.error", 1, getMetricTags(kafkaWriteErr))
		return
	}

	metrics.Count("arbiter.audit.sent", 1, nil)
}

// CloseKafkaLogger flushes buffered audit records and releases the producer.
func CloseKafkaLogger() {
	if producer == nil {
		return
	}
	if remaining := producer.Flush(flushTimeoutMs); remaining > 0 {
		logger.Info(fmt.Sprintf("Kafka audit flush timed out with %d records outstanding", remaining))
	}
	producer.Close()
}
