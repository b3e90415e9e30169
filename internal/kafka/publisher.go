package kafka

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"

	"riskgate/internal/bot"
	"riskgate/internal/config"
	"riskgate/internal/models"
	"riskgate/pkg/utils"
)

// DecisionPublisher - адаптер исполнения поверх Kafka
//
// Каждое решение гейта (одобренное и отклонённое) уходит в топик
// решений. Ключ сообщения - символ, поэтому решения по одному
// инструменту попадают в одну партицию и читаются по порядку.
// Маршрутизация ордеров выполняется подписчиками топика.
type DecisionPublisher struct {
	producer sarama.SyncProducer
	topic    string
	log      *utils.Logger
}

// NewProducerConfig возвращает настройки sarama для публикации решений
func NewProducerConfig(cfg config.KafkaConfig) *sarama.Config {
	sc := sarama.NewConfig()
	sc.ClientID = cfg.ClientID
	sc.Version = sarama.V2_8_0_0
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Return.Successes = true
	sc.Producer.Retry.Max = 3
	sc.Producer.Partitioner = sarama.NewHashPartitioner
	return sc
}

// NewDecisionPublisher подключается к брокерам
func NewDecisionPublisher(cfg config.KafkaConfig, logger *utils.Logger) (*DecisionPublisher, error) {
	producer, err := sarama.NewSyncProducer(cfg.Brokers, NewProducerConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return NewDecisionPublisherWithProducer(producer, cfg.DecisionsTopic, logger), nil
}

// NewDecisionPublisherWithProducer оборачивает готовый producer
func NewDecisionPublisherWithProducer(producer sarama.SyncProducer, topic string, logger *utils.Logger) *DecisionPublisher {
	if logger == nil {
		logger = utils.L()
	}
	return &DecisionPublisher{
		producer: producer,
		topic:    topic,
		log:      logger.WithComponent("kafka_publisher"),
	}
}

// Execute публикует решение (bot.OrderExecutor)
func (p *DecisionPublisher) Execute(ctx context.Context, d models.Decision) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	value, err := EncodeDecision(d)
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(d.Signal.Symbol),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("decision_id"), Value: []byte(d.ID)},
			{Key: []byte("action"), Value: []byte(d.Action)},
		},
		Timestamp: d.CreatedAt,
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		bot.RecordBusMessage(p.topic, "publish_error")
		return fmt.Errorf("publish decision %s: %w", d.ID, err)
	}
	bot.RecordBusMessage(p.topic, "published")

	p.log.Debug("decision published",
		utils.DecisionID(d.ID),
		utils.Int("partition", int(partition)),
		utils.Int64("offset", offset))
	return nil
}

// Close закрывает producer
func (p *DecisionPublisher) Close() error {
	return p.producer.Close()
}

var _ bot.OrderExecutor = (*DecisionPublisher)(nil)
