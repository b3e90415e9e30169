package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"riskgate/internal/bot"
	"riskgate/internal/config"
	"riskgate/internal/models"
	"riskgate/pkg/utils"
)

// SignalSink принимает сигналы (Dispatcher.Submit)
//
// false - сигнал отброшен из-за переполнения очереди.
type SignalSink interface {
	Submit(sig models.Signal) bool
}

// OutcomeHandler применяет исход сделки
type OutcomeHandler func(outcome models.TradeOutcome) error

// Consumer читает сигналы и исходы сделок через consumer group
//
// Сообщение помечается обработанным в любом случае: битое сообщение
// или отклонённый исход повторно не читаются. Повтор исхода после
// перебалансировки группы отсекается дедупликацией по decision_id.
type Consumer struct {
	group         sarama.ConsumerGroup
	signalsTopic  string
	outcomesTopic string
	signals       SignalSink
	outcomes      OutcomeHandler
	log           *utils.Logger
	now           func() time.Time

	wg sync.WaitGroup
}

// NewConsumerConfig возвращает настройки sarama для consumer group
func NewConsumerConfig(cfg config.KafkaConfig) *sarama.Config {
	sc := sarama.NewConfig()
	sc.ClientID = cfg.ClientID
	sc.Version = sarama.V2_8_0_0
	sc.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	sc.Consumer.Return.Errors = true
	return sc
}

// NewConsumer подключается к consumer group
func NewConsumer(cfg config.KafkaConfig, signals SignalSink, outcomes OutcomeHandler, logger *utils.Logger) (*Consumer, error) {
	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, NewConsumerConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group: %w", err)
	}
	return newConsumer(group, cfg, signals, outcomes, logger), nil
}

func newConsumer(group sarama.ConsumerGroup, cfg config.KafkaConfig, signals SignalSink, outcomes OutcomeHandler, logger *utils.Logger) *Consumer {
	if logger == nil {
		logger = utils.L()
	}
	return &Consumer{
		group:         group,
		signalsTopic:  cfg.SignalsTopic,
		outcomesTopic: cfg.OutcomesTopic,
		signals:       signals,
		outcomes:      outcomes,
		log:           logger.WithComponent("kafka_consumer"),
		now:           time.Now,
	}
}

// Run читает топики до отмены ctx
//
// Consume возвращается при каждой перебалансировке группы,
// поэтому вызывается в цикле.
func (c *Consumer) Run(ctx context.Context) error {
	topics := []string{c.signalsTopic, c.outcomesTopic}
	handler := &groupHandler{consumer: c}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case err, ok := <-c.group.Errors():
				if !ok {
					return
				}
				c.log.Warn("kafka consumer error", utils.Err(err))
			case <-ctx.Done():
				return
			}
		}
	}()

	c.log.Info("kafka consumer started", utils.Any("topics", topics))

	for {
		if err := c.group.Consume(ctx, topics, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			c.log.Error("kafka consume failed", utils.Err(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// Close закрывает consumer group
func (c *Consumer) Close() error {
	err := c.group.Close()
	c.wg.Wait()
	return err
}

// handle обрабатывает одно сообщение и возвращает статус для метрик
func (c *Consumer) handle(msg *sarama.ConsumerMessage) string {
	switch msg.Topic {
	case c.signalsTopic:
		sig, err := DecodeSignal(msg.Value, c.receivedAt(msg))
		if err != nil {
			c.log.Warn("bad signal message", utils.Err(err), utils.Int64("offset", msg.Offset))
			return "decode_error"
		}
		if !c.signals.Submit(sig) {
			return "dropped"
		}
		return "ok"

	case c.outcomesTopic:
		outcome, err := DecodeOutcome(msg.Value)
		if err != nil {
			c.log.Warn("bad outcome message", utils.Err(err), utils.Int64("offset", msg.Offset))
			return "decode_error"
		}
		if err := c.outcomes(outcome); err != nil {
			c.log.Warn("trade outcome rejected", utils.DecisionID(outcome.DecisionID), utils.Err(err))
			return "rejected"
		}
		return "ok"
	}
	return "unknown_topic"
}

func (c *Consumer) receivedAt(msg *sarama.ConsumerMessage) time.Time {
	if !msg.Timestamp.IsZero() {
		return msg.Timestamp
	}
	return c.now()
}

// groupHandler реализует sarama.ConsumerGroupHandler
type groupHandler struct {
	consumer *Consumer
}

func (h *groupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	h.consumer.log.Info("kafka partitions assigned", utils.Any("claims", sess.Claims()))
	return nil
}

func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			bot.RecordBusMessage(msg.Topic, h.consumer.handle(msg))
			sess.MarkMessage(msg, "")

		case <-sess.Context().Done():
			return nil
		}
	}
}
