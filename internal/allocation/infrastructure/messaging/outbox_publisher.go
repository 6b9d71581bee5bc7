// Package messaging implements the event publisher on the outbox pattern:
// events are staged in the same database transaction as the state change
// that produced them, then relayed to Kafka by a background loop.
package messaging

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/wyfcoding/p2pexchange/internal/allocation/domain"
	"github.com/wyfcoding/p2pexchange/pkg/contextx"
	"github.com/wyfcoding/p2pexchange/pkg/logger"
	"github.com/wyfcoding/p2pexchange/pkg/metrics"
	"github.com/wyfcoding/p2pexchange/pkg/mq"
)

const (
	outboxPending = "pending"
	outboxSent    = "sent"
)

// OutboxMessage is one staged domain event awaiting relay.
type OutboxMessage struct {
	ID        string    `gorm:"type:varchar(36);primaryKey"`
	EventType string    `gorm:"type:varchar(100);index"`
	Topic     string    `gorm:"type:varchar(100)"`
	Key       string    `gorm:"type:varchar(64)"`
	Payload   string    `gorm:"type:text"`
	Status    string    `gorm:"type:varchar(20);index;default:'pending'"`
	CreatedAt time.Time `gorm:"index"`
	UpdatedAt time.Time
}

// TableName pins the outbox table name.
func (OutboxMessage) TableName() string {
	return "allocation_outbox_messages"
}

// topics routes event types to Kafka topics.
type topics struct {
	Transaction string
	Balance     string
}

// OutboxPublisher implements domain.EventPublisher. Publish methods only
// insert rows; Relay moves them to Kafka.
type OutboxPublisher struct {
	db       *gorm.DB
	producer *mq.KafkaProducer
	topics   topics
	metrics  *metrics.Metrics
}

// NewOutboxPublisher creates the publisher. producer may be nil in tests;
// Relay then marks nothing as sent.
func NewOutboxPublisher(db *gorm.DB, producer *mq.KafkaProducer, transactionTopic, balanceTopic string, m *metrics.Metrics) *OutboxPublisher {
	return &OutboxPublisher{
		db:       db,
		producer: producer,
		topics:   topics{Transaction: transactionTopic, Balance: balanceTopic},
		metrics:  m,
	}
}

func (p *OutboxPublisher) getDB(ctx context.Context) *gorm.DB {
	if tx := contextx.GetTx(ctx); tx != nil {
		if gormTx, ok := tx.(*gorm.DB); ok {
			return gormTx
		}
	}
	return p.db.WithContext(ctx)
}

func (p *OutboxPublisher) stage(ctx context.Context, eventType, topic, key string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.getDB(ctx).Create(&OutboxMessage{
		ID:        uuid.NewString(),
		EventType: eventType,
		Topic:     topic,
		Key:       key,
		Payload:   string(payload),
		Status:    outboxPending,
	}).Error
}

func (p *OutboxPublisher) PublishTransactionCreated(ctx context.Context, event domain.TransactionCreatedEvent) error {
	return p.stage(ctx, "TransactionCreated", p.topics.Transaction, event.TransactionID, event)
}

func (p *OutboxPublisher) PublishTransactionReady(ctx context.Context, event domain.TransactionReadyEvent) error {
	return p.stage(ctx, "TransactionReady", p.topics.Transaction, event.TransactionID, event)
}

func (p *OutboxPublisher) PublishTransactionCanceled(ctx context.Context, event domain.TransactionCanceledEvent) error {
	return p.stage(ctx, "TransactionCanceled", p.topics.Transaction, event.TransactionID, event)
}

func (p *OutboxPublisher) PublishTransactionExpired(ctx context.Context, event domain.TransactionExpiredEvent) error {
	return p.stage(ctx, "TransactionExpired", p.topics.Transaction, event.TransactionID, event)
}

func (p *OutboxPublisher) PublishTransactionCompleted(ctx context.Context, event domain.TransactionCompletedEvent) error {
	return p.stage(ctx, "TransactionCompleted", p.topics.Transaction, event.TransactionID, event)
}

func (p *OutboxPublisher) PublishDisputeOpened(ctx context.Context, event domain.DisputeOpenedEvent) error {
	return p.stage(ctx, "DisputeOpened", p.topics.Transaction, event.TransactionID, event)
}

func (p *OutboxPublisher) PublishDisputeResolved(ctx context.Context, event domain.DisputeResolvedEvent) error {
	return p.stage(ctx, "DisputeResolved", p.topics.Transaction, event.TransactionID, event)
}

func (p *OutboxPublisher) PublishCollateralChanged(ctx context.Context, event domain.CollateralChangedEvent) error {
	return p.stage(ctx, "CollateralChanged", p.topics.Balance, event.TraderID, event)
}

// relayBatch sends one batch of pending messages, oldest first. Relay order
// per key is preserved because failures stop the batch.
func (p *OutboxPublisher) relayBatch(ctx context.Context, batchSize int) (int, error) {
	var messages []OutboxMessage
	err := p.db.WithContext(ctx).
		Where("status = ?", outboxPending).
		Order("created_at ASC").
		Limit(batchSize).
		Find(&messages).Error
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, message := range messages {
		if p.producer != nil {
			if err := p.producer.SendRaw(ctx, message.Topic, message.Key, []byte(message.Payload)); err != nil {
				if p.metrics != nil {
					p.metrics.OutboxFailuresTotal.Inc()
				}
				return sent, err
			}
		}
		if err := p.db.WithContext(ctx).Model(&OutboxMessage{}).
			Where("id = ?", message.ID).
			Update("status", outboxSent).Error; err != nil {
			return sent, err
		}
		sent++
		if p.metrics != nil {
			p.metrics.OutboxRelayedTotal.Inc()
		}
	}
	return sent, nil
}

// Relay polls the outbox until the context is canceled.
func (p *OutboxPublisher) Relay(ctx context.Context, interval time.Duration, batchSize int) {
	logger.Info(ctx, "Outbox relay started", "interval", interval.String(), "batch_size", batchSize)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "Outbox relay stopped")
			return
		case <-ticker.C:
			if _, err := p.relayBatch(ctx, batchSize); err != nil {
				logger.Error(ctx, "Outbox relay batch failed", "error", err)
			}
		}
	}
}

// Cleanup deletes sent messages older than the cutoff.
func (p *OutboxPublisher) Cleanup(ctx context.Context, before time.Time) error {
	return p.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", outboxSent, before).
		Delete(&OutboxMessage{}).Error
}
