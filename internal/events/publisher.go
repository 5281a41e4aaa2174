// Package events publishes domain events about recoveries and backups.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"keyless-recovery/internal/util"
)

const (
	OTPSent           = "otp.sent"
	OTPVerified       = "otp.verified"
	EmergencyRecovery = "otp.emergency_recovery"
	WalletLinked      = "backup.wallet_linked"
	BackupSaved       = "backup.saved"
	BackupDeleted     = "backup.deleted"
)

const publishTimeout = 5 * time.Second

type Event struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Phone         string    `json:"phone,omitempty"`
	WalletAddress string    `json:"walletAddress,omitempty"`
	SessionID     string    `json:"sessionId,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// Publisher delivers events without blocking the caller. Delivery failures
// are logged, never returned.
type Publisher interface {
	Publish(ctx context.Context, evt Event)
	Close() error
}

// Producer is the transport used by KafkaPublisher.
type Producer interface {
	ProduceMessage(ctx context.Context, key, value []byte, headers map[string]string) error
}

type KafkaPublisher struct {
	producer Producer
	logger   *zap.Logger
	wg       sync.WaitGroup
}

func NewKafkaPublisher(producer Producer, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, logger: logger}
}

// Publish keys the message by phone so one phone's events stay ordered on a
// partition.
func (p *KafkaPublisher) Publish(ctx context.Context, evt Event) {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}

	value, err := json.Marshal(evt)
	if err != nil {
		p.logger.Error("Failed to encode event", util.String("type", evt.Type), util.ErrorField(err))
		return
	}
	headers := map[string]string{"event_type": evt.Type}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
		defer cancel()

		if err := p.producer.ProduceMessage(sendCtx, []byte(evt.Phone), value, headers); err != nil {
			p.logger.Warn("Failed to publish event",
				util.String("type", evt.Type),
				util.String("event_id", evt.ID),
				util.ErrorField(err))
		}
	}()
}

// Close waits for in-flight publishes.
func (p *KafkaPublisher) Close() error {
	p.wg.Wait()
	return nil
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Event) {}

func (NoopPublisher) Close() error { return nil }
