// Package audit records security-relevant events to the analytics stores.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"keyless-recovery/internal/bucketing"
	"keyless-recovery/internal/models"
	"keyless-recovery/internal/util"
)

const recordTimeout = 3 * time.Second

// Sink persists a completed security event.
type Sink interface {
	Name() string
	Write(ctx context.Context, evt *models.SecurityEvent) error
}

type ipKey struct{}

// WithClientIP attaches the caller's address to ctx for later events.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ipKey{}, ip)
}

func ClientIP(ctx context.Context) string {
	ip, _ := ctx.Value(ipKey{}).(string)
	return ip
}

type Recorder interface {
	Record(ctx context.Context, evt *models.SecurityEvent)
}

// Auditor stamps events and writes them to every sink concurrently. Sink
// failures are logged and never reach the caller.
type Auditor struct {
	sinks     []Sink
	bucketing *bucketing.BucketingManager
	logger    *zap.Logger
	now       func() time.Time
}

func NewAuditor(bm *bucketing.BucketingManager, logger *zap.Logger, sinks ...Sink) *Auditor {
	return &Auditor{
		sinks:     sinks,
		bucketing: bm,
		logger:    logger,
		now:       time.Now,
	}
}

// Record fills in id, time and partition fields. The phone is bucketed in
// clear and stored masked.
func (a *Auditor) Record(ctx context.Context, evt *models.SecurityEvent) {
	now := a.now().UTC()
	if evt.EventID == "" {
		evt.EventID = uuid.NewString()
	}
	if evt.EventTime.IsZero() {
		evt.EventTime = now
	}
	evt.EventDate = a.bucketing.GetDateBucket(evt.EventTime)
	evt.EventBucket = a.bucketing.GetEventBucket(evt.Phone)
	evt.Phone = util.MaskPhone(evt.Phone)
	if evt.IPAddress == "" {
		evt.IPAddress = ClientIP(ctx)
	}
	if evt.RiskScore == 0 {
		evt.RiskScore = RiskScore(evt.EventType)
	}

	if len(a.sinks) == 0 {
		return
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	var g errgroup.Group
	for _, sink := range a.sinks {
		sink := sink
		g.Go(func() error {
			if err := sink.Write(writeCtx, evt); err != nil {
				a.logger.Warn("Failed to write security event",
					util.String("sink", sink.Name()),
					util.String("event_type", evt.EventType),
					util.String("event_id", evt.EventID),
					util.ErrorField(err))
				return err
			}
			return nil
		})
	}
	_ = g.Wait()
}

// RiskScore rates an event type from 0 to 100.
func RiskScore(eventType string) int {
	switch eventType {
	case models.EventAdminCodeRejected:
		return 80
	case models.EventEmergencyRecovery:
		return 70
	case models.EventWalletLinkRejected, models.EventClientTokenRejected:
		return 50
	case models.EventVerificationFailed:
		return 30
	case models.EventBackupDeleted:
		return 20
	default:
		return 10
	}
}

type NoopRecorder struct{}

func (NoopRecorder) Record(context.Context, *models.SecurityEvent) {}
