package reconcile

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"

	pkgerrors "github.com/recargas-app/recargas-backend/pkg/errors"
	"github.com/recargas-app/recargas-backend/pkg/logger"
)

// Consumer drains the reconcile task subscription and runs each task through
// the service. Transient failures are nacked for redelivery.
type Consumer struct {
	svc          *Service
	subscription *pubsub.Subscriber
	logg         *logger.Logger
}

// NewConsumer builds a reconcile task consumer.
func NewConsumer(svc *Service, subscription *pubsub.Subscriber, logg *logger.Logger) (*Consumer, error) {
	if svc == nil {
		return nil, fmt.Errorf("reconcile service required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("reconcile subscription required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		svc:          svc,
		subscription: subscription,
		logg:         logg,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"trigger":    msg.Attributes[taskAttributeTrigger],
	})

	var task Task
	if err := json.Unmarshal(msg.Data, &task); err != nil {
		c.logg.Error(logCtx, "failed to decode reconcile task", err)
		return processResult{ack: true}
	}
	if task.ProviderPaymentID == "" {
		c.logg.Error(logCtx, "reconcile task missing provider payment id", nil)
		return processResult{ack: true}
	}

	logCtx = c.logg.WithProviderPaymentID(logCtx, task.ProviderPaymentID)

	record, err := c.svc.ReconcileByProviderPayment(logCtx, task.ProviderPaymentID, TriggerWebhook)
	if err != nil {
		if pkgerrors.IsRetryable(err) {
			c.logg.Error(logCtx, "reconcile failed, will redeliver", err)
			return processResult{nack: true}
		}
		// Permanent failures (unknown references, validation) are dropped.
		c.logg.Error(logCtx, "reconcile failed permanently", err)
		return processResult{ack: true}
	}

	logCtx = c.logg.WithFields(logCtx, map[string]any{
		"status":     record.Status.String(),
		"settlement": record.Settlement.String(),
	})
	c.logg.Info(logCtx, "reconcile task processed")
	return processResult{ack: true}
}
