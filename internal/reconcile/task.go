package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
)

const taskAttributeTrigger = "trigger"

// Task is the asynchronous reconcile request enqueued by the webhook handler.
type Task struct {
	ProviderPaymentID string `json:"provider_payment_id"`
	EventID           string `json:"event_id"`
}

// messagePublisher is the slice of the Pub/Sub publisher the task layer uses.
type messagePublisher interface {
	Publish(ctx context.Context, msg *pubsub.Message) *pubsub.PublishResult
}

// PubSubTaskPublisher publishes reconcile tasks to the configured topic.
type PubSubTaskPublisher struct {
	publisher messagePublisher
}

func NewPubSubTaskPublisher(publisher messagePublisher) (*PubSubTaskPublisher, error) {
	if publisher == nil {
		return nil, errors.New("pubsub publisher required")
	}
	return &PubSubTaskPublisher{publisher: publisher}, nil
}

func (p *PubSubTaskPublisher) PublishTask(ctx context.Context, task Task) error {
	if task.ProviderPaymentID == "" {
		return errors.New("task requires a provider payment id")
	}

	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encoding reconcile task: %w", err)
	}

	result := p.publisher.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			taskAttributeTrigger: string(TriggerWebhook),
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publishing reconcile task: %w", err)
	}
	return nil
}
