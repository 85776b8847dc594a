package services

import (
	"context"
	"encoding/json"
	"errors"

	"reconciliation-service/models"
	aws_pkg "reconciliation-service/pkg/aws"
)

// EventPublisher delivers order-domain events to downstream consumers.
type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, evt models.OrderEvent) error
}

// SNSEventPublisher publishes events as JSON to an SNS topic.
type SNSEventPublisher struct {
	client   aws_pkg.SNSPublisher
	topicArn string
}

func NewSNSEventPublisher(client aws_pkg.SNSPublisher, topicArn string) *SNSEventPublisher {
	return &SNSEventPublisher{client: client, topicArn: topicArn}
}

func (p *SNSEventPublisher) PublishOrderEvent(ctx context.Context, evt models.OrderEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.topicArn, data, map[string]string{
		"event_type": evt.EventType,
		"status":     string(evt.Status),
	})
}

// FanoutPublisher sends every event to each publisher and joins their errors.
type FanoutPublisher []EventPublisher

func (f FanoutPublisher) PublishOrderEvent(ctx context.Context, evt models.OrderEvent) error {
	var errs []error
	for _, p := range f {
		if err := p.PublishOrderEvent(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
