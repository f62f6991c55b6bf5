package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
)

// PipelineEvent records a pipeline milestone for downstream analytics.
type PipelineEvent struct {
	Event      string    `json:"event"`
	DesignID   string    `json:"designId"`
	ShopDomain string    `json:"shopDomain"`
	Provider   string    `json:"provider,omitempty"`
	Status     string    `json:"status,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// PipelineEventPublisher publishes pipeline events to a Pub/Sub topic.
type PipelineEventPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPipelineEventPublisher constructs a Pub/Sub backed pipeline event publisher.
func NewPipelineEventPublisher(topic *pubsub.Topic) (*PipelineEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pipeline event publisher: topic is required")
	}
	return &PipelineEventPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishPipelineEvent enqueues an event message on the configured topic.
func (p *PipelineEventPublisher) PublishPipelineEvent(ctx context.Context, event PipelineEvent) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pipeline event publisher: not initialised")
	}
	if strings.TrimSpace(event.Event) == "" {
		return "", errors.New("pipeline event publisher: event name is required")
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	data, err := p.marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal pipeline event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "event", event.Event)
	setAttr(attrs, "designId", event.DesignID)
	setAttr(attrs, "shopDomain", event.ShopDomain)
	setAttr(attrs, "provider", event.Provider)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish pipeline event: %w", err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
