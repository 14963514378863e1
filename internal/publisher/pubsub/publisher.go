// Package pubsub publishes pipeline events to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	gcpubsub "cloud.google.com/go/pubsub"
)

// Publisher publishes JSON events to a single Pub/Sub topic, tagging
// each message with an event attribute.
type Publisher struct {
	client *gcpubsub.Client
	topic  *gcpubsub.Topic

	mu sync.Mutex
}

// New connects to Pub/Sub and binds the topic.
func New(ctx context.Context, projectID, topicName string) (*Publisher, error) {
	if projectID == "" || topicName == "" {
		return nil, fmt.Errorf("pubsub project id and topic name are required")
	}

	client, err := gcpubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}

	return &Publisher{
		client: client,
		topic:  client.Topic(topicName),
	}, nil
}

// Publish marshals the payload and publishes it with the event name as
// an attribute. It blocks until the server acknowledges the message and
// returns the server-assigned id.
func (p *Publisher) Publish(ctx context.Context, event string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal event %s: %w", event, err)
	}

	result := p.topic.Publish(ctx, &gcpubsub.Message{
		Data:       data,
		Attributes: map[string]string{"event": event},
	})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish event %s: %w", event, err)
	}
	return id, nil
}

// Close flushes pending messages and releases the client.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.topic != nil {
		p.topic.Stop()
		p.topic = nil
	}
	if p.client != nil {
		err := p.client.Close()
		p.client = nil
		return err
	}
	return nil
}
