package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"streamads/internal/logger"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
)

// TopicGKeys carries every G-Key state transition.
const TopicGKeys = "gkeys"

// G-Key event types.
const (
	GKeyLocked    = "gkey.locked"
	GKeyReleased  = "gkey.released"
	GKeyAvailable = "gkey.available"
)

// GKeyEvent describes one state transition of a G-Key.
type GKeyEvent struct {
	Type          string     `json:"type"`
	KeyID         uint       `json:"keyId"`
	UserID        string     `json:"userId"`
	Category      string     `json:"category"`
	Status        string     `json:"status"`
	CampaignID    string     `json:"campaignId,omitempty"`
	BrandID       string     `json:"brandId,omitempty"`
	CooloffHours  int        `json:"cooloffHours,omitempty"`
	CooloffEndsAt *time.Time `json:"cooloffEndsAt,omitempty"`
	OccurredAt    time.Time  `json:"occurredAt"`
}

// Publisher publishes G-Key events.
type Publisher interface {
	Publish(ctx context.Context, event GKeyEvent) error
}

// Bus is an in-process event bus backed by a Watermill Go channel.
type Bus struct {
	pubSub *gochannel.GoChannel
}

// NewBus creates a bus whose subscribers buffer up to bufferSize messages.
func NewBus(bufferSize int, log *slog.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            int64(bufferSize),
			Persistent:                     false,
			BlockPublishUntilSubscriberAck: false,
		},
		watermill.NewSlogLogger(logger.Component(log, "events")),
	)
	return &Bus{pubSub: pubSub}
}

// Publish encodes event as JSON and sends it on TopicGKeys.
func (b *Bus) Publish(ctx context.Context, event GKeyEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", event.Type, err)
	}

	msg := message.NewMessage(uuid.NewString(), payload)
	msg.Metadata.Set("type", event.Type)
	msg.Metadata.Set("user_id", event.UserID)
	msg.SetContext(ctx)

	if err := b.pubSub.Publish(TopicGKeys, msg); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event.Type, err)
	}
	return nil
}

// Subscribe returns the stream of raw G-Key messages. It ends when ctx is done or the bus is closed.
func (b *Bus) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	return b.pubSub.Subscribe(ctx, TopicGKeys)
}

// Close shuts down the bus and closes every subscription.
func (b *Bus) Close() error {
	return b.pubSub.Close()
}

// DecodeGKeyEvent parses a message published by Bus.
func DecodeGKeyEvent(msg *message.Message) (GKeyEvent, error) {
	var event GKeyEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return GKeyEvent{}, fmt.Errorf("failed to decode g-key event %s: %w", msg.UUID, err)
	}
	return event, nil
}
