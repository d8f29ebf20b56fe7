package events

import (
	"context"
	"fmt"
	"log/slog"

	"streamads/internal/db"
	"streamads/internal/logger"
	"streamads/internal/model"

	"github.com/ThreeDotsLabs/watermill/message"
)

// Notifier turns G-Key events into user notifications.
type Notifier struct {
	db     db.Service
	logger *slog.Logger
}

func NewNotifier(dbService db.Service, log *slog.Logger) *Notifier {
	return &Notifier{
		db:     dbService,
		logger: logger.Component(log, "notifier"),
	}
}

// Run consumes messages until the channel closes or ctx is done.
// Undecodable messages are acked and dropped so they are not redelivered forever.
func (n *Notifier) Run(ctx context.Context, messages <-chan *message.Message) {
	n.logger.Info("Starting notifier.")
	for {
		select {
		case <-ctx.Done():
			n.logger.Info("Notifier stopped.")
			return
		case msg, ok := <-messages:
			if !ok {
				n.logger.Info("Notifier stopped.")
				return
			}
			n.handle(msg)
			msg.Ack()
		}
	}
}

func (n *Notifier) handle(msg *message.Message) {
	event, err := DecodeGKeyEvent(msg)
	if err != nil {
		n.logger.Warn("Dropping malformed event", "message_id", msg.UUID, "error", err)
		return
	}

	notification, ok := BuildNotification(event)
	if !ok {
		n.logger.Debug("No notification for event", "type", event.Type)
		return
	}
	if err := n.db.CreateNotification(&notification); err != nil {
		n.logger.Error("Failed to store notification", "user_id", event.UserID, "type", event.Type, "error", err)
	}
}

// BuildNotification renders the inbox entry for a G-Key event.
func BuildNotification(event GKeyEvent) (model.Notification, bool) {
	// CreatedAt follows the transition, not delivery, so the inbox keeps event order.
	notification := model.Notification{
		UserID:    event.UserID,
		Type:      event.Type,
		Category:  event.Category,
		CreatedAt: event.OccurredAt,
	}

	switch event.Type {
	case GKeyLocked:
		notification.Title = "G-Key locked"
		notification.Message = fmt.Sprintf("Your %s G-Key is now locked to campaign %s.", event.Category, event.CampaignID)
	case GKeyReleased:
		notification.Title = "G-Key released"
		if event.Status == string(model.GKeyCooloff) && event.CooloffEndsAt != nil {
			notification.Message = fmt.Sprintf("Your %s G-Key is in cooloff for %d hours, until %s. Campaigns from the same brand can still use it.",
				event.Category, event.CooloffHours, event.CooloffEndsAt.UTC().Format("2006-01-02 15:04 MST"))
		} else {
			notification.Message = fmt.Sprintf("Your %s G-Key is available again.", event.Category)
		}
	case GKeyAvailable:
		notification.Title = "G-Key available"
		notification.Message = fmt.Sprintf("The cooloff on your %s G-Key has ended. You can join campaigns from any brand.", event.Category)
	default:
		return model.Notification{}, false
	}
	return notification, true
}
