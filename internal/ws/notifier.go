package ws

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/fhecredit/backend/internal/domain/registry"
)

type NotificationRepository interface {
	ListSince(ctx context.Context, lastID int64, limit int32) ([]registry.Notification, error)
}

// Notifier polls the notifications table and fans lifecycle events out to
// subscribed clients.
type Notifier struct {
	repo         NotificationRepository
	hub          *Hub
	pollInterval time.Duration
	lastID       int64
}

func NewNotifier(repo NotificationRepository, hub *Hub, pollInterval time.Duration) *Notifier {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Notifier{repo: repo, hub: hub, pollInterval: pollInterval}
}

func (n *Notifier) Run(ctx context.Context) error {
	ticker := time.NewTicker(n.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := n.tick(ctx); err != nil {
				return err
			}
		}
	}
}

func (n *Notifier) tick(ctx context.Context) error {
	events, err := n.repo.ListSince(ctx, n.lastID, 100)
	if err != nil {
		return err
	}
	for _, ev := range events {
		if ev.ID > n.lastID {
			n.lastID = ev.ID
		}
		payload, _ := json.Marshal(map[string]any{
			"event": ev.Kind,
			"data": map[string]any{
				"identity":    ev.Identity,
				"occurred_at": ev.OccurredAt.UTC().Format(time.RFC3339),
			},
		})
		n.hub.Publish("credit:lifecycle:"+strings.ToLower(ev.Identity), payload)

		activityPayload, _ := json.Marshal(map[string]any{
			"event": "registry_activity",
			"data": map[string]any{
				"kind":        ev.Kind,
				"occurred_at": ev.OccurredAt.UTC().Format(time.RFC3339),
			},
		})
		n.hub.Publish("registry:activity", activityPayload)
	}
	return nil
}
