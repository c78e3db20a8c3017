package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

type ChainEvent struct {
	ID        int64
	EventName string
	TXHash    string
	RawData   []byte
}

type EventRepository interface {
	ListUnprocessed(ctx context.Context, limit int32) ([]ChainEvent, error)
	MarkProcessed(ctx context.Context, eventID int64) error
}

type ProjectionRepository interface {
	ConfirmAnchor(ctx context.Context, txHash string) error
}

// Service projects ingested chain events: an observed registry event means
// the matching anchor transaction reached the confirmation depth.
type Service struct {
	eventRepo EventRepository
	projRepo  ProjectionRepository
}

func NewService(eventRepo EventRepository, projRepo ProjectionRepository) *Service {
	return &Service{eventRepo: eventRepo, projRepo: projRepo}
}

func (s *Service) RunOnce(ctx context.Context, batchSize int32) error {
	events, err := s.eventRepo.ListUnprocessed(ctx, batchSize)
	if err != nil {
		return err
	}

	for _, ev := range events {
		if err := s.processEvent(ctx, ev); err != nil {
			return err
		}
		if err := s.eventRepo.MarkProcessed(ctx, ev.ID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) processEvent(ctx context.Context, ev ChainEvent) error {
	switch strings.TrimSpace(ev.EventName) {
	case "DataSubmitted", "Evaluated", "ApprovalRequested":
		var payload struct {
			Identity string `json:"identity"`
		}
		if err := json.Unmarshal(ev.RawData, &payload); err != nil {
			return fmt.Errorf("invalid %s payload: %w", ev.EventName, err)
		}
		if strings.TrimSpace(payload.Identity) == "" {
			return fmt.Errorf("missing identity in %s", ev.EventName)
		}
		return s.projRepo.ConfirmAnchor(ctx, ev.TXHash)
	default:
		return nil
	}
}
