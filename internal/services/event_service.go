package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/isdelr/winepair-be/internal/models"
)

// EventsCollection is the MongoDB collection events are stored in.
const EventsCollection = "backup_events"

// DefaultEventLimit is used when a non-positive limit is requested.
const DefaultEventLimit = 20

// Event levels.
const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// EventServiceProvider defines the interface for event services.
type EventServiceProvider interface {
	CreateEvent(ctx context.Context, eventType, level, message string, collection *string) error
	GetRecentEvents(ctx context.Context, limit int) ([]models.Event, error)
}

// EventBroadcaster receives every event after it has been stored.
type EventBroadcaster interface {
	BroadcastEvent(event models.Event)
}

// EventService provides business logic for event management.
type EventService struct {
	events      *mongo.Collection
	broadcaster EventBroadcaster
	clock       clock.Clock
}

// NewEventService creates a new EventService. broadcaster may be nil.
func NewEventService(db *mongo.Database, broadcaster EventBroadcaster, clk clock.Clock) *EventService {
	return &EventService{
		events:      db.Collection(EventsCollection),
		broadcaster: broadcaster,
		clock:       clk,
	}
}

// CreateEvent stores a new event and forwards it to the broadcaster.
func (s *EventService) CreateEvent(ctx context.Context, eventType, level, message string, collection *string) error {
	event := models.Event{
		ID:         uuid.New().String(),
		Type:       eventType,
		Level:      level,
		Message:    message,
		Collection: collection,
		CreatedAt:  s.clock.Now().UTC(),
	}

	if _, err := s.events.InsertOne(ctx, event); err != nil {
		return errors.Annotatef(err, "storing event %q", eventType)
	}

	if s.broadcaster != nil {
		s.broadcaster.BroadcastEvent(event)
	}
	return nil
}

// GetRecentEvents retrieves the most recent events, newest first.
func (s *EventService) GetRecentEvents(ctx context.Context, limit int) ([]models.Event, error) {
	if limit <= 0 {
		limit = DefaultEventLimit
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := s.events.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, errors.Annotate(err, "querying events")
	}

	events := make([]models.Event, 0, limit)
	if err := cursor.All(ctx, &events); err != nil {
		return nil, errors.Annotate(err, "decoding events")
	}
	return events, nil
}

// emitEvent records an event, logging instead of failing when it cannot be stored.
func emitEvent(ctx context.Context, events EventServiceProvider, eventType, level, message string, collection *string) {
	if events == nil {
		return
	}
	if err := events.CreateEvent(ctx, eventType, level, message, collection); err != nil {
		log.Warn().Err(err).Str("event", eventType).Msg("Failed to record event")
	}
}
