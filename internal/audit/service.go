package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
// It MUST be append-only.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service records internal audit information.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.ActorUserID == "" || e.Type == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// CallStarted records a call entering the connected state.
func (s *Service) CallStarted(ctx context.Context, actor, callSID, direction, from, to string) error {
	return s.Append(ctx, Event{
		Type:        EventTypeCallStarted,
		ActorUserID: actor,
		CallSID:     callSID,
		PhoneNumber: from,
		Message:     direction + " call to " + to,
	})
}

// CallEnded records the end of a call with its measured duration.
func (s *Service) CallEnded(ctx context.Context, actor, callSID string, durationSeconds int, dtmf []string) error {
	meta, _ := json.Marshal(map[string]any{"duration_seconds": durationSeconds, "dtmf": dtmf})
	return s.Append(ctx, Event{
		Type:        EventTypeCallEnded,
		ActorUserID: actor,
		CallSID:     callSID,
		Message:     "call ended",
		Metadata:    string(meta),
	})
}

func (s *Service) NumberPurchased(ctx context.Context, actor, numberID, e164 string) error {
	return s.Append(ctx, Event{
		Type:        EventTypeNumberPurchased,
		ActorUserID: actor,
		NumberID:    numberID,
		PhoneNumber: e164,
		Message:     "number purchased",
	})
}

func (s *Service) NumberReleased(ctx context.Context, actor, numberID, e164 string) error {
	return s.Append(ctx, Event{
		Type:        EventTypeNumberReleased,
		ActorUserID: actor,
		NumberID:    numberID,
		PhoneNumber: e164,
		Message:     "number released",
	})
}

func (s *Service) RecordingDeleted(ctx context.Context, actor, recordingSID, callSID string) error {
	return s.Append(ctx, Event{
		Type:         EventTypeRecordingDeleted,
		ActorUserID:  actor,
		RecordingSID: recordingSID,
		CallSID:      callSID,
		Message:      "recording deleted",
	})
}
