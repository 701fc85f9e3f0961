// Package audit records dashboard mutations and admin actions.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
// No Update/Delete methods are provided.
type Repository interface {
	Append(ctx context.Context, e Event) error
	// Recent returns up to limit events, newest first.
	Recent(ctx context.Context, limit int) ([]Event, error)
}

// Service logs internal audit information.
// Callers should treat audit logging as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s == nil || s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}
	if e.AppointmentID == "" && e.CallSID == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	if e.ActorUserID == "" {
		e.ActorUserID = "anonymous"
	}
	return s.repo.Append(ctx, e)
}

// LogAppointment records a create, update or delete of an appointment.
func (s *Service) LogAppointment(ctx context.Context, actor Actor, typ EventType, appointmentID, message string) error {
	return s.Append(ctx, Event{
		Type:          typ,
		ActorUserID:   actor.UserID,
		ActorRole:     actor.Role,
		IPAddress:     actor.IP,
		AppointmentID: appointmentID,
		Message:       message,
	})
}

// LogHangup records an operator ending a live call.
func (s *Service) LogHangup(ctx context.Context, actor Actor, callSID string) error {
	return s.Append(ctx, Event{
		Type:        EventTypeCallHangup,
		ActorUserID: actor.UserID,
		ActorRole:   actor.Role,
		IPAddress:   actor.IP,
		CallSID:     callSID,
		Message:     "call hung up from dashboard",
	})
}

func (s *Service) Recent(ctx context.Context, limit int) ([]Event, error) {
	if s == nil || s.repo == nil {
		return nil, errors.New("audit: repository not configured")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.Recent(ctx, limit)
}
