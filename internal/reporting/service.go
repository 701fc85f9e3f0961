// Package reporting keeps the call log and aggregates it for the dashboard.
package reporting

import (
	"context"
	"errors"
	"sort"
	"time"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting.
// It MUST be append-only: no update or delete.
type Repository interface {
	AppendCall(ctx context.Context, r CallRecord) error
	ListCalls(ctx context.Context, from, to time.Time) ([]CallRecord, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

// Record appends a finished call. It fills EndedAt and the duration when the
// caller left them empty.
func (s *Service) Record(ctx context.Context, r CallRecord) error {
	if r.ID == "" || r.Outcome == "" || r.StartedAt.IsZero() {
		return ErrInvalidRequest
	}
	if s.repo == nil {
		return errors.New("reporting: repository not configured")
	}
	if r.EndedAt.IsZero() {
		r.EndedAt = time.Now().UTC()
	}
	if r.EndedAt.Before(r.StartedAt) {
		r.EndedAt = r.StartedAt
	}
	if r.DurationSeconds == 0 {
		r.DurationSeconds = int(r.EndedAt.Sub(r.StartedAt).Seconds())
	}
	return s.repo.AppendCall(ctx, r)
}

// History lists calls that started inside rng, newest first.
func (s *Service) History(ctx context.Context, rng TimeRange) ([]CallRecord, error) {
	if !rng.Valid() {
		return nil, ErrInvalidRequest
	}
	if s.repo == nil {
		return nil, errors.New("reporting: repository not configured")
	}
	rows, err := s.repo.ListCalls(ctx, rng.From, rng.To)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].StartedAt.After(rows[j].StartedAt) })
	return rows, nil
}

func (s *Service) CallsSummary(ctx context.Context, rng TimeRange) (CallsSummary, error) {
	if !rng.Valid() {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return CallsSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListCalls(ctx, rng.From, rng.To)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{Range: rng, ByOutcome: map[string]int{}}
	for _, c := range rows {
		out.TotalCalls++
		out.ByOutcome[c.Outcome]++
		out.TotalDurationSeconds += c.DurationSeconds
		out.FunctionCalls += c.FunctionCalls
		out.Bookings += c.Bookings
		if c.Bookings > 0 {
			out.CallsWithBooking++
		}
	}
	if out.TotalCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.TotalCalls
		out.ConversionRate = float64(out.CallsWithBooking) / float64(out.TotalCalls)
	}
	return out, nil
}
