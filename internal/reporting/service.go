package reporting

import (
	"context"
	"errors"
	"math"
	"time"

	"voice-console/internal/history"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

type Repository interface {
	ListCalls(ctx context.Context, from, to time.Time, direction, phoneNumberID string) ([]history.CallRecord, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if !req.Range.From.IsZero() && !req.Range.To.IsZero() && !req.Range.To.After(req.Range.From) {
		return CallsSummary{}, ErrInvalidRequest
	}
	switch req.Direction {
	case "", "inbound", "outbound":
	default:
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return CallsSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListCalls(ctx, req.Range.From, req.Range.To, req.Direction, req.PhoneNumberID)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{Direction: req.Direction, PhoneNumberID: req.PhoneNumberID}
	for _, c := range rows {
		out.TotalCalls++
		out.TotalDurationSeconds += c.DurationSeconds
		out.TotalPrice += math.Abs(c.Price)
		if out.PriceUnit == "" {
			out.PriceUnit = c.PriceUnit
		}
		if c.RecordingURL != "" || c.RecordingSID != "" {
			out.RecordedCalls++
		}
		switch c.Status {
		case StatusCompleted:
			out.CompletedCalls++
		case StatusFailed:
			out.FailedCalls++
		case StatusNoAnswer:
			out.NoAnswerCalls++
		case StatusBusy:
			out.BusyCalls++
		case StatusCanceled:
			out.CanceledCalls++
		case StatusInProgress:
			out.InProgressCalls++
		case StatusRinging, StatusQueued:
			// not counted separately
		}
	}
	if out.TotalCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.TotalCalls
	}
	out.TotalPrice = math.Round(out.TotalPrice*10000) / 10000
	return out, nil
}
