package reporting

import (
	"context"
	"sync"
	"time"

	"voice-console/internal/history"
)

// CallSource is anything holding the synchronized call collection.
type CallSource interface {
	Calls() []history.CallRecord
}

// HistoryRepo reads the synchronizer's last fetched calls.
type HistoryRepo struct {
	src CallSource
}

func NewHistoryRepo(src CallSource) *HistoryRepo { return &HistoryRepo{src: src} }

func (r *HistoryRepo) ListCalls(ctx context.Context, from, to time.Time, direction, phoneNumberID string) ([]history.CallRecord, error) {
	return filterCalls(r.src.Calls(), from, to, direction, phoneNumberID), nil
}

// MemoryRepo is a fixed call set for tests.
type MemoryRepo struct {
	mu    sync.Mutex
	Calls []history.CallRecord
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) ListCalls(ctx context.Context, from, to time.Time, direction, phoneNumberID string) ([]history.CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return filterCalls(r.Calls, from, to, direction, phoneNumberID), nil
}

// filterCalls keeps records inside [from, to). Records without a timestamp
// are kept; a zero bound is open.
func filterCalls(in []history.CallRecord, from, to time.Time, direction, phoneNumberID string) []history.CallRecord {
	out := make([]history.CallRecord, 0, len(in))
	for _, c := range in {
		if !c.CreatedAt.IsZero() {
			if !from.IsZero() && c.CreatedAt.Before(from) {
				continue
			}
			if !to.IsZero() && !c.CreatedAt.Before(to) {
				continue
			}
		}
		if direction != "" && c.Direction != direction {
			continue
		}
		if phoneNumberID != "" && c.PhoneNumberID != phoneNumberID {
			continue
		}
		out = append(out, c)
	}
	return out
}
