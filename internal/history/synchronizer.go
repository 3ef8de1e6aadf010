package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"voice-console/internal/auth"
	"voice-console/internal/backend"
	"voice-console/internal/normalize"
	"voice-console/internal/phone"
	"voice-console/pkg/logger"
)

var (
	ErrCallNotFound      = errors.New("history: call not found")
	ErrRecordingNotFound = errors.New("history: recording not found")
)

// Source is the remote history API.
type Source interface {
	ListCallLogs(ctx context.Context, q url.Values) ([]normalize.Record, error)
	GetCallLog(ctx context.Context, sid string) (normalize.Record, error)
	ListRecordings(ctx context.Context, q url.Values) ([]normalize.Record, error)
	DeleteRecording(ctx context.Context, sid string) error
}

type Auditor interface {
	RecordingDeleted(ctx context.Context, actor, recordingSID, callSID string) error
}

type Options struct {
	Source Source
	Policy phone.Policy

	Audit  Auditor
	Logger *slog.Logger
	Now    func() time.Time
}

// Synchronizer holds the last fetched call and recording collections.
// Each refresh replaces a collection wholesale.
type Synchronizer struct {
	src    Source
	policy phone.Policy
	audit  Auditor
	log    *slog.Logger
	now    func() time.Time

	mu           sync.RWMutex
	calls        []CallRecord
	recordings   []Recording
	callsAt      time.Time
	recordingsAt time.Time
}

func NewSynchronizer(opts Options) (*Synchronizer, error) {
	if opts.Source == nil {
		return nil, errors.New("history: source is required")
	}
	if opts.Policy.DefaultCountryCode == "" {
		opts.Policy = phone.DefaultPolicy()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Synchronizer{
		src:    opts.Source,
		policy: opts.Policy,
		audit:  opts.Audit,
		log:    opts.Logger.With("component", "call_history"),
		now:    opts.Now,
	}, nil
}

func (s *Synchronizer) RefreshCalls(ctx context.Context, f Filters) ([]CallRecord, error) {
	recs, err := s.src.ListCallLogs(ctx, f.Values())
	if err != nil {
		return nil, fmt.Errorf("history: refresh calls: %w", err)
	}
	calls := make([]CallRecord, 0, len(recs))
	for _, r := range recs {
		if c, ok := callFromRecord(r, s.policy); ok {
			calls = append(calls, c)
		}
	}

	s.mu.Lock()
	s.calls = calls
	s.callsAt = s.now()
	s.linkLocked()
	out := cloneCalls(s.calls)
	s.mu.Unlock()

	s.log.Debug("call history refreshed", "count", len(out))
	return out, nil
}

func (s *Synchronizer) RefreshRecordings(ctx context.Context, f Filters) ([]Recording, error) {
	recs, err := s.src.ListRecordings(ctx, f.Values())
	if err != nil {
		return nil, fmt.Errorf("history: refresh recordings: %w", err)
	}
	recordings := make([]Recording, 0, len(recs))
	for _, r := range recs {
		if rec, ok := recordingFromRecord(r); ok {
			recordings = append(recordings, rec)
		}
	}

	s.mu.Lock()
	s.recordings = recordings
	s.recordingsAt = s.now()
	s.linkLocked()
	out := cloneRecordings(s.recordings)
	s.mu.Unlock()

	s.log.Debug("recordings refreshed", "count", len(out))
	return out, nil
}

// GetCall fetches a single call record; the held collection is not touched.
func (s *Synchronizer) GetCall(ctx context.Context, sid string) (CallRecord, error) {
	sid = strings.TrimSpace(sid)
	if sid == "" {
		return CallRecord{}, ErrCallNotFound
	}
	rec, err := s.src.GetCallLog(ctx, sid)
	if errors.Is(err, backend.ErrNotFound) {
		return CallRecord{}, ErrCallNotFound
	}
	if err != nil {
		return CallRecord{}, fmt.Errorf("history: get call: %w", err)
	}
	c, ok := callFromRecord(rec, s.policy)
	if !ok {
		return CallRecord{}, fmt.Errorf("history: get call: %w", backend.ErrMalformedResponse)
	}
	return c, nil
}

// DeleteRecording removes the recording remotely, then drops it locally and
// clears the reference from every call record that pointed at it.
func (s *Synchronizer) DeleteRecording(ctx context.Context, sid string) error {
	sid = strings.TrimSpace(sid)
	if sid == "" {
		return ErrRecordingNotFound
	}
	err := s.src.DeleteRecording(ctx, sid)
	if errors.Is(err, backend.ErrNotFound) {
		return ErrRecordingNotFound
	}
	if err != nil {
		return fmt.Errorf("history: delete recording: %w", err)
	}

	var callSID string
	s.mu.Lock()
	kept := s.recordings[:0]
	for _, r := range s.recordings {
		if r.RecordingSID == sid {
			callSID = r.CallSID
			continue
		}
		kept = append(kept, r)
	}
	s.recordings = kept
	for i := range s.calls {
		c := &s.calls[i]
		if c.RecordingSID == sid || (c.RecordingURL != "" && strings.Contains(c.RecordingURL, sid)) {
			if callSID == "" {
				callSID = c.CallSID
			}
			c.RecordingSID = ""
			c.RecordingURL = ""
		}
	}
	s.mu.Unlock()

	if actor, err := auth.UserID(ctx); err == nil && s.audit != nil {
		if err := s.audit.RecordingDeleted(ctx, actor, sid, callSID); err != nil {
			s.logFor(ctx).Warn("audit recording delete failed", "err", err)
		}
	}
	s.logFor(ctx).Info("recording deleted", "recording_sid", sid, "call_sid", callSID)
	return nil
}

// PurgeNumber drops held calls and recordings tied to a released number.
func (s *Synchronizer) PurgeNumber(phoneNumberID string) {
	if phoneNumberID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	calls := s.calls[:0]
	for _, c := range s.calls {
		if c.PhoneNumberID != phoneNumberID {
			calls = append(calls, c)
		}
	}
	s.calls = calls

	recordings := s.recordings[:0]
	for _, r := range s.recordings {
		if r.PhoneNumberID != phoneNumberID {
			recordings = append(recordings, r)
		}
	}
	s.recordings = recordings
}

func (s *Synchronizer) Calls() []CallRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneCalls(s.calls)
}

func (s *Synchronizer) Recordings() []Recording {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneRecordings(s.recordings)
}

// RefreshedAt reports when each collection was last replaced.
func (s *Synchronizer) RefreshedAt() (calls, recordings time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.callsAt, s.recordingsAt
}

func (s *Synchronizer) logFor(ctx context.Context) *slog.Logger {
	if l := logger.Or(ctx, nil); l != nil {
		return l.With("component", "call_history")
	}
	return s.log
}

// linkLocked fills missing cross references between the two collections.
// Fields already set by the backend win.
func (s *Synchronizer) linkLocked() {
	if len(s.calls) == 0 || len(s.recordings) == 0 {
		return
	}
	byCall := make(map[string]int, len(s.calls))
	for i, c := range s.calls {
		byCall[c.CallSID] = i
	}
	for i := range s.recordings {
		r := &s.recordings[i]
		ci, ok := byCall[r.CallSID]
		if !ok {
			continue
		}
		c := &s.calls[ci]
		if c.RecordingSID == "" && c.RecordingURL == "" {
			c.RecordingSID = r.RecordingSID
			c.RecordingURL = r.MediaURL
		}
		if r.PhoneNumberID == "" {
			r.PhoneNumberID = c.PhoneNumberID
		}
	}
}

func cloneCalls(in []CallRecord) []CallRecord {
	out := make([]CallRecord, len(in))
	copy(out, in)
	return out
}

func cloneRecordings(in []Recording) []Recording {
	out := make([]Recording, len(in))
	copy(out, in)
	return out
}
