// Package journal keeps a record of finished flows. Only the outcome is kept;
// captured images and document fields never reach the journal.
package journal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go-identity-flow/flow"
)

type Entry struct {
	FlowID     string
	Mode       string
	Outcome    string
	ErrorKind  string
	ExternalID string
	FaceID     string
	FinishedAt time.Time
}

type Store interface {
	Record(ctx context.Context, e Entry) error
	// Recent returns at most limit entries, newest first.
	Recent(ctx context.Context, limit int) ([]Entry, error)
}

// MemoryStore keeps the last entries in a fixed size ring.
type MemoryStore struct {
	mutex   sync.Mutex
	entries []Entry
	next    int
	full    bool
}

func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = 1000
	}
	return &MemoryStore{entries: make([]Entry, capacity)}
}

func (s *MemoryStore) Record(_ context.Context, e Entry) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.entries[s.next] = e
	s.next = (s.next + 1) % len(s.entries)
	if s.next == 0 {
		s.full = true
	}
	return nil
}

func (s *MemoryStore) Recent(_ context.Context, limit int) ([]Entry, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	size := s.next
	if s.full {
		size = len(s.entries)
	}
	if limit <= 0 || limit > size {
		limit = size
	}

	out := make([]Entry, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (s.next - i + len(s.entries)) % len(s.entries)
		out = append(out, s.entries[idx])
	}
	return out, nil
}

// Recorder writes an entry to a Store for every finished flow. It implements
// flow.Observer.
type Recorder struct {
	store   Store
	timeout time.Duration
	now     func() time.Time
}

func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store, timeout: 5 * time.Second, now: time.Now}
}

func (r *Recorder) StateChanged(flow.Request, flow.State, flow.State) {}

func (r *Recorder) Finished(req flow.Request, outcome flow.Outcome) {
	e := Entry{
		FlowID:     req.ID,
		Mode:       string(req.Mode),
		Outcome:    outcome.Kind.String(),
		FinishedAt: r.now().UTC(),
	}
	if outcome.Err != nil {
		e.ErrorKind = outcome.Err.Kind.String()
	}
	if outcome.Identity != nil {
		e.ExternalID = outcome.Identity.ExternalID
		e.FaceID = outcome.Identity.FaceID
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.store.Record(ctx, e); err != nil {
		slog.Error("Failed to record flow in journal", "flow_id", req.ID, "error", err)
	}
}
