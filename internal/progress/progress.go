// Package progress persists the state and progress of background tasks so
// any observer can poll them.
package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kozaktomas/camflow/internal/constants"
	"github.com/kozaktomas/camflow/internal/database"
)

const keyPrefix = "task/"

// State is a task lifecycle state.
type State string

const (
	StatePending      State = "pending"
	StateInitializing State = "initializing"
	StateAnalyzing    State = "analyzing"
	StateDelivering   State = "delivering"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"
)

// Terminal reports whether no further transitions happen from s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Status is the persisted record of a task.
type Status struct {
	ID        string    `json:"id"`
	State     State     `json:"state"`
	Reason    string    `json:"reason,omitempty"`
	Progress  float64   `json:"progress"`
	SessionID string    `json:"session_id,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store reads and writes task statuses.
type Store struct {
	db  database.Store
	now func() time.Time
}

func NewStore(db database.Store) *Store {
	return &Store{db: db, now: time.Now}
}

func key(id string) string {
	return keyPrefix + id
}

// Get returns the status of id or database.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (Status, error) {
	data, err := s.db.Get(ctx, key(id))
	if err != nil {
		return Status{}, err
	}
	var st Status
	if err := json.Unmarshal(data, &st); err != nil {
		return Status{}, fmt.Errorf("could not unmarshal status of task %s: %w", id, err)
	}
	return st, nil
}

// Set writes st, stamping UpdatedAt.
func (s *Store) Set(ctx context.Context, st Status) error {
	if st.ID == "" {
		return errors.New("status without task id")
	}
	st.Progress = min(max(st.Progress, 0), 1)
	st.UpdatedAt = s.now()
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("could not marshal status: %w", err)
	}
	if err := s.db.Set(ctx, key(st.ID), data); err != nil {
		return fmt.Errorf("could not store status of task %s: %w", st.ID, err)
	}
	return nil
}

// Progress returns the last written progress of id, 0 when unknown.
func (s *Store) Progress(ctx context.Context, id string) (float64, error) {
	st, err := s.Get(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return 0, nil
	}
	return st.Progress, err
}

// List returns every stored status.
func (s *Store) List(ctx context.Context) ([]Status, error) {
	entries, err := s.db.List(ctx, keyPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]Status, 0, len(entries))
	for _, e := range entries {
		var st Status
		if err := json.Unmarshal(e.Value, &st); err != nil {
			continue
		}
		if st.ID == "" {
			st.ID = strings.TrimPrefix(e.Key, keyPrefix)
		}
		out = append(out, st)
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	return s.db.Delete(ctx, key(id))
}

// Tracker writes one task's status, skipping progress updates smaller than
// constants.ProgressMinDelta unless the state changes.
type Tracker struct {
	store *Store
	id    string

	mu      sync.Mutex
	current Status
	written bool
	writes  int
}

func NewTracker(store *Store, id string) *Tracker {
	return &Tracker{store: store, id: id, current: Status{ID: id, State: StatePending}}
}

// Phase moves the task to state at the given progress. Always written.
func (t *Tracker) Phase(ctx context.Context, state State, progress float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current.State = state
	t.current.Progress = progress
	return t.flush(ctx)
}

// Report records progress within the current state.
func (t *Tracker) Report(ctx context.Context, progress float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.written && progress < 1 && abs(progress-t.current.Progress) < constants.ProgressMinDelta {
		return nil
	}
	t.current.Progress = progress
	return t.flush(ctx)
}

// Complete marks the task completed at full progress.
func (t *Tracker) Complete(ctx context.Context, sessionID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current.State = StateCompleted
	t.current.Progress = 1
	t.current.SessionID = sessionID
	t.current.Reason = ""
	return t.flush(ctx)
}

// Fail marks the task failed, keeping the progress reached so far.
func (t *Tracker) Fail(ctx context.Context, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current.State = StateFailed
	t.current.Reason = reason
	return t.flush(ctx)
}

// Touch re-writes the current status with a fresh UpdatedAt. Nothing is
// written before the first update or once the task is terminal.
func (t *Tracker) Touch(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.written || t.current.State.Terminal() {
		return nil
	}
	return t.flush(ctx)
}

// Current returns the last recorded status.
func (t *Tracker) Current() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Writes returns how many times the status was persisted.
func (t *Tracker) Writes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writes
}

func (t *Tracker) flush(ctx context.Context) error {
	if err := t.store.Set(ctx, t.current); err != nil {
		return err
	}
	t.written = true
	t.writes++
	return nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
