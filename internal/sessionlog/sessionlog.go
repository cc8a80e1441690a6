// Package sessionlog records delivered batches for history browsing. Each
// session is one immutable document.
package sessionlog

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/camflow/internal/database"
	"github.com/kozaktomas/camflow/internal/delivery"
	"github.com/kozaktomas/camflow/internal/logger"
	"go.uber.org/zap"
)

const keyPrefix = "session/"

// Session is a successfully delivered batch.
type Session struct {
	ID              string               `json:"id"`
	CreatedAt       time.Time            `json:"created_at"`
	Model           string               `json:"model"`
	Mode            string               `json:"mode"`
	Prompt          string               `json:"prompt"`
	Destination     delivery.Destination `json:"destination"`
	AttachOriginals bool                 `json:"attach_originals"`
	Images          []string             `json:"images"`
	Analyses        []string             `json:"analyses"`
}

// Log is the session history.
type Log struct {
	db  database.Store
	now func() time.Time
}

func New(db database.Store) *Log {
	return &Log{db: db, now: time.Now}
}

func key(id string) string {
	return keyPrefix + id
}

// Append stores s, assigning an id and timestamp when missing.
func (l *Log) Append(ctx context.Context, s Session) (Session, error) {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = l.now()
	}
	data, err := json.Marshal(s)
	if err != nil {
		return Session{}, fmt.Errorf("could not marshal session: %w", err)
	}
	if err := l.db.Set(ctx, key(s.ID), data); err != nil {
		return Session{}, fmt.Errorf("could not store session: %w", err)
	}
	return s, nil
}

// List returns all sessions, newest first. Unreadable documents are skipped.
func (l *Log) List(ctx context.Context) ([]Session, error) {
	entries, err := l.db.List(ctx, keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("could not list sessions: %w", err)
	}
	sessions := make([]Session, 0, len(entries))
	for _, e := range entries {
		var s Session
		if err := json.Unmarshal(e.Value, &s); err != nil {
			logger.FromContext(ctx).Warn("skipping corrupt session", zap.String("key", e.Key), zap.Error(err))
			continue
		}
		sessions = append(sessions, s)
	}
	slices.SortStableFunc(sessions, func(a, b Session) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return sessions, nil
}

// Get returns one session or database.ErrNotFound.
func (l *Log) Get(ctx context.Context, id string) (Session, error) {
	data, err := l.db.Get(ctx, key(id))
	if err != nil {
		return Session{}, err
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return Session{}, fmt.Errorf("could not unmarshal session %s: %w", id, err)
	}
	return s, nil
}

// Delete removes one session and reports whether it existed.
func (l *Log) Delete(ctx context.Context, id string) (bool, error) {
	return l.db.Delete(ctx, key(id))
}

// DeleteAll removes every session and returns how many were removed.
func (l *Log) DeleteAll(ctx context.Context) (int, error) {
	entries, err := l.db.List(ctx, keyPrefix)
	if err != nil {
		return 0, fmt.Errorf("could not list sessions: %w", err)
	}
	removed := 0
	var errs []error
	for _, e := range entries {
		ok, err := l.db.Delete(ctx, e.Key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			removed++
		}
	}
	return removed, errors.Join(errs...)
}
