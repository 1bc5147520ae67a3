package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Persistence tiers reported by the fallback store.
const (
	TierPrimary   = "primary"
	TierSecondary = "secondary"
)

// FallbackStore is an explicit two-tier Store: every operation runs
// against the primary, and on primary failure is retried once against
// the secondary. Which tier served the last operation is recorded for
// observability. Semantic results (ErrVersionConflict, and ErrNotFound
// when both tiers miss) pass through; only when both tiers fail with
// infrastructure errors does the store surface ErrStoreUnavailable.
//
// Writes that land on the secondary are not replayed to the primary.
// Reads consult the secondary on a primary miss so sessions written
// during an outage stay reachable.
type FallbackStore struct {
	primary   Store
	secondary Store
	lastTier  atomic.Value
}

// NewFallbackStore creates a two-tier store over primary and secondary.
func NewFallbackStore(primary, secondary Store) *FallbackStore {
	s := &FallbackStore{
		primary:   primary,
		secondary: secondary,
	}
	s.lastTier.Store(TierPrimary)
	return s
}

// LastTier returns which tier served the most recent operation.
func (s *FallbackStore) LastTier() string {
	return s.lastTier.Load().(string)
}

// Create persists a new session.
func (s *FallbackStore) Create(ctx context.Context, sess *Session) error {
	return s.write("create", sess.ID, func(st Store) error { return st.Create(ctx, sess) })
}

// Update persists a modified session.
func (s *FallbackStore) Update(ctx context.Context, sess *Session) error {
	return s.write("update", sess.ID, func(st Store) error { return st.Update(ctx, sess) })
}

// Get retrieves a session, consulting the secondary when the primary
// fails or misses.
func (s *FallbackStore) Get(ctx context.Context, id string) (*Session, error) {
	sess, primaryErr := s.primary.Get(ctx, id)
	if primaryErr == nil {
		s.lastTier.Store(TierPrimary)
		return sess, nil
	}

	sess, secondaryErr := s.secondary.Get(ctx, id)
	if secondaryErr == nil {
		s.markFallback("get", id, primaryErr)
		return sess, nil
	}

	if errors.Is(primaryErr, ErrNotFound) && errors.Is(secondaryErr, ErrNotFound) {
		return nil, ErrNotFound
	}
	return nil, s.bothFailed("get", primaryErr, secondaryErr)
}

// ListByUser returns the user's sessions, newest first.
func (s *FallbackStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Session, error) {
	sessions, primaryErr := s.primary.ListByUser(ctx, userID, limit)
	if primaryErr == nil {
		s.lastTier.Store(TierPrimary)
		return sessions, nil
	}

	sessions, secondaryErr := s.secondary.ListByUser(ctx, userID, limit)
	if secondaryErr == nil {
		s.markFallback("list_by_user", userID, primaryErr)
		return sessions, nil
	}
	return nil, s.bothFailed("list_by_user", primaryErr, secondaryErr)
}

// ListByEngine returns all sessions for an engine id.
func (s *FallbackStore) ListByEngine(ctx context.Context, engineID string) ([]*Session, error) {
	sessions, primaryErr := s.primary.ListByEngine(ctx, engineID)
	if primaryErr == nil {
		s.lastTier.Store(TierPrimary)
		return sessions, nil
	}

	sessions, secondaryErr := s.secondary.ListByEngine(ctx, engineID)
	if secondaryErr == nil {
		s.markFallback("list_by_engine", engineID, primaryErr)
		return sessions, nil
	}
	return nil, s.bothFailed("list_by_engine", primaryErr, secondaryErr)
}

// ListIdleActive returns active sessions idle since before the cutoff.
func (s *FallbackStore) ListIdleActive(ctx context.Context, cutoff time.Time) ([]*Session, error) {
	sessions, primaryErr := s.primary.ListIdleActive(ctx, cutoff)
	if primaryErr == nil {
		s.lastTier.Store(TierPrimary)
		return sessions, nil
	}

	sessions, secondaryErr := s.secondary.ListIdleActive(ctx, cutoff)
	if secondaryErr == nil {
		s.markFallback("list_idle", "", primaryErr)
		return sessions, nil
	}
	return nil, s.bothFailed("list_idle", primaryErr, secondaryErr)
}

// Close closes both tiers.
func (s *FallbackStore) Close() error {
	primaryErr := s.primary.Close()
	secondaryErr := s.secondary.Close()
	if primaryErr != nil {
		return primaryErr
	}
	return secondaryErr
}

// write runs a mutation against the primary, falling back once to the
// secondary. Version conflicts and not-found are semantic outcomes and
// never trigger the fallback.
func (s *FallbackStore) write(op, id string, fn func(Store) error) error {
	primaryErr := fn(s.primary)
	if primaryErr == nil {
		s.lastTier.Store(TierPrimary)
		return nil
	}
	if errors.Is(primaryErr, ErrVersionConflict) || errors.Is(primaryErr, ErrNotFound) {
		return primaryErr
	}

	secondaryErr := fn(s.secondary)
	if secondaryErr == nil {
		s.markFallback(op, id, primaryErr)
		return nil
	}
	if errors.Is(secondaryErr, ErrVersionConflict) || errors.Is(secondaryErr, ErrNotFound) {
		return secondaryErr
	}
	return s.bothFailed(op, primaryErr, secondaryErr)
}

func (s *FallbackStore) markFallback(op, id string, primaryErr error) {
	s.lastTier.Store(TierSecondary)
	slog.Warn("session store: primary failed, served by secondary",
		"op", op, "session_id", id, "error", primaryErr)
}

func (s *FallbackStore) bothFailed(op string, primaryErr, secondaryErr error) error {
	slog.Error("session store: both tiers failed",
		"op", op, "primary_error", primaryErr, "secondary_error", secondaryErr)
	return fmt.Errorf("%w: primary: %v; secondary: %v", ErrStoreUnavailable, primaryErr, secondaryErr)
}

// Verify interface compliance.
var _ Store = (*FallbackStore)(nil)
