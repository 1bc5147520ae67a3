package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ipforge/decision-engine/pkg/engine"
	"github.com/ipforge/decision-engine/pkg/recommend"
	"github.com/ipforge/decision-engine/pkg/validate"
)

// Service drives the session state machine: it owns creation, ordered
// step submission, recommendation generation, abandonment, and the idle
// sweeper. All mutations go through the Store with an incremented
// version token so concurrent writers lose cleanly.
type Service struct {
	registry  *engine.Registry
	store     Store
	generator *recommend.Generator
	logger    *slog.Logger

	idleTimeout   time.Duration
	sweepInterval time.Duration
	sweepCancel   context.CancelFunc
	sweepDone     chan struct{}
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithIdleTimeout enables the idle sweeper: active sessions untouched
// for longer than timeout are abandoned. Zero disables sweeping.
func WithIdleTimeout(timeout, interval time.Duration) ServiceOption {
	return func(s *Service) {
		s.idleTimeout = timeout
		s.sweepInterval = interval
	}
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService creates a session service over the given engine registry
// and store.
func NewService(registry *engine.Registry, store Store, opts ...ServiceOption) *Service {
	s := &Service{
		registry:      registry,
		store:         store,
		generator:     recommend.NewGenerator(),
		logger:        slog.Default(),
		sweepInterval: time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create starts a new session for the given engine and user. The
// session begins active at step 0 with an empty response set.
func (s *Service) Create(ctx context.Context, engineID, userID string) (*Session, error) {
	def, err := s.registry.Lookup(engineID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	sess := &Session{
		ID:           uuid.NewString(),
		EngineID:     def.ID,
		UserID:       userID,
		Status:       StatusActive,
		CurrentStep:  0,
		TotalSteps:   def.TotalSteps(),
		Responses:    make(map[int]map[string]any),
		AuditTrail:   []AuditEntry{},
		StartedAt:    now,
		LastActiveAt: now,
		Version:      1,
	}
	sess.appendAudit(ActionSessionCreated, SourceUser, map[string]any{
		"engine_id": def.ID,
		"user_id":   userID,
	})

	if err := s.store.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	s.logger.Info("session created",
		"session_id", sess.ID, "engine_id", def.ID, "user_id", userID)
	return sess, nil
}

// Get retrieves a session by id.
func (s *Service) Get(ctx context.Context, id string) (*Session, error) {
	return s.store.Get(ctx, id)
}

// SubmitStep records the answers for stepIndex and advances the
// session. Steps must arrive strictly in order; answers must pass the
// step's validation rules in full before anything is persisted. When
// the last step is submitted the service attempts to complete the
// session; if recommendation generation fails, the responses are
// persisted and the session stays active so completion can be retried.
func (s *Service) SubmitStep(ctx context.Context, id string, stepIndex int, answers map[string]any) (*Session, error) {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sess.Active() {
		return nil, fmt.Errorf("%w: session is %s", ErrNotActive, sess.Status)
	}
	if stepIndex != sess.CurrentStep {
		return nil, &StepOutOfOrderError{Expected: sess.CurrentStep, Got: stepIndex}
	}

	def, err := s.registry.Lookup(sess.EngineID)
	if err != nil {
		return nil, err
	}
	step := def.Step(stepIndex)
	if step == nil {
		return nil, &StepOutOfOrderError{Expected: sess.CurrentStep, Got: stepIndex}
	}

	if fields := validate.Step(step, answers); len(fields) > 0 {
		return nil, &ValidationError{Step: stepIndex, Fields: fields}
	}

	now := time.Now().UTC()
	if sess.Responses == nil {
		sess.Responses = make(map[int]map[string]any)
	}
	sess.Responses[stepIndex] = answers
	sess.LastActiveAt = now

	sess.appendAudit(ActionSessionUpdated, SourceUser, map[string]any{
		"step":      stepIndex,
		"questions": len(answers),
	})
	if len(step.Analysis) > 0 {
		sess.appendAudit(ActionStepAnalyzed, SourceAI, map[string]any{
			"step":  stepIndex,
			"notes": step.Analysis,
		})
	}

	final := stepIndex == sess.TotalSteps-1
	if final {
		if err := s.complete(def, sess); err != nil {
			// Responses persist below; the session stays active so the
			// caller can retry completion.
			s.logger.Warn("recommendation generation failed",
				"session_id", sess.ID, "error", err)
		}
	} else {
		sess.CurrentStep = stepIndex + 1
	}

	sess.Version++
	if err := s.store.Update(ctx, sess); err != nil {
		return nil, fmt.Errorf("persisting step %d: %w", stepIndex, err)
	}

	s.logger.Info("step submitted",
		"session_id", sess.ID, "step", stepIndex, "status", sess.Status)
	return sess, nil
}

// GenerateRecommendation produces the session's recommendation. It is
// idempotent: a completed session returns its stored recommendation
// unchanged. An active session must have every step's responses
// recorded; an abandoned session is rejected.
func (s *Service) GenerateRecommendation(ctx context.Context, id string) (*Session, error) {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	switch sess.Status {
	case StatusCompleted:
		return sess, nil
	case StatusAbandoned:
		return nil, fmt.Errorf("%w: session is abandoned", ErrNotActive)
	}

	if len(sess.Responses) < sess.TotalSteps {
		return nil, fmt.Errorf("%w: %d of %d steps answered",
			ErrNotCompleted, len(sess.Responses), sess.TotalSteps)
	}

	def, err := s.registry.Lookup(sess.EngineID)
	if err != nil {
		return nil, err
	}
	if err := s.complete(def, sess); err != nil {
		return nil, err
	}

	sess.Version++
	if err := s.store.Update(ctx, sess); err != nil {
		return nil, fmt.Errorf("persisting recommendation: %w", err)
	}

	s.logger.Info("recommendation generated",
		"session_id", sess.ID, "verdict", sess.Recommendation.Verdict)
	return sess, nil
}

// complete generates the recommendation and transitions the session to
// completed. The caller persists.
func (s *Service) complete(def *engine.Definition, sess *Session) error {
	rec, err := s.generator.Generate(def, sess.Responses)
	if err != nil {
		return fmt.Errorf("generating recommendation: %w", err)
	}

	now := time.Now().UTC()
	sess.Recommendation = rec
	sess.Status = StatusCompleted
	sess.CurrentStep = sess.TotalSteps
	sess.CompletedAt = &now
	sess.LastActiveAt = now

	sess.appendAudit(ActionRecommendation, SourceAI, map[string]any{
		"verdict":    rec.Verdict,
		"score":      rec.Score,
		"confidence": rec.Confidence,
	})
	sess.appendAudit(ActionSessionCompleted, SourceSystem, nil)
	return nil
}

// Abandon transitions an active session to abandoned. Terminal sessions
// are rejected.
func (s *Service) Abandon(ctx context.Context, id string) (*Session, error) {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sess.Active() {
		return nil, fmt.Errorf("%w: session is %s", ErrNotActive, sess.Status)
	}

	s.abandon(sess, SourceUser, "user requested")
	sess.Version++
	if err := s.store.Update(ctx, sess); err != nil {
		return nil, fmt.Errorf("abandoning session: %w", err)
	}

	s.logger.Info("session abandoned", "session_id", sess.ID)
	return sess, nil
}

// abandon applies the abandonment transition in place.
func (s *Service) abandon(sess *Session, source Source, reason string) {
	now := time.Now().UTC()
	sess.Status = StatusAbandoned
	sess.LastActiveAt = now
	sess.appendAudit(ActionSessionAbandoned, source, map[string]any{
		"reason": reason,
	})
}

// ListRecent returns the user's sessions, newest first, at most limit
// entries (0 means no limit).
func (s *Service) ListRecent(ctx context.Context, userID string, limit int) ([]*Session, error) {
	return s.store.ListByUser(ctx, userID, limit)
}

// EngineStats summarizes session outcomes for one engine.
type EngineStats struct {
	EngineID  string         `json:"engine_id"`
	Total     int            `json:"total"`
	Active    int            `json:"active"`
	Completed int            `json:"completed"`
	Abandoned int            `json:"abandoned"`
	Verdicts  map[string]int `json:"verdicts"`

	// CompletionRate is completed/total, 0 when no sessions exist.
	CompletionRate float64 `json:"completion_rate"`

	// AvgCompletionMinutes averages started-to-completed duration over
	// completed sessions.
	AvgCompletionMinutes float64 `json:"avg_completion_minutes"`
}

// Stats aggregates outcome counts and verdict distribution for an
// engine.
func (s *Service) Stats(ctx context.Context, engineID string) (*EngineStats, error) {
	if _, err := s.registry.Lookup(engineID); err != nil {
		return nil, err
	}

	sessions, err := s.store.ListByEngine(ctx, engineID)
	if err != nil {
		return nil, err
	}

	stats := &EngineStats{
		EngineID: engineID,
		Verdicts: make(map[string]int),
	}
	var completionMinutes float64
	for _, sess := range sessions {
		stats.Total++
		switch sess.Status {
		case StatusActive:
			stats.Active++
		case StatusCompleted:
			stats.Completed++
			if sess.Recommendation != nil {
				stats.Verdicts[sess.Recommendation.Verdict]++
			}
			if sess.CompletedAt != nil {
				completionMinutes += sess.CompletedAt.Sub(sess.StartedAt).Minutes()
			}
		case StatusAbandoned:
			stats.Abandoned++
		}
	}
	if stats.Total > 0 {
		stats.CompletionRate = float64(stats.Completed) / float64(stats.Total)
	}
	if stats.Completed > 0 {
		stats.AvgCompletionMinutes = completionMinutes / float64(stats.Completed)
	}
	return stats, nil
}

// StartSweeper starts the background idle sweeper. It is a no-op when
// no idle timeout is configured.
func (s *Service) StartSweeper(ctx context.Context) {
	if s.idleTimeout <= 0 || s.sweepCancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.sweepCancel = cancel
	s.sweepDone = make(chan struct{})

	go func() {
		defer close(s.sweepDone)
		ticker := time.NewTicker(s.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweepIdle(ctx)
			}
		}
	}()

	s.logger.Info("idle sweeper started",
		"idle_timeout", s.idleTimeout, "interval", s.sweepInterval)
}

// sweepIdle abandons active sessions idle past the timeout.
func (s *Service) sweepIdle(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.idleTimeout)
	idle, err := s.store.ListIdleActive(ctx, cutoff)
	if err != nil {
		s.logger.Warn("idle sweep failed", "error", err)
		return
	}

	for _, sess := range idle {
		s.abandon(sess, SourceSystem, "idle timeout")
		sess.Version++
		if err := s.store.Update(ctx, sess); err != nil {
			// Lost a race with a concurrent submission; the session is no
			// longer idle.
			s.logger.Debug("idle sweep skipped session",
				"session_id", sess.ID, "error", err)
			continue
		}
		s.logger.Info("idle session abandoned", "session_id", sess.ID)
	}
}

// Close stops the sweeper and closes the store.
func (s *Service) Close() error {
	if s.sweepCancel != nil {
		s.sweepCancel()
		<-s.sweepDone
		s.sweepCancel = nil
	}
	return s.store.Close()
}
