package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/wfunc/quizbattle/models"
)

// MemoryStore keeps sessions in process memory. One mutex serializes every
// write, which is stricter than the per-session serialization the contract needs.
type MemoryStore struct {
	sessions map[string]*models.SessionState
	mutex    sync.RWMutex
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*models.SessionState),
		now:      time.Now,
	}
}

func (m *MemoryStore) GetSessionState(ctx context.Context, sessionID string) (*models.SessionState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.Clone(), nil
}

// update runs fn against the live state of sessionID under the write lock.
func (m *MemoryStore) update(ctx context.Context, sessionID string, fn func(s *models.SessionState, now time.Time) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	// fn works on a copy so a rejected write leaves nothing behind.
	work := s.Clone()
	if err := fn(work, m.now()); err != nil {
		return err
	}
	m.sessions[sessionID] = work
	return nil
}

func (m *MemoryStore) SetFirstTurn(ctx context.Context, sessionID, playerID string) error {
	return m.update(ctx, sessionID, func(s *models.SessionState, now time.Time) error {
		return applySetFirstTurn(s, playerID, now)
	})
}

func (m *MemoryStore) AppendShownQuestion(ctx context.Context, sessionID string, round int, questionID string) (string, error) {
	var bound string
	err := m.update(ctx, sessionID, func(s *models.SessionState, now time.Time) error {
		var err error
		bound, err = applyAppendShownQuestion(s, round, questionID, now)
		return err
	})
	return bound, err
}

func (m *MemoryStore) RecordCardEffect(ctx context.Context, sessionID, playerID string, effect models.CardEffect) error {
	return m.update(ctx, sessionID, func(s *models.SessionState, now time.Time) error {
		return applyRecordEffect(s, playerID, effect, now)
	})
}

func (m *MemoryStore) ConsumeCardEffect(ctx context.Context, sessionID, playerID string, kind models.EffectKind, round int) (models.CardEffect, error) {
	var consumed models.CardEffect
	err := m.update(ctx, sessionID, func(s *models.SessionState, now time.Time) error {
		var err error
		consumed, err = applyConsumeEffect(s, playerID, kind, round, now)
		return err
	})
	return consumed, err
}

func (m *MemoryStore) ApplyHealthDelta(ctx context.Context, sessionID, playerID string, delta int) (int, error) {
	var health int
	err := m.update(ctx, sessionID, func(s *models.SessionState, now time.Time) error {
		var err error
		health, err = applyHealthDelta(s, playerID, delta, now)
		return err
	})
	return health, err
}

func (m *MemoryStore) CommitTurnResolution(ctx context.Context, sessionID string, commit models.TurnCommit) error {
	return m.update(ctx, sessionID, func(s *models.SessionState, now time.Time) error {
		return applyCommit(s, commit, now)
	})
}

func (m *MemoryStore) EndBattle(ctx context.Context, sessionID string, reason models.EndReason, winnerID string) error {
	return m.update(ctx, sessionID, func(s *models.SessionState, now time.Time) error {
		return applyEndBattle(s, reason, winnerID, now)
	})
}

func (m *MemoryStore) CreateSession(ctx context.Context, lobbyCode, hostID string, totalRounds int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if hostID == "" {
		return "", ErrInvalidPlayer
	}
	s := newSessionState(lobbyCode, hostID, totalRounds, m.now())
	m.mutex.Lock()
	m.sessions[s.Session.SessionID] = s
	m.mutex.Unlock()
	return s.Session.SessionID, nil
}

func (m *MemoryStore) JoinSession(ctx context.Context, sessionID, guestID string) error {
	return m.update(ctx, sessionID, func(s *models.SessionState, now time.Time) error {
		return applyJoin(s, guestID, now)
	})
}
