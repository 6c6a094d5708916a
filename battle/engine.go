package battle

import (
	"context"
	"errors"
	"hash/fnv"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/wfunc/quizbattle/logger"
	"github.com/wfunc/quizbattle/models"
	"github.com/wfunc/quizbattle/monitor"
	"github.com/wfunc/quizbattle/persistence"
)

// Engine runs the battle rules for one client against a shared session store.
// It keeps no battle state of its own; every decision starts from a fresh read.
type Engine struct {
	store   persistence.Store
	cfg     Config
	metrics *monitor.Metrics
	now     func() time.Time
	coin    func() bool
}

type Option func(*Engine)

// WithMetrics reports turn and end-of-battle counters to m.
func WithMetrics(m *monitor.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithCoin replaces the fair coin used for the first turn.
func WithCoin(coin func() bool) Option {
	return func(e *Engine) { e.coin = coin }
}

// WithClock replaces time.Now for effect timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(store persistence.Store, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		store: store,
		cfg:   cfg.normalize(),
		now:   time.Now,
		coin:  func() bool { return rand.IntN(2) == 0 },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Config() Config {
	return e.cfg
}

func (e *Engine) Store() persistence.Store {
	return e.store
}

// rng returns a generator seeded from the engine seed and parts, so the same
// inputs always produce the same sequence.
func (e *Engine) rng(parts ...string) *rand.Rand {
	h := fnv.New64a()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return rand.New(rand.NewPCG(e.cfg.Seed, h.Sum64()))
}

func roundKey(round int) string {
	return strconv.Itoa(round)
}

// activeTurn loads the session and checks that playerID owns the current turn.
func (e *Engine) activeTurn(ctx context.Context, sessionID, playerID string) (*models.SessionState, error) {
	s, err := e.store.GetSessionState(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !s.Session.HasPlayer(playerID) {
		return nil, persistence.ErrInvalidPlayer
	}
	if !s.Session.IsActive {
		return s, ErrBattleOver
	}
	if s.Session.CurrentTurn != playerID {
		return s, ErrNotYourTurn
	}
	return s, nil
}

// consumeForRound consumes one pending effect of kind targeting playerID in
// round. An effect already consumed in the same round is returned again so a
// repeated draw or question selection renders the same way.
func (e *Engine) consumeForRound(ctx context.Context, s *models.SessionState, playerID string, kind models.EffectKind, round int) (models.CardEffect, bool, error) {
	if eff, ok := s.EffectConsumedIn(playerID, kind, round); ok {
		return eff, true, nil
	}
	if len(s.PendingEffects(playerID, kind)) == 0 {
		return models.CardEffect{}, false, nil
	}

	eff, err := e.store.ConsumeCardEffect(ctx, s.Session.SessionID, playerID, kind, round)
	switch {
	case err == nil:
		return eff, true, nil
	case errors.Is(err, persistence.ErrEffectAlreadyConsumed):
		logger.Log.Infof("session %s round %d: %s for %s already consumed", s.Session.SessionID, round, kind, playerID)
		fresh, ferr := e.store.GetSessionState(ctx, s.Session.SessionID)
		if ferr != nil {
			return models.CardEffect{}, false, ferr
		}
		eff, ok := fresh.EffectConsumedIn(playerID, kind, round)
		return eff, ok, nil
	default:
		return models.CardEffect{}, false, err
	}
}
