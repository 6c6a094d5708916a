// Package reconcile keeps one client in step with the shared session by polling it.
package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wfunc/quizbattle/battle"
	"github.com/wfunc/quizbattle/logger"
	"github.com/wfunc/quizbattle/models"
	"github.com/wfunc/quizbattle/monitor"
	"github.com/wfunc/quizbattle/persistence"
	"github.com/wfunc/quizbattle/state"
)

type Kind string

const (
	FirstTurnAssigned Kind = "first_turn_assigned"
	TurnChanged       Kind = "turn_changed"
	HealthChanged     Kind = "health_changed"
	BattleEnded       Kind = "battle_ended"
)

// Transition is one change the loop observed between two polls.
type Transition struct {
	Kind        Kind             `json:"kind"`
	SessionID   string           `json:"session_id"`
	Round       int              `json:"round"`
	CurrentTurn string           `json:"current_turn,omitempty"`
	MyTurn      bool             `json:"my_turn"`
	HostHealth  int              `json:"host_health"`
	GuestHealth int              `json:"guest_health"`
	HostDelta   int              `json:"host_delta,omitempty"`
	GuestDelta  int              `json:"guest_delta,omitempty"`
	Reason      models.EndReason `json:"reason,omitempty"`
	WinnerID    string           `json:"winner_id,omitempty"`
}

// Sink receives transitions in the order they were detected. It is called
// from the loop goroutine and must not block for long.
type Sink interface {
	HandleTransition(t Transition)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(t Transition)

func (f SinkFunc) HandleTransition(t Transition) { f(t) }

type Config struct {
	PollWaiting time.Duration
	PollRunning time.Duration
}

// Loop polls the store for one player of one session. It never writes derived
// state; the only writes it makes are the host's first-turn pick and a
// best-effort abandon when the store is gone.
type Loop struct {
	engine    *battle.Engine
	store     persistence.Store
	sessionID string
	playerID  string
	cfg       Config
	metrics   *monitor.Metrics
	machine   *state.BattleMachine

	mutex sync.RWMutex
	sinks []Sink
	last  *models.SessionState
	nudge chan struct{}
}

func New(engine *battle.Engine, sessionID, playerID string, cfg Config, metrics *monitor.Metrics) *Loop {
	if cfg.PollWaiting <= 0 {
		cfg.PollWaiting = time.Second
	}
	if cfg.PollRunning <= 0 {
		cfg.PollRunning = 3 * time.Second
	}
	l := &Loop{
		engine:    engine,
		store:     engine.Store(),
		sessionID: sessionID,
		playerID:  playerID,
		cfg:       cfg,
		metrics:   metrics,
		nudge:     make(chan struct{}, 1),
	}
	l.machine = state.NewBattleMachine(l)
	return l
}

func (l *Loop) GetSessionID() string { return l.sessionID }

func (l *Loop) GetPlayerID() string { return l.playerID }

func (l *Loop) PhaseEntered(phase string) {
	logger.Log.Debugf("session %s: %s now %s", l.sessionID, l.playerID, phase)
}

func (l *Loop) AddSink(s Sink) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.sinks = append(l.sinks, s)
}

// Phase is the client phase derived from the last accepted state.
func (l *Loop) Phase() string {
	return l.machine.Phase()
}

// Snapshot returns a copy of the last accepted state, or nil before the first poll.
func (l *Loop) Snapshot() *models.SessionState {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	if l.last == nil {
		return nil
	}
	return l.last.Clone()
}

// Nudge asks for a poll before the interval elapses.
func (l *Loop) Nudge() {
	select {
	case l.nudge <- struct{}{}:
	default:
	}
}

// Run polls until the battle ends or ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	l.metrics.BattleStarted()
	defer l.metrics.BattleStopped()

	for {
		if _, err := l.Poll(ctx); err != nil {
			return err
		}
		if l.machine.Ended() {
			return nil
		}

		interval := l.cfg.PollRunning
		if l.Phase() == state.PhaseWaiting {
			interval = l.cfg.PollWaiting
		}
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-l.nudge:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Poll runs one reconciliation cycle and returns the transitions it emitted.
// The only error it returns is ctx's; store failures end the battle locally.
func (l *Loop) Poll(ctx context.Context) ([]Transition, error) {
	if l.machine.Ended() {
		return nil, nil
	}

	s, err := l.fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return l.connectionLost(ctx, err), nil
	}

	if l.isHost(s) && s.Session.IsActive && s.Session.CurrentTurn == "" &&
		s.Session.BattleStarted && s.Session.GuestID != "" {
		if _, err := l.engine.RandomizeFirstTurn(ctx, l.sessionID, l.playerID); err != nil {
			logger.Log.Warnf("session %s: first turn pick failed: %v", l.sessionID, err)
		} else if fresh, err := l.fetch(ctx); err == nil {
			s = fresh
		}
	}

	l.mutex.Lock()
	prev := l.last
	if prev != nil && stale(prev, s) {
		l.mutex.Unlock()
		logger.Log.Debugf("session %s: dropping stale state at round %d", l.sessionID, s.Round.RoundNumber)
		return nil, nil
	}
	l.last = s
	l.mutex.Unlock()

	transitions := l.diff(prev, s)
	l.drive(s)
	l.emit(transitions)
	return transitions, nil
}

func (l *Loop) fetch(ctx context.Context) (*models.SessionState, error) {
	start := time.Now()
	s, err := l.store.GetSessionState(ctx, l.sessionID)
	l.metrics.ObservePoll(time.Since(start), err)
	return s, err
}

func (l *Loop) isHost(s *models.SessionState) bool {
	return s.Session.HostID == l.playerID
}

// stale reports whether next is older than prev; rounds only grow and an
// ended battle never becomes active again.
func stale(prev, next *models.SessionState) bool {
	if next.Round.RoundNumber < prev.Round.RoundNumber {
		return true
	}
	return !prev.Session.IsActive && next.Session.IsActive
}

func (l *Loop) diff(prev, s *models.SessionState) []Transition {
	base := Transition{
		SessionID:   l.sessionID,
		Round:       s.Round.RoundNumber,
		CurrentTurn: s.Session.CurrentTurn,
		MyTurn:      s.Session.CurrentTurn == l.playerID,
		HostHealth:  s.Score.HostHealth,
		GuestHealth: s.Score.GuestHealth,
	}

	prevTurn, prevRound := "", 0
	prevHost, prevGuest := models.MaxHealth, models.MaxHealth
	prevActive := true
	if prev != nil {
		prevTurn, prevRound = prev.Session.CurrentTurn, prev.Round.RoundNumber
		prevHost, prevGuest = prev.Score.HostHealth, prev.Score.GuestHealth
		prevActive = prev.Session.IsActive
	}

	var out []Transition
	if s.Score.HostHealth != prevHost || s.Score.GuestHealth != prevGuest {
		t := base
		t.Kind = HealthChanged
		t.HostDelta = s.Score.HostHealth - prevHost
		t.GuestDelta = s.Score.GuestHealth - prevGuest
		out = append(out, t)
	}

	if !s.Session.IsActive {
		if prevActive {
			t := base
			t.Kind = BattleEnded
			t.MyTurn = false
			t.Reason = s.Session.BattleEndReason
			t.WinnerID = s.Session.WinnerID
			out = append(out, t)
		}
		return out
	}

	switch {
	case s.Session.CurrentTurn == "":
	case prevTurn == "":
		t := base
		t.Kind = FirstTurnAssigned
		out = append(out, t)
	case s.Session.CurrentTurn != prevTurn || s.Round.RoundNumber != prevRound:
		t := base
		t.Kind = TurnChanged
		out = append(out, t)
	}
	return out
}

func (l *Loop) drive(s *models.SessionState) {
	phase := state.PhaseWaiting
	switch {
	case !s.Session.IsActive:
		phase = state.PhaseEnded
	case s.Session.CurrentTurn == l.playerID:
		phase = state.PhaseMyTurn
	case s.Session.CurrentTurn != "":
		phase = state.PhaseOpponentTurn
	}
	if err := l.machine.Enter(phase); err != nil && !errors.Is(err, state.ErrTransitionNotAllowed) {
		logger.Log.Warnf("session %s: phase change to %s failed: %v", l.sessionID, phase, err)
	}
}

func (l *Loop) emit(transitions []Transition) {
	l.mutex.RLock()
	sinks := append([]Sink(nil), l.sinks...)
	l.mutex.RUnlock()
	for _, t := range transitions {
		for _, sink := range sinks {
			sink.HandleTransition(t)
		}
	}
}

// connectionLost ends the battle locally after the store stopped answering.
// Health from the last accepted state is kept so rewards can still be settled.
func (l *Loop) connectionLost(ctx context.Context, cause error) []Transition {
	logger.Log.Errorf("session %s: lost the session store: %v", l.sessionID, cause)
	if err := l.engine.Abandon(ctx, l.sessionID); err != nil {
		logger.Log.Warnf("session %s: abandon write failed: %v", l.sessionID, err)
	}

	l.mutex.Lock()
	var ended *models.SessionState
	if l.last != nil {
		ended = l.last.Clone()
	} else {
		ended = &models.SessionState{Score: models.BattleScore{HostHealth: models.MaxHealth, GuestHealth: models.MaxHealth}}
		ended.Session.SessionID = l.sessionID
	}
	ended.Session.IsActive = false
	ended.Session.BattleEndReason = models.EndReasonConnectionLost
	ended.Session.WinnerID = ""
	l.last = ended
	l.mutex.Unlock()

	t := Transition{
		Kind:        BattleEnded,
		SessionID:   l.sessionID,
		Round:       ended.Round.RoundNumber,
		HostHealth:  ended.Score.HostHealth,
		GuestHealth: ended.Score.GuestHealth,
		Reason:      models.EndReasonConnectionLost,
	}
	l.metrics.BattleEnded(string(models.EndReasonConnectionLost))
	l.drive(ended)
	l.emit([]Transition{t})
	return []Transition{t}
}
