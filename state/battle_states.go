package state

import (
	"github.com/wfunc/quizbattle/logger"
)

// Client phases of one battle.
const (
	PhaseWaiting      = "waiting"
	PhaseMyTurn       = "my_turn"
	PhaseOpponentTurn = "opponent_turn"
	PhaseEnded        = "ended"
)

// 阶段状态基础结构
type PhaseState struct {
	ID     string
	Battle BattleContext
}

func (s *PhaseState) GetID() string {
	return s.ID
}

func (s *PhaseState) OnEnter() {
	logger.Log.Debugf("session %s: %s entered %s", s.Battle.GetSessionID(), s.Battle.GetPlayerID(), s.ID)
	s.Battle.PhaseEntered(s.ID)
}

func (s *PhaseState) OnExit() {
	// 默认实现
}

// EndedState is terminal; once entered, nothing leaves it.
type EndedState struct {
	PhaseState
}

func (s *EndedState) OnEnter() {
	logger.Log.Infof("session %s: battle over for %s", s.Battle.GetSessionID(), s.Battle.GetPlayerID())
	s.Battle.PhaseEntered(s.ID)
}

// BattleMachine drives a client through waiting, the two turn phases and the end.
type BattleMachine struct {
	*Machine
}

// NewBattleMachine starts in the waiting phase.
func NewBattleMachine(battle BattleContext) *BattleMachine {
	m := &BattleMachine{Machine: NewMachine(
		&PhaseState{ID: PhaseWaiting, Battle: battle},
		&PhaseState{ID: PhaseMyTurn, Battle: battle},
		&PhaseState{ID: PhaseOpponentTurn, Battle: battle},
		&EndedState{PhaseState{ID: PhaseEnded, Battle: battle}},
	)}

	// a running battle never goes back to waiting
	m.Forbid(PhaseMyTurn, PhaseWaiting)
	m.Forbid(PhaseOpponentTurn, PhaseWaiting)
	for _, to := range []string{PhaseWaiting, PhaseMyTurn, PhaseOpponentTurn} {
		m.Forbid(PhaseEnded, to)
	}
	return m
}

// Phase returns the id of the current phase.
func (m *BattleMachine) Phase() string {
	return m.Current()
}

// Ended reports whether the battle reached its terminal phase.
func (m *BattleMachine) Ended() bool {
	return m.Phase() == PhaseEnded
}
