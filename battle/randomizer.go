package battle

import (
	"context"
	"errors"

	"github.com/wfunc/quizbattle/logger"
	"github.com/wfunc/quizbattle/persistence"
)

// RandomizeFirstTurn picks who opens the battle. Only the host runs it; the
// pick is returned only after it has been stored, and a lost race adopts
// whatever the store already holds.
func (e *Engine) RandomizeFirstTurn(ctx context.Context, sessionID, callerID string) (string, error) {
	s, err := e.store.GetSessionState(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if callerID != s.Session.HostID {
		return "", ErrNotHost
	}
	if s.Session.CurrentTurn != "" {
		return s.Session.CurrentTurn, nil
	}
	if !s.Session.IsActive {
		return "", ErrBattleOver
	}
	if !s.Session.BattleStarted || s.Session.GuestID == "" {
		return "", ErrNotReady
	}

	pick := s.Session.GuestID
	if e.coin() {
		pick = s.Session.HostID
	}

	err = e.store.SetFirstTurn(ctx, sessionID, pick)
	if errors.Is(err, persistence.ErrStaleWrite) {
		e.metrics.StaleWrite("set_first_turn")
		fresh, ferr := e.store.GetSessionState(ctx, sessionID)
		if ferr != nil {
			return "", ferr
		}
		if fresh.Session.CurrentTurn == "" {
			return "", ErrBattleOver
		}
		logger.Log.Infof("session %s: first turn already set to %s", sessionID, fresh.Session.CurrentTurn)
		return fresh.Session.CurrentTurn, nil
	}
	if err != nil {
		return "", err
	}

	logger.Log.Infof("session %s: first turn goes to %s", sessionID, pick)
	return pick, nil
}
