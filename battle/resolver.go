package battle

import (
	"context"
	"errors"
	"fmt"

	"github.com/wfunc/quizbattle/logger"
	"github.com/wfunc/quizbattle/models"
	"github.com/wfunc/quizbattle/persistence"
)

// TurnInput is one player's finished turn.
type TurnInput struct {
	SessionID string
	PlayerID  string
	Round     int
	// CardID is empty when no card was selected or the hand was suppressed.
	CardID   string
	Question models.Question
	Answer   string
	TimedOut bool
}

// TurnResult reports what a resolution committed.
type TurnResult struct {
	// Applied is false when the round had already been resolved.
	Applied     bool
	Correct     bool
	CardID      string
	Effect      *models.CardEffect
	NextTurn    string
	Retained    bool
	HostHealth  int
	GuestHealth int
	End         *models.EndState
}

// ResolveTurn scores the answer, plans the card, ticks poison for the next
// player and commits the whole turn at once. Resolving a round that has
// already moved on is a no-op with Applied=false.
func (e *Engine) ResolveTurn(ctx context.Context, in TurnInput) (TurnResult, error) {
	s, err := e.store.GetSessionState(ctx, in.SessionID)
	if err != nil {
		return TurnResult{}, err
	}
	if !s.Session.HasPlayer(in.PlayerID) {
		return TurnResult{}, persistence.ErrInvalidPlayer
	}
	if s.Round.RoundNumber > in.Round {
		return alreadyResolved(s), nil
	}
	if !s.Session.IsActive {
		return TurnResult{}, ErrBattleOver
	}
	if s.Round.RoundNumber < in.Round {
		return TurnResult{}, fmt.Errorf("round %d is ahead of round %d: %w", in.Round, s.Round.RoundNumber, persistence.ErrStaleWrite)
	}
	if s.Session.CurrentTurn != in.PlayerID {
		return TurnResult{}, ErrNotYourTurn
	}

	// a mind-controlled turn never sees a question and counts as unanswered
	_, suppressed := s.EffectConsumedIn(in.PlayerID, models.EffectSkipTurn, in.Round)
	correct := false
	if !in.TimedOut && !suppressed {
		if s.Round.ActiveQuestionRound != in.Round || s.Round.ActiveQuestionID != in.Question.ID {
			return TurnResult{}, ErrQuestionMismatch
		}
		correct = in.Question.IsCorrect(in.Answer)
	}

	cardID := in.CardID
	if suppressed {
		cardID = ""
	}
	if cardID != "" {
		if _, err := LookupCard(cardID); err != nil {
			return TurnResult{}, err
		}
	}

	opponent := s.Session.Opponent(in.PlayerID)
	commit := models.TurnCommit{
		RoundNumber:  in.Round,
		ActorID:      in.PlayerID,
		CardID:       cardID,
		NextTurn:     opponent,
		HealthDeltas: map[string]int{},
	}
	result := TurnResult{Applied: true, Correct: correct, CardID: cardID}

	refreshed := map[string]models.CardEffect{}
	if correct && cardID != "" {
		plan, err := e.ApplyEffect(s, in.PlayerID, cardID, in.Round)
		if err != nil {
			return TurnResult{}, err
		}
		for id, d := range plan.HealthDeltas {
			commit.HealthDeltas[id] += d
		}
		if plan.Effect != nil {
			commit.NewEffects = append(commit.NewEffects, *plan.Effect)
			result.Effect = plan.Effect
		}
		if plan.Refresh != nil {
			commit.RefreshEffects = append(commit.RefreshEffects, *plan.Refresh)
			refreshed[plan.Refresh.ID] = *plan.Refresh
			result.Effect = plan.Refresh
		}
		if plan.RetainTurn {
			commit.NextTurn = in.PlayerID
			result.Retained = true
		}
	} else if !correct && e.cfg.WrongAnswerPenalty > 0 {
		commit.HealthDeltas[in.PlayerID] -= e.cfg.WrongAnswerPenalty
	}

	// the next player's turn starts now, so poison cast or refreshed in this
	// round ticks here too
	poisons := make([]models.CardEffect, 0, len(s.Effects)+len(commit.NewEffects))
	for _, eff := range s.Effects {
		if r, ok := refreshed[eff.ID]; ok {
			eff = r
		}
		poisons = append(poisons, eff)
	}
	poisons = append(poisons, commit.NewEffects...)
	for _, eff := range poisons {
		if eff.Kind != models.EffectPoison || eff.TargetID != commit.NextTurn || !eff.Active() {
			continue
		}
		commit.PoisonTicks = append(commit.PoisonTicks, models.PoisonTick{
			EffectID: eff.ID,
			TargetID: eff.TargetID,
			Damage:   eff.Poison.TickDamage,
		})
	}

	host, guest := projectHealth(s, commit)
	result.HostHealth, result.GuestHealth = host, guest
	if host == 0 || guest == 0 {
		end := &models.EndState{Reason: models.EndReasonCompleted}
		switch {
		case host == 0 && guest == 0:
			end.WinnerID = opponent
		case host == 0:
			end.WinnerID = s.Session.GuestID
		default:
			end.WinnerID = s.Session.HostID
		}
		commit.End = end
		result.End = end
	} else {
		result.NextTurn = commit.NextTurn
	}

	err = e.store.CommitTurnResolution(ctx, in.SessionID, commit)
	if errors.Is(err, persistence.ErrStaleWrite) {
		e.metrics.StaleWrite("commit_turn_resolution")
		fresh, ferr := e.store.GetSessionState(ctx, in.SessionID)
		if ferr != nil {
			return TurnResult{}, ferr
		}
		if fresh.Round.RoundNumber > in.Round {
			logger.Log.Infof("session %s round %d: already resolved", in.SessionID, in.Round)
			return alreadyResolved(fresh), nil
		}
		return TurnResult{}, err
	}
	if err != nil {
		return TurnResult{}, err
	}

	outcome := "incorrect"
	switch {
	case suppressed:
		outcome = "skipped"
	case in.TimedOut:
		outcome = "timeout"
	case correct:
		outcome = "correct"
	}
	e.metrics.TurnResolved(outcome)
	if commit.End != nil {
		e.metrics.BattleEnded(string(commit.End.Reason))
		logger.Log.Infof("session %s round %d: battle completed, winner %s", in.SessionID, in.Round, commit.End.WinnerID)
	} else {
		logger.Log.Infof("session %s round %d: %s resolved (%s, card %q), next turn %s",
			in.SessionID, in.Round, in.PlayerID, outcome, cardID, commit.NextTurn)
	}
	return result, nil
}

func alreadyResolved(s *models.SessionState) TurnResult {
	r := TurnResult{
		HostHealth:  s.Score.HostHealth,
		GuestHealth: s.Score.GuestHealth,
		NextTurn:    s.Session.CurrentTurn,
	}
	if !s.Session.IsActive {
		r.NextTurn = ""
		r.End = &models.EndState{Reason: s.Session.BattleEndReason, WinnerID: s.Session.WinnerID}
	}
	return r
}

// projectHealth applies a commit's deltas and then its ticks to the current
// score, clamping after each step the same way the store does.
func projectHealth(s *models.SessionState, c models.TurnCommit) (host, guest int) {
	host, guest = s.Score.HostHealth, s.Score.GuestHealth
	apply := func(playerID string, delta int) {
		switch playerID {
		case s.Session.HostID:
			host = clamp(host + delta)
		case s.Session.GuestID:
			guest = clamp(guest + delta)
		}
	}
	for id, d := range c.HealthDeltas {
		apply(id, d)
	}
	for _, t := range c.PoisonTicks {
		apply(t.TargetID, -t.Damage)
	}
	return host, guest
}

func clamp(h int) int {
	return max(0, min(models.MaxHealth, h))
}

// Leave ends the battle because leaverID quit; the other player wins.
// Ending an already ended battle is a no-op.
func (e *Engine) Leave(ctx context.Context, sessionID, leaverID string) error {
	s, err := e.store.GetSessionState(ctx, sessionID)
	if err != nil {
		return err
	}
	if !s.Session.HasPlayer(leaverID) {
		return persistence.ErrInvalidPlayer
	}
	return e.end(ctx, sessionID, models.EndReasonLeftGame, s.Session.Opponent(leaverID))
}

// Abandon ends the battle as a lost connection with no winner.
func (e *Engine) Abandon(ctx context.Context, sessionID string) error {
	return e.end(ctx, sessionID, models.EndReasonConnectionLost, "")
}

// ConcludePoolExhausted ends the battle when no question is left. The side
// with more health wins; equal health is a draw.
func (e *Engine) ConcludePoolExhausted(ctx context.Context, sessionID string) (models.EndState, error) {
	s, err := e.store.GetSessionState(ctx, sessionID)
	if err != nil {
		return models.EndState{}, err
	}
	if !s.Session.IsActive {
		return models.EndState{Reason: s.Session.BattleEndReason, WinnerID: s.Session.WinnerID}, nil
	}
	end := models.EndState{Reason: models.EndReasonCompleted}
	switch {
	case s.Score.HostHealth > s.Score.GuestHealth:
		end.WinnerID = s.Session.HostID
	case s.Score.GuestHealth > s.Score.HostHealth:
		end.WinnerID = s.Session.GuestID
	}
	if err := e.end(ctx, sessionID, end.Reason, end.WinnerID); err != nil {
		return models.EndState{}, err
	}
	fresh, err := e.store.GetSessionState(ctx, sessionID)
	if err != nil {
		return end, nil
	}
	return models.EndState{Reason: fresh.Session.BattleEndReason, WinnerID: fresh.Session.WinnerID}, nil
}

func (e *Engine) end(ctx context.Context, sessionID string, reason models.EndReason, winnerID string) error {
	err := e.store.EndBattle(ctx, sessionID, reason, winnerID)
	if errors.Is(err, persistence.ErrStaleWrite) {
		logger.Log.Infof("session %s: already ended, ignoring %s", sessionID, reason)
		return nil
	}
	if err != nil {
		return err
	}
	e.metrics.BattleEnded(string(reason))
	logger.Log.Infof("session %s: battle ended (%s), winner %q", sessionID, reason, winnerID)
	return nil
}
