package persistence

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wfunc/quizbattle/models"
)

// The apply* functions hold the store semantics shared by every backend. They
// run while the caller holds the session's write serialization and mutate s in place.

func newSessionState(lobbyCode, hostID string, totalRounds int, now time.Time) *models.SessionState {
	return &models.SessionState{
		Session: models.BattleSession{
			SessionID:   uuid.NewString(),
			LobbyCode:   lobbyCode,
			HostID:      hostID,
			IsActive:    true,
			TotalRounds: totalRounds,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		Round: models.BattleRound{RoundNumber: 1},
		Score: models.BattleScore{HostHealth: models.MaxHealth, GuestHealth: models.MaxHealth},
	}
}

func applyJoin(s *models.SessionState, guestID string, now time.Time) error {
	if guestID == "" || guestID == s.Session.HostID {
		return ErrInvalidPlayer
	}
	if s.Session.GuestID != "" && s.Session.GuestID != guestID {
		return fmt.Errorf("session %s already has a guest: %w", s.Session.SessionID, ErrInvalidPlayer)
	}
	if !s.Session.IsActive {
		return fmt.Errorf("session %s has ended: %w", s.Session.SessionID, ErrStaleWrite)
	}
	s.Session.GuestID = guestID
	s.Session.BattleStarted = true
	s.Session.UpdatedAt = now
	return nil
}

func applySetFirstTurn(s *models.SessionState, playerID string, now time.Time) error {
	if !s.Session.HasPlayer(playerID) {
		return ErrInvalidPlayer
	}
	if !s.Session.IsActive {
		return fmt.Errorf("session %s has ended: %w", s.Session.SessionID, ErrStaleWrite)
	}
	if s.Session.CurrentTurn != "" {
		return fmt.Errorf("current turn already set to %s: %w", s.Session.CurrentTurn, ErrStaleWrite)
	}
	s.Session.CurrentTurn = playerID
	s.Session.UpdatedAt = now
	return nil
}

func applyAppendShownQuestion(s *models.SessionState, round int, questionID string, now time.Time) (string, error) {
	if questionID == "" {
		return "", fmt.Errorf("empty question id")
	}
	if !s.Session.IsActive {
		return "", fmt.Errorf("session %s has ended: %w", s.Session.SessionID, ErrStaleWrite)
	}
	if round != s.Round.RoundNumber {
		return "", fmt.Errorf("round %d is not current round %d: %w", round, s.Round.RoundNumber, ErrStaleWrite)
	}
	if s.Round.ActiveQuestionRound == round && s.Round.ActiveQuestionID != "" {
		return s.Round.ActiveQuestionID, nil
	}
	if !s.Round.QuestionDone(questionID) {
		s.Round.QuestionIDsDone = append(s.Round.QuestionIDsDone, questionID)
	}
	s.Round.ActiveQuestionID = questionID
	s.Round.ActiveQuestionRound = round
	s.Session.UpdatedAt = now
	return questionID, nil
}

func applyRecordEffect(s *models.SessionState, playerID string, e models.CardEffect, now time.Time) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEffect, err)
	}
	if e.OwnerID == "" {
		e.OwnerID = playerID
	}
	if e.OwnerID != playerID || !s.Session.HasPlayer(e.OwnerID) || !s.Session.HasPlayer(e.TargetID) {
		return ErrInvalidPlayer
	}
	for _, existing := range s.Effects {
		if existing.ID == e.ID {
			return nil
		}
	}
	if e.AppliedAt.IsZero() {
		e.AppliedAt = now
	}
	s.Effects = append(s.Effects, e.Clone())
	last := e.Clone()
	s.Round.CardEffect = &last
	s.Session.UpdatedAt = now
	return nil
}

func applyConsumeEffect(s *models.SessionState, playerID string, kind models.EffectKind, round int, now time.Time) (models.CardEffect, error) {
	for i := range s.Effects {
		e := &s.Effects[i]
		if e.TargetID != playerID || e.Kind != kind || e.Used {
			continue
		}
		e.Used = true
		e.ConsumedRound = round
		s.Session.UpdatedAt = now
		return e.Clone(), nil
	}
	return models.CardEffect{}, fmt.Errorf("%s for %s: %w", kind, playerID, ErrEffectAlreadyConsumed)
}

func applyHealthDelta(s *models.SessionState, playerID string, delta int, now time.Time) (int, error) {
	var h *int
	switch playerID {
	case "":
		return 0, ErrInvalidPlayer
	case s.Session.HostID:
		h = &s.Score.HostHealth
	case s.Session.GuestID:
		h = &s.Score.GuestHealth
	default:
		return 0, ErrInvalidPlayer
	}
	*h = clampHealth(*h + delta)
	s.Session.UpdatedAt = now
	return *h, nil
}

func applyCommit(s *models.SessionState, c models.TurnCommit, now time.Time) error {
	if !s.Session.IsActive {
		return fmt.Errorf("session %s has ended: %w", s.Session.SessionID, ErrStaleWrite)
	}
	if c.RoundNumber != s.Round.RoundNumber {
		return fmt.Errorf("round %d is not current round %d: %w", c.RoundNumber, s.Round.RoundNumber, ErrStaleWrite)
	}
	if c.ActorID != s.Session.CurrentTurn {
		return fmt.Errorf("%s does not own the turn: %w", c.ActorID, ErrStaleWrite)
	}
	if c.End == nil && !s.Session.HasPlayer(c.NextTurn) {
		return ErrInvalidPlayer
	}
	for _, e := range c.NewEffects {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidEffect, err)
		}
		if !s.Session.HasPlayer(e.TargetID) {
			return ErrInvalidPlayer
		}
	}
	for playerID := range c.HealthDeltas {
		if !s.Session.HasPlayer(playerID) {
			return ErrInvalidPlayer
		}
	}

	for playerID, delta := range c.HealthDeltas {
		_, _ = applyHealthDelta(s, playerID, delta, now)
	}

	for _, ne := range c.NewEffects {
		dup := false
		for _, existing := range s.Effects {
			if existing.ID == ne.ID {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		if ne.AppliedAt.IsZero() {
			ne.AppliedAt = now
		}
		s.Effects = append(s.Effects, ne.Clone())
		last := ne.Clone()
		s.Round.CardEffect = &last
	}

	for _, re := range c.RefreshEffects {
		for i := range s.Effects {
			if s.Effects[i].ID == re.ID && s.Effects[i].Poison != nil && re.Poison != nil {
				s.Effects[i].Poison.TurnsRemaining = re.Poison.TurnsRemaining
				s.Effects[i].Poison.TickDamage = re.Poison.TickDamage
				s.Effects[i].AppliedRound = re.AppliedRound
			}
		}
	}

	for _, tick := range c.PoisonTicks {
		for i := range s.Effects {
			e := &s.Effects[i]
			if e.ID != tick.EffectID || e.Poison == nil || e.Poison.TurnsRemaining <= 0 {
				continue
			}
			e.Poison.TurnsRemaining--
			_, _ = applyHealthDelta(s, e.TargetID, -tick.Damage, now)
			break
		}
	}
	s.Effects = pruneExpired(s.Effects)

	switch c.ActorID {
	case s.Session.HostID:
		s.Round.HostCard = c.CardID
	case s.Session.GuestID:
		s.Round.GuestCard = c.CardID
	}

	s.Round.RoundNumber++
	if c.End != nil {
		s.Session.IsActive = false
		s.Session.BattleEndReason = c.End.Reason
		s.Session.WinnerID = c.End.WinnerID
	} else {
		s.Session.CurrentTurn = c.NextTurn
	}
	s.Session.UpdatedAt = now
	return nil
}

func pruneExpired(effects []models.CardEffect) []models.CardEffect {
	out := effects[:0]
	for _, e := range effects {
		if e.Kind == models.EffectPoison && e.Poison != nil && e.Poison.TurnsRemaining <= 0 {
			continue
		}
		out = append(out, e)
	}
	return out
}

func applyEndBattle(s *models.SessionState, reason models.EndReason, winnerID string, now time.Time) error {
	if reason == models.EndReasonNone {
		return fmt.Errorf("empty end reason")
	}
	if winnerID != "" && !s.Session.HasPlayer(winnerID) {
		return ErrInvalidPlayer
	}
	if !s.Session.IsActive {
		return fmt.Errorf("session %s already ended (%s): %w", s.Session.SessionID, s.Session.BattleEndReason, ErrStaleWrite)
	}
	s.Session.IsActive = false
	s.Session.BattleEndReason = reason
	s.Session.WinnerID = winnerID
	s.Session.UpdatedAt = now
	return nil
}
