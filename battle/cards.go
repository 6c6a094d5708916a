package battle

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/google/uuid"
	"github.com/wfunc/quizbattle/logger"
	"github.com/wfunc/quizbattle/models"
)

// Slot is one position in a hand.
type Slot struct {
	Card    Card `json:"card"`
	Blocked bool `json:"blocked"`
}

// Hand is what a player may choose from on their turn.
type Hand struct {
	Round int    `json:"round"`
	Slots []Slot `json:"slots"`
	// Suppressed hands carry no cards; the turn resolves with no card.
	Suppressed bool `json:"suppressed"`
}

// Selectable reports whether cardID sits in an unblocked slot.
func (h Hand) Selectable(cardID string) bool {
	if h.Suppressed {
		return false
	}
	for _, s := range h.Slots {
		if s.Card.ID == cardID && !s.Blocked {
			return true
		}
	}
	return false
}

// Playable returns the cards in unblocked slots.
func (h Hand) Playable() []Card {
	var out []Card
	for _, s := range h.Slots {
		if !s.Blocked {
			out = append(out, s.Card)
		}
	}
	return out
}

// DrawHand deals playerID a hand for the current round and applies the
// skip_turn and block_cards effects waiting for them. Drawing again in the
// same round yields the same hand.
func (e *Engine) DrawHand(ctx context.Context, sessionID, playerID string, tier models.Difficulty) (Hand, error) {
	if !tier.Valid() {
		return Hand{}, fmt.Errorf("%q: %w", tier, ErrInvalidTier)
	}
	s, err := e.activeTurn(ctx, sessionID, playerID)
	if err != nil {
		return Hand{}, err
	}
	round := s.Round.RoundNumber
	hand := Hand{Round: round}

	_, skipped, err := e.consumeForRound(ctx, s, playerID, models.EffectSkipTurn, round)
	if err != nil {
		return Hand{}, err
	}
	if skipped {
		logger.Log.Infof("session %s round %d: hand of %s suppressed by mind control", sessionID, round, playerID)
		hand.Suppressed = true
		return hand, nil
	}

	rng := e.rng("draw", sessionID, roundKey(round), playerID)
	for _, c := range e.drawCards(rng, tier) {
		hand.Slots = append(hand.Slots, Slot{Card: c})
	}

	shield, shielded, err := e.consumeForRound(ctx, s, playerID, models.EffectBlockCards, round)
	if err != nil {
		return Hand{}, err
	}
	if shielded {
		n := e.cfg.ShieldSlots
		if shield.Shield != nil && shield.Shield.BlockedSlots > 0 {
			n = shield.Shield.BlockedSlots
		}
		n = min(n, maxShieldSlots, len(hand.Slots))
		for _, i := range rng.Perm(len(hand.Slots))[:n] {
			hand.Slots[i].Blocked = true
		}
		logger.Log.Infof("session %s round %d: %d slot(s) of %s blocked", sessionID, round, n, playerID)
	}
	return hand, nil
}

// drawCards rolls a rarity per slot from the tier table, then a card inside
// that rarity, resampling duplicates a bounded number of times.
func (e *Engine) drawCards(rng *rand.Rand, tier models.Difficulty) []Card {
	hand := make([]Card, 0, e.cfg.HandSize)
	has := func(id string) bool {
		for _, c := range hand {
			if c.ID == id {
				return true
			}
		}
		return false
	}
	for len(hand) < e.cfg.HandSize {
		var c Card
		for attempt := 0; attempt < e.cfg.DedupAttempts; attempt++ {
			pool := cardsByRarity[rarityFor(tier, rng.IntN(100))]
			c = pool[rng.IntN(len(pool))]
			if !has(c.ID) {
				break
			}
		}
		hand = append(hand, c)
	}
	return hand
}

// EffectResult is the planned outcome of playing a card with a correct answer.
type EffectResult struct {
	Card Card
	// Effect is recorded with the commit; nil when a reset poison refreshes instead.
	Effect *models.CardEffect
	// Refresh carries a poison whose turns_remaining is reset.
	Refresh      *models.CardEffect
	HealthDeltas map[string]int
	RetainTurn   bool
}

// effectID derives a stable id so a replanned turn carries the same effect.
func effectID(sessionID string, round int, actorID, cardID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s/%d/%s/%s", sessionID, round, actorID, cardID))).String()
}

// ApplyEffect plans what cardID does when actorID answers correctly in round.
// It reads s but never writes.
func (e *Engine) ApplyEffect(s *models.SessionState, actorID, cardID string, round int) (EffectResult, error) {
	card, err := LookupCard(cardID)
	if err != nil {
		return EffectResult{}, err
	}
	opponent := s.Session.Opponent(actorID)
	if opponent == "" {
		return EffectResult{}, fmt.Errorf("actor %s has no opponent in session %s", actorID, s.Session.SessionID)
	}

	res := EffectResult{Card: card, HealthDeltas: map[string]int{}}
	if card.Offensive {
		damage := e.cfg.BaseDamage
		if card.OwnDamage {
			damage = e.cfg.PoisonHit
		}
		res.HealthDeltas[opponent] -= damage
	}
	if card.Kind == models.EffectNone {
		return res, nil
	}

	target := opponent
	if card.Target == TargetSelf {
		target = actorID
	}
	eff := &models.CardEffect{
		ID:           effectID(s.Session.SessionID, round, actorID, cardID),
		Card:         card.ID,
		Kind:         card.Kind,
		OwnerID:      actorID,
		TargetID:     target,
		AppliedAt:    e.now(),
		AppliedRound: round,
	}

	switch card.Kind {
	case models.EffectExtraTurn:
		res.RetainTurn = true
		eff.Used, eff.ConsumedRound = true, round
	case models.EffectReduceTime:
		eff.TimeReduction = &models.TimeReduction{Percent: e.cfg.ReductionPercent, MinTime: e.cfg.MinTime}
	case models.EffectBlockCards:
		eff.Shield = &models.Shield{BlockedSlots: e.cfg.ShieldSlots}
	case models.EffectHeal:
		eff.Heal = &models.Heal{Amount: e.cfg.HealAmount}
		eff.Used, eff.ConsumedRound = true, round
		res.HealthDeltas[actorID] += e.cfg.HealAmount
	case models.EffectPoison:
		eff.Poison = &models.Poison{TickDamage: e.cfg.PoisonTickDamage, TurnsRemaining: e.cfg.PoisonTurns}
		eff.Used, eff.ConsumedRound = true, round
		if existing := activePoisons(s, target); len(existing) > 0 &&
			(e.cfg.PoisonPolicy == PoisonReset || len(existing) >= e.cfg.PoisonMaxStacks) {
			refresh := existing[0].Clone()
			refresh.Poison.TurnsRemaining = e.cfg.PoisonTurns
			refresh.Poison.TickDamage = e.cfg.PoisonTickDamage
			refresh.AppliedRound = round
			res.Refresh = &refresh
			return res, nil
		}
	case models.EffectSkipTurn:
		// applied when the target draws
	}
	res.Effect = eff
	return res, nil
}

// activePoisons returns unexpired poisons on targetID, oldest first.
func activePoisons(s *models.SessionState, targetID string) []models.CardEffect {
	var out []models.CardEffect
	for _, e := range s.Effects {
		if e.Kind == models.EffectPoison && e.TargetID == targetID && e.Active() {
			out = append(out, e)
		}
	}
	return out
}
