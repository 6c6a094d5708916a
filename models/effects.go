package models

import (
	"errors"
	"fmt"
	"time"
)

// EffectKind is the closed set of card effects.
type EffectKind string

const (
	EffectNone       EffectKind = ""
	EffectReduceTime EffectKind = "reduce_time"
	EffectExtraTurn  EffectKind = "extra_turn"
	EffectBlockCards EffectKind = "block_cards"
	EffectHeal       EffectKind = "heal"
	EffectPoison     EffectKind = "poison"
	EffectSkipTurn   EffectKind = "skip_turn"
)

// Valid reports whether k is a known effect kind. EffectNone is valid for basic cards.
func (k EffectKind) Valid() bool {
	switch k {
	case EffectNone, EffectReduceTime, EffectExtraTurn, EffectBlockCards, EffectHeal, EffectPoison, EffectSkipTurn:
		return true
	}
	return false
}

// TimeReduction shortens the target's next answer window.
type TimeReduction struct {
	Percent int           `json:"reduction_percent"`
	MinTime time.Duration `json:"min_time"`
}

// Apply returns max(MinTime, base*(1-Percent/100)).
func (t TimeReduction) Apply(base time.Duration) time.Duration {
	reduced := base * time.Duration(100-t.Percent) / 100
	if reduced < t.MinTime {
		return t.MinTime
	}
	return reduced
}

// Shield hides card slots in the target's next hand.
type Shield struct {
	BlockedSlots int `json:"blocked_slots"`
}

// Heal restores the owner's health.
type Heal struct {
	Amount int `json:"health_amount"`
}

// Poison ticks on the target at the start of each of its turns.
type Poison struct {
	TickDamage     int `json:"tick_damage"`
	TurnsRemaining int `json:"poison_turns_remaining"`
}

var errEffectParams = errors.New("card effect parameters do not match its kind")

// CardEffect is a per-player effect record created by playing a power-up card.
// Exactly one parameter block is set, selected by Kind; extra_turn and skip_turn carry none.
type CardEffect struct {
	ID            string     `json:"id"`
	Card          string     `json:"type"`
	Kind          EffectKind `json:"effect_kind"`
	OwnerID       string     `json:"owner_id"`
	TargetID      string     `json:"target_id"`
	AppliedAt     time.Time  `json:"applied_at"`
	AppliedRound  int        `json:"applied_round"`
	Used          bool       `json:"used"`
	ConsumedRound int        `json:"consumed_round"`

	TimeReduction *TimeReduction `json:"time_reduction,omitempty"`
	Shield        *Shield        `json:"shield,omitempty"`
	Heal          *Heal          `json:"heal,omitempty"`
	Poison        *Poison        `json:"poison,omitempty"`
}

// Validate checks the tagged-variant shape of the effect.
func (e CardEffect) Validate() error {
	if e.ID == "" {
		return errors.New("card effect id is empty")
	}
	if !e.Kind.Valid() || e.Kind == EffectNone {
		return fmt.Errorf("unknown effect kind %q", e.Kind)
	}
	set := 0
	for _, present := range []bool{e.TimeReduction != nil, e.Shield != nil, e.Heal != nil, e.Poison != nil} {
		if present {
			set++
		}
	}
	var ok bool
	switch e.Kind {
	case EffectReduceTime:
		ok = set == 1 && e.TimeReduction != nil
	case EffectBlockCards:
		ok = set == 1 && e.Shield != nil
	case EffectHeal:
		ok = set == 1 && e.Heal != nil
	case EffectPoison:
		ok = set == 1 && e.Poison != nil
	case EffectExtraTurn, EffectSkipTurn:
		ok = set == 0
	}
	if !ok {
		return fmt.Errorf("%w: %s", errEffectParams, e.Kind)
	}
	return nil
}

// Active reports whether the effect still influences play.
func (e CardEffect) Active() bool {
	if e.Kind == EffectPoison {
		return e.Poison != nil && e.Poison.TurnsRemaining > 0
	}
	return !e.Used
}

// Clone copies the parameter blocks so the copy can be mutated independently.
func (e CardEffect) Clone() CardEffect {
	out := e
	if e.TimeReduction != nil {
		v := *e.TimeReduction
		out.TimeReduction = &v
	}
	if e.Shield != nil {
		v := *e.Shield
		out.Shield = &v
	}
	if e.Heal != nil {
		v := *e.Heal
		out.Heal = &v
	}
	if e.Poison != nil {
		v := *e.Poison
		out.Poison = &v
	}
	return out
}
