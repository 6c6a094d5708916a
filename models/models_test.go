package models

import (
	"testing"
	"time"
)

func TestTimeReduction_Apply(t *testing.T) {
	tr := TimeReduction{Percent: 30, MinTime: 5 * time.Second}

	if got := tr.Apply(15 * time.Second); got != 10500*time.Millisecond {
		t.Errorf("Expected 10.5s for a 15s base, got %v", got)
	}
	if got := tr.Apply(6 * time.Second); got != 5*time.Second {
		t.Errorf("Expected the 5s floor for a 6s base, got %v", got)
	}
}

func TestQuestion_IsCorrect(t *testing.T) {
	q := Question{ID: "q1", Answer: " Mitochondria "}

	if !q.IsCorrect("mitochondria") {
		t.Error("Expected a case-insensitive match")
	}
	if !q.IsCorrect("  MITOCHONDRIA\n") {
		t.Error("Expected surrounding whitespace to be ignored")
	}
	if q.IsCorrect("ribosome") {
		t.Error("Expected a wrong answer to be rejected")
	}
	if (Question{ID: "q2"}).IsCorrect("") {
		t.Error("A question without an answer must never match")
	}
}

func TestCardEffect_Validate(t *testing.T) {
	ok := CardEffect{ID: "e1", Kind: EffectHeal, Heal: &Heal{Amount: 10}}
	if err := ok.Validate(); err != nil {
		t.Fatalf("Expected a valid heal effect, got %v", err)
	}

	wrongBlock := CardEffect{ID: "e2", Kind: EffectHeal, Poison: &Poison{TickDamage: 5, TurnsRemaining: 3}}
	if err := wrongBlock.Validate(); err == nil {
		t.Error("Expected heal with a poison block to be rejected")
	}

	extra := CardEffect{ID: "e3", Kind: EffectExtraTurn, Shield: &Shield{BlockedSlots: 1}}
	if err := extra.Validate(); err == nil {
		t.Error("Expected extra_turn with parameters to be rejected")
	}

	if err := (CardEffect{ID: "e4", Kind: "teleport"}).Validate(); err == nil {
		t.Error("Expected an unknown kind to be rejected")
	}
}

func TestGormEffectRoundTripKeepsVariant(t *testing.T) {
	e := CardEffect{
		ID:            "e1",
		Card:          "time_manipulation",
		Kind:          EffectReduceTime,
		TargetID:      "guest",
		TimeReduction: &TimeReduction{Percent: 30, MinTime: 5 * time.Second},
	}

	back := EffectFromGorm(EffectToGorm("s1", e))
	if back.TimeReduction == nil || back.TimeReduction.MinTime != 5*time.Second {
		t.Fatalf("Expected the time reduction block to survive, got %+v", back.TimeReduction)
	}
	if back.Poison != nil || back.Heal != nil || back.Shield != nil {
		t.Error("Expected only the reduce_time block to be set")
	}
}

func TestSessionState_CloneIsDeep(t *testing.T) {
	s := &SessionState{
		Round:   BattleRound{QuestionIDsDone: []string{"q1"}},
		Effects: []CardEffect{{ID: "p", Kind: EffectPoison, Poison: &Poison{TickDamage: 5, TurnsRemaining: 3}}},
	}
	c := s.Clone()
	c.Round.QuestionIDsDone[0] = "changed"
	c.Effects[0].Poison.TurnsRemaining = 0

	if s.Round.QuestionIDsDone[0] != "q1" {
		t.Error("Clone shares the question slice")
	}
	if s.Effects[0].Poison.TurnsRemaining != 3 {
		t.Error("Clone shares the poison block")
	}
}
