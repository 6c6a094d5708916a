package battle

import (
	"context"
	"errors"
	"testing"

	"github.com/wfunc/quizbattle/models"
	"github.com/wfunc/quizbattle/persistence"
)

// play runs one full turn: bind a question, answer it, resolve.
func play(t *testing.T, e *Engine, sid, player, card string, correct bool) TurnResult {
	t.Helper()
	ctx := context.Background()
	sel, err := e.SelectQuestion(ctx, sid, player, testPool)
	if err != nil {
		t.Fatalf("SelectQuestion for %s failed: %v", player, err)
	}
	answer := "nope"
	if correct {
		answer = " RIGHT "
	}
	res, err := e.ResolveTurn(ctx, TurnInput{
		SessionID: sid,
		PlayerID:  player,
		Round:     sel.Round,
		CardID:    card,
		Question:  sel.Question,
		Answer:    answer,
	})
	if err != nil {
		t.Fatalf("ResolveTurn for %s failed: %v", player, err)
	}
	return res
}

func TestResolveTurn_BasicStrike(t *testing.T) {
	e, store, sid := newBattle(t, DefaultConfig(), 10)

	res := play(t, e, sid, host, CardBasicStrike, true)
	if !res.Applied || !res.Correct {
		t.Fatalf("Expected an applied correct turn, got %+v", res)
	}
	s := mustState(t, store, sid)
	if s.Score.GuestHealth != 90 || s.Score.HostHealth != 100 {
		t.Errorf("Expected 100/90, got %+v", s.Score)
	}
	if s.Session.CurrentTurn != guest || s.Round.RoundNumber != 2 {
		t.Errorf("Expected round 2 for guest, got round %d turn %q", s.Round.RoundNumber, s.Session.CurrentTurn)
	}
	if s.Round.HostCard != CardBasicStrike {
		t.Errorf("Expected the host card to be recorded, got %q", s.Round.HostCard)
	}
}

func TestResolveTurn_IdempotentPerRound(t *testing.T) {
	ctx := context.Background()
	e, store, sid := newBattle(t, DefaultConfig(), 10)

	sel, err := e.SelectQuestion(ctx, sid, host, testPool)
	if err != nil {
		t.Fatalf("SelectQuestion failed: %v", err)
	}
	in := TurnInput{SessionID: sid, PlayerID: host, Round: sel.Round, CardID: CardBasicStrike, Question: sel.Question, Answer: "right"}

	first, err := e.ResolveTurn(ctx, in)
	if err != nil || !first.Applied {
		t.Fatalf("Expected the first resolution to apply, got %+v (%v)", first, err)
	}
	second, err := e.ResolveTurn(ctx, in)
	if err != nil {
		t.Fatalf("Expected the replay to be a no-op, got %v", err)
	}
	if second.Applied {
		t.Errorf("Expected Applied=false on replay, got %+v", second)
	}
	s := mustState(t, store, sid)
	if s.Score.GuestHealth != 90 || s.Round.RoundNumber != 2 {
		t.Errorf("Expected one application (guest 90, round 2), got %d round %d", s.Score.GuestHealth, s.Round.RoundNumber)
	}
}

func TestResolveTurn_Rejections(t *testing.T) {
	ctx := context.Background()
	e, _, sid := newBattle(t, DefaultConfig(), 10)
	sel, _ := e.SelectQuestion(ctx, sid, host, testPool)

	_, err := e.ResolveTurn(ctx, TurnInput{SessionID: sid, PlayerID: guest, Round: sel.Round, Question: sel.Question, Answer: "right"})
	if !errors.Is(err, ErrNotYourTurn) {
		t.Errorf("Expected ErrNotYourTurn, got %v", err)
	}
	other := testPool[0]
	if other.ID == sel.Question.ID {
		other = testPool[1]
	}
	_, err = e.ResolveTurn(ctx, TurnInput{SessionID: sid, PlayerID: host, Round: sel.Round, Question: other, Answer: "right"})
	if !errors.Is(err, ErrQuestionMismatch) {
		t.Errorf("Expected ErrQuestionMismatch, got %v", err)
	}
	_, err = e.ResolveTurn(ctx, TurnInput{SessionID: sid, PlayerID: host, Round: sel.Round, CardID: "joker", Question: sel.Question, Answer: "right"})
	if !errors.Is(err, ErrUnknownCard) {
		t.Errorf("Expected ErrUnknownCard, got %v", err)
	}
	_, err = e.ResolveTurn(ctx, TurnInput{SessionID: sid, PlayerID: "stranger", Round: sel.Round})
	if !errors.Is(err, persistence.ErrInvalidPlayer) {
		t.Errorf("Expected ErrInvalidPlayer, got %v", err)
	}
}

func TestResolveTurn_WrongAnswerAndTimeout(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.WrongAnswerPenalty = 5
	e, store, sid := newBattle(t, cfg, 10)

	res := play(t, e, sid, host, CardBasicStrike, false)
	if res.Correct || res.NextTurn != guest {
		t.Fatalf("Expected an incorrect turn passing to guest, got %+v", res)
	}
	s := mustState(t, store, sid)
	if s.Score.GuestHealth != 100 || s.Score.HostHealth != 95 {
		t.Errorf("Expected only the penalty (95/100), got %+v", s.Score)
	}

	// a timeout needs no bound question and deals nothing
	res, err := e.ResolveTurn(ctx, TurnInput{SessionID: sid, PlayerID: guest, Round: 2, CardID: CardPoisonType, TimedOut: true})
	if err != nil {
		t.Fatalf("Timeout resolution failed: %v", err)
	}
	if res.NextTurn != host {
		t.Errorf("Expected the turn to switch on timeout, got %q", res.NextTurn)
	}
	s = mustState(t, store, sid)
	if s.Score.HostHealth != 95 || s.Score.GuestHealth != 95 {
		t.Errorf("Expected 95/95 after the timeout penalty, got %+v", s.Score)
	}
}

func TestResolveTurn_QuickDrawKeepsTurn(t *testing.T) {
	e, store, sid := newBattle(t, DefaultConfig(), 10)

	res := play(t, e, sid, host, CardQuickDraw, true)
	if !res.Retained || res.NextTurn != host {
		t.Fatalf("Expected host to keep the turn, got %+v", res)
	}
	s := mustState(t, store, sid)
	if s.Session.CurrentTurn != host || s.Round.RoundNumber != 2 || s.Score.GuestHealth != 90 {
		t.Errorf("Unexpected state after quick draw: turn %q round %d guest %d", s.Session.CurrentTurn, s.Round.RoundNumber, s.Score.GuestHealth)
	}
	if len(s.PendingEffects(host, models.EffectExtraTurn)) != 0 {
		t.Error("Expected quick draw to leave nothing pending")
	}
}

func TestResolveTurn_HealIsClamped(t *testing.T) {
	ctx := context.Background()
	e, store, sid := newBattle(t, DefaultConfig(), 10)

	play(t, e, sid, host, CardRegeneration, true)
	if s := mustState(t, store, sid); s.Score.HostHealth != models.MaxHealth || s.Score.GuestHealth != models.MaxHealth {
		t.Fatalf("Expected heal at full health to stay at %d, got %+v", models.MaxHealth, s.Score)
	}

	play(t, e, sid, guest, CardBasicStrike, true)
	play(t, e, sid, host, CardRegeneration, true)
	if s := mustState(t, store, sid); s.Score.HostHealth != 100 {
		t.Errorf("Expected 90+10=100, got %d", s.Score.HostHealth)
	}

	_, _ = store.ApplyHealthDelta(ctx, sid, host, -300)
	if s := mustState(t, store, sid); s.Score.HostHealth != 0 {
		t.Errorf("Expected health floored at 0, got %d", s.Score.HostHealth)
	}
}

func TestResolveTurn_PoisonTicksThreeTimes(t *testing.T) {
	e, store, sid := newBattle(t, DefaultConfig(), 30)

	play(t, e, sid, host, CardPoisonType, true)
	// the guest's first turn after the cast already ticks
	want := []int{85, 85, 80, 80, 75, 75, 75, 75, 75}
	if got := mustState(t, store, sid).Score.GuestHealth; got != want[0] {
		t.Fatalf("After the cast: expected guest %d, got %d", want[0], got)
	}

	player := guest
	for i := 1; i < len(want); i++ {
		res := play(t, e, sid, player, "", false)
		s := mustState(t, store, sid)
		if s.Score.GuestHealth != want[i] {
			t.Fatalf("After turn %d: expected guest %d, got %d", i+1, want[i], s.Score.GuestHealth)
		}
		player = res.NextTurn
	}

	s := mustState(t, store, sid)
	if len(activePoisons(s, guest)) != 0 {
		t.Errorf("Expected the poison to be gone, got %+v", s.Effects)
	}
	if s.Score.HostHealth != 100 {
		t.Errorf("Expected the caster untouched, got %d", s.Score.HostHealth)
	}
}

func TestResolveTurn_PoisonResetPolicy(t *testing.T) {
	e, store, sid := newBattle(t, DefaultConfig(), 30)

	// hit 10 and the first tick: guest 85
	play(t, e, sid, host, CardPoisonType, true)
	play(t, e, sid, guest, "", false)
	// hit 10, refresh to 3 turns, tick once: guest 70
	play(t, e, sid, host, CardPoisonType, true)
	s := mustState(t, store, sid)
	poisons := activePoisons(s, guest)
	if len(poisons) != 1 {
		t.Fatalf("Expected one poison under the reset policy, got %d", len(poisons))
	}
	if poisons[0].Poison.TurnsRemaining != 2 || poisons[0].AppliedRound != 3 {
		t.Errorf("Expected a refreshed poison (2 turns left, round 3), got %+v", poisons[0])
	}
	if s.Score.GuestHealth != 70 {
		t.Errorf("Expected guest 70, got %d", s.Score.GuestHealth)
	}
}

func TestResolveTurn_PoisonStackPolicy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PoisonPolicy = PoisonStack
	e, store, sid := newBattle(t, cfg, 30)

	play(t, e, sid, host, CardPoisonType, true) // guest 85
	play(t, e, sid, guest, "", false)
	// hit 10 and both poisons tick
	play(t, e, sid, host, CardPoisonType, true)
	s := mustState(t, store, sid)
	if n := len(activePoisons(s, guest)); n != 2 {
		t.Fatalf("Expected two stacked poisons, got %d", n)
	}
	if s.Score.GuestHealth != 65 {
		t.Fatalf("Expected guest 65, got %d", s.Score.GuestHealth)
	}

	// at the cap a third cast refreshes the oldest instead
	first := activePoisons(s, guest)[0].ID
	play(t, e, sid, guest, "", false)
	play(t, e, sid, host, CardPoisonType, true)
	s = mustState(t, store, sid)
	poisons := activePoisons(s, guest)
	if len(poisons) != 2 {
		t.Fatalf("Expected the stack to stay capped at 2, got %d", len(poisons))
	}
	for _, p := range poisons {
		if p.ID == first && p.Poison.TurnsRemaining != 2 {
			t.Errorf("Expected the oldest poison refreshed and ticked once, got %+v", p.Poison)
		}
	}
	if s.Score.GuestHealth != 45 {
		t.Errorf("Expected guest 45, got %d", s.Score.GuestHealth)
	}
}

func TestResolveTurn_KnockoutEndsBattle(t *testing.T) {
	ctx := context.Background()
	e, store, sid := newBattle(t, DefaultConfig(), 10)
	_, _ = store.ApplyHealthDelta(ctx, sid, guest, -95)

	res := play(t, e, sid, host, CardBasicStrike, true)
	if res.End == nil || res.End.WinnerID != host || res.End.Reason != models.EndReasonCompleted {
		t.Fatalf("Expected host to win by knockout, got %+v", res.End)
	}
	s := mustState(t, store, sid)
	if s.Session.IsActive || s.Score.GuestHealth != 0 {
		t.Errorf("Expected an ended battle with guest at 0, got %+v %+v", s.Session, s.Score)
	}

	// the guest's stale view of the next round is rejected as over
	if _, err := e.ResolveTurn(ctx, TurnInput{SessionID: sid, PlayerID: guest, Round: 2, TimedOut: true}); !errors.Is(err, ErrBattleOver) {
		t.Errorf("Expected ErrBattleOver, got %v", err)
	}
}

func TestResolveTurn_DoubleKnockoutGoesToOpponent(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.WrongAnswerPenalty = 10
	e, store, sid := newBattle(t, cfg, 10)

	_, _ = store.ApplyHealthDelta(ctx, sid, host, -90)
	_, _ = store.ApplyHealthDelta(ctx, sid, guest, -95)
	poison := models.CardEffect{
		ID: "p", Card: CardPoisonType, Kind: models.EffectPoison, OwnerID: host, TargetID: guest,
		Used: true, Poison: &models.Poison{TickDamage: 5, TurnsRemaining: 2},
	}
	if err := store.RecordCardEffect(ctx, sid, host, poison); err != nil {
		t.Fatalf("RecordCardEffect failed: %v", err)
	}

	res := play(t, e, sid, host, "", false)
	if res.End == nil {
		t.Fatal("Expected the battle to end")
	}
	if res.HostHealth != 0 || res.GuestHealth != 0 {
		t.Fatalf("Expected both at 0, got %d/%d", res.HostHealth, res.GuestHealth)
	}
	if res.End.WinnerID != guest {
		t.Errorf("Expected the acting player's opponent to win, got %q", res.End.WinnerID)
	}
}

func TestLeaveAndAbandon(t *testing.T) {
	ctx := context.Background()
	e, store, sid := newBattle(t, DefaultConfig(), 10)

	if err := e.Leave(ctx, sid, "stranger"); !errors.Is(err, persistence.ErrInvalidPlayer) {
		t.Fatalf("Expected ErrInvalidPlayer, got %v", err)
	}
	if err := e.Leave(ctx, sid, host); err != nil {
		t.Fatalf("Leave failed: %v", err)
	}
	if err := e.Abandon(ctx, sid); err != nil {
		t.Fatalf("Abandon after the end should be a no-op, got %v", err)
	}
	s := mustState(t, store, sid)
	if s.Session.BattleEndReason != models.EndReasonLeftGame || s.Session.WinnerID != guest {
		t.Errorf("Expected guest to win by the host leaving, got %+v", s.Session)
	}
}

func TestAbandon_NoWinner(t *testing.T) {
	ctx := context.Background()
	e, store, sid := newBattle(t, DefaultConfig(), 10)

	if err := e.Abandon(ctx, sid); err != nil {
		t.Fatalf("Abandon failed: %v", err)
	}
	s := mustState(t, store, sid)
	if s.Session.IsActive || s.Session.BattleEndReason != models.EndReasonConnectionLost || s.Session.WinnerID != "" {
		t.Errorf("Expected a lost connection without winner, got %+v", s.Session)
	}
}
