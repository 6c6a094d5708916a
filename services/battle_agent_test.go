package services

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wfunc/quizbattle/battle"
	"github.com/wfunc/quizbattle/models"
	"github.com/wfunc/quizbattle/persistence"
	"github.com/wfunc/quizbattle/reconcile"
	"github.com/wfunc/quizbattle/timer"
	"golang.org/x/sync/errgroup"
)

func testPool(n int) []models.Question {
	pool := make([]models.Question, n)
	for i := range pool {
		pool[i] = models.Question{
			ID:         fmt.Sprintf("q%d", i+1),
			Prompt:     fmt.Sprintf("question %d", i+1),
			Answer:     "right",
			Difficulty: models.DifficultyAverage,
		}
	}
	return pool
}

// ScriptedStrategy always plays the same card and answer.
type ScriptedStrategy struct {
	card   string
	answer string
	// block makes Answer wait for ctx, like a player who never answers.
	block bool
	asked atomic.Int32
}

func (s *ScriptedStrategy) ChooseCard(_ context.Context, hand battle.Hand, _ TurnView) string {
	if hand.Selectable(s.card) {
		return s.card
	}
	return ""
}

func (s *ScriptedStrategy) Answer(ctx context.Context, _ battle.SelectedQuestion) string {
	s.asked.Add(1)
	if s.block {
		<-ctx.Done()
		return ""
	}
	return s.answer
}

func newTwoPlayerBattle(t *testing.T, rounds int) (*battle.Engine, string) {
	t.Helper()
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	sid, err := store.CreateSession(ctx, "LOBBY", "host", rounds)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if err := store.JoinSession(ctx, sid, "guest"); err != nil {
		t.Fatalf("JoinSession failed: %v", err)
	}
	engine := battle.NewEngine(store, battle.DefaultConfig(), battle.WithCoin(func() bool { return true }))
	return engine, sid
}

func TestBattleAgent_BotsPlayToTheEnd(t *testing.T) {
	engine, sid := newTwoPlayerBattle(t, 10)
	timers := timer.NewTimerManager(5 * time.Millisecond)
	defer timers.Stop()

	cfg := reconcile.Config{PollWaiting: 5 * time.Millisecond, PollRunning: 5 * time.Millisecond}
	hostLoop := reconcile.New(engine, sid, "host", cfg, nil)
	guestLoop := reconcile.New(engine, sid, "guest", cfg, nil)
	nudge := func(battle.TurnResult) {
		hostLoop.Nudge()
		guestLoop.Nudge()
	}

	pool := testPool(30)
	hostAgent := NewBattleAgent(engine, timers, AgentConfig{
		SessionID: sid, PlayerID: "host", IsHost: true, Tier: models.DifficultyAverage,
		Pool: pool, Strategy: NewBotStrategy(1, 0, 1), OnTurn: nudge,
	})
	guestAgent := NewBattleAgent(engine, timers, AgentConfig{
		SessionID: sid, PlayerID: "guest", Tier: models.DifficultyAverage,
		Pool: pool, Strategy: NewBotStrategy(1, 0, 2), OnTurn: nudge,
	})
	hostLoop.AddSink(hostAgent)
	guestLoop.AddSink(guestAgent)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hostLoop.Run(ctx) })
	g.Go(func() error { return guestLoop.Run(ctx) })
	g.Go(func() error { return hostAgent.Run(ctx) })
	g.Go(func() error { return guestAgent.Run(ctx) })
	if err := g.Wait(); err != nil {
		t.Fatalf("Battle did not finish: %v", err)
	}

	s, err := engine.Store().GetSessionState(context.Background(), sid)
	if err != nil {
		t.Fatalf("GetSessionState failed: %v", err)
	}
	if s.Session.IsActive {
		t.Fatal("Expected the battle to be over")
	}
	if s.Session.BattleEndReason != models.EndReasonCompleted {
		t.Errorf("Expected reason %q, got %q", models.EndReasonCompleted, s.Session.BattleEndReason)
	}
	if len(s.Round.QuestionIDsDone) > 10 {
		t.Errorf("Expected at most 10 questions shown, got %d", len(s.Round.QuestionIDsDone))
	}
	if hostLoop.Snapshot().Session.IsActive || guestLoop.Snapshot().Session.IsActive {
		t.Error("Both loops should have seen the end")
	}
}

func TestBattleAgent_TimeoutResolvesWithoutDamage(t *testing.T) {
	engine, sid := newTwoPlayerBattle(t, 10)
	ctx := context.Background()
	if _, err := engine.RandomizeFirstTurn(ctx, sid, "host"); err != nil {
		t.Fatalf("RandomizeFirstTurn failed: %v", err)
	}

	timers := timer.NewTimerManager(time.Millisecond)
	defer timers.Stop()
	agent := NewBattleAgent(engine, timers, AgentConfig{
		SessionID: sid, PlayerID: "host", IsHost: true, Tier: models.DifficultyEasy,
		Pool: testPool(5), Strategy: &ScriptedStrategy{card: battle.CardBasicStrike, block: true},
	})
	agent.deadline = func(time.Duration) (<-chan struct{}, func()) {
		expired := make(chan struct{})
		close(expired)
		return expired, func() {}
	}

	res, err := agent.PlayTurn(ctx)
	if err != nil {
		t.Fatalf("PlayTurn failed: %v", err)
	}
	if !res.Applied || res.Correct {
		t.Fatalf("Expected an applied, incorrect turn, got %+v", res)
	}
	if res.NextTurn != "guest" {
		t.Errorf("Expected the turn to pass to guest, got %q", res.NextTurn)
	}
	if res.GuestHealth != models.MaxHealth {
		t.Errorf("A timed out strike must not hit, guest health %d", res.GuestHealth)
	}
}

func TestBattleAgent_MindControlledTurnAutoResolves(t *testing.T) {
	cfg := battle.DefaultConfig()
	cfg.WrongAnswerPenalty = 5
	store := persistence.NewMemoryStore()
	ctx := context.Background()
	sid, err := store.CreateSession(ctx, "LOBBY", "host", 10)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if err := store.JoinSession(ctx, sid, "guest"); err != nil {
		t.Fatalf("JoinSession failed: %v", err)
	}
	engine := battle.NewEngine(store, cfg, battle.WithCoin(func() bool { return true }))
	if _, err := engine.RandomizeFirstTurn(ctx, sid, "host"); err != nil {
		t.Fatalf("RandomizeFirstTurn failed: %v", err)
	}

	pool := testPool(5)
	sel, err := engine.SelectQuestion(ctx, sid, "host", pool)
	if err != nil {
		t.Fatalf("SelectQuestion failed: %v", err)
	}
	if _, err := engine.ResolveTurn(ctx, battle.TurnInput{
		SessionID: sid, PlayerID: "host", Round: sel.Round,
		CardID: battle.CardMindControl, Question: sel.Question, Answer: "right",
	}); err != nil {
		t.Fatalf("Casting mind control failed: %v", err)
	}
	before, _ := store.GetSessionState(ctx, sid)

	timers := timer.NewTimerManager(time.Millisecond)
	defer timers.Stop()
	strategy := &ScriptedStrategy{card: battle.CardBasicStrike, answer: "right"}
	var turns int
	agent := NewBattleAgent(engine, timers, AgentConfig{
		SessionID: sid, PlayerID: "guest", Tier: models.DifficultyEasy, Pool: pool,
		Strategy: strategy,
		OnTurn:   func(battle.TurnResult) { turns++ },
	})

	res, err := agent.PlayTurn(ctx)
	if err != nil {
		t.Fatalf("PlayTurn failed: %v", err)
	}
	if !res.Applied || res.Correct || res.CardID != "" {
		t.Fatalf("Expected an applied, unanswered turn with no card, got %+v", res)
	}
	if res.NextTurn != "host" || turns != 1 {
		t.Errorf("Expected the turn to pass back to host once, got %q (%d callbacks)", res.NextTurn, turns)
	}
	if n := strategy.asked.Load(); n != 0 {
		t.Errorf("A skipped turn must not ask for an answer, asked %d times", n)
	}

	after, _ := store.GetSessionState(ctx, sid)
	if len(after.Round.QuestionIDsDone) != len(before.Round.QuestionIDsDone) {
		t.Errorf("A skipped turn must not show a question, shown %d -> %d",
			len(before.Round.QuestionIDsDone), len(after.Round.QuestionIDsDone))
	}
	if after.Score.HostHealth != before.Score.HostHealth || after.Score.GuestHealth != before.Score.GuestHealth-5 {
		t.Errorf("Expected only the guest's penalty on top of %+v, got %+v", before.Score, after.Score)
	}
}

func TestBattleAgent_NotMyTurnIsSkipped(t *testing.T) {
	engine, sid := newTwoPlayerBattle(t, 10)
	ctx := context.Background()
	if _, err := engine.RandomizeFirstTurn(ctx, sid, "host"); err != nil {
		t.Fatalf("RandomizeFirstTurn failed: %v", err)
	}

	timers := timer.NewTimerManager(time.Millisecond)
	defer timers.Stop()
	var turns int
	agent := NewBattleAgent(engine, timers, AgentConfig{
		SessionID: sid, PlayerID: "guest", Tier: models.DifficultyEasy, Pool: testPool(5),
		Strategy: &ScriptedStrategy{answer: "right"},
		OnTurn:   func(battle.TurnResult) { turns++ },
	})

	res, err := agent.PlayTurn(ctx)
	if err != nil {
		t.Fatalf("PlayTurn failed: %v", err)
	}
	if res.Applied || turns != 0 {
		t.Errorf("Expected nothing to happen off turn, got %+v", res)
	}
}

func TestBattleAgent_HandleTransitionKeepsNewestTurn(t *testing.T) {
	timers := timer.NewTimerManager(time.Second)
	defer timers.Stop()
	agent := NewBattleAgent(nil, timers, AgentConfig{PlayerID: "host", IsHost: true})

	agent.HandleTransition(reconcile.Transition{Kind: reconcile.TurnChanged, Round: 2, MyTurn: true, HostHealth: 80, GuestHealth: 70})
	agent.HandleTransition(reconcile.Transition{Kind: reconcile.TurnChanged, Round: 4, MyTurn: true, HostHealth: 60, GuestHealth: 70})
	agent.HandleTransition(reconcile.Transition{Kind: reconcile.TurnChanged, Round: 5, MyTurn: false, HostHealth: 60, GuestHealth: 65})

	select {
	case tr := <-agent.turns:
		if tr.Round != 4 {
			t.Errorf("Expected round 4 to be queued, got %d", tr.Round)
		}
	default:
		t.Fatal("Expected a queued turn")
	}

	v := agent.view(5)
	if v.MyHealth != 60 || v.OpponentHealth != 65 {
		t.Errorf("Expected view 60/65, got %+v", v)
	}

	agent.HandleTransition(reconcile.Transition{Kind: reconcile.BattleEnded})
	agent.HandleTransition(reconcile.Transition{Kind: reconcile.BattleEnded})
	if err := agent.Run(context.Background()); err != nil {
		t.Errorf("Run after the end should return nil, got %v", err)
	}
}

func TestBotStrategy_ChooseCard(t *testing.T) {
	bot := NewBotStrategy(1, 0, 7)
	card := func(id string) battle.Slot {
		c, err := battle.LookupCard(id)
		if err != nil {
			t.Fatalf("LookupCard(%s) failed: %v", id, err)
		}
		return battle.Slot{Card: c}
	}

	hand := battle.Hand{Slots: []battle.Slot{card(battle.CardBasicStrike), card(battle.CardRegeneration), card(battle.CardQuickDraw)}}
	if got := bot.ChooseCard(context.Background(), hand, TurnView{MyHealth: 40}); got != battle.CardRegeneration {
		t.Errorf("Expected a hurt bot to heal, got %s", got)
	}
	if got := bot.ChooseCard(context.Background(), hand, TurnView{MyHealth: 100}); got != battle.CardQuickDraw {
		t.Errorf("Expected a healthy bot to play its rarest attack, got %s", got)
	}

	rare := card(battle.CardMindControl)
	rare.Blocked = true
	hand = battle.Hand{Slots: []battle.Slot{card(battle.CardBasicStrike), rare, card(battle.CardAnswerShield)}}
	if got := bot.ChooseCard(context.Background(), hand, TurnView{MyHealth: 100}); got != battle.CardAnswerShield {
		t.Errorf("Expected the rarest unblocked card, got %s", got)
	}

	if got := bot.ChooseCard(context.Background(), battle.Hand{Suppressed: true}, TurnView{}); got != "" {
		t.Errorf("Expected no card from an empty hand, got %s", got)
	}
}

func TestConsoleStrategy(t *testing.T) {
	var out strings.Builder
	c := NewConsoleStrategy(strings.NewReader("2\nParis\n"), &out)
	strike, _ := battle.LookupCard(battle.CardBasicStrike)
	heal, _ := battle.LookupCard(battle.CardRegeneration)
	hand := battle.Hand{Slots: []battle.Slot{{Card: strike}, {Card: heal}}}

	ctx := context.Background()
	if got := c.ChooseCard(ctx, hand, TurnView{Round: 1, MyHealth: 100, OpponentHealth: 100}); got != battle.CardRegeneration {
		t.Errorf("Expected the second card, got %q", got)
	}
	q := battle.SelectedQuestion{Question: models.Question{Prompt: "Capital of France?"}, TimeLimit: 15 * time.Second}
	if got := c.Answer(ctx, q); got != "Paris" {
		t.Errorf("Expected Paris, got %q", got)
	}
	if !strings.Contains(out.String(), "Capital of France?") {
		t.Errorf("Expected the prompt to be printed, got %q", out.String())
	}

	// input is exhausted
	if got := c.Answer(ctx, q); got != "" {
		t.Errorf("Expected an empty answer at EOF, got %q", got)
	}
}
