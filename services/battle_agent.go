package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wfunc/quizbattle/battle"
	"github.com/wfunc/quizbattle/logger"
	"github.com/wfunc/quizbattle/models"
	"github.com/wfunc/quizbattle/reconcile"
	"github.com/wfunc/quizbattle/timer"
)

// TurnView is what a strategy knows when it picks a card.
type TurnView struct {
	Round          int
	MyHealth       int
	OpponentHealth int
}

// Strategy plays one side. Answer must return promptly once ctx is done.
type Strategy interface {
	ChooseCard(ctx context.Context, hand battle.Hand, view TurnView) string
	Answer(ctx context.Context, q battle.SelectedQuestion) string
}

// BattleAgent plays a player's turns as the reconciliation loop reports them.
type BattleAgent struct {
	engine    *battle.Engine
	sessionID string
	playerID  string
	isHost    bool
	tier      models.Difficulty
	pool      []models.Question
	strategy  Strategy
	deadline  func(d time.Duration) (<-chan struct{}, func())
	onTurn    func(battle.TurnResult)

	turns chan reconcile.Transition
	ended chan struct{}
	once  sync.Once

	mutex      sync.Mutex
	lastRound  int
	lastHealth [2]int
}

type AgentConfig struct {
	SessionID string
	PlayerID  string
	IsHost    bool
	Tier      models.Difficulty
	Pool      []models.Question
	Strategy  Strategy
	// OnTurn is called after each committed turn, e.g. to nudge the loop.
	OnTurn func(battle.TurnResult)
}

func NewBattleAgent(engine *battle.Engine, timers *timer.TimerManager, cfg AgentConfig) *BattleAgent {
	return &BattleAgent{
		engine:     engine,
		sessionID:  cfg.SessionID,
		playerID:   cfg.PlayerID,
		isHost:     cfg.IsHost,
		tier:       cfg.Tier,
		pool:       cfg.Pool,
		strategy:   cfg.Strategy,
		deadline:   timers.Deadline,
		onTurn:     cfg.OnTurn,
		turns:      make(chan reconcile.Transition, 1),
		ended:      make(chan struct{}),
		lastHealth: [2]int{models.MaxHealth, models.MaxHealth},
	}
}

// HandleTransition queues the agent's turns; it never blocks the loop.
func (a *BattleAgent) HandleTransition(t reconcile.Transition) {
	a.mutex.Lock()
	a.lastHealth = [2]int{t.HostHealth, t.GuestHealth}
	a.mutex.Unlock()

	switch t.Kind {
	case reconcile.BattleEnded:
		a.once.Do(func() { close(a.ended) })
	case reconcile.FirstTurnAssigned, reconcile.TurnChanged:
		if !t.MyTurn {
			return
		}
		// keep only the newest turn
		select {
		case <-a.turns:
		default:
		}
		a.turns <- t
	}
}

// Run plays queued turns until the battle ends or ctx is done.
func (a *BattleAgent) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.ended:
			return nil
		case t := <-a.turns:
			if t.Round <= a.playedRound() {
				continue
			}
			if _, err := a.PlayTurn(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logger.Log.Warnf("session %s round %d: %s could not play: %v", a.sessionID, t.Round, a.playerID, err)
			}
		}
	}
}

func (a *BattleAgent) playedRound() int {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.lastRound
}

func (a *BattleAgent) view(round int) TurnView {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	v := TurnView{Round: round, MyHealth: a.lastHealth[1], OpponentHealth: a.lastHealth[0]}
	if a.isHost {
		v.MyHealth, v.OpponentHealth = a.lastHealth[0], a.lastHealth[1]
	}
	return v
}

// PlayTurn draws, picks a card, answers against the clock and resolves the
// current round. A turn that is no longer ours is skipped without error.
func (a *BattleAgent) PlayTurn(ctx context.Context) (battle.TurnResult, error) {
	hand, err := a.engine.DrawHand(ctx, a.sessionID, a.playerID, a.tier)
	if errors.Is(err, battle.ErrNotYourTurn) || errors.Is(err, battle.ErrBattleOver) {
		return battle.TurnResult{}, nil
	}
	if err != nil {
		return battle.TurnResult{}, err
	}

	if hand.Suppressed {
		// mind control: no question, no card, resolved as unanswered
		return a.resolve(ctx, battle.TurnInput{
			SessionID: a.sessionID,
			PlayerID:  a.playerID,
			Round:     hand.Round,
			TimedOut:  true,
		})
	}

	sel, err := a.engine.SelectQuestion(ctx, a.sessionID, a.playerID, a.pool)
	if errors.Is(err, battle.ErrPoolExhausted) {
		end, err := a.engine.ConcludePoolExhausted(ctx, a.sessionID)
		if err != nil {
			return battle.TurnResult{}, err
		}
		res := battle.TurnResult{End: &end}
		if a.onTurn != nil {
			a.onTurn(res)
		}
		return res, nil
	}
	if err != nil {
		return battle.TurnResult{}, err
	}

	card := a.strategy.ChooseCard(ctx, hand, a.view(sel.Round))
	if card != "" && !hand.Selectable(card) {
		logger.Log.Warnf("session %s round %d: %s picked unavailable card %s", a.sessionID, sel.Round, a.playerID, card)
		card = ""
	}

	answer, timedOut, err := a.answer(ctx, sel)
	if err != nil {
		return battle.TurnResult{}, err
	}

	return a.resolve(ctx, battle.TurnInput{
		SessionID: a.sessionID,
		PlayerID:  a.playerID,
		Round:     sel.Round,
		CardID:    card,
		Question:  sel.Question,
		Answer:    answer,
		TimedOut:  timedOut,
	})
}

func (a *BattleAgent) resolve(ctx context.Context, in battle.TurnInput) (battle.TurnResult, error) {
	res, err := a.engine.ResolveTurn(ctx, in)
	if err != nil {
		return battle.TurnResult{}, err
	}

	a.mutex.Lock()
	a.lastRound = in.Round
	a.mutex.Unlock()
	if a.onTurn != nil {
		a.onTurn(res)
	}
	return res, nil
}

// answer waits for the strategy or the question's time limit, whichever comes first.
func (a *BattleAgent) answer(ctx context.Context, sel battle.SelectedQuestion) (string, bool, error) {
	expired, cancel := a.deadline(sel.TimeLimit)
	defer cancel()

	answerCtx, stop := context.WithCancel(ctx)
	defer stop()
	answers := make(chan string, 1)
	go func() { answers <- a.strategy.Answer(answerCtx, sel) }()

	select {
	case ans := <-answers:
		return ans, false, nil
	case <-expired:
		logger.Log.Infof("session %s round %d: %s ran out of time (%s)", a.sessionID, sel.Round, a.playerID, sel.TimeLimit)
		return "", true, nil
	case <-ctx.Done():
		return "", false, ctx.Err()
	}
}
