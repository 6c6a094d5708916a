package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/wfunc/quizbattle/battle"
	"github.com/wfunc/quizbattle/config"
	"github.com/wfunc/quizbattle/logger"
	"github.com/wfunc/quizbattle/monitor"
	"github.com/wfunc/quizbattle/persistence"
	"github.com/wfunc/quizbattle/reconcile"
	quizbattle_rpc "github.com/wfunc/quizbattle/rpc"
	"github.com/wfunc/quizbattle/server"
	"github.com/wfunc/quizbattle/services"
	"github.com/wfunc/quizbattle/timer"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", ".", "directory holding config.yaml")
	flag.Parse()

	logger.InitDevelopment()
	defer logger.Sync()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Log.Fatalf("Failed to load configuration: %v", err)
	}
	cc := cfg.Client
	if cc.PlayerID == "" {
		logger.Log.Fatal("client.player_id is required (QUIZBATTLE_CLIENT_PLAYER_ID)")
	}
	if !cc.Host && cc.SessionID == "" {
		logger.Log.Fatal("a guest needs client.session_id (QUIZBATTLE_CLIENT_SESSION_ID)")
	}

	pool, err := config.LoadQuestionPool(cc.QuestionsFile, cc.Difficulty)
	if err != nil {
		logger.Log.Fatalf("Failed to load questions: %v", err)
	}

	remote, err := quizbattle_rpc.Dial(cc.StoreAddress)
	if err != nil {
		logger.Log.Fatalf("Failed to reach the session store: %v", err)
	}
	defer remote.Close()

	metrics := monitor.NewMetrics("quizbattle_client", prometheus.NewRegistry())
	store := persistence.NewRetryingStore(remote, cfg.Retry, func(op string, err error, wait time.Duration) {
		metrics.StoreRetry(op)
		logger.Log.Warnf("%s failed, retrying in %s: %v", op, wait, err)
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessionID := cc.SessionID
	if cc.Host {
		sessionID, err = store.CreateSession(ctx, cc.LobbyCode, cc.PlayerID, cc.TotalRounds)
		if err != nil {
			logger.Log.Fatalf("Failed to create session: %v", err)
		}
		logger.Log.Infof("Created session %s; start the guest with QUIZBATTLE_CLIENT_SESSION_ID=%s", sessionID, sessionID)
	} else if err := store.JoinSession(ctx, sessionID, cc.PlayerID); err != nil {
		logger.Log.Fatalf("Failed to join session %s: %v", sessionID, err)
	}

	engine := battle.NewEngine(store, cfg.Engine, battle.WithMetrics(metrics))
	loop := reconcile.New(engine, sessionID, cc.PlayerID, reconcile.Config{PollWaiting: cc.PollWaiting, PollRunning: cc.PollRunning}, metrics)

	timers := timer.NewTimerManager(100 * time.Millisecond)
	defer timers.Stop()

	var strategy services.Strategy = services.NewBotStrategy(cc.BotAccuracy, cc.BotThink, uint64(time.Now().UnixNano()))
	if cc.Interactive {
		strategy = services.NewConsoleStrategy(os.Stdin, os.Stdout)
	}
	agent := services.NewBattleAgent(engine, timers, services.AgentConfig{
		SessionID: sessionID,
		PlayerID:  cc.PlayerID,
		IsHost:    cc.Host,
		Tier:      cc.Difficulty,
		Pool:      pool,
		Strategy:  strategy,
		OnTurn:    func(battle.TurnResult) { loop.Nudge() },
	})
	loop.AddSink(agent)
	loop.AddSink(reconcile.SinkFunc(logTransition))

	var feed *server.FeedServer
	if cc.UIAddress != "" {
		feed = server.NewFeedServer(cc.UIAddress, loop, 30*time.Second)
		go func() {
			if err := feed.Start(); err != nil {
				logger.Log.Errorf("UI feed stopped: %v", err)
			}
		}()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return loop.Run(gctx) })
	g.Go(func() error { return agent.Run(gctx) })
	err = g.Wait()

	// interrupted mid-battle: tell the opponent we left
	if ctx.Err() != nil {
		leaveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := engine.Leave(leaveCtx, sessionID, cc.PlayerID); err != nil {
			logger.Log.Warnf("Failed to leave session %s: %v", sessionID, err)
		}
		cancel()
	} else if err != nil && !errors.Is(err, context.Canceled) {
		logger.Log.Errorf("Battle stopped: %v", err)
	}

	if feed != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		feed.Shutdown(shutdownCtx)
		cancel()
	}

	settleCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	settled, err := remote.SettleRewards(settleCtx, sessionID, cc.PlayerID)
	if err != nil {
		logger.Log.Errorf("Failed to settle rewards: %v", err)
		return
	}
	fmt.Printf("Battle over (%s): +%d XP, +%d coins, win streak %d\n",
		settled.Outcome, settled.Rewards.XP, settled.Rewards.Coins, settled.WinStreak)
}

func logTransition(t reconcile.Transition) {
	switch t.Kind {
	case reconcile.FirstTurnAssigned, reconcile.TurnChanged:
		logger.Log.Infof("round %d: %s to play", t.Round, t.CurrentTurn)
	case reconcile.HealthChanged:
		logger.Log.Infof("health: host %d (%+d), guest %d (%+d)", t.HostHealth, t.HostDelta, t.GuestHealth, t.GuestDelta)
	case reconcile.BattleEnded:
		logger.Log.Infof("battle ended: %s, winner %q", t.Reason, t.WinnerID)
	}
}
