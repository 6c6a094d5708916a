package services

import (
	"context"
	"errors"
	"testing"

	"github.com/wfunc/quizbattle/battle"
	"github.com/wfunc/quizbattle/models"
	"github.com/wfunc/quizbattle/persistence"
)

func newProgressService(t *testing.T) *ProgressService {
	t.Helper()
	db, err := persistence.OpenGorm(persistence.DBConfig{Driver: "sqlite", SQLitePath: ":memory:"})
	if err != nil {
		t.Fatalf("OpenGorm failed: %v", err)
	}
	return NewProgressService(db, nil)
}

func endedBattle(sessionID, winner string, host, guest int) *models.SessionState {
	return &models.SessionState{
		Session: models.BattleSession{
			SessionID:       sessionID,
			HostID:          "alice",
			GuestID:         "bob",
			BattleStarted:   true,
			BattleEndReason: models.EndReasonCompleted,
			WinnerID:        winner,
		},
		Score: models.BattleScore{HostHealth: host, GuestHealth: guest},
	}
}

func TestProgressService_SettleWinAndLoss(t *testing.T) {
	svc := newProgressService(t)
	ctx := context.Background()
	s := endedBattle("s1", "alice", 100, 40)

	win, err := svc.Settle(ctx, s, "alice")
	if err != nil {
		t.Fatalf("Settle failed: %v", err)
	}
	if !win.Applied || win.Outcome != battle.OutcomeWin {
		t.Fatalf("Expected an applied win, got %+v", win)
	}
	if win.Rewards != (models.RewardResult{XP: 125, Coins: 14}) {
		t.Errorf("Expected {125 14}, got %+v", win.Rewards)
	}
	if win.Progress.WinStreak != 1 || win.Progress.Wins != 1 {
		t.Errorf("Expected streak 1 and 1 win, got %+v", win.Progress)
	}

	loss, err := svc.Settle(ctx, s, "bob")
	if err != nil {
		t.Fatalf("Settle failed: %v", err)
	}
	if loss.Outcome != battle.OutcomeLoss || loss.Rewards != (models.RewardResult{XP: 85, Coins: 2}) {
		t.Errorf("Expected a {85 2} loss, got %+v", loss)
	}
	if loss.Progress.Losses != 1 || loss.Progress.WinStreak != 0 {
		t.Errorf("Expected 1 loss and no streak, got %+v", loss.Progress)
	}
}

func TestProgressService_SettleIsIdempotent(t *testing.T) {
	svc := newProgressService(t)
	ctx := context.Background()
	s := endedBattle("s1", "alice", 100, 40)

	first, err := svc.Settle(ctx, s, "alice")
	if err != nil {
		t.Fatalf("Settle failed: %v", err)
	}
	second, err := svc.Settle(ctx, s, "alice")
	if err != nil {
		t.Fatalf("Second Settle failed: %v", err)
	}
	if second.Applied {
		t.Error("Expected the second settlement to be a no-op")
	}
	if second.Rewards != first.Rewards || second.Outcome != first.Outcome {
		t.Errorf("Expected the recorded rewards %+v, got %+v", first.Rewards, second.Rewards)
	}

	progress, err := svc.GetProgress(ctx, "alice")
	if err != nil {
		t.Fatalf("GetProgress failed: %v", err)
	}
	if progress.Experience != 125 || progress.Coins != 14 || progress.Wins != 1 {
		t.Errorf("Expected rewards applied once, got %+v", progress)
	}
}

func TestProgressService_StreakGrowsAndResets(t *testing.T) {
	svc := newProgressService(t)
	ctx := context.Background()

	if _, err := svc.Settle(ctx, endedBattle("s1", "alice", 100, 40), "alice"); err != nil {
		t.Fatalf("Settle failed: %v", err)
	}
	second, err := svc.Settle(ctx, endedBattle("s2", "alice", 100, 40), "alice")
	if err != nil {
		t.Fatalf("Settle failed: %v", err)
	}
	if second.Rewards != (models.RewardResult{XP: 135, Coins: 17}) {
		t.Errorf("Expected the streak bonus {135 17}, got %+v", second.Rewards)
	}
	if second.Progress.WinStreak != 2 {
		t.Errorf("Expected streak 2, got %d", second.Progress.WinStreak)
	}

	third, err := svc.Settle(ctx, endedBattle("s3", "bob", 40, 100), "alice")
	if err != nil {
		t.Fatalf("Settle failed: %v", err)
	}
	if third.Progress.WinStreak != 0 || third.Progress.Losses != 1 {
		t.Errorf("Expected the loss to reset the streak, got %+v", third.Progress)
	}
}

func TestProgressService_PremiumAndDraws(t *testing.T) {
	svc := newProgressService(t)
	ctx := context.Background()
	if err := svc.SetPremium(ctx, "alice", true); err != nil {
		t.Fatalf("SetPremium failed: %v", err)
	}

	lost := endedBattle("s1", "", 70, 30)
	lost.Session.BattleEndReason = models.EndReasonConnectionLost
	res, err := svc.Settle(ctx, lost, "alice")
	if err != nil {
		t.Fatalf("Settle failed: %v", err)
	}
	if res.Outcome != battle.OutcomeDraw || res.Rewards != (models.RewardResult{XP: 200, Coins: 10}) {
		t.Errorf("Expected a doubled base draw, got %+v", res)
	}
	if res.Progress.WinStreak != 0 || res.Progress.Wins != 0 || res.Progress.Losses != 0 {
		t.Errorf("A draw should not touch the record, got %+v", res.Progress)
	}
}

func TestProgressService_RejectsActiveBattle(t *testing.T) {
	svc := newProgressService(t)
	s := endedBattle("s1", "", 100, 100)
	s.Session.IsActive = true
	s.Session.BattleEndReason = models.EndReasonNone

	if _, err := svc.Settle(context.Background(), s, "alice"); !errors.Is(err, battle.ErrBattleActive) {
		t.Errorf("Expected ErrBattleActive, got %v", err)
	}
	progress, err := svc.GetProgress(context.Background(), "nobody")
	if err != nil || progress.PlayerID != "nobody" || progress.Experience != 0 {
		t.Errorf("Expected empty progress for an unknown player, got %+v, %v", progress, err)
	}
}
