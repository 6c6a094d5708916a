package battle

import (
	"errors"

	"github.com/wfunc/quizbattle/models"
	"github.com/wfunc/quizbattle/persistence"
)

const (
	baseXP    = 100
	baseCoins = 5

	streakXPPerWin    = 10
	streakXPCap       = 50
	streakCoinsPerWin = 3
	streakCoinsCapWin = 5
)

// ErrBattleActive is returned when rewards are asked for before the battle ended.
var ErrBattleActive = errors.New("battle is still active")

// Outcome is a player's result in a finished battle.
type Outcome string

const (
	OutcomeWin  Outcome = "win"
	OutcomeLoss Outcome = "loss"
	OutcomeDraw Outcome = "draw"
)

// ComputeRewards turns a battle result into xp and coins. winStreak counts
// the current streak including this win and only matters for winners.
func ComputeRewards(isWinner bool, myHealth, oppHealth, winStreak int, isPremium bool) models.RewardResult {
	xp, coins := baseXP, baseCoins
	diff := myHealth - oppHealth
	if diff < 0 {
		diff = -diff
	}

	if isWinner {
		xp += diff / 4
		coins += diff / 10
		if winStreak > 0 {
			xp += min(winStreak*streakXPPerWin, streakXPCap)
			coins += min(winStreak, streakCoinsCapWin) * streakCoinsPerWin
		}
	} else {
		xp -= diff / 4
		coins -= (diff / 10) / 2
	}

	if isPremium {
		xp *= 2
		coins *= 2
	}
	return models.RewardResult{XP: max(xp, 0), Coins: max(coins, 0)}
}

// SettleRewards computes playerID's rewards from a finished battle. Lost
// connections and draws award the base amounts only.
func SettleRewards(s *models.SessionState, playerID string, winStreak int, isPremium bool) (models.RewardResult, Outcome, error) {
	if !s.Session.HasPlayer(playerID) {
		return models.RewardResult{}, "", persistence.ErrInvalidPlayer
	}
	if s.Session.IsActive {
		return models.RewardResult{}, "", ErrBattleActive
	}

	if s.Session.BattleEndReason == models.EndReasonConnectionLost || s.Session.WinnerID == "" {
		return ComputeRewards(false, 0, 0, 0, isPremium), OutcomeDraw, nil
	}

	my := s.HealthOf(playerID)
	opp := s.HealthOf(s.Session.Opponent(playerID))
	if s.Session.WinnerID == playerID {
		return ComputeRewards(true, my, opp, winStreak, isPremium), OutcomeWin, nil
	}
	return ComputeRewards(false, my, opp, 0, isPremium), OutcomeLoss, nil
}
