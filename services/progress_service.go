// services/progress_service.go
package services

import (
	"context"
	"errors"

	"github.com/wfunc/quizbattle/battle"
	"github.com/wfunc/quizbattle/logger"
	"github.com/wfunc/quizbattle/models"
	"github.com/wfunc/quizbattle/monitor"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Settlement is the reward a player received for one battle.
type Settlement struct {
	Rewards  models.RewardResult
	Outcome  battle.Outcome
	Progress models.GormPlayerProgress
	// Applied is false when the battle had already been settled for this player.
	Applied bool
}

// ProgressService persists experience, coins and win streaks.
type ProgressService struct {
	db      *gorm.DB
	metrics *monitor.Metrics
}

func NewProgressService(db *gorm.DB, metrics *monitor.Metrics) *ProgressService {
	return &ProgressService{db: db, metrics: metrics}
}

// GetProgress 获取玩家成长数据; unknown players have empty progress.
func (s *ProgressService) GetProgress(ctx context.Context, playerID string) (models.GormPlayerProgress, error) {
	var progress models.GormPlayerProgress
	err := s.db.WithContext(ctx).Where("player_id = ?", playerID).First(&progress).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.GormPlayerProgress{PlayerID: playerID}, nil
	}
	return progress, err
}

// SetPremium marks a player as premium or not.
func (s *ProgressService) SetPremium(ctx context.Context, playerID string, premium bool) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		progress, err := lockProgress(tx, playerID)
		if err != nil {
			return err
		}
		return tx.Model(&progress).Update("is_premium", premium).Error
	})
}

// Settle applies playerID's rewards for a finished battle exactly once.
func (s *ProgressService) Settle(ctx context.Context, state *models.SessionState, playerID string) (Settlement, error) {
	var result Settlement

	// 使用事务确保数据一致性
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		progress, err := lockProgress(tx, playerID)
		if err != nil {
			return err
		}

		// the streak counts this battle if it turns out to be a win
		rewards, outcome, err := battle.SettleRewards(state, playerID, progress.WinStreak+1, progress.IsPremium)
		if err != nil {
			return err
		}

		record := models.GormRewardRecord{
			SessionID: state.Session.SessionID,
			PlayerID:  playerID,
			Outcome:   string(outcome),
			XP:        rewards.XP,
			Coins:     rewards.Coins,
		}
		insert := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&record)
		if insert.Error != nil {
			return insert.Error
		}
		if insert.RowsAffected == 0 {
			var existing models.GormRewardRecord
			if err := tx.Where("session_id = ? AND player_id = ?", state.Session.SessionID, playerID).First(&existing).Error; err != nil {
				return err
			}
			result = Settlement{
				Rewards:  models.RewardResult{XP: existing.XP, Coins: existing.Coins},
				Outcome:  battle.Outcome(existing.Outcome),
				Progress: progress,
			}
			return nil
		}

		progress.Experience += rewards.XP
		progress.Coins += int64(rewards.Coins)
		switch outcome {
		case battle.OutcomeWin:
			progress.WinStreak++
			progress.Wins++
		case battle.OutcomeLoss:
			progress.WinStreak = 0
			progress.Losses++
		}
		if err := tx.Save(&progress).Error; err != nil {
			return err
		}

		result = Settlement{Rewards: rewards, Outcome: outcome, Progress: progress, Applied: true}
		return nil
	})
	if err != nil {
		return Settlement{}, err
	}

	if result.Applied {
		s.metrics.RewardSettled(string(result.Outcome))
		logger.Log.Infof("session %s: %s settled as %s (+%d xp, +%d coins, streak %d)",
			state.Session.SessionID, playerID, result.Outcome, result.Rewards.XP, result.Rewards.Coins, result.Progress.WinStreak)
	}
	return result, nil
}

// lockProgress loads the player's progress row for update, creating it on first use.
func lockProgress(tx *gorm.DB, playerID string) (models.GormPlayerProgress, error) {
	progress := models.GormPlayerProgress{PlayerID: playerID}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&progress).Error; err != nil {
		return progress, err
	}
	var locked models.GormPlayerProgress
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("player_id = ?", playerID).First(&locked).Error
	return locked, err
}
