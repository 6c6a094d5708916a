// models/gorm_models.go
package models

import (
	"time"

	"gorm.io/gorm"
)

// GormBattleSession 对战会话表
type GormBattleSession struct {
	gorm.Model
	SessionID       string `gorm:"uniqueIndex;size:64;not null"`
	LobbyCode       string `gorm:"index;size:32"`
	HostID          string `gorm:"size:64;not null"`
	GuestID         string `gorm:"size:64"`
	IsActive        bool   `gorm:"default:true;index"`
	BattleStarted   bool   `gorm:"default:false"`
	CurrentTurn     string `gorm:"size:64"`
	TotalRounds     int    `gorm:"not null"`
	BattleEndReason string `gorm:"size:32"`
	WinnerID        string `gorm:"size:64"`
}

func (GormBattleSession) TableName() string { return "battle_sessions" }

// GormBattleRound 回合表
type GormBattleRound struct {
	gorm.Model
	SessionID           string `gorm:"uniqueIndex;size:64;not null"`
	RoundNumber         int    `gorm:"not null;default:1"`
	HostCard            string `gorm:"size:64"`
	GuestCard           string `gorm:"size:64"`
	LastEffectID        string `gorm:"size:64"`
	ActiveQuestionID    string `gorm:"size:128"`
	ActiveQuestionRound int    `gorm:"default:0"`
}

func (GormBattleRound) TableName() string { return "battle_rounds" }

// GormBattleScore 血量表
type GormBattleScore struct {
	gorm.Model
	SessionID   string `gorm:"uniqueIndex;size:64;not null"`
	HostHealth  int    `gorm:"not null"`
	GuestHealth int    `gorm:"not null"`
}

func (GormBattleScore) TableName() string { return "battle_scores" }

// GormShownQuestion is one member of question_ids_done; the composite unique
// index turns inserts into set-union appends.
type GormShownQuestion struct {
	ID         uint      `gorm:"primaryKey"`
	SessionID  string    `gorm:"uniqueIndex:idx_shown_question;size:64;not null"`
	QuestionID string    `gorm:"uniqueIndex:idx_shown_question;size:128;not null"`
	CreatedAt  time.Time `gorm:"index"`
}

func (GormShownQuestion) TableName() string { return "battle_shown_questions" }

// GormCardEffect 卡牌效果表, parameters flattened per kind.
type GormCardEffect struct {
	ID                   uint   `gorm:"primaryKey"`
	EffectID             string `gorm:"uniqueIndex;size:64;not null"`
	SessionID            string `gorm:"index;size:64;not null"`
	Card                 string `gorm:"size:64;not null"`
	Kind                 string `gorm:"size:32;not null"`
	OwnerID              string `gorm:"size:64"`
	TargetID             string `gorm:"index;size:64"`
	AppliedAt            time.Time
	AppliedRound         int
	Used                 bool
	ConsumedRound        int
	ReductionPercent     int
	MinTimeMillis        int64
	BlockedSlots         int
	HealthAmount         int
	PoisonTickDamage     int
	PoisonTurnsRemaining int
	CreatedAt            time.Time
}

func (GormCardEffect) TableName() string { return "battle_card_effects" }

// GormBattleArchive keeps the terminal projection of a finished battle.
type GormBattleArchive struct {
	gorm.Model
	SessionID       string `gorm:"uniqueIndex;size:64;not null"`
	HostID          string `gorm:"size:64"`
	GuestID         string `gorm:"size:64"`
	WinnerID        string `gorm:"size:64"`
	BattleEndReason string `gorm:"size:32"`
	Rounds          int
	HostHealth      int
	GuestHealth     int
	QuestionsShown  int
}

func (GormBattleArchive) TableName() string { return "battle_archives" }

// GormPlayerProgress 玩家成长数据
type GormPlayerProgress struct {
	gorm.Model
	PlayerID   string `gorm:"uniqueIndex;size:64;not null"`
	Experience int    `gorm:"default:0"`
	Coins      int64  `gorm:"default:0"`
	WinStreak  int    `gorm:"default:0"`
	Wins       int    `gorm:"default:0"`
	Losses     int    `gorm:"default:0"`
	IsPremium  bool   `gorm:"default:false"`
}

func (GormPlayerProgress) TableName() string { return "player_progress" }

// GormRewardRecord makes reward application idempotent per (session, player).
type GormRewardRecord struct {
	ID        uint   `gorm:"primaryKey"`
	SessionID string `gorm:"uniqueIndex:idx_reward_once;size:64;not null"`
	PlayerID  string `gorm:"uniqueIndex:idx_reward_once;size:64;not null"`
	Outcome   string `gorm:"size:16"`
	XP        int
	Coins     int
	CreatedAt time.Time
}

func (GormRewardRecord) TableName() string { return "reward_records" }

// EffectToGorm flattens a CardEffect into its row.
func EffectToGorm(sessionID string, e CardEffect) GormCardEffect {
	row := GormCardEffect{
		EffectID:      e.ID,
		SessionID:     sessionID,
		Card:          e.Card,
		Kind:          string(e.Kind),
		OwnerID:       e.OwnerID,
		TargetID:      e.TargetID,
		AppliedAt:     e.AppliedAt,
		AppliedRound:  e.AppliedRound,
		Used:          e.Used,
		ConsumedRound: e.ConsumedRound,
	}
	if e.TimeReduction != nil {
		row.ReductionPercent = e.TimeReduction.Percent
		row.MinTimeMillis = e.TimeReduction.MinTime.Milliseconds()
	}
	if e.Shield != nil {
		row.BlockedSlots = e.Shield.BlockedSlots
	}
	if e.Heal != nil {
		row.HealthAmount = e.Heal.Amount
	}
	if e.Poison != nil {
		row.PoisonTickDamage = e.Poison.TickDamage
		row.PoisonTurnsRemaining = e.Poison.TurnsRemaining
	}
	return row
}

// EffectFromGorm rebuilds the tagged variant from a row.
func EffectFromGorm(row GormCardEffect) CardEffect {
	e := CardEffect{
		ID:            row.EffectID,
		Card:          row.Card,
		Kind:          EffectKind(row.Kind),
		OwnerID:       row.OwnerID,
		TargetID:      row.TargetID,
		AppliedAt:     row.AppliedAt,
		AppliedRound:  row.AppliedRound,
		Used:          row.Used,
		ConsumedRound: row.ConsumedRound,
	}
	switch e.Kind {
	case EffectReduceTime:
		e.TimeReduction = &TimeReduction{Percent: row.ReductionPercent, MinTime: time.Duration(row.MinTimeMillis) * time.Millisecond}
	case EffectBlockCards:
		e.Shield = &Shield{BlockedSlots: row.BlockedSlots}
	case EffectHeal:
		e.Heal = &Heal{Amount: row.HealthAmount}
	case EffectPoison:
		e.Poison = &Poison{TickDamage: row.PoisonTickDamage, TurnsRemaining: row.PoisonTurnsRemaining}
	}
	return e
}
