// persistence/gorm_store.go
package persistence

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/wfunc/quizbattle/models"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// GormStore 使用GORM的会话存储实现
type GormStore struct {
	db *gorm.DB
}

// DBConfig selects and addresses the backing database.
type DBConfig struct {
	Driver     string `mapstructure:"driver"`
	SQLitePath string `mapstructure:"sqlite_path"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	User       string `mapstructure:"user"`
	Password   string `mapstructure:"password"`
	DBName     string `mapstructure:"dbname"`
}

// OpenGorm 创建GORM数据库连接 and migrates the battle tables.
func OpenGorm(cfg DBConfig) (*gorm.DB, error) {
	// 配置GORM日志
	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold: time.Second,
			LogLevel:      logger.Silent,
			Colorful:      false,
		},
	)

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.SQLitePath)
	case "postgres", "":
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName)
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// 设置连接池
	if cfg.Driver == "sqlite" {
		// one writer keeps sqlite from returning SQLITE_BUSY under the row-lock emulation
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// AutoMigrate 自动迁移表结构
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.GormBattleSession{},
		&models.GormBattleRound{},
		&models.GormBattleScore{},
		&models.GormShownQuestion{},
		&models.GormCardEffect{},
		&models.GormBattleArchive{},
		&models.GormPlayerProgress{},
		&models.GormRewardRecord{},
	)
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// DB exposes the handle for services that share the connection.
func (p *GormStore) DB() *gorm.DB {
	return p.db
}

// Close 关闭数据库连接
func (p *GormStore) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// sessionRows are the rows a SessionState was loaded from.
type sessionRows struct {
	session models.GormBattleSession
	round   models.GormBattleRound
	score   models.GormBattleScore
	shown   map[string]bool
	effects map[string]models.GormCardEffect
}

func (p *GormStore) load(tx *gorm.DB, sessionID string, lock bool) (*models.SessionState, *sessionRows, error) {
	r := &sessionRows{shown: make(map[string]bool), effects: make(map[string]models.GormCardEffect)}

	q := tx
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := q.Where("session_id = ?", sessionID).First(&r.session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrSessionNotFound
		}
		return nil, nil, err
	}
	if err := tx.Where("session_id = ?", sessionID).First(&r.round).Error; err != nil {
		return nil, nil, err
	}
	if err := tx.Where("session_id = ?", sessionID).First(&r.score).Error; err != nil {
		return nil, nil, err
	}

	var shown []models.GormShownQuestion
	if err := tx.Where("session_id = ?", sessionID).Order("id").Find(&shown).Error; err != nil {
		return nil, nil, err
	}
	var effects []models.GormCardEffect
	if err := tx.Where("session_id = ?", sessionID).Order("id").Find(&effects).Error; err != nil {
		return nil, nil, err
	}

	s := &models.SessionState{
		Session: models.BattleSession{
			SessionID:       r.session.SessionID,
			LobbyCode:       r.session.LobbyCode,
			HostID:          r.session.HostID,
			GuestID:         r.session.GuestID,
			IsActive:        r.session.IsActive,
			BattleStarted:   r.session.BattleStarted,
			CurrentTurn:     r.session.CurrentTurn,
			TotalRounds:     r.session.TotalRounds,
			BattleEndReason: models.EndReason(r.session.BattleEndReason),
			WinnerID:        r.session.WinnerID,
			CreatedAt:       r.session.CreatedAt,
			UpdatedAt:       r.session.UpdatedAt,
		},
		Round: models.BattleRound{
			RoundNumber:         r.round.RoundNumber,
			HostCard:            r.round.HostCard,
			GuestCard:           r.round.GuestCard,
			ActiveQuestionID:    r.round.ActiveQuestionID,
			ActiveQuestionRound: r.round.ActiveQuestionRound,
		},
		Score: models.BattleScore{
			HostHealth:  r.score.HostHealth,
			GuestHealth: r.score.GuestHealth,
		},
	}
	for _, q := range shown {
		r.shown[q.QuestionID] = true
		s.Round.QuestionIDsDone = append(s.Round.QuestionIDsDone, q.QuestionID)
	}
	for _, row := range effects {
		r.effects[row.EffectID] = row
		e := models.EffectFromGorm(row)
		s.Effects = append(s.Effects, e)
		if row.EffectID == r.round.LastEffectID {
			last := e.Clone()
			s.Round.CardEffect = &last
		}
	}
	return s, r, nil
}

func (p *GormStore) save(tx *gorm.DB, r *sessionRows, s *models.SessionState) error {
	r.session.GuestID = s.Session.GuestID
	r.session.IsActive = s.Session.IsActive
	r.session.BattleStarted = s.Session.BattleStarted
	r.session.CurrentTurn = s.Session.CurrentTurn
	r.session.BattleEndReason = string(s.Session.BattleEndReason)
	r.session.WinnerID = s.Session.WinnerID
	if err := tx.Save(&r.session).Error; err != nil {
		return err
	}

	r.round.RoundNumber = s.Round.RoundNumber
	r.round.HostCard = s.Round.HostCard
	r.round.GuestCard = s.Round.GuestCard
	r.round.ActiveQuestionID = s.Round.ActiveQuestionID
	r.round.ActiveQuestionRound = s.Round.ActiveQuestionRound
	r.round.LastEffectID = ""
	if s.Round.CardEffect != nil {
		r.round.LastEffectID = s.Round.CardEffect.ID
	}
	if err := tx.Save(&r.round).Error; err != nil {
		return err
	}

	r.score.HostHealth = s.Score.HostHealth
	r.score.GuestHealth = s.Score.GuestHealth
	if err := tx.Save(&r.score).Error; err != nil {
		return err
	}

	for _, id := range s.Round.QuestionIDsDone {
		if r.shown[id] {
			continue
		}
		row := models.GormShownQuestion{SessionID: s.Session.SessionID, QuestionID: id}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
			return err
		}
	}

	keep := make(map[string]bool, len(s.Effects))
	for _, e := range s.Effects {
		keep[e.ID] = true
		row := models.EffectToGorm(s.Session.SessionID, e)
		if existing, ok := r.effects[e.ID]; ok {
			row.ID = existing.ID
			row.CreatedAt = existing.CreatedAt
			if err := tx.Save(&row).Error; err != nil {
				return err
			}
			continue
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
	}
	for id, row := range r.effects {
		if keep[id] {
			continue
		}
		if err := tx.Delete(&models.GormCardEffect{}, row.ID).Error; err != nil {
			return err
		}
	}
	return nil
}

// update loads the session under a row lock, applies fn and writes the result back in one transaction.
func (p *GormStore) update(ctx context.Context, sessionID string, fn func(s *models.SessionState, now time.Time) error) error {
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		s, rows, err := p.load(tx, sessionID, true)
		if err != nil {
			return err
		}
		if err := fn(s, time.Now()); err != nil {
			return err
		}
		return p.save(tx, rows, s)
	})
	return wrapDBError(err)
}

// wrapDBError keeps contract errors intact and turns everything else into ErrStoreUnavailable.
func wrapDBError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return err
		}
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrSessionNotFound
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

func (p *GormStore) GetSessionState(ctx context.Context, sessionID string) (*models.SessionState, error) {
	var state *models.SessionState
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		s, _, err := p.load(tx, sessionID, false)
		state = s
		return err
	})
	if err != nil {
		return nil, wrapDBError(err)
	}
	return state, nil
}

func (p *GormStore) SetFirstTurn(ctx context.Context, sessionID, playerID string) error {
	return p.update(ctx, sessionID, func(s *models.SessionState, now time.Time) error {
		return applySetFirstTurn(s, playerID, now)
	})
}

func (p *GormStore) AppendShownQuestion(ctx context.Context, sessionID string, round int, questionID string) (string, error) {
	var bound string
	err := p.update(ctx, sessionID, func(s *models.SessionState, now time.Time) error {
		var err error
		bound, err = applyAppendShownQuestion(s, round, questionID, now)
		return err
	})
	return bound, err
}

func (p *GormStore) RecordCardEffect(ctx context.Context, sessionID, playerID string, effect models.CardEffect) error {
	return p.update(ctx, sessionID, func(s *models.SessionState, now time.Time) error {
		return applyRecordEffect(s, playerID, effect, now)
	})
}

func (p *GormStore) ConsumeCardEffect(ctx context.Context, sessionID, playerID string, kind models.EffectKind, round int) (models.CardEffect, error) {
	var consumed models.CardEffect
	err := p.update(ctx, sessionID, func(s *models.SessionState, now time.Time) error {
		var err error
		consumed, err = applyConsumeEffect(s, playerID, kind, round, now)
		return err
	})
	return consumed, err
}

func (p *GormStore) ApplyHealthDelta(ctx context.Context, sessionID, playerID string, delta int) (int, error) {
	var health int
	err := p.update(ctx, sessionID, func(s *models.SessionState, now time.Time) error {
		var err error
		health, err = applyHealthDelta(s, playerID, delta, now)
		return err
	})
	return health, err
}

func (p *GormStore) CommitTurnResolution(ctx context.Context, sessionID string, commit models.TurnCommit) error {
	return p.update(ctx, sessionID, func(s *models.SessionState, now time.Time) error {
		return applyCommit(s, commit, now)
	})
}

func (p *GormStore) EndBattle(ctx context.Context, sessionID string, reason models.EndReason, winnerID string) error {
	return p.update(ctx, sessionID, func(s *models.SessionState, now time.Time) error {
		return applyEndBattle(s, reason, winnerID, now)
	})
}

func (p *GormStore) CreateSession(ctx context.Context, lobbyCode, hostID string, totalRounds int) (string, error) {
	if hostID == "" {
		return "", ErrInvalidPlayer
	}
	s := newSessionState(lobbyCode, hostID, totalRounds, time.Now())
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&models.GormBattleSession{
			SessionID:   s.Session.SessionID,
			LobbyCode:   lobbyCode,
			HostID:      hostID,
			IsActive:    true,
			TotalRounds: totalRounds,
		}).Error; err != nil {
			return err
		}
		if err := tx.Create(&models.GormBattleRound{
			SessionID:   s.Session.SessionID,
			RoundNumber: s.Round.RoundNumber,
		}).Error; err != nil {
			return err
		}
		return tx.Create(&models.GormBattleScore{
			SessionID:   s.Session.SessionID,
			HostHealth:  s.Score.HostHealth,
			GuestHealth: s.Score.GuestHealth,
		}).Error
	})
	if err != nil {
		return "", wrapDBError(err)
	}
	return s.Session.SessionID, nil
}

func (p *GormStore) JoinSession(ctx context.Context, sessionID, guestID string) error {
	return p.update(ctx, sessionID, func(s *models.SessionState, now time.Time) error {
		return applyJoin(s, guestID, now)
	})
}

// FindIdleSessions returns active sessions whose last write is older than cutoff.
func (p *GormStore) FindIdleSessions(ctx context.Context, cutoff time.Time) ([]string, error) {
	var ids []string
	err := p.db.WithContext(ctx).Model(&models.GormBattleSession{}).
		Where("is_active = ? AND updated_at < ?", true, cutoff).
		Pluck("session_id", &ids).Error
	return ids, wrapDBError(err)
}

// FindFinishedSessions returns ended sessions last written before cutoff.
func (p *GormStore) FindFinishedSessions(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	var ids []string
	err := p.db.WithContext(ctx).Model(&models.GormBattleSession{}).
		Where("is_active = ? AND updated_at < ?", false, cutoff).
		Order("updated_at").
		Limit(limit).
		Pluck("session_id", &ids).Error
	return ids, wrapDBError(err)
}

// ArchiveSession copies the terminal projection into battle_archives and removes the live rows.
func (p *GormStore) ArchiveSession(ctx context.Context, sessionID string) error {
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		s, _, err := p.load(tx, sessionID, true)
		if err != nil {
			return err
		}
		if s.Session.IsActive {
			return fmt.Errorf("session %s is still active: %w", sessionID, ErrStaleWrite)
		}
		archive := models.GormBattleArchive{
			SessionID:       sessionID,
			HostID:          s.Session.HostID,
			GuestID:         s.Session.GuestID,
			WinnerID:        s.Session.WinnerID,
			BattleEndReason: string(s.Session.BattleEndReason),
			Rounds:          s.Round.RoundNumber - 1,
			HostHealth:      s.Score.HostHealth,
			GuestHealth:     s.Score.GuestHealth,
			QuestionsShown:  len(s.Round.QuestionIDsDone),
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&archive).Error; err != nil {
			return err
		}
		for _, model := range []interface{}{
			&models.GormCardEffect{},
			&models.GormShownQuestion{},
			&models.GormBattleScore{},
			&models.GormBattleRound{},
			&models.GormBattleSession{},
		} {
			if err := tx.Unscoped().Where("session_id = ?", sessionID).Delete(model).Error; err != nil {
				return err
			}
		}
		return nil
	})
	return wrapDBError(err)
}
