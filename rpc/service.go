package rpc

import (
	"context"
	"errors"
	"time"

	"github.com/wfunc/quizbattle/models"
	"github.com/wfunc/quizbattle/persistence"
	"github.com/wfunc/quizbattle/services"
)

// ErrNoProgress is returned for reward calls on a server without a progress service.
var ErrNoProgress = errors.New("progress service not configured")

// SessionStoreService exposes a persistence.Store and the progress service over net/rpc.
// Each method follows the net/rpc signature: exported args, pointer reply, error.
type SessionStoreService struct {
	store    persistence.Store
	progress *services.ProgressService
	timeout  time.Duration
	onCall   func()
}

// NewSessionStoreService wraps store. progress may be nil.
func NewSessionStoreService(store persistence.Store, progress *services.ProgressService) *SessionStoreService {
	return &SessionStoreService{store: store, progress: progress, timeout: 10 * time.Second}
}

// OnCall registers a hook run at the start of every call, e.g. a request counter.
func (s *SessionStoreService) OnCall(fn func()) {
	s.onCall = fn
}

func (s *SessionStoreService) ctx() (context.Context, context.CancelFunc) {
	if s.onCall != nil {
		s.onCall()
	}
	return context.WithTimeout(context.Background(), s.timeout)
}

type SessionArgs struct {
	SessionID string
}

type StateReply struct {
	State *models.SessionState
}

func (s *SessionStoreService) GetSessionState(args *SessionArgs, reply *StateReply) error {
	ctx, cancel := s.ctx()
	defer cancel()
	state, err := s.store.GetSessionState(ctx, args.SessionID)
	if err != nil {
		return err
	}
	reply.State = state
	return nil
}

type PlayerArgs struct {
	SessionID string
	PlayerID  string
}

type Empty struct{}

func (s *SessionStoreService) SetFirstTurn(args *PlayerArgs, _ *Empty) error {
	ctx, cancel := s.ctx()
	defer cancel()
	return s.store.SetFirstTurn(ctx, args.SessionID, args.PlayerID)
}

type ShownQuestionArgs struct {
	SessionID  string
	Round      int
	QuestionID string
}

type QuestionReply struct {
	QuestionID string
}

func (s *SessionStoreService) AppendShownQuestion(args *ShownQuestionArgs, reply *QuestionReply) error {
	ctx, cancel := s.ctx()
	defer cancel()
	bound, err := s.store.AppendShownQuestion(ctx, args.SessionID, args.Round, args.QuestionID)
	if err != nil {
		return err
	}
	reply.QuestionID = bound
	return nil
}

type RecordEffectArgs struct {
	SessionID string
	PlayerID  string
	Effect    models.CardEffect
}

func (s *SessionStoreService) RecordCardEffect(args *RecordEffectArgs, _ *Empty) error {
	ctx, cancel := s.ctx()
	defer cancel()
	return s.store.RecordCardEffect(ctx, args.SessionID, args.PlayerID, args.Effect)
}

type ConsumeEffectArgs struct {
	SessionID string
	PlayerID  string
	Kind      models.EffectKind
	Round     int
}

type EffectReply struct {
	Effect models.CardEffect
}

func (s *SessionStoreService) ConsumeCardEffect(args *ConsumeEffectArgs, reply *EffectReply) error {
	ctx, cancel := s.ctx()
	defer cancel()
	effect, err := s.store.ConsumeCardEffect(ctx, args.SessionID, args.PlayerID, args.Kind, args.Round)
	if err != nil {
		return err
	}
	reply.Effect = effect
	return nil
}

type HealthDeltaArgs struct {
	SessionID string
	PlayerID  string
	Delta     int
}

type HealthReply struct {
	Health int
}

func (s *SessionStoreService) ApplyHealthDelta(args *HealthDeltaArgs, reply *HealthReply) error {
	ctx, cancel := s.ctx()
	defer cancel()
	health, err := s.store.ApplyHealthDelta(ctx, args.SessionID, args.PlayerID, args.Delta)
	if err != nil {
		return err
	}
	reply.Health = health
	return nil
}

type CommitArgs struct {
	SessionID string
	Commit    models.TurnCommit
}

func (s *SessionStoreService) CommitTurnResolution(args *CommitArgs, _ *Empty) error {
	ctx, cancel := s.ctx()
	defer cancel()
	return s.store.CommitTurnResolution(ctx, args.SessionID, args.Commit)
}

type EndBattleArgs struct {
	SessionID string
	Reason    models.EndReason
	WinnerID  string
}

func (s *SessionStoreService) EndBattle(args *EndBattleArgs, _ *Empty) error {
	ctx, cancel := s.ctx()
	defer cancel()
	return s.store.EndBattle(ctx, args.SessionID, args.Reason, args.WinnerID)
}

type CreateSessionArgs struct {
	LobbyCode   string
	HostID      string
	TotalRounds int
}

type CreateSessionReply struct {
	SessionID string
}

func (s *SessionStoreService) CreateSession(args *CreateSessionArgs, reply *CreateSessionReply) error {
	ctx, cancel := s.ctx()
	defer cancel()
	id, err := s.store.CreateSession(ctx, args.LobbyCode, args.HostID, args.TotalRounds)
	if err != nil {
		return err
	}
	reply.SessionID = id
	return nil
}

func (s *SessionStoreService) JoinSession(args *PlayerArgs, _ *Empty) error {
	ctx, cancel := s.ctx()
	defer cancel()
	return s.store.JoinSession(ctx, args.SessionID, args.PlayerID)
}

// SettleReply carries a services.Settlement without the gorm row.
type SettleReply struct {
	Rewards   models.RewardResult
	Outcome   string
	WinStreak int
	Applied   bool
}

// SettleRewards settles the caller's rewards from the stored, finished session.
func (s *SessionStoreService) SettleRewards(args *PlayerArgs, reply *SettleReply) error {
	if s.progress == nil {
		return ErrNoProgress
	}
	ctx, cancel := s.ctx()
	defer cancel()
	state, err := s.store.GetSessionState(ctx, args.SessionID)
	if err != nil {
		return err
	}
	res, err := s.progress.Settle(ctx, state, args.PlayerID)
	if err != nil {
		return err
	}
	*reply = SettleReply{
		Rewards:   res.Rewards,
		Outcome:   string(res.Outcome),
		WinStreak: res.Progress.WinStreak,
		Applied:   res.Applied,
	}
	return nil
}

type ProgressArgs struct {
	PlayerID string
}

type ProgressReply struct {
	Experience int
	Coins      int64
	WinStreak  int
	Wins       int
	Losses     int
	IsPremium  bool
}

func (s *SessionStoreService) GetProgress(args *ProgressArgs, reply *ProgressReply) error {
	if s.progress == nil {
		return ErrNoProgress
	}
	ctx, cancel := s.ctx()
	defer cancel()
	p, err := s.progress.GetProgress(ctx, args.PlayerID)
	if err != nil {
		return err
	}
	*reply = ProgressReply{
		Experience: p.Experience,
		Coins:      p.Coins,
		WinStreak:  p.WinStreak,
		Wins:       p.Wins,
		Losses:     p.Losses,
		IsPremium:  p.IsPremium,
	}
	return nil
}
