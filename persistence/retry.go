package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/wfunc/quizbattle/models"
)

// RetryConfig bounds how hard RetryingStore tries before giving up.
type RetryConfig struct {
	MaxTries        uint          `mapstructure:"max_tries"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

// DefaultRetryConfig is used for zero fields.
var DefaultRetryConfig = RetryConfig{
	MaxTries:        5,
	InitialInterval: 200 * time.Millisecond,
	MaxInterval:     2 * time.Second,
}

// RetryingStore retries ErrStoreUnavailable with exponential backoff. Every
// other error is returned on the first attempt; contract operations are
// idempotent, so replaying a write that may have landed is safe.
type RetryingStore struct {
	next    Store
	cfg     RetryConfig
	onRetry func(op string, err error, wait time.Duration)
}

func NewRetryingStore(next Store, cfg RetryConfig, onRetry func(op string, err error, wait time.Duration)) *RetryingStore {
	if cfg.MaxTries == 0 {
		cfg.MaxTries = DefaultRetryConfig.MaxTries
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = DefaultRetryConfig.InitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = DefaultRetryConfig.MaxInterval
	}
	return &RetryingStore{next: next, cfg: cfg, onRetry: onRetry}
}

func retry[T any](ctx context.Context, r *RetryingStore, op string, fn func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialInterval
	b.MaxInterval = r.cfg.MaxInterval

	return backoff.Retry(ctx, func() (T, error) {
		v, err := fn()
		if err != nil && !errors.Is(err, ErrStoreUnavailable) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(r.cfg.MaxTries),
		backoff.WithNotify(func(err error, wait time.Duration) {
			if r.onRetry != nil {
				r.onRetry(op, err, wait)
			}
		}),
	)
}

func (r *RetryingStore) GetSessionState(ctx context.Context, sessionID string) (*models.SessionState, error) {
	return retry(ctx, r, "get_session_state", func() (*models.SessionState, error) {
		return r.next.GetSessionState(ctx, sessionID)
	})
}

func (r *RetryingStore) SetFirstTurn(ctx context.Context, sessionID, playerID string) error {
	_, err := retry(ctx, r, "set_first_turn", func() (struct{}, error) {
		return struct{}{}, r.next.SetFirstTurn(ctx, sessionID, playerID)
	})
	return err
}

func (r *RetryingStore) AppendShownQuestion(ctx context.Context, sessionID string, round int, questionID string) (string, error) {
	return retry(ctx, r, "append_shown_question", func() (string, error) {
		return r.next.AppendShownQuestion(ctx, sessionID, round, questionID)
	})
}

func (r *RetryingStore) RecordCardEffect(ctx context.Context, sessionID, playerID string, effect models.CardEffect) error {
	_, err := retry(ctx, r, "record_card_effect", func() (struct{}, error) {
		return struct{}{}, r.next.RecordCardEffect(ctx, sessionID, playerID, effect)
	})
	return err
}

func (r *RetryingStore) ConsumeCardEffect(ctx context.Context, sessionID, playerID string, kind models.EffectKind, round int) (models.CardEffect, error) {
	return retry(ctx, r, "consume_card_effect", func() (models.CardEffect, error) {
		return r.next.ConsumeCardEffect(ctx, sessionID, playerID, kind, round)
	})
}

// ApplyHealthDelta is not idempotent, so it is attempted exactly once.
func (r *RetryingStore) ApplyHealthDelta(ctx context.Context, sessionID, playerID string, delta int) (int, error) {
	return r.next.ApplyHealthDelta(ctx, sessionID, playerID, delta)
}

func (r *RetryingStore) CommitTurnResolution(ctx context.Context, sessionID string, commit models.TurnCommit) error {
	_, err := retry(ctx, r, "commit_turn_resolution", func() (struct{}, error) {
		return struct{}{}, r.next.CommitTurnResolution(ctx, sessionID, commit)
	})
	return err
}

func (r *RetryingStore) EndBattle(ctx context.Context, sessionID string, reason models.EndReason, winnerID string) error {
	_, err := retry(ctx, r, "end_battle", func() (struct{}, error) {
		return struct{}{}, r.next.EndBattle(ctx, sessionID, reason, winnerID)
	})
	return err
}

// CreateSession is attempted once; a retry could open a second session.
func (r *RetryingStore) CreateSession(ctx context.Context, lobbyCode, hostID string, totalRounds int) (string, error) {
	return r.next.CreateSession(ctx, lobbyCode, hostID, totalRounds)
}

func (r *RetryingStore) JoinSession(ctx context.Context, sessionID, guestID string) error {
	_, err := retry(ctx, r, "join_session", func() (struct{}, error) {
		return struct{}{}, r.next.JoinSession(ctx, sessionID, guestID)
	})
	return err
}
