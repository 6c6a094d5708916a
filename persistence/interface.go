// persistence/interface.go
package persistence

import (
	"context"
	"errors"
	"strings"

	"github.com/wfunc/quizbattle/models"
)

// Store is the session store contract the battle engine reads and writes through.
// Implementations serialize every write to a given session id.
type Store interface {
	GetSessionState(ctx context.Context, sessionID string) (*models.SessionState, error)

	// SetFirstTurn succeeds only while current_turn is unset.
	SetFirstTurn(ctx context.Context, sessionID, playerID string) error

	// AppendShownQuestion set-unions questionID into question_ids_done and binds
	// it as the question of round unless that round already has one. It returns
	// the question bound to the round.
	AppendShownQuestion(ctx context.Context, sessionID string, round int, questionID string) (string, error)

	// RecordCardEffect is idempotent by effect id.
	RecordCardEffect(ctx context.Context, sessionID, playerID string, effect models.CardEffect) error

	// ConsumeCardEffect marks the oldest unused effect of kind targeting playerID as used in round.
	ConsumeCardEffect(ctx context.Context, sessionID, playerID string, kind models.EffectKind, round int) (models.CardEffect, error)

	// ApplyHealthDelta clamps the result to [0, MaxHealth] and returns it.
	ApplyHealthDelta(ctx context.Context, sessionID, playerID string, delta int) (int, error)

	// CommitTurnResolution applies a whole resolved turn atomically, or nothing
	// when commit.RoundNumber is not the current round.
	CommitTurnResolution(ctx context.Context, sessionID string, commit models.TurnCommit) error

	// EndBattle flips is_active to false exactly once.
	EndBattle(ctx context.Context, sessionID string, reason models.EndReason, winnerID string) error

	CreateSession(ctx context.Context, lobbyCode, hostID string, totalRounds int) (string, error)
	JoinSession(ctx context.Context, sessionID, guestID string) error
}

// 错误定义
var (
	ErrSessionNotFound       = errors.New("session not found")
	ErrStaleWrite            = errors.New("stale write rejected")
	ErrEffectAlreadyConsumed = errors.New("card effect already consumed")
	ErrStoreUnavailable      = errors.New("session store unavailable")
	ErrInvalidPlayer         = errors.New("player is not seated in this session")
	ErrInvalidEffect         = errors.New("invalid card effect")
)

// sentinels lists every error that must survive a transport hop.
var sentinels = []error{
	ErrSessionNotFound,
	ErrStaleWrite,
	ErrEffectAlreadyConsumed,
	ErrStoreUnavailable,
	ErrInvalidPlayer,
	ErrInvalidEffect,
}

// Sentinel maps an error message received over the wire back to its sentinel.
func Sentinel(msg string) (error, bool) {
	for _, s := range sentinels {
		if msg == s.Error() || strings.HasSuffix(msg, ": "+s.Error()) || strings.HasPrefix(msg, s.Error()+": ") {
			return s, true
		}
	}
	return nil, false
}

func clampHealth(h int) int {
	if h < 0 {
		return 0
	}
	if h > models.MaxHealth {
		return models.MaxHealth
	}
	return h
}
