// models/models.go
package models

import (
	"strings"
	"time"
)

// MaxHealth is the health ceiling for both sides of a battle.
const MaxHealth = 100

// EndReason records why a battle stopped being active.
type EndReason string

const (
	EndReasonNone           EndReason = ""
	EndReasonCompleted      EndReason = "Completed"
	EndReasonLeftGame       EndReason = "Left The Game"
	EndReasonConnectionLost EndReason = "Connection Lost"
)

// Difficulty is both the question difficulty and the card draw tier.
type Difficulty string

const (
	DifficultyEasy    Difficulty = "easy"
	DifficultyAverage Difficulty = "average"
	DifficultyHard    Difficulty = "hard"
)

// Valid reports whether d is one of the known tiers.
func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyEasy, DifficultyAverage, DifficultyHard:
		return true
	}
	return false
}

// BaseTimeLimit is the unmodified answer time for a question of this difficulty.
func (d Difficulty) BaseTimeLimit() time.Duration {
	switch d {
	case DifficultyEasy:
		return 20 * time.Second
	case DifficultyHard:
		return 10 * time.Second
	default:
		return 15 * time.Second
	}
}

// BattleSession 对战会话
type BattleSession struct {
	SessionID       string    `json:"session_id"`
	LobbyCode       string    `json:"lobby_code"`
	HostID          string    `json:"host_id"`
	GuestID         string    `json:"guest_id"`
	IsActive        bool      `json:"is_active"`
	BattleStarted   bool      `json:"battle_started"`
	CurrentTurn     string    `json:"current_turn"`
	TotalRounds     int       `json:"total_rounds"`
	BattleEndReason EndReason `json:"battle_end_reason"`
	WinnerID        string    `json:"winner_id"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// HasPlayer reports whether playerID is the host or the guest.
func (s BattleSession) HasPlayer(playerID string) bool {
	return playerID != "" && (playerID == s.HostID || playerID == s.GuestID)
}

// Opponent returns the other side of playerID, or "" if playerID is not seated.
func (s BattleSession) Opponent(playerID string) string {
	switch playerID {
	case "":
		return ""
	case s.HostID:
		return s.GuestID
	case s.GuestID:
		return s.HostID
	}
	return ""
}

// BattleRound 回合账本
type BattleRound struct {
	RoundNumber         int         `json:"round_number"`
	HostCard            string      `json:"host_card"`
	GuestCard           string      `json:"guest_card"`
	QuestionIDsDone     []string    `json:"question_ids_done"`
	CardEffect          *CardEffect `json:"card_effect,omitempty"`
	ActiveQuestionID    string      `json:"active_question_id"`
	ActiveQuestionRound int         `json:"active_question_round"`
}

// QuestionDone reports whether id was already shown in this session.
func (r BattleRound) QuestionDone(id string) bool {
	for _, done := range r.QuestionIDsDone {
		if done == id {
			return true
		}
	}
	return false
}

// BattleScore 血量账本
type BattleScore struct {
	HostHealth  int `json:"host_health"`
	GuestHealth int `json:"guest_health"`
}

// SessionState is the full projection a client reads on every poll.
type SessionState struct {
	Session BattleSession `json:"session"`
	Round   BattleRound   `json:"round"`
	Score   BattleScore   `json:"score"`
	Effects []CardEffect  `json:"effects"`
}

// HealthOf returns the current health of playerID.
func (s *SessionState) HealthOf(playerID string) int {
	switch playerID {
	case s.Session.HostID:
		return s.Score.HostHealth
	case s.Session.GuestID:
		return s.Score.GuestHealth
	}
	return 0
}

// PendingEffects returns unused effects of kind that target playerID, oldest first.
func (s *SessionState) PendingEffects(playerID string, kind EffectKind) []CardEffect {
	var out []CardEffect
	for _, e := range s.Effects {
		if e.TargetID == playerID && e.Kind == kind && !e.Used {
			out = append(out, e)
		}
	}
	return out
}

// EffectConsumedIn returns the effect of kind targeting playerID that was consumed in round.
func (s *SessionState) EffectConsumedIn(playerID string, kind EffectKind, round int) (CardEffect, bool) {
	for _, e := range s.Effects {
		if e.TargetID == playerID && e.Kind == kind && e.Used && e.ConsumedRound == round {
			return e, true
		}
	}
	return CardEffect{}, false
}

// Clone returns a deep copy safe to mutate.
func (s *SessionState) Clone() *SessionState {
	out := *s
	out.Round.QuestionIDsDone = append([]string(nil), s.Round.QuestionIDsDone...)
	if s.Round.CardEffect != nil {
		e := s.Round.CardEffect.Clone()
		out.Round.CardEffect = &e
	}
	out.Effects = make([]CardEffect, len(s.Effects))
	for i := range s.Effects {
		out.Effects[i] = s.Effects[i].Clone()
	}
	return &out
}

// EndState is attached to a commit that finishes the battle.
type EndState struct {
	Reason   EndReason `json:"reason"`
	WinnerID string    `json:"winner_id"`
}

// PoisonTick decrements one poison effect and deals its tick damage.
type PoisonTick struct {
	EffectID string `json:"effect_id"`
	TargetID string `json:"target_id"`
	Damage   int    `json:"damage"`
}

// TurnCommit is everything one resolved turn writes, applied atomically.
type TurnCommit struct {
	RoundNumber  int            `json:"round_number"`
	ActorID      string         `json:"actor_id"`
	CardID       string         `json:"card_id"`
	NextTurn     string         `json:"next_turn"`
	HealthDeltas map[string]int `json:"health_deltas"`
	NewEffects   []CardEffect   `json:"new_effects"`
	// RefreshEffects replaces turns_remaining on existing poison effects (reset policy).
	RefreshEffects []CardEffect  `json:"refresh_effects"`
	PoisonTicks    []PoisonTick  `json:"poison_ticks"`
	End            *EndState     `json:"end,omitempty"`
}

// Question is one entry of the externally supplied question bank.
type Question struct {
	ID         string     `json:"id" yaml:"id"`
	Prompt     string     `json:"prompt" yaml:"prompt"`
	Choices    []string   `json:"choices,omitempty" yaml:"choices"`
	Answer     string     `json:"answer" yaml:"answer"`
	Difficulty Difficulty `json:"difficulty" yaml:"difficulty"`
}

// IsCorrect compares answer case-insensitively after trimming.
func (q Question) IsCorrect(answer string) bool {
	want := strings.TrimSpace(q.Answer)
	return want != "" && strings.EqualFold(strings.TrimSpace(answer), want)
}

// RewardResult is computed once per player when a battle concludes.
type RewardResult struct {
	XP    int `json:"xp"`
	Coins int `json:"coins"`
}
