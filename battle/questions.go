package battle

import (
	"context"
	"fmt"
	"time"

	"github.com/wfunc/quizbattle/logger"
	"github.com/wfunc/quizbattle/models"
)

// SelectedQuestion is the question bound to a round and the time the player has for it.
type SelectedQuestion struct {
	Question  models.Question `json:"question"`
	Round     int             `json:"round"`
	TimeLimit time.Duration   `json:"time_limit"`
	Reduced   bool            `json:"reduced"`
}

// SelectQuestion picks an unseen question from pool for playerID's turn and
// binds it to the current round. A repeated call in the same round returns
// the bound question. ErrPoolExhausted means the battle should be concluded.
func (e *Engine) SelectQuestion(ctx context.Context, sessionID, playerID string, pool []models.Question) (SelectedQuestion, error) {
	s, err := e.activeTurn(ctx, sessionID, playerID)
	if err != nil {
		return SelectedQuestion{}, err
	}
	round := s.Round.RoundNumber

	var q models.Question
	if s.Round.ActiveQuestionRound == round && s.Round.ActiveQuestionID != "" {
		bound, ok := findQuestion(pool, s.Round.ActiveQuestionID)
		if !ok {
			return SelectedQuestion{}, fmt.Errorf("bound question %s not in pool: %w", s.Round.ActiveQuestionID, ErrQuestionMismatch)
		}
		q = bound
	} else {
		if s.Session.TotalRounds > 0 && len(s.Round.QuestionIDsDone) >= s.Session.TotalRounds {
			return SelectedQuestion{}, ErrPoolExhausted
		}
		var remaining []models.Question
		for _, candidate := range pool {
			if !s.Round.QuestionDone(candidate.ID) {
				remaining = append(remaining, candidate)
			}
		}
		if len(remaining) == 0 {
			return SelectedQuestion{}, ErrPoolExhausted
		}
		pick := remaining[e.rng("question", sessionID, roundKey(round)).IntN(len(remaining))]

		boundID, err := e.store.AppendShownQuestion(ctx, sessionID, round, pick.ID)
		if err != nil {
			return SelectedQuestion{}, err
		}
		bound, ok := findQuestion(pool, boundID)
		if !ok {
			return SelectedQuestion{}, fmt.Errorf("bound question %s not in pool: %w", boundID, ErrQuestionMismatch)
		}
		q = bound
	}

	sel := SelectedQuestion{Question: q, Round: round, TimeLimit: q.Difficulty.BaseTimeLimit()}
	reduction, reduced, err := e.consumeForRound(ctx, s, playerID, models.EffectReduceTime, round)
	if err != nil {
		return SelectedQuestion{}, err
	}
	if reduced && reduction.TimeReduction != nil {
		sel.TimeLimit = reduction.TimeReduction.Apply(sel.TimeLimit)
		sel.Reduced = true
		logger.Log.Infof("session %s round %d: time limit of %s reduced to %s", sessionID, round, playerID, sel.TimeLimit)
	}
	return sel, nil
}

func findQuestion(pool []models.Question, id string) (models.Question, bool) {
	for _, q := range pool {
		if q.ID == id {
			return q, true
		}
	}
	return models.Question{}, false
}
