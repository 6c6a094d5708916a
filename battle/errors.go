package battle

import "errors"

// 错误定义
var (
	ErrNotHost          = errors.New("only the host may pick the first turn")
	ErrNotReady         = errors.New("battle has not started")
	ErrNotYourTurn      = errors.New("not this player's turn")
	ErrBattleOver       = errors.New("battle is over")
	ErrUnknownCard      = errors.New("unknown card")
	ErrQuestionMismatch = errors.New("question is not the one bound to this round")
	ErrPoolExhausted    = errors.New("question pool exhausted")
	ErrInvalidTier      = errors.New("unknown difficulty tier")
)
