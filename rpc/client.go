package rpc

import (
	"context"
	"errors"
	"fmt"
	"net/rpc"
	"time"

	"github.com/wfunc/quizbattle/battle"
	"github.com/wfunc/quizbattle/models"
	"github.com/wfunc/quizbattle/persistence"
	"golang.org/x/sync/singleflight"
)

const pollTimeout = 10 * time.Second

// Client talks to a SessionStoreService and implements persistence.Store.
type Client struct {
	client *rpc.Client
	polls  singleflight.Group
}

var _ persistence.Store = (*Client)(nil)

// Dial connects to the store server at addr.
func Dial(addr string) (*Client, error) {
	c, err := rpc.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %v: %w", addr, err, persistence.ErrStoreUnavailable)
	}
	return &Client{client: c}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

// call runs method asynchronously so ctx can abandon it.
func (c *Client) call(ctx context.Context, method string, args, reply any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	call := c.client.Go(ServiceName+"."+method, args, reply, make(chan *rpc.Call, 1))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case done := <-call.Done:
		return mapError(method, done.Error)
	}
}

// mapError turns a server message back into its sentinel and a broken
// connection into ErrStoreUnavailable.
func mapError(method string, err error) error {
	if err == nil {
		return nil
	}
	var serverErr rpc.ServerError
	if !errors.As(err, &serverErr) {
		return fmt.Errorf("%s: %v: %w", method, err, persistence.ErrStoreUnavailable)
	}
	msg := string(serverErr)
	if sentinel, ok := persistence.Sentinel(msg); ok {
		return &remoteError{msg: msg, sentinel: sentinel}
	}
	if msg == battle.ErrBattleActive.Error() {
		return battle.ErrBattleActive
	}
	return serverErr
}

// remoteError keeps the server's message and unwraps to the local sentinel.
type remoteError struct {
	msg      string
	sentinel error
}

func (e *remoteError) Error() string { return e.msg }

func (e *remoteError) Unwrap() error { return e.sentinel }

// GetSessionState shares one in-flight request between concurrent pollers of a session.
func (c *Client) GetSessionState(ctx context.Context, sessionID string) (*models.SessionState, error) {
	ch := c.polls.DoChan(sessionID, func() (any, error) {
		// the shared request outlives any single caller's ctx
		pollCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pollTimeout)
		defer cancel()
		var reply StateReply
		if err := c.call(pollCtx, "GetSessionState", &SessionArgs{SessionID: sessionID}, &reply); err != nil {
			return nil, err
		}
		if reply.State == nil {
			return nil, persistence.ErrSessionNotFound
		}
		return reply.State, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*models.SessionState).Clone(), nil
	}
}

func (c *Client) SetFirstTurn(ctx context.Context, sessionID, playerID string) error {
	return c.call(ctx, "SetFirstTurn", &PlayerArgs{SessionID: sessionID, PlayerID: playerID}, &Empty{})
}

func (c *Client) AppendShownQuestion(ctx context.Context, sessionID string, round int, questionID string) (string, error) {
	var reply QuestionReply
	err := c.call(ctx, "AppendShownQuestion", &ShownQuestionArgs{SessionID: sessionID, Round: round, QuestionID: questionID}, &reply)
	return reply.QuestionID, err
}

func (c *Client) RecordCardEffect(ctx context.Context, sessionID, playerID string, effect models.CardEffect) error {
	return c.call(ctx, "RecordCardEffect", &RecordEffectArgs{SessionID: sessionID, PlayerID: playerID, Effect: effect}, &Empty{})
}

func (c *Client) ConsumeCardEffect(ctx context.Context, sessionID, playerID string, kind models.EffectKind, round int) (models.CardEffect, error) {
	var reply EffectReply
	err := c.call(ctx, "ConsumeCardEffect", &ConsumeEffectArgs{SessionID: sessionID, PlayerID: playerID, Kind: kind, Round: round}, &reply)
	return reply.Effect, err
}

func (c *Client) ApplyHealthDelta(ctx context.Context, sessionID, playerID string, delta int) (int, error) {
	var reply HealthReply
	err := c.call(ctx, "ApplyHealthDelta", &HealthDeltaArgs{SessionID: sessionID, PlayerID: playerID, Delta: delta}, &reply)
	return reply.Health, err
}

func (c *Client) CommitTurnResolution(ctx context.Context, sessionID string, commit models.TurnCommit) error {
	return c.call(ctx, "CommitTurnResolution", &CommitArgs{SessionID: sessionID, Commit: commit}, &Empty{})
}

func (c *Client) EndBattle(ctx context.Context, sessionID string, reason models.EndReason, winnerID string) error {
	return c.call(ctx, "EndBattle", &EndBattleArgs{SessionID: sessionID, Reason: reason, WinnerID: winnerID}, &Empty{})
}

func (c *Client) CreateSession(ctx context.Context, lobbyCode, hostID string, totalRounds int) (string, error) {
	var reply CreateSessionReply
	err := c.call(ctx, "CreateSession", &CreateSessionArgs{LobbyCode: lobbyCode, HostID: hostID, TotalRounds: totalRounds}, &reply)
	return reply.SessionID, err
}

func (c *Client) JoinSession(ctx context.Context, sessionID, guestID string) error {
	return c.call(ctx, "JoinSession", &PlayerArgs{SessionID: sessionID, PlayerID: guestID}, &Empty{})
}

// SettleRewards asks the server to settle playerID's rewards for a finished session.
func (c *Client) SettleRewards(ctx context.Context, sessionID, playerID string) (SettleReply, error) {
	var reply SettleReply
	err := c.call(ctx, "SettleRewards", &PlayerArgs{SessionID: sessionID, PlayerID: playerID}, &reply)
	return reply, err
}

func (c *Client) GetProgress(ctx context.Context, playerID string) (ProgressReply, error) {
	var reply ProgressReply
	err := c.call(ctx, "GetProgress", &ProgressArgs{PlayerID: playerID}, &reply)
	return reply, err
}
