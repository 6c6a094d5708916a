// broadcast/broadcast.go
package broadcast

import (
	"encoding/json"
	"errors"

	"github.com/wfunc/quizbattle/logger"
	"github.com/wfunc/quizbattle/network"
	"github.com/wfunc/quizbattle/reconcile"
	"github.com/wfunc/quizbattle/session"
)

var (
	ErrViewerNotFound = errors.New("viewer not found")
)

// 广播接口
type Broadcaster interface {
	BroadcastToAll(msgID uint16, data []byte) error
	SendTo(viewerID string, msgID uint16, data []byte) error
}

// TransitionBroadcaster mirrors the reconciliation loop's transitions to
// every attached UI viewer. It implements reconcile.Sink.
type TransitionBroadcaster struct {
	sessionManager *session.Manager
}

var _ reconcile.Sink = (*TransitionBroadcaster)(nil)

func NewTransitionBroadcaster(sessionManager *session.Manager) *TransitionBroadcaster {
	return &TransitionBroadcaster{sessionManager: sessionManager}
}

// MsgTypeFor maps a transition kind to its feed message id.
func MsgTypeFor(kind reconcile.Kind) uint16 {
	switch kind {
	case reconcile.FirstTurnAssigned:
		return network.MsgTypeFirstTurn
	case reconcile.TurnChanged:
		return network.MsgTypeTurnChanged
	case reconcile.HealthChanged:
		return network.MsgTypeHealthChanged
	case reconcile.BattleEnded:
		return network.MsgTypeBattleEnded
	}
	return network.MsgTypeSnapshot
}

func (b *TransitionBroadcaster) HandleTransition(t reconcile.Transition) {
	data, err := json.Marshal(t)
	if err != nil {
		logger.Log.Errorf("[Broadcast] failed to encode %s: %v", t.Kind, err)
		return
	}
	b.BroadcastToAll(MsgTypeFor(t.Kind), data)
}

// BroadcastToAll sends to every viewer; viewers that fail are dropped.
func (b *TransitionBroadcaster) BroadcastToAll(msgID uint16, data []byte) error {
	for _, s := range b.sessionManager.All() {
		if err := s.Send(msgID, data); err != nil {
			logger.Log.Warnf("[Broadcast] dropping viewer %s: %v", s.GetID(), err)
			b.sessionManager.Remove(s.GetID())
			s.Close()
		}
	}
	return nil
}

func (b *TransitionBroadcaster) SendTo(viewerID string, msgID uint16, data []byte) error {
	s, exists := b.sessionManager.Get(viewerID)
	if !exists {
		return ErrViewerNotFound
	}
	return s.Send(msgID, data)
}
